package taskqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// manual collects scheduled executions until the test runs them.
type manual struct {
	mu      sync.Mutex
	pending []func()
	calls   int
}

func (m *manual) schedule(execute func()) {
	m.mu.Lock()
	m.pending = append(m.pending, execute)
	m.calls++
	m.mu.Unlock()
}

func (m *manual) runAll() {
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.mu.Unlock()
			return
		}
		execute := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		execute()
	}
}

func record(log *[]string, name string) Task {
	return func(context.Context, any) (any, error) {
		*log = append(*log, name)
		return name, nil
	}
}

func TestChainPassesValues(t *testing.T) {
	q := New()
	res := q.Enqueue(context.Background(),
		func(context.Context, any) (any, error) { return 1, nil },
		func(_ context.Context, prev any) (any, error) { return prev.(int) + 1, nil },
		func(_ context.Context, prev any) (any, error) { return prev.(int) * 10, nil },
	)
	v, err := res.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 20, v)
	require.Zero(t, q.Len())
}

func TestErrorAbortsChain(t *testing.T) {
	q := New()
	boom := errors.New("boom")
	var log []string
	res := q.Enqueue(context.Background(),
		record(&log, "a"),
		func(context.Context, any) (any, error) { return nil, boom },
		record(&log, "c"),
	)
	_, err := res.Wait(context.Background())
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, res.Err(), boom)

	other := q.Enqueue(context.Background(), record(&log, "d"))
	_, err = other.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "d"}, log)
}

func TestPanicBecomesError(t *testing.T) {
	q := New()
	res := q.Enqueue(context.Background(), func(context.Context, any) (any, error) {
		panic("bad state")
	})
	_, err := res.Wait(context.Background())
	require.ErrorContains(t, err, "bad state")
}

func TestFIFOWithReentrantFront(t *testing.T) {
	m := &manual{}
	q := New(WithScheduler(m.schedule))
	var log []string

	q.Enqueue(context.Background(), func(ctx context.Context, _ any) (any, error) {
		log = append(log, "a")
		q.Enqueue(ctx, record(&log, "x1"))
		q.Enqueue(ctx, record(&log, "x2"))
		return nil, nil
	})
	q.Enqueue(context.Background(), record(&log, "b"))
	require.Empty(t, log)
	require.Equal(t, 2, q.Len())

	m.runAll()
	require.Equal(t, []string{"a", "x1", "x2", "b"}, log)
	require.Equal(t, 4, m.calls)
}

func TestReentrantChainRunsBeforeNextStep(t *testing.T) {
	m := &manual{}
	q := New(WithScheduler(m.schedule))
	var log []string

	q.Enqueue(context.Background(),
		func(ctx context.Context, _ any) (any, error) {
			log = append(log, "c1")
			q.Enqueue(ctx, record(&log, "e"))
			return nil, nil
		},
		record(&log, "c2"),
	)
	q.Enqueue(context.Background(), record(&log, "d"))
	m.runAll()
	require.Equal(t, []string{"c1", "e", "c2", "d"}, log)
}

func TestEnqueueWithoutTaskContextGoesToBack(t *testing.T) {
	m := &manual{}
	q := New(WithScheduler(m.schedule))
	var log []string

	q.Enqueue(context.Background(), func(context.Context, any) (any, error) {
		log = append(log, "a")
		q.Enqueue(context.Background(), record(&log, "late"))
		return nil, nil
	})
	q.Enqueue(context.Background(), record(&log, "b"))
	m.runAll()
	require.Equal(t, []string{"a", "b", "late"}, log)
}

func TestDetachedContextGoesToBack(t *testing.T) {
	m := &manual{}
	q := New(WithScheduler(m.schedule))
	var log []string

	q.Enqueue(context.Background(), func(ctx context.Context, _ any) (any, error) {
		log = append(log, "a")
		q.Enqueue(Detach(ctx), record(&log, "late"))
		return nil, nil
	})
	q.Enqueue(context.Background(), record(&log, "b"))
	m.runAll()
	require.Equal(t, []string{"a", "b", "late"}, log)
}

func TestSynchronousSchedulerRunsBeforeReturning(t *testing.T) {
	q := New(WithScheduler(Synchronous))
	var count int
	var tasks []Task
	for i := 0; i < 1000; i++ {
		tasks = append(tasks, func(context.Context, any) (any, error) {
			count++
			return count, nil
		})
	}
	res := q.Enqueue(context.Background(), tasks...)
	select {
	case <-res.Done():
	default:
		t.Fatal("synchronous chain did not finish before Enqueue returned")
	}
	require.Equal(t, 1000, count)
	v, err := res.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1000, v)
}

func TestNeverRunsConcurrently(t *testing.T) {
	q := New(WithScheduler(Goroutine))
	var active, overlap atomic.Int32
	var wg sync.WaitGroup
	results := make(chan *Result, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- q.Enqueue(context.Background(), func(context.Context, any) (any, error) {
				if active.Add(1) > 1 {
					overlap.Add(1)
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil, nil
			})
		}()
	}
	wg.Wait()
	close(results)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for r := range results {
		_, err := r.Wait(ctx)
		require.NoError(t, err)
	}
	require.Zero(t, overlap.Load())
}

func TestCancelledContext(t *testing.T) {
	m := &manual{}
	q := New(WithScheduler(m.schedule))
	ctx, cancel := context.WithCancel(context.Background())
	var log []string
	res := q.Enqueue(ctx, record(&log, "never"))
	cancel()
	m.runAll()

	_, err := res.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, log)
}

func TestEmptyEnqueue(t *testing.T) {
	q := New()
	res := q.Enqueue(context.Background())
	select {
	case <-res.Done():
	default:
		t.Fatal("empty enqueue did not settle")
	}
	require.NoError(t, res.Err())
}

func TestTimerScheduler(t *testing.T) {
	q := New(WithScheduler(Timer(time.Millisecond)))
	res := q.Enqueue(context.Background(),
		func(context.Context, any) (any, error) { return "done", nil },
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := res.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, "done", v)
}
