package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Task is one step of a chain. prev is the previous step's result, nil for
// the first step.
type Task func(ctx context.Context, prev any) (any, error)

type chain struct {
	ctx    context.Context
	tasks  []Task
	next   int
	prev   any
	result *Result
}

// Queue is a FIFO task executor.
type Queue struct {
	opt Options

	mu sync.Mutex
	// running is set from scheduling the first task until the queue drains.
	running bool
	// executing is set while the execute loop owns the queue.
	executing bool
	// again records a scheduler calling execute from inside execute.
	again bool
	// inTask is set while a task function runs.
	inTask bool
	queue  []*chain
	front  []*chain
}

// Options configure a Queue.
type Options struct {
	Scheduler Scheduler
	Logger    *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithScheduler replaces the default Synchronous scheduler.
func WithScheduler(s Scheduler) Option {
	return func(o *Options) { o.Scheduler = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func New(opts ...Option) *Queue {
	q := &Queue{}
	for _, opt := range opts {
		opt(&q.opt)
	}
	if q.opt.Scheduler == nil {
		q.opt.Scheduler = Synchronous
	}
	if q.opt.Logger == nil {
		q.opt.Logger = slog.Default()
	}
	return q
}

type queueKey struct{}

// Enqueue adds a chain of tasks. The returned Result settles after the last
// task ran or the first one failed. An empty chain settles immediately.
// Chains enqueued from inside a step with the step's context run before
// the next step of the enqueuing chain.
func (q *Queue) Enqueue(ctx context.Context, tasks ...Task) *Result {
	res := newResult()
	if len(tasks) == 0 {
		res.settle(nil, nil)
		return res
	}
	c := &chain{ctx: ctx, tasks: tasks, result: res}

	q.mu.Lock()
	if owner, _ := ctx.Value(queueKey{}).(*Queue); owner == q && q.inTask {
		q.front = append(q.front, c)
	} else {
		q.queue = append(q.queue, c)
	}
	start := !q.running
	q.running = true
	q.mu.Unlock()

	if start {
		q.opt.Scheduler(q.execute)
	}
	return res
}

// Len returns the number of chains waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue) + len(q.front)
}

func (q *Queue) execute() {
	q.mu.Lock()
	if q.executing {
		q.again = true
		q.mu.Unlock()
		return
	}
	q.executing = true
	for {
		q.again = false
		if len(q.queue) == 0 {
			q.running = false
			q.executing = false
			q.mu.Unlock()
			return
		}
		c := q.queue[0]
		q.queue = q.queue[1:]
		q.inTask = true
		q.mu.Unlock()

		more := q.step(c)

		q.mu.Lock()
		q.inTask = false
		front := q.front
		q.front = nil
		if more {
			front = append(front, c)
		}
		if len(front) > 0 {
			q.queue = append(front, q.queue...)
		}
		if len(q.queue) == 0 {
			q.running = false
			q.executing = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		q.opt.Scheduler(q.execute)

		q.mu.Lock()
		if !q.again {
			q.executing = false
			q.mu.Unlock()
			return
		}
	}
}

// step runs the next task of c and reports whether c has more to run.
func (q *Queue) step(c *chain) bool {
	if err := c.ctx.Err(); err != nil {
		c.result.settle(nil, err)
		return false
	}
	task := c.tasks[c.next]
	c.next++
	value, err := q.run(context.WithValue(c.ctx, queueKey{}, q), task, c.prev)
	if err != nil {
		c.result.settle(nil, err)
		return false
	}
	c.prev = value
	if c.next == len(c.tasks) {
		c.result.settle(value, nil)
		return false
	}
	return true
}

func (q *Queue) run(ctx context.Context, task Task, prev any) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.opt.Logger.Error("task panicked", "panic", r)
			err = fmt.Errorf("taskqueue: task panicked: %v", r)
		}
	}()
	return task(ctx, prev)
}

// Detach returns ctx without the marker that makes Enqueue treat a call as
// re-entrant, so chains enqueued with it wait behind work already queued.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, queueKey{}, (*Queue)(nil))
}
