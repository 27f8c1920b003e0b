package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hanpama/graphcache/internal/ctxlog"
	"github.com/hanpama/graphcache/internal/diff"
	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/gc"
	"github.com/hanpama/graphcache/internal/pending"
	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/store"
	"github.com/hanpama/graphcache/internal/taskqueue"
	"github.com/hanpama/graphcache/internal/writer"
)

// ErrNoNetwork is returned by Fetch on a cache built without a network.
var ErrNoNetwork = errors.New("cache: no network configured")

// Cache is the store data of one client.
type Cache struct {
	opt Options
	log *slog.Logger

	records   *store.RecordMap
	queued    *store.RecordMap
	rootCalls *store.RootCallMap
	committed *store.RecordStore
	overlay   *store.RecordStore
	optimist  *store.RecordStore

	tracker   *store.QueryTracker
	queue     *taskqueue.Queue
	pending   *pending.Tracker
	refs      *gc.RefCounts
	collector *gc.Collector

	nextEvent atomic.Uint64
}

func New(opts ...Option) *Cache {
	c := &Cache{opt: Options{StepLength: 1000}}
	for _, opt := range opts {
		opt(&c.opt)
	}
	c.log = c.opt.Logger
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.opt.Scheduler == nil {
		c.opt.Scheduler = taskqueue.Synchronous
	}

	c.records = store.NewRecordMap()
	c.queued = store.NewRecordMap()
	c.rootCalls = store.NewRootCallMap()
	c.committed = store.New(c.records, store.WithRootCallMap(c.rootCalls))
	// Reads see queued records over committed ones.
	c.overlay = store.New(c.queued, store.WithFallback(c.records), store.WithRootCallMap(c.rootCalls))
	c.optimist = store.New(c.queued, store.WithFallback(c.records), store.WithRootCallMap(c.rootCalls), store.Optimistic())

	c.tracker = store.NewQueryTracker()
	c.queue = taskqueue.New(taskqueue.WithScheduler(c.opt.Scheduler), taskqueue.WithLogger(c.log))
	network := c.opt.Network
	if network == nil {
		network = pending.NetworkFunc(func(context.Context, *query.Root) (map[string]any, error) {
			return nil, ErrNoNetwork
		})
	}
	c.pending = pending.New(network, c.queue, c.writeFetched, pending.WithLogger(c.log))
	c.refs = gc.NewRefCounts()
	c.collector = gc.New(c.optimist, c.refs, c.queue,
		gc.WithStepLength(c.opt.StepLength),
		gc.WithLogger(c.log),
		gc.WithPending(c.pending),
		gc.WithQueryTracker(c.tracker),
	)
	return c
}

// Records is the committed record layer.
func (c *Cache) Records() *store.RecordMap { return c.records }

// QueuedRecords is the optimistic record layer.
func (c *Cache) QueuedRecords() *store.RecordMap { return c.queued }

func (c *Cache) RootCalls() *store.RootCallMap { return c.rootCalls }

// Store reads queued records over committed ones.
func (c *Cache) Store() *store.RecordStore { return c.overlay }

// CommittedStore reads and writes committed records only.
func (c *Cache) CommittedStore() *store.RecordStore { return c.committed }

func (c *Cache) QueryTracker() *store.QueryTracker { return c.tracker }

func (c *Cache) Queue() *taskqueue.Queue { return c.queue }

func (c *Cache) Pending() *pending.Tracker { return c.pending }

func (c *Cache) context(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, c.log)
}

func publish[T any](c *Cache, ctx context.Context, e T) {
	if c.opt.Bus != nil {
		eventbus.Emit(ctx, c.opt.Bus, e)
		return
	}
	eventbus.Publish(ctx, e)
}

// GetRecordState reports whether id is known, queued records included.
func (c *Cache) GetRecordState(id string) store.RecordState {
	return c.overlay.GetRecordState(id)
}

// RetrieveRangeInfoForQuery answers a window request on a connection record
// with queued range operations applied. It returns nil when the
// connection has no range.
func (c *Cache) RetrieveRangeInfoForQuery(connectionID string, calls []query.Call) (*store.RangeMetadata, error) {
	return c.overlay.GetRangeMetadata(connectionID, calls)
}

// WritePayload writes a server response for root into the committed
// records as a task on the queue, and waits for it. It must not be called
// from a queue task.
func (c *Cache) WritePayload(ctx context.Context, root *query.Root, payload map[string]any, opts ...writer.Option) (writer.ChangeSet, error) {
	return c.enqueueWrite(ctx, c.committed, root, payload, opts)
}

// WriteOptimisticPayload writes a predicted response into the queued
// records. Reads see it until ClearQueued.
func (c *Cache) WriteOptimisticPayload(ctx context.Context, root *query.Root, payload map[string]any) (writer.ChangeSet, error) {
	return c.enqueueWrite(ctx, c.optimist, root, payload, []writer.Option{writer.WithOptimistic()})
}

func (c *Cache) enqueueWrite(ctx context.Context, s *store.RecordStore, root *query.Root, payload map[string]any, opts []writer.Option) (writer.ChangeSet, error) {
	var changes writer.ChangeSet
	res := c.queue.Enqueue(ctx, func(ctx context.Context, _ any) (any, error) {
		var err error
		changes, err = c.write(ctx, s, root, payload, opts)
		return nil, err
	})
	_, err := res.Wait(ctx)
	return changes, err
}

func (c *Cache) write(ctx context.Context, s *store.RecordStore, root *query.Root, payload map[string]any, opts []writer.Option) (writer.ChangeSet, error) {
	ctx = c.context(ctx)
	id := c.nextEvent.Add(1)
	start := time.Now()
	publish(c, ctx, events.WriteStart{ID: id, Root: root.ResponseKey(), Optimistic: s.IsOptimistic()})

	changes := writer.NewChangeTracker()
	err := writer.New(s, c.tracker, changes, opts...).WriteRootPayload(ctx, root, payload)
	set := changes.ChangeSet()
	publish(c, ctx, events.WriteFinish{
		ID:       id,
		Root:     root.ResponseKey(),
		Created:  len(set.Created),
		Updated:  len(set.Updated),
		Err:      err,
		Duration: time.Since(start),
	})
	return set, err
}

// writeFetched writes a fetched response. The pending tracker runs it as a
// task on the queue.
func (c *Cache) writeFetched(ctx context.Context, q *query.Root, payload map[string]any) error {
	_, err := c.write(ctx, c.committed, q, payload, nil)
	return err
}

// QueueRangeUpdate records an optimistic edit of a connection's edges.
// Reads of the connection's windows apply it until ClearQueued.
func (c *Cache) QueueRangeUpdate(ctx context.Context, connectionID, edgeID string, op store.RangeOperation) error {
	res := c.queue.Enqueue(ctx, func(context.Context, any) (any, error) {
		c.optimist.PutRecord(connectionID, "")
		return nil, c.optimist.ApplyRangeUpdate(connectionID, edgeID, op)
	})
	_, err := res.Wait(ctx)
	return err
}

// ClearQueued drops every optimistic write.
func (c *Cache) ClearQueued(ctx context.Context) error {
	res := c.queue.Enqueue(ctx, func(context.Context, any) (any, error) {
		c.queued.Clear()
		return nil, nil
	})
	_, err := res.Wait(ctx)
	return err
}

// Diff returns the queries still needed to read root from committed
// records.
func (c *Cache) Diff(ctx context.Context, root *query.Root) ([]*query.Root, error) {
	return diff.Query(c.context(ctx), root, c.committed)
}

// Fetch sends what root still needs, sharing requests with pending
// fetches. It returns one fetch per query the diff produced; none when
// the cache answers root.
func (c *Cache) Fetch(ctx context.Context, root *query.Root) ([]*pending.Fetch, error) {
	ctx = c.context(ctx)
	missing, err := c.Diff(ctx, root)
	if err != nil {
		return nil, err
	}
	fetches := make([]*pending.Fetch, 0, len(missing))
	for _, q := range missing {
		f := c.pending.Add(ctx, q)
		id := c.nextEvent.Add(1)
		start := time.Now()
		var remainder string
		if r := f.Remainder(); r != nil {
			remainder = r.String()
		}
		publish(c, ctx, events.FetchStart{ID: id, Query: q.String(), Remainder: remainder})
		go func() {
			<-f.Done()
			publish(c, ctx, events.FetchFinish{ID: id, Query: q.String(), Err: f.Err(), Duration: time.Since(start)})
		}()
		fetches = append(fetches, f)
	}
	return fetches, nil
}

// Retain keeps the records root resolved to, and everything they reach,
// through collections until release is called. Roots not written yet
// retain nothing.
func (c *Cache) Retain(root *query.Root) (release func()) {
	values := root.IdentifyingValues()
	if len(values) == 0 {
		values = []any{nil}
	}
	var ids []string
	for _, v := range values {
		if id, ok := c.overlay.DataIDForRoot(root, v); ok {
			ids = append(ids, id)
		}
	}
	return c.RetainIDs(ids...)
}

// RetainIDs keeps ids and what they reach until release is called.
func (c *Cache) RetainIDs(ids ...string) (release func()) {
	c.refs.Retain(ids...)
	var released atomic.Bool
	return func() {
		if released.Swap(true) {
			return
		}
		c.refs.Release(ids...)
	}
}

// IsRetained reports whether a live query retains id directly.
func (c *Cache) IsRetained(id string) bool { return c.refs.IsRetained(id) }

// ScheduleCollection removes every record no retained query reaches.
func (c *Cache) ScheduleCollection(ctx context.Context) *gc.Collection {
	return c.observe(ctx, "", func(ctx context.Context) *gc.Collection {
		return c.collector.ScheduleCollection(ctx)
	})
}

// ScheduleCollectionFromNode removes the records reachable from id that no
// retained query reaches.
func (c *Cache) ScheduleCollectionFromNode(ctx context.Context, id string) *gc.Collection {
	return c.observe(ctx, id, func(ctx context.Context) *gc.Collection {
		return c.collector.ScheduleCollectionFromNode(ctx, id)
	})
}

// HoldCollection pauses scheduled collections until release is called.
func (c *Cache) HoldCollection() (release func()) { return c.collector.Hold() }

func (c *Cache) observe(ctx context.Context, from string, schedule func(context.Context) *gc.Collection) *gc.Collection {
	ctx = c.context(ctx)
	id := c.nextEvent.Add(1)
	start := time.Now()
	publish(c, ctx, events.CollectStart{ID: id, FromNode: from})
	col := schedule(ctx)
	finish := func() {
		publish(c, ctx, events.CollectFinish{
			ID:       id,
			Removed:  len(col.Removed()),
			Err:      col.Wait(context.Background()),
			Duration: time.Since(start),
		})
	}
	select {
	case <-col.Done():
		finish()
	default:
		go func() {
			<-col.Done()
			finish()
		}()
	}
	return col
}
