// Package pending holds in-flight asynchronous op tasks until the host loop
// collects their completions.
//
// Tasks are filed in one of two unordered queues. Kept-alive tasks hold the
// loop open; not-kept-alive tasks never do, and their completions are dropped
// if the session closes before they are drained.
package pending

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/wippyai/opcore/envelope"
	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
)

// Kind selects the queue a task is filed in.
type Kind uint8

const (
	KeptAlive Kind = iota
	NotKeptAlive
)

func (k Kind) String() string {
	if k == NotKeptAlive {
		return "not_kept_alive"
	}
	return "kept_alive"
}

// KindOf maps a tracked outcome kind to its queue.
func KindOf(k op.OutcomeKind) (Kind, bool) {
	switch k {
	case op.Tracked:
		return KeptAlive, true
	case op.TrackedUnref:
		return NotKeptAlive, true
	default:
		return 0, false
	}
}

// Config holds queue settings.
type Config struct {
	// MaxInflight bounds how many tasks run at once. 0 means unbounded.
	// Tasks over the limit stay queued until a slot frees up.
	MaxInflight int64
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Enqueued     uint64
	Drained      uint64
	Discarded    uint64
	KeptAlive    int
	NotKeptAlive int
}

type unit struct {
	task   *op.Task
	done   chan struct{}
	result op.Completion
}

// Queues holds the kept-alive and not-kept-alive task collections.
type Queues struct {
	ctx       context.Context
	cancel    context.CancelFunc
	waker     *Waker
	sem       *semaphore.Weighted
	queues    [2][]*unit
	wg        sync.WaitGroup
	mu        sync.Mutex
	enqueued  atomic.Uint64
	drained   atomic.Uint64
	discarded atomic.Uint64
	closed    bool
}

// New creates empty queues.
func New(cfg Config) *Queues {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queues{
		ctx:    ctx,
		cancel: cancel,
		waker:  NewWaker(),
	}
	if cfg.MaxInflight > 0 {
		q.sem = semaphore.NewWeighted(cfg.MaxInflight)
	}
	return q
}

// Waker returns the signal the host loop waits on.
func (q *Queues) Waker() *Waker {
	return q.waker
}

// Enqueue files t and starts it, then wakes the loop.
func (q *Queues) Enqueue(t *op.Task, kind Kind) error {
	u := &unit{task: t, done: make(chan struct{})}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.discarded.Add(1)
		Logger().Warn("task enqueued after close",
			zap.Uint64("promise_id", uint64(t.PromiseID())))
		return errors.Closed("pending queues")
	}
	q.queues[kind] = append(q.queues[kind], u)
	q.wg.Add(1)
	q.mu.Unlock()

	q.enqueued.Add(1)
	Logger().Debug("task enqueued",
		zap.Uint64("promise_id", uint64(t.PromiseID())),
		zap.Stringer("queue", kind))

	go q.run(u)
	q.waker.Wake()
	return nil
}

func (q *Queues) run(u *unit) {
	defer q.wg.Done()

	if q.sem != nil {
		if err := q.sem.Acquire(q.ctx, 1); err != nil {
			u.result = op.Completion{
				PromiseID: u.task.PromiseID(),
				Envelope: envelope.Fail(errors.Wrap(errors.PhaseDispatch, errors.KindInterrupted,
					err, "wait for inflight slot")),
			}
			close(u.done)
			q.waker.Wake()
			return
		}
		defer q.sem.Release(1)
	}

	u.result = u.task.Run(q.ctx)
	close(u.done)
	q.waker.Wake()
}

// DrainReady removes and returns every completed task without blocking.
// Incomplete tasks stay queued.
func (q *Queues) DrainReady() []op.Completion {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []op.Completion
	for k := range q.queues {
		units := q.queues[k]
		keep := units[:0]
		for _, u := range units {
			select {
			case <-u.done:
				out = append(out, u.result)
			default:
				keep = append(keep, u)
			}
		}
		clear(units[len(keep):])
		q.queues[k] = keep
	}

	if len(out) > 0 {
		q.drained.Add(uint64(len(out)))
		Logger().Debug("drained completions", zap.Int("count", len(out)))
	}
	return out
}

// Idle reports whether no kept-alive task remains. Not-kept-alive tasks are
// ignored.
func (q *Queues) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[KeptAlive]) == 0
}

// Len returns the number of tasks, finished or not, still in queue kind.
func (q *Queues) Len(kind Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[kind])
}

// Stats returns a snapshot of the queue counters.
func (q *Queues) Stats() Stats {
	q.mu.Lock()
	ref, unref := len(q.queues[KeptAlive]), len(q.queues[NotKeptAlive])
	q.mu.Unlock()

	return Stats{
		Enqueued:     q.enqueued.Load(),
		Drained:      q.drained.Load(),
		Discarded:    q.discarded.Load(),
		KeptAlive:    ref,
		NotKeptAlive: unref,
	}
}

// Close cancels the context of every running task and discards everything
// not yet drained. It does not wait for handlers to return; see Wait.
func (q *Queues) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	n := len(q.queues[KeptAlive]) + len(q.queues[NotKeptAlive])
	q.queues = [2][]*unit{}
	q.mu.Unlock()

	q.discarded.Add(uint64(n))
	q.cancel()
	q.waker.Wake()

	if n > 0 {
		Logger().Debug("discarded pending tasks", zap.Int("count", n))
	}
}

// Wait blocks until every started task has returned or ctx is done.
func (q *Queues) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
