// Package requestQueue serializes calls to a rate limited API.
// Tasks run one at a time in FIFO order and at least delay passes between
// the end of one task and the start of the next.
package requestQueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
)

var (
	ErrCancelled = errors.New("request cancelled")
	ErrClosed    = errors.New("request queue is closed")
)

type ProgressListener func(progress model.QueueProgress)

type job struct {
	ctx    context.Context
	label  string
	run    func()
	reject func(err error)
}

// abandoned reports whether the submitter gave up before the job started.
func (j *job) abandoned() bool {
	return j.ctx.Err() != nil
}

type Queue struct {
	delay time.Duration

	mu        sync.Mutex
	pending   []*job
	draining  bool
	cancelled bool
	closed    bool
	total     int
	processed int
	current   string
	lastEnd   time.Time

	listeners      map[uint64]ProgressListener
	nextListenerID uint64

	// wake interrupts the inter-task sleep on Cancel and Close.
	wake chan struct{}
	wg   sync.WaitGroup
}

func New(delay time.Duration) *Queue {
	return &Queue{
		delay:     delay,
		listeners: make(map[uint64]ProgressListener),
		wake:      make(chan struct{}, 1),
	}
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

func (f *Future[T]) settle(value T, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Done is closed once the task settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result must only be called after Done is closed.
func (f *Future[T]) Result() (T, error) {
	return f.value, f.err
}

// Wait blocks until the task settles or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit enqueues fn. The returned future settles with the result of fn, with
// ErrCancelled if the queue is cancelled before fn starts, or with ErrClosed.
// If ctx is done before fn starts, fn is skipped, the future settles with
// ctx.Err() and the skipped task does not consume a delay slot.
func Submit[T any](ctx context.Context, q *Queue, label string, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	if ctx == nil {
		ctx = context.Background()
	}

	j := &job{
		ctx:   ctx,
		label: label,
		run: func() {
			value, err := runSafe(ctx, label, fn)
			f.settle(value, err)
		},
		reject: func(err error) {
			var zero T
			f.settle(zero, err)
		},
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		j.reject(ErrClosed)
		return f
	}

	q.pending = append(q.pending, j)
	q.total++
	startDrain := !q.draining
	if startDrain {
		q.draining = true
		q.wg.Add(1)
	}
	progress, listeners := q.snapshotLocked()
	q.mu.Unlock()

	notify(progress, listeners)

	if startDrain {
		go q.drain()
	}

	return f
}

func runSafe[T any](ctx context.Context, label string, fn func(ctx context.Context) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(
				"panic recovered in queued task",
				slog.String("label", label),
				slog.Any("panic", r),
				slog.String("stacktrace", string(debug.Stack())),
			)
			err = fmt.Errorf("task %q panicked: %v", label, r)
		}
	}()

	return fn(ctx)
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if q.cancelled {
			// задачи, добавленные после отмены, начинают новый батч
			q.cancelled = false
			q.total = len(q.pending)
			q.processed = 0
			if len(q.pending) > 0 {
				progress, listeners := q.snapshotLocked()
				q.mu.Unlock()
				notify(progress, listeners)
				continue
			}
		}

		if dropped := q.dropAbandonedLocked(); len(dropped) > 0 {
			progress, listeners := q.snapshotLocked()
			q.mu.Unlock()
			for _, j := range dropped {
				j.reject(j.ctx.Err())
			}
			notify(progress, listeners)
			continue
		}

		if len(q.pending) == 0 {
			q.draining = false
			q.total = 0
			q.processed = 0
			q.current = ""
			progress, listeners := q.snapshotLocked()
			q.mu.Unlock()
			notify(progress, listeners)
			return
		}

		wait := time.Duration(0)
		if !q.lastEnd.IsZero() {
			wait = q.delay - time.Since(q.lastEnd)
		}
		q.mu.Unlock()

		if wait > 0 && !q.sleep(wait) {
			continue
		}

		q.mu.Lock()
		if q.cancelled || len(q.pending) == 0 || q.pending[0].abandoned() {
			q.mu.Unlock()
			continue
		}
		j := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.current = j.label
		progress, listeners := q.snapshotLocked()
		q.mu.Unlock()
		notify(progress, listeners)

		j.run()

		q.mu.Lock()
		q.lastEnd = time.Now()
		q.processed++
		q.current = ""
		progress, listeners = q.snapshotLocked()
		q.mu.Unlock()
		notify(progress, listeners)
	}
}

// dropAbandonedLocked removes queued jobs whose submitter context is done.
// They count as processed but leave lastEnd untouched.
func (q *Queue) dropAbandonedLocked() []*job {
	var dropped []*job
	kept := q.pending[:0]
	for _, j := range q.pending {
		if j.abandoned() {
			dropped = append(dropped, j)
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept
	q.processed += len(dropped)
	return dropped
}

// sleep returns false when interrupted.
func (q *Queue) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-q.wake:
		return false
	}
}

// Cancel rejects every task that has not started yet. A running task is left
// to finish. The queue stays usable.
func (q *Queue) Cancel() {
	q.rejectPending(ErrCancelled, false)
}

// Close rejects pending tasks with ErrClosed, refuses new ones and waits for
// the running task to finish.
func (q *Queue) Close() {
	q.rejectPending(ErrClosed, true)
	q.wg.Wait()
}

func (q *Queue) rejectPending(err error, closeQueue bool) {
	q.mu.Lock()
	if closeQueue {
		q.closed = true
	}
	rejected := q.pending
	q.pending = nil
	draining := q.draining
	if draining {
		q.cancelled = true
	}
	progress, listeners := q.snapshotLocked()
	q.mu.Unlock()

	if draining {
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}

	for _, j := range rejected {
		j.reject(err)
	}

	if len(rejected) > 0 {
		slog.Debug("queued requests rejected", slog.Int("count", len(rejected)), slog.String("reason", err.Error()))
	}

	notify(progress, listeners)
}

// OnProgress calls listener with the current progress right away and then on
// every enqueue, task start, task end and drain end.
func (q *Queue) OnProgress(listener ProgressListener) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextListenerID
	q.nextListenerID++
	q.listeners[id] = listener
	progress := q.progressLocked()
	q.mu.Unlock()

	listener(progress)

	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

func (q *Queue) Progress() model.QueueProgress {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.progressLocked()
}

func (q *Queue) progressLocked() model.QueueProgress {
	return model.QueueProgress{
		Total:        q.total,
		Processed:    q.processed,
		QueueLength:  len(q.pending),
		CurrentLabel: q.current,
	}
}

func (q *Queue) snapshotLocked() (model.QueueProgress, []ProgressListener) {
	listeners := make([]ProgressListener, 0, len(q.listeners))
	for _, l := range q.listeners {
		listeners = append(listeners, l)
	}
	return q.progressLocked(), listeners
}

func notify(progress model.QueueProgress, listeners []ProgressListener) {
	for _, l := range listeners {
		l(progress)
	}
}
