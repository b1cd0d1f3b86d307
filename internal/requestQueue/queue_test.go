package requestQueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func TestQueue_FIFO(t *testing.T) {
	q := New(0)
	defer q.Close()
	ctx := waitCtx(t)

	var (
		mu    sync.Mutex
		order []string
	)
	labels := []string{"VTI", "BND", "VNQ", "VXUS", "AOA"}

	futures := make([]*Future[string], 0, len(labels))
	for _, label := range labels {
		futures = append(futures, Submit(ctx, q, label, func(ctx context.Context) (string, error) {
			mu.Lock()
			order = append(order, label)
			mu.Unlock()
			return label + "!", nil
		}))
	}

	for i, f := range futures {
		res, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, labels[i]+"!", res)
	}
	assert.Equal(t, labels, order)
}

func TestQueue_DelayBetweenStarts(t *testing.T) {
	const delay = 50 * time.Millisecond
	q := New(delay)
	defer q.Close()
	ctx := waitCtx(t)

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	var futures []*Future[struct{}]
	for i := 0; i < 3; i++ {
		futures = append(futures, Submit(ctx, q, "", func(ctx context.Context) (struct{}, error) {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			return struct{}{}, nil
		}))
	}
	for _, f := range futures {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}

	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), delay)
	}
}

func TestQueue_FailureDoesNotStopQueue(t *testing.T) {
	q := New(0)
	defer q.Close()
	ctx := waitCtx(t)

	errBoom := errors.New("boom")
	failing := Submit(ctx, q, "BAD", func(ctx context.Context) (float64, error) {
		return 0, errBoom
	})
	panicking := Submit(ctx, q, "PANIC", func(ctx context.Context) (float64, error) {
		panic("unexpected")
	})
	ok := Submit(ctx, q, "VTI", func(ctx context.Context) (float64, error) {
		return 235.5, nil
	})

	_, err := failing.Wait(ctx)
	assert.ErrorIs(t, err, errBoom)

	_, err = panicking.Wait(ctx)
	assert.ErrorContains(t, err, "panicked")

	price, err := ok.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 235.5, price)
}

func TestQueue_CancelRejectsOnlyQueued(t *testing.T) {
	q := New(10 * time.Millisecond)
	defer q.Close()
	ctx := waitCtx(t)

	started := make(chan struct{})
	release := make(chan struct{})
	inFlight := Submit(ctx, q, "VTI", func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	})

	var (
		mu  sync.Mutex
		ran []string
	)
	var queued []*Future[int]
	for _, label := range []string{"BND", "VNQ", "VXUS"} {
		queued = append(queued, Submit(ctx, q, label, func(ctx context.Context) (int, error) {
			mu.Lock()
			ran = append(ran, label)
			mu.Unlock()
			return 2, nil
		}))
	}

	<-started
	q.Cancel()

	for _, f := range queued {
		select {
		case <-f.Done():
		default:
			t.Fatal("queued task must be rejected synchronously")
		}
		_, err := f.Wait(ctx)
		assert.ErrorIs(t, err, ErrCancelled)
	}

	close(release)
	res, err := inFlight.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res)

	require.Eventually(t, func() bool {
		return q.Progress() == model.QueueProgress{}
	}, waitTimeout, 5*time.Millisecond)

	mu.Lock()
	assert.Empty(t, ran)
	mu.Unlock()
}

func TestQueue_ReusableAfterCancel(t *testing.T) {
	q := New(0)
	defer q.Close()
	ctx := waitCtx(t)

	q.Cancel()

	res, err := Submit(ctx, q, "VTI", func(ctx context.Context) (string, error) {
		return "ok", nil
	}).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
}

func TestQueue_SubmitAfterCancelWithTaskInFlight(t *testing.T) {
	q := New(0)
	defer q.Close()
	ctx := waitCtx(t)

	started := make(chan struct{})
	release := make(chan struct{})
	first := Submit(ctx, q, "VTI", func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	<-started
	q.Cancel()

	second := Submit(ctx, q, "BND", func(ctx context.Context) (int, error) {
		return 2, nil
	})

	var (
		mu     sync.Mutex
		events []model.QueueProgress
	)
	unsubscribe := q.OnProgress(func(p model.QueueProgress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})
	defer unsubscribe()

	close(release)

	res, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res)

	res, err = second.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res)

	require.Eventually(t, func() bool {
		return q.Progress() == model.QueueProgress{}
	}, waitTimeout, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, model.QueueProgress{Total: 1, Processed: 0, QueueLength: 0, CurrentLabel: "BND"})
}

func TestQueue_Progress(t *testing.T) {
	q := New(0)
	defer q.Close()
	ctx := waitCtx(t)

	var (
		mu     sync.Mutex
		events []model.QueueProgress
	)
	unsubscribe := q.OnProgress(func(p model.QueueProgress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})

	mu.Lock()
	require.Len(t, events, 1, "listener is called on subscription")
	assert.Equal(t, model.QueueProgress{}, events[0])
	mu.Unlock()

	started := make(chan struct{})
	release := make(chan struct{})
	a := Submit(ctx, q, "A", func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started
	b := Submit(ctx, q, "B", func(ctx context.Context) (int, error) { return 0, nil })

	assert.Equal(t, model.QueueProgress{Total: 2, Processed: 0, QueueLength: 1, CurrentLabel: "A"}, q.Progress())

	close(release)
	_, err := a.Wait(ctx)
	require.NoError(t, err)
	_, err = b.Wait(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return events[len(events)-1] == model.QueueProgress{}
	}, waitTimeout, 5*time.Millisecond)

	mu.Lock()
	assert.Contains(t, events, model.QueueProgress{Total: 1, Processed: 0, QueueLength: 1, CurrentLabel: ""})
	assert.Contains(t, events, model.QueueProgress{Total: 2, Processed: 1, QueueLength: 0, CurrentLabel: "B"})
	assert.Contains(t, events, model.QueueProgress{Total: 2, Processed: 2, QueueLength: 0, CurrentLabel: ""})
	count := len(events)
	mu.Unlock()

	unsubscribe()
	_, err = Submit(ctx, q, "C", func(ctx context.Context) (int, error) { return 0, nil }).Wait(ctx)
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, events, count, "no events after unsubscribe")
	mu.Unlock()
}

func TestQueue_Close(t *testing.T) {
	q := New(time.Hour)
	ctx := waitCtx(t)

	first := Submit(ctx, q, "A", func(ctx context.Context) (int, error) { return 1, nil })
	second := Submit(ctx, q, "B", func(ctx context.Context) (int, error) { return 2, nil })

	_, err := first.Wait(ctx)
	require.NoError(t, err)

	q.Close()

	_, err = second.Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = Submit(ctx, q, "C", func(ctx context.Context) (int, error) { return 3, nil }).Wait(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestFuture_WaitRespectsContext(t *testing.T) {
	q := New(0)
	defer q.Close()

	release := make(chan struct{})
	defer close(release)
	f := Submit(context.Background(), q, "SLOW", func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_AbandonedTaskSkippedWithoutDelaySlot(t *testing.T) {
	const delay = 150 * time.Millisecond
	q := New(delay)
	defer q.Close()
	ctx := waitCtx(t)

	var (
		mu     sync.Mutex
		starts = map[string]time.Time{}
	)
	record := func(label string) func(ctx context.Context) (string, error) {
		return func(ctx context.Context) (string, error) {
			mu.Lock()
			starts[label] = time.Now()
			mu.Unlock()
			return label, nil
		}
	}

	abandonedCtx, abandon := context.WithCancel(context.Background())
	abandon()

	a := Submit(ctx, q, "VTI", record("VTI"))
	b := Submit(abandonedCtx, q, "BND", record("BND"))
	c := Submit(ctx, q, "VNQ", record("VNQ"))

	_, err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = a.Wait(ctx)
	require.NoError(t, err)
	_, err = c.Wait(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, starts, "BND")
	gap := starts["VNQ"].Sub(starts["VTI"])
	assert.GreaterOrEqual(t, gap, delay)
	assert.Less(t, gap, 2*delay, "skipped task must not take a delay slot")
}
