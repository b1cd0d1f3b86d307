package priceService

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/data/cache"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/externalApi"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/requestQueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu     sync.Mutex
	prices map[string]float64
	errs   map[string]error
	// failOnce errors are returned by the first call for a ticker only.
	failOnce map[string]error
	calls    []string
	callTime []time.Time
	started  chan string
	release  chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{prices: map[string]float64{}, errs: map[string]error{}, failOnce: map[string]error{}}
}

func (f *fakeFetcher) GetPrice(ctx context.Context, ticker string) (model.PriceData, error) {
	f.mu.Lock()
	f.calls = append(f.calls, ticker)
	f.callTime = append(f.callTime, time.Now())
	price, hasPrice := f.prices[ticker]
	err := f.errs[ticker]
	if once, ok := f.failOnce[ticker]; ok {
		delete(f.failOnce, ticker)
		err = once
	}
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil {
		started <- ticker
	}
	if release != nil {
		<-release
	}

	if err != nil {
		return model.PriceData{}, err
	}
	if !hasPrice {
		return model.PriceData{}, &externalApi.FetchError{Ticker: ticker, Code: externalApi.CodeNoData}
	}
	return model.PriceData{Ticker: ticker, Price: price, Currency: "USD", Timestamp: time.Now(), Source: model.PriceSourceAPI}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeFetcher) CallTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.callTime...)
}

type fixture struct {
	svc     *PriceService
	cache   *cache.PriceCache
	fetcher *fakeFetcher
	queue   *requestQueue.Queue
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	fetcher := newFakeFetcher()
	priceCache := cache.NewPriceCache(cache.NewMemoryStore(), 0)
	queue := requestQueue.New(0)
	t.Cleanup(queue.Close)

	return fixture{
		svc:     New(fetcher, priceCache, queue, 24*time.Hour, nil),
		cache:   priceCache,
		fetcher: fetcher,
		queue:   queue,
	}
}

func TestFetchMany_CacheHitSkipsNetwork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cache.Set(ctx, "VTI", 235.5, "USD", time.Hour))

	res, err := f.svc.FetchMany(ctx, []string{"vti"})
	require.NoError(t, err)

	require.Contains(t, res.Prices, "VTI")
	assert.Equal(t, 235.5, res.Prices["VTI"].Price)
	assert.Equal(t, model.PriceSourceCache, res.Prices["VTI"].Source)
	assert.Empty(t, res.Errors)
	assert.Empty(t, f.fetcher.Calls())
}

func TestFetchMany_FetchesMissesInOrderAndCaches(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.prices["VTI"] = 235.5
	f.fetcher.prices["BND"] = 73

	res, err := f.svc.FetchMany(ctx, []string{"vti", "BND", "VTI", ""})
	require.NoError(t, err)

	assert.Equal(t, []string{"VTI", "BND"}, f.fetcher.Calls())
	require.Len(t, res.Prices, 2)
	assert.Equal(t, model.PriceSourceAPI, res.Prices["VTI"].Source)
	assert.Equal(t, 73.0, res.Prices["BND"].Price)

	f.svc.WaitPendingWrites()
	entry, ok := f.cache.Get(ctx, "BND")
	require.True(t, ok)
	assert.Equal(t, 73.0, entry.Price)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), entry.ExpiresAt, time.Minute)
}

func TestFetchMany_StaleFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cache.Set(ctx, "VTI", 230, "USD", -time.Hour))
	f.fetcher.errs["VTI"] = &externalApi.FetchError{Ticker: "VTI", Code: externalApi.CodeNetworkError}

	res, err := f.svc.FetchMany(ctx, []string{"VTI"})
	require.NoError(t, err)

	assert.Equal(t, []string{"VTI"}, f.fetcher.Calls(), "expired entry is not a hit")
	require.Contains(t, res.Prices, "VTI")
	assert.Equal(t, 230.0, res.Prices["VTI"].Price)
	assert.Equal(t, model.PriceSourceCache, res.Prices["VTI"].Source)

	require.Contains(t, res.Errors, "VTI")
	warning := res.Errors["VTI"]
	assert.Equal(t, model.SeverityWarning, warning.Severity)
	assert.Equal(t, string(externalApi.CodeCacheFallback), warning.Code)
	assert.Contains(t, warning.Message, "minutes ago")
}

func TestFetchMany_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.prices["VTI"] = 235.5
	f.fetcher.errs["NOPE"] = &externalApi.FetchError{Ticker: "NOPE", Code: externalApi.CodeInvalidSymbol}

	res, err := f.svc.FetchMany(ctx, []string{"NOPE", "VTI"})
	require.NoError(t, err)

	assert.Contains(t, res.Prices, "VTI")
	assert.NotContains(t, res.Prices, "NOPE")

	require.Contains(t, res.Errors, "NOPE")
	hard := res.Errors["NOPE"]
	assert.Equal(t, model.SeverityError, hard.Severity)
	assert.Equal(t, string(externalApi.CodeInvalidSymbol), hard.Code)
	assert.Equal(t, "ticker not found", hard.Message)

	assert.True(t, f.svc.State().HasErrors)
	assert.False(t, f.svc.State().Loading)
}

func TestFetchMany_BypassCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cache.Set(ctx, "VTI", 1, "USD", time.Hour))
	f.fetcher.prices["VTI"] = 2

	res, err := f.svc.FetchMany(ctx, []string{"VTI"}, WithBypassCache())
	require.NoError(t, err)

	assert.Equal(t, 2.0, res.Prices["VTI"].Price)
	assert.Equal(t, model.PriceSourceAPI, res.Prices["VTI"].Source)
	assert.Equal(t, []string{"VTI"}, f.fetcher.Calls())
}

func TestFetchMany_SuccessClearsPreviousError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.errs["VTI"] = &externalApi.FetchError{Ticker: "VTI", Code: externalApi.CodeTimeout}

	_, err := f.svc.FetchMany(ctx, []string{"VTI"})
	require.NoError(t, err)
	assert.Contains(t, f.svc.Errors(), "VTI")

	f.fetcher.mu.Lock()
	delete(f.fetcher.errs, "VTI")
	f.fetcher.prices["VTI"] = 235.5
	f.fetcher.mu.Unlock()

	_, err = f.svc.FetchMany(ctx, []string{"VTI"})
	require.NoError(t, err)
	assert.Empty(t, f.svc.Errors())
	assert.Equal(t, 235.5, f.svc.Prices()["VTI"].Price)
	assert.False(t, f.svc.State().HasErrors)
}

func TestFetchMany_CancelFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.prices = map[string]float64{"VTI": 1, "BND": 2, "VNQ": 3}
	f.fetcher.started = make(chan string, 3)
	f.fetcher.release = make(chan struct{})

	done := make(chan model.FetchResult)
	go func() {
		res, _ := f.svc.FetchMany(ctx, []string{"VTI", "BND", "VNQ"})
		done <- res
	}()

	assert.Equal(t, "VTI", <-f.fetcher.started)
	require.Eventually(t, func() bool {
		return f.queue.Progress().QueueLength == 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, f.svc.State().Loading)

	f.svc.CancelFetch()
	close(f.fetcher.release)

	var res model.FetchResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("FetchMany did not return after cancel")
	}

	assert.Equal(t, []string{"VTI"}, f.fetcher.Calls())
	assert.Contains(t, res.Prices, "VTI")
	for _, ticker := range []string{"BND", "VNQ"} {
		require.Contains(t, res.Errors, ticker)
		assert.Equal(t, string(externalApi.CodeCancelled), res.Errors[ticker].Code)
	}
}

func TestFetchMany_ContextDone(t *testing.T) {
	f := newFixture(t)
	f.fetcher.prices["VTI"] = 1
	f.fetcher.release = make(chan struct{})
	defer close(f.fetcher.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.svc.FetchMany(ctx, []string{"VTI"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchMany_RetriesRespectQueueDelay(t *testing.T) {
	const delay = 150 * time.Millisecond

	fetcher := newFakeFetcher()
	fetcher.prices["VTI"] = 220.5
	fetcher.prices["BND"] = 72.1
	fetcher.failOnce["VTI"] = &externalApi.FetchError{Ticker: "VTI", Code: externalApi.CodeRateLimited}

	queue := requestQueue.New(delay)
	t.Cleanup(queue.Close)
	svc := New(fetcher, cache.NewPriceCache(cache.NewMemoryStore(), 0), queue, 24*time.Hour, []time.Duration{10 * time.Millisecond})
	t.Cleanup(svc.WaitPendingWrites)

	res, err := svc.FetchMany(context.Background(), []string{"VTI", "BND"})
	require.NoError(t, err)

	require.Contains(t, res.Prices, "VTI")
	require.Contains(t, res.Prices, "BND")
	assert.Equal(t, []string{"VTI", "BND", "VTI"}, fetcher.Calls())

	times := fetcher.CallTimes()
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), delay, "call %d", i)
	}
}

func TestFetchMany_CancelledBatchDoesNotReachFetcher(t *testing.T) {
	const delay = 150 * time.Millisecond

	fetcher := newFakeFetcher()
	for _, ticker := range []string{"VTI", "BND", "VNQ", "VXUS"} {
		fetcher.prices[ticker] = 10
	}

	queue := requestQueue.New(delay)
	t.Cleanup(queue.Close)
	svc := New(fetcher, cache.NewPriceCache(cache.NewMemoryStore(), 0), queue, 24*time.Hour, nil)
	t.Cleanup(svc.WaitPendingWrites)

	ctx, cancel := context.WithTimeout(context.Background(), delay/2)
	defer cancel()
	_, err := svc.FetchMany(ctx, []string{"VTI", "BND", "VNQ"})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	start := time.Now()
	res, err := svc.FetchMany(context.Background(), []string{"VXUS"})
	require.NoError(t, err)
	require.Contains(t, res.Prices, "VXUS")

	assert.Equal(t, []string{"VTI", "VXUS"}, fetcher.Calls())
	assert.Less(t, time.Since(start), 2*delay)
}

func TestRefreshAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.RefreshAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Prices)

	f.fetcher.prices["VTI"] = 1
	f.fetcher.prices["BND"] = 2
	_, err = f.svc.FetchMany(ctx, []string{"VTI", "BND"})
	require.NoError(t, err)

	f.fetcher.mu.Lock()
	f.fetcher.prices["VTI"] = 10
	f.fetcher.mu.Unlock()

	res, err = f.svc.RefreshAll(ctx, WithBypassCache())
	require.NoError(t, err)
	assert.Equal(t, 10.0, res.Prices["VTI"].Price)
	assert.ElementsMatch(t, []string{"VTI", "BND", "VTI", "BND"}, f.fetcher.Calls())
}

func TestCacheControls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.cache.Set(ctx, "OLD", 1, "USD", -time.Minute))
	require.NoError(t, f.cache.Set(ctx, "NEW", 2, "USD", time.Hour))

	stats := f.svc.CacheStats(ctx)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Expired)

	pruned, err := f.svc.PruneExpiredCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, []string{"NEW"}, f.svc.CachedTickers(ctx))

	require.NoError(t, f.svc.ClearCache(ctx))
	assert.Empty(t, f.svc.CachedTickers(ctx))
}

func TestSortedErrors(t *testing.T) {
	errs := map[string]model.PriceError{
		"VTI": {Ticker: "VTI"},
		"BND": {Ticker: "BND"},
	}
	sorted := SortedErrors(errs)
	require.Len(t, sorted, 2)
	assert.Equal(t, "BND", sorted[0].Ticker)
}
