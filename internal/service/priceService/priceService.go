package priceService

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/data/cache"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/externalApi"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/requestQueue"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
	"golang.org/x/sync/errgroup"
)

type Fetcher interface {
	GetPrice(ctx context.Context, ticker string) (model.PriceData, error)
}

type Cache interface {
	GetStale(ctx context.Context, ticker string) (model.CachedPrice, bool)
	Set(ctx context.Context, ticker string, price float64, currency string, ttl time.Duration) error
	ListKeys(ctx context.Context) []string
	Stats(ctx context.Context) model.CacheStats
	Clear(ctx context.Context) error
	PruneExpired(ctx context.Context) (int, error)
}

type fetchOptions struct {
	bypassCache bool
}

type FetchOption func(*fetchOptions)

// WithBypassCache skips the cache-first read. The stale fallback still applies.
func WithBypassCache() FetchOption {
	return func(o *fetchOptions) {
		o.bypassCache = true
	}
}

// PriceService resolves prices cache first, sends misses through the shared
// request queue and falls back to stale cache entries on failure.
// Results of every call are merged into the service wide price and error maps.
type PriceService struct {
	fetcher  Fetcher
	cache    Cache
	queue    *requestQueue.Queue
	priceTTL time.Duration
	// retryDelays are backoffs between attempts; every attempt is its own
	// queue task, so the queue delay applies to retries too.
	retryDelays []time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	prices   map[string]model.PriceData
	errors   map[string]model.PriceError
	inFlight int

	writes sync.WaitGroup
}

func New(fetcher Fetcher, priceCache Cache, queue *requestQueue.Queue, priceTTL time.Duration, retryDelays []time.Duration) *PriceService {
	return &PriceService{
		fetcher:     fetcher,
		cache:       priceCache,
		queue:       queue,
		priceTTL:    priceTTL,
		retryDelays: retryDelays,
		now:         time.Now,
		prices:      make(map[string]model.PriceData),
		errors:      make(map[string]model.PriceError),
	}
}

// FetchMany never fails as a whole: per ticker failures are reported in the
// result. The error is non-nil only if ctx is done before every ticker settles,
// the result then holds what was resolved so far.
func (s *PriceService) FetchMany(ctx context.Context, tickers []string, opts ...FetchOption) (model.FetchResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.FetchMany"

	options := fetchOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	tickers = normalizeTickers(tickers)

	slog.Debug("FetchMany start", slog.String("rqID", rqID), slog.String("op", op), slog.Any("tickers", tickers), slog.Bool("bypassCache", options.bypassCache))

	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	res := newFetchResult()
	var resMu sync.Mutex

	misses := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		if options.bypassCache {
			misses = append(misses, ticker)
			continue
		}

		// expired entries stay in the cache for the fallback path
		entry, ok := s.cache.GetStale(ctx, ticker)
		if !ok || entry.Expired(s.now()) {
			misses = append(misses, ticker)
			continue
		}

		res.Prices[ticker] = cachedToPriceData(entry)
	}
	s.merge(res)

	slog.Debug("cache lookup finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("hits", len(res.Prices)), slog.Int("misses", len(misses)))

	// первые попытки ставим в очередь сразу, в порядке тикеров
	futures := make(map[string]*requestQueue.Future[model.PriceData], len(misses))
	for _, ticker := range misses {
		futures[ticker] = s.submit(ctx, ticker)
	}

	g := errgroup.Group{}
	for ticker, fut := range futures {
		g.Go(func() error {
			price, err := s.fetchWithRetry(ctx, ticker, fut)
			if ctx.Err() != nil {
				return ctx.Err()
			}

			partial := s.settle(ctx, ticker, price, err)

			resMu.Lock()
			for k, v := range partial.Prices {
				res.Prices[k] = v
			}
			for k, v := range partial.Errors {
				res.Errors[k] = v
			}
			resMu.Unlock()

			return nil
		})
	}

	err := g.Wait()

	resMu.Lock()
	defer resMu.Unlock()

	if err != nil {
		slog.Warn("FetchMany interrupted", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return copyResult(res), err
	}

	slog.Debug("FetchMany finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("prices", len(res.Prices)), slog.Int("errors", len(res.Errors)))

	return copyResult(res), nil
}

func (s *PriceService) submit(ctx context.Context, ticker string) *requestQueue.Future[model.PriceData] {
	return requestQueue.Submit(ctx, s.queue, ticker, func(ctx context.Context) (model.PriceData, error) {
		return s.fetcher.GetPrice(ctx, ticker)
	})
}

// fetchWithRetry waits for the first attempt and resubmits the ticker to the
// queue after each retryable failure.
func (s *PriceService) fetchWithRetry(ctx context.Context, ticker string, first *requestQueue.Future[model.PriceData]) (model.PriceData, error) {
	next := first
	return externalApi.Retry(ctx, ticker, s.retryDelays, func(ctx context.Context) (model.PriceData, error) {
		fut := next
		next = nil
		if fut == nil {
			fut = s.submit(ctx, ticker)
		}

		select {
		case <-fut.Done():
			return fut.Result()
		case <-ctx.Done():
			return model.PriceData{}, ctx.Err()
		}
	})
}

// RefreshAll repeats FetchMany for every ticker that currently has a price.
func (s *PriceService) RefreshAll(ctx context.Context, opts ...FetchOption) (model.FetchResult, error) {
	s.mu.RLock()
	tickers := make([]string, 0, len(s.prices))
	for ticker := range s.prices {
		tickers = append(tickers, ticker)
	}
	s.mu.RUnlock()

	if len(tickers) == 0 {
		return newFetchResult(), nil
	}

	return s.FetchMany(ctx, tickers, opts...)
}

func (s *PriceService) settle(ctx context.Context, ticker string, price model.PriceData, err error) model.FetchResult {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.settle"
	res := newFetchResult()

	if err == nil {
		price.Ticker = ticker
		price.Source = model.PriceSourceAPI
		res.Prices[ticker] = price
		s.merge(res)
		s.writeCache(ctx, price)
		return res
	}

	code := fetchErrorCode(err)
	slog.Warn("price fetch failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker), slog.String("code", string(code)), slog.String("err", err.Error()))

	now := s.now()
	entry, ok := s.cache.GetStale(context.WithoutCancel(ctx), ticker)
	if ok {
		minutes := int(now.Sub(entry.Timestamp).Minutes())
		res.Prices[ticker] = cachedToPriceData(entry)
		res.Errors[ticker] = model.PriceError{
			Ticker:    ticker,
			Message:   fmt.Sprintf("using cached data from %d minutes ago", minutes),
			Code:      string(externalApi.CodeCacheFallback),
			Severity:  model.SeverityWarning,
			Timestamp: now,
		}
	} else {
		res.Errors[ticker] = model.PriceError{
			Ticker:    ticker,
			Message:   externalApi.Message(code),
			Code:      string(code),
			Severity:  model.SeverityError,
			Timestamp: now,
		}
	}

	s.merge(res)

	return res
}

func fetchErrorCode(err error) externalApi.ErrorCode {
	if errors.Is(err, requestQueue.ErrCancelled) || errors.Is(err, requestQueue.ErrClosed) {
		return externalApi.CodeCancelled
	}
	return externalApi.CodeOf(err)
}

func (s *PriceService) writeCache(ctx context.Context, price model.PriceData) {
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()

		err := s.cache.Set(context.WithoutCancel(ctx), price.Ticker, price.Price, price.Currency, s.priceTTL)
		if err != nil {
			slog.Warn(
				"can't write price to cache",
				slog.String("rqID", utils.GetRequestIDFromCtx(ctx)),
				slog.String("op", "PriceService.writeCache"),
				slog.String("ticker", price.Ticker),
				slog.String("err", err.Error()),
			)
		}
	}()
}

// WaitPendingWrites blocks until background cache writes are done.
func (s *PriceService) WaitPendingWrites() {
	s.writes.Wait()
}

// merge stores prices and errors of res. A price without an error entry in res
// clears the previous error of that ticker.
func (s *PriceService) merge(res model.FetchResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ticker, price := range res.Prices {
		s.prices[ticker] = price
		if _, ok := res.Errors[ticker]; !ok {
			delete(s.errors, ticker)
		}
	}
	for ticker, priceErr := range res.Errors {
		s.errors[ticker] = priceErr
	}
}

func (s *PriceService) Prices() map[string]model.PriceData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[string]model.PriceData, len(s.prices))
	for k, v := range s.prices {
		res[k] = v
	}
	return res
}

func (s *PriceService) Errors() map[string]model.PriceError {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make(map[string]model.PriceError, len(s.errors))
	for k, v := range s.errors {
		res[k] = v
	}
	return res
}

func (s *PriceService) State() model.PriceFetchState {
	s.mu.RLock()
	state := model.PriceFetchState{
		Loading:   s.inFlight > 0,
		HasErrors: len(s.errors) > 0,
	}
	s.mu.RUnlock()

	state.Progress = s.queue.Progress()

	return state
}

// CancelFetch drops the queued fetches. Their tickers go through the fallback path.
func (s *PriceService) CancelFetch() {
	s.queue.Cancel()
}

func (s *PriceService) OnProgress(listener requestQueue.ProgressListener) (unsubscribe func()) {
	return s.queue.OnProgress(listener)
}

func (s *PriceService) CacheStats(ctx context.Context) model.CacheStats {
	return s.cache.Stats(ctx)
}

func (s *PriceService) CachedTickers(ctx context.Context) []string {
	return s.cache.ListKeys(ctx)
}

func (s *PriceService) ClearCache(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.ClearCache"

	err := s.cache.Clear(ctx)
	if err != nil {
		slog.Error("got error from cache.Clear", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	slog.Info("price cache cleared", slog.String("rqID", rqID), slog.String("op", op))

	return nil
}

func (s *PriceService) PruneExpiredCache(ctx context.Context) (int, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceService.PruneExpiredCache"

	pruned, err := s.cache.PruneExpired(ctx)
	if err != nil {
		slog.Error("got error from cache.PruneExpired", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return pruned, err
	}

	slog.Info("expired prices pruned", slog.String("rqID", rqID), slog.String("op", op), slog.Int("pruned", pruned))

	return pruned, nil
}

func cachedToPriceData(entry model.CachedPrice) model.PriceData {
	return model.PriceData{
		Ticker:    entry.Ticker,
		Price:     entry.Price,
		Timestamp: entry.Timestamp,
		Currency:  entry.Currency,
		Source:    model.PriceSourceCache,
	}
}

// normalizeTickers upper cases, drops empty and duplicated tickers and keeps
// the first occurrence order.
func normalizeTickers(tickers []string) []string {
	seen := make(map[string]struct{}, len(tickers))
	res := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		ticker = cache.NormalizeTicker(ticker)
		if ticker == "" {
			continue
		}
		if _, ok := seen[ticker]; ok {
			continue
		}
		seen[ticker] = struct{}{}
		res = append(res, ticker)
	}
	return res
}

func newFetchResult() model.FetchResult {
	return model.FetchResult{
		Prices: make(map[string]model.PriceData),
		Errors: make(map[string]model.PriceError),
	}
}

func copyResult(res model.FetchResult) model.FetchResult {
	out := newFetchResult()
	for k, v := range res.Prices {
		out.Prices[k] = v
	}
	for k, v := range res.Errors {
		out.Errors[k] = v
	}
	return out
}

// SortedErrors returns errors ordered by ticker.
func SortedErrors(errs map[string]model.PriceError) []model.PriceError {
	res := make([]model.PriceError, 0, len(errs))
	for _, e := range errs {
		res = append(res, e)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Ticker < res[j].Ticker })
	return res
}
