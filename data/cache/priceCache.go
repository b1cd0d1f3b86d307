package cache

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
)

const defaultCurrency = "USD"

// Store is a key-value backend for cached prices. Keys are upper case tickers.
type Store interface {
	Get(ctx context.Context, ticker string) (model.CachedPrice, error)
	Set(ctx context.Context, price model.CachedPrice) error
	Delete(ctx context.Context, ticker string) error
	Clear(ctx context.Context) error
	List(ctx context.Context) ([]model.CachedPrice, error)
}

// PriceCache adds expiration semantics on top of a Store.
// Read failures of the store are logged and reported as a cache miss.
type PriceCache struct {
	store        Store
	maxStaleness time.Duration
	now          func() time.Time
}

// NewPriceCache creates a cache. maxStaleness limits how long after
// expiration an entry may still be served by GetStale, 0 means no limit.
func NewPriceCache(store Store, maxStaleness time.Duration) *PriceCache {
	return &PriceCache{store: store, maxStaleness: maxStaleness, now: time.Now}
}

func NormalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

// Get returns a fresh entry. An expired entry is deleted and reported as a miss.
// No production path calls it: the price service reads through GetStale and
// Expired so an expired entry survives for the fallback path.
func (c *PriceCache) Get(ctx context.Context, ticker string) (model.CachedPrice, bool) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceCache.Get"
	key := NormalizeTicker(ticker)

	entry, ok := c.read(ctx, key, op)
	if !ok {
		return model.CachedPrice{}, false
	}

	if entry.Expired(c.now()) {
		slog.Debug("cached price expired", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", key))
		if err := c.store.Delete(ctx, key); err != nil {
			slog.Warn("can't delete expired price", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
		return model.CachedPrice{}, false
	}

	return entry, true
}

// GetStale returns an entry regardless of its expiration and never deletes it.
func (c *PriceCache) GetStale(ctx context.Context, ticker string) (model.CachedPrice, bool) {
	key := NormalizeTicker(ticker)

	entry, ok := c.read(ctx, key, "PriceCache.GetStale")
	if !ok {
		return model.CachedPrice{}, false
	}

	if c.maxStaleness > 0 && c.now().After(entry.ExpiresAt.Add(c.maxStaleness)) {
		return model.CachedPrice{}, false
	}

	return entry, true
}

func (c *PriceCache) read(ctx context.Context, key, op string) (model.CachedPrice, bool) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("price cache unavailable, treating as miss", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
		return model.CachedPrice{}, false
	}

	if entry.Currency == "" {
		entry.Currency = defaultCurrency
	}

	return entry, true
}

// Set overwrites the entry of ticker. The entry expires ttl from now.
func (c *PriceCache) Set(ctx context.Context, ticker string, price float64, currency string, ttl time.Duration) error {
	now := c.now()
	entry := model.CachedPrice{
		Ticker:    NormalizeTicker(ticker),
		Price:     price,
		Currency:  currency,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
	}

	return c.store.Set(ctx, entry)
}

func (c *PriceCache) Delete(ctx context.Context, ticker string) error {
	return c.store.Delete(ctx, NormalizeTicker(ticker))
}

func (c *PriceCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

func (c *PriceCache) ListKeys(ctx context.Context) []string {
	entries := c.list(ctx, "PriceCache.ListKeys")

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		keys = append(keys, entry.Ticker)
	}
	sort.Strings(keys)

	return keys
}

func (c *PriceCache) Stats(ctx context.Context) model.CacheStats {
	entries := c.list(ctx, "PriceCache.Stats")
	now := c.now()

	stats := model.CacheStats{Total: len(entries)}
	for _, entry := range entries {
		if entry.Expired(now) {
			stats.Expired++
		} else {
			stats.Fresh++
		}

		ts := entry.Timestamp
		if stats.Oldest == nil || ts.Before(*stats.Oldest) {
			stats.Oldest = &ts
		}
		if stats.Newest == nil || ts.After(*stats.Newest) {
			stats.Newest = &ts
		}
	}

	return stats
}

// PruneExpired deletes every expired entry and returns how many were removed.
func (c *PriceCache) PruneExpired(ctx context.Context) (int, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PriceCache.PruneExpired"

	entries, err := c.store.List(ctx)
	if err != nil {
		slog.Error("can't list cached prices", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return 0, err
	}

	now := c.now()
	pruned := 0
	for _, entry := range entries {
		if !entry.Expired(now) {
			continue
		}
		if err := c.store.Delete(ctx, entry.Ticker); err != nil {
			slog.Error("can't delete expired price", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", entry.Ticker), slog.String("err", err.Error()))
			return pruned, err
		}
		pruned++
	}

	slog.Debug("expired prices pruned", slog.String("rqID", rqID), slog.String("op", op), slog.Int("pruned", pruned))

	return pruned, nil
}

func (c *PriceCache) list(ctx context.Context, op string) []model.CachedPrice {
	entries, err := c.store.List(ctx)
	if err != nil {
		slog.Warn("price cache unavailable", slog.String("rqID", utils.GetRequestIDFromCtx(ctx)), slog.String("op", op), slog.String("err", err.Error()))
		return nil
	}
	return entries
}
