package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
	"github.com/redis/go-redis/v9"
)

const (
	pricesKeyPrefix = "price:"
	scanCount       = 100
)

// RedisStore keeps each price as a JSON string under "price:<TICKER>".
// Keys outlive their logical expiration by retention so stale fallback reads
// still find them, after that Redis drops them on its own.
type RedisStore struct {
	redis     *redis.Client
	retention time.Duration
}

func NewRedisStore(redisClient *redis.Client, retention time.Duration) *RedisStore {
	return &RedisStore{redis: redisClient, retention: retention}
}

func (r *RedisStore) Get(ctx context.Context, ticker string) (model.CachedPrice, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("RedisStore.Get start", slog.String("rqID", rqID), slog.String("ticker", ticker))

	res, err := r.redis.Get(ctx, pricesKeyPrefix+ticker).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.CachedPrice{}, ErrNotFound
		}
		slog.Error("failed on redis.Get", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("key", pricesKeyPrefix+ticker))
		return model.CachedPrice{}, err
	}

	price := model.CachedPrice{}
	err = json.Unmarshal([]byte(res), &price)
	if err != nil {
		slog.Error(
			"can't unmarshall cached price",
			slog.String("rqID", rqID),
			slog.String("err", err.Error()),
			slog.String("resultFromRedis", res),
		)
		return model.CachedPrice{}, errors.New("can't unmarshall cached price")
	}

	return price, nil
}

func (r *RedisStore) Set(ctx context.Context, price model.CachedPrice) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	priceJson, err := json.Marshal(price)
	if err != nil {
		slog.Error("can't marshall cached price", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.Any("price", price))
		return errors.New("can't marshall cached price")
	}

	err = r.redis.Set(ctx, pricesKeyPrefix+price.Ticker, priceJson, r.keyTTL(price)).Err()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("ticker", price.Ticker))
		return err
	}

	return nil
}

// keyTTL returns 0 (no expiration) when retention is unlimited.
func (r *RedisStore) keyTTL(price model.CachedPrice) time.Duration {
	if r.retention <= 0 {
		return 0
	}
	ttl := time.Until(price.ExpiresAt) + r.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func (r *RedisStore) Delete(ctx context.Context, ticker string) error {
	return r.redis.Del(ctx, pricesKeyPrefix+ticker).Err()
}

func (r *RedisStore) Clear(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	keys, err := r.scanKeys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := r.redis.Pipeline()
	for i := 0; i < len(keys); i += scanCount {
		end := min(i+scanCount, len(keys))
		pipe.Del(ctx, keys[i:end]...)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		slog.Error("failed on pipe.Exec", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	return nil
}

func (r *RedisStore) List(ctx context.Context) ([]model.CachedPrice, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	keys, err := r.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []model.CachedPrice{}, nil
	}

	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Error("failed on redis.MGet", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return nil, err
	}

	prices := make([]model.CachedPrice, 0, len(values))
	for i, value := range values {
		// ключ мог истечь между SCAN и MGET
		raw, ok := value.(string)
		if !ok {
			continue
		}
		price := model.CachedPrice{}
		if err := json.Unmarshal([]byte(raw), &price); err != nil {
			slog.Warn("skip broken cached price", slog.String("rqID", rqID), slog.String("key", keys[i]), slog.String("err", err.Error()))
			continue
		}
		prices = append(prices, price)
	}

	return prices, nil
}

func (r *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	var keys []string

	iter := r.redis.Scan(ctx, 0, pricesKeyPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.Error("failed on redis.Scan", slog.String("rqID", utils.GetRequestIDFromCtx(ctx)), slog.String("err", err.Error()))
		return nil, err
	}

	return keys, nil
}
