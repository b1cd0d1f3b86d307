package data

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KotFed0t/etf_portfolio_tracker/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient backs both the price cache (when CACHE_BACKEND=redis) and the owner session.
func NewRedisClient(ctx context.Context, cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pong, err := rdb.Ping(ctx).Result()
	if err != nil {
		slog.Error("Error while connecting Redis", slog.String("error", err.Error()))
		panic(err)
	}
	slog.Info("Redis connected", slog.String("pong", pong), slog.Int("db", cfg.Redis.DB))

	return rdb
}
