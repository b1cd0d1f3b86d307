package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

var ErrNotFound = errors.New("session not found")

// RedisSession keeps the loaded portfolio and the chosen drift threshold of a chat.
type RedisSession struct {
	redis      *redis.Client
	expiration time.Duration
}

func NewRedisSession(redisClient *redis.Client, expiration time.Duration) *RedisSession {
	return &RedisSession{redis: redisClient, expiration: expiration}
}

func (r *RedisSession) GetSession(ctx context.Context, chatID int64) (model.Session, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	key := sessionKey(chatID)

	res, err := r.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Session{}, ErrNotFound
		}
		slog.Error("failed on redis.Get", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("key", key))
		return model.Session{}, err
	}

	sess := model.Session{}
	err = json.Unmarshal([]byte(res), &sess)
	if err != nil {
		slog.Error("can't unmarshall session", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("key", key))
		return model.Session{}, errors.New("can't unmarshall session")
	}

	return sess, nil
}

// SetSession overwrites the session and extends its lifetime.
func (r *RedisSession) SetSession(ctx context.Context, chatID int64, sess model.Session) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	sessJson, err := json.Marshal(sess)
	if err != nil {
		slog.Error("can't marshall session", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return errors.New("can't marshall session")
	}

	err = r.redis.Set(ctx, sessionKey(chatID), sessJson, r.expiration).Err()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.Int64("chatID", chatID))
		return err
	}

	return nil
}

func sessionKey(chatID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(chatID, 10)
}
