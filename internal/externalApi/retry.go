package externalApi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
	"github.com/sethvargo/go-retry"
)

// AttemptFunc performs one upstream request for a ticker.
type AttemptFunc func(ctx context.Context) (model.PriceData, error)

// Retry repeats retryable failures of attempt, waiting delays[i] before retry
// i+1. The wait is only a backoff: attempt itself is expected to go through
// the request queue, so the queue delay still separates upstream calls.
func Retry(ctx context.Context, ticker string, delays []time.Duration, attempt AttemptFunc) (model.PriceData, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "externalApi.Retry"

	var (
		price model.PriceData
		tries int
	)

	err := retry.Do(ctx, newBackoff(delays), func(ctx context.Context) error {
		tries++

		var err error
		price, err = attempt(ctx)
		if err == nil {
			return nil
		}

		if IsRetryable(err) {
			slog.Warn(
				"retryable price fetch error",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.String("ticker", ticker),
				slog.Int("attempt", tries),
				slog.String("err", err.Error()),
			)
			return retry.RetryableError(err)
		}

		return err
	})
	if err != nil {
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) && ctx.Err() != nil {
			return model.PriceData{}, &FetchError{Ticker: ticker, Code: CodeOf(ctx.Err()), Message: "stopped waiting for retry", Err: err}
		}
		return model.PriceData{}, err
	}

	return price, nil
}

func newBackoff(delays []time.Duration) retry.Backoff {
	i := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		if i >= len(delays) {
			return 0, true
		}
		d := delays[i]
		i++
		return d, false
	})
}
