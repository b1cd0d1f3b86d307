package externalApi

import (
	"context"
	"testing"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedFetcher struct {
	errs  []error
	calls int
}

func (f *scriptedFetcher) attempt(ticker string) AttemptFunc {
	return func(context.Context) (model.PriceData, error) {
		return f.GetPrice(ticker)
	}
}

func (f *scriptedFetcher) GetPrice(ticker string) (model.PriceData, error) {
	f.calls++
	if f.calls <= len(f.errs) {
		return model.PriceData{}, f.errs[f.calls-1]
	}
	return model.PriceData{Ticker: ticker, Price: 100, Currency: "USD", Source: model.PriceSourceAPI}, nil
}

var shortDelays = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}

func TestRetry_RetriesRetryable(t *testing.T) {
	fetcher := &scriptedFetcher{errs: []error{
		&FetchError{Ticker: "VTI", Code: CodeNetworkError},
		&FetchError{Ticker: "VTI", Code: CodeHTTPError, HTTPStatus: 503},
	}}

	price, err := Retry(context.Background(), "VTI", shortDelays, fetcher.attempt("VTI"))
	require.NoError(t, err)
	assert.Equal(t, 100.0, price.Price)
	assert.Equal(t, 3, fetcher.calls)
}

func TestRetry_StopsOnNonRetryable(t *testing.T) {
	fetcher := &scriptedFetcher{errs: []error{
		&FetchError{Ticker: "XXX", Code: CodeInvalidSymbol},
	}}

	_, err := Retry(context.Background(), "XXX", shortDelays, fetcher.attempt("XXX"))
	assert.Equal(t, CodeInvalidSymbol, CodeOf(err))
	assert.Equal(t, 1, fetcher.calls)
}

func TestRetry_GivesUpAfterDelays(t *testing.T) {
	timeout := &FetchError{Ticker: "VTI", Code: CodeTimeout}
	fetcher := &scriptedFetcher{errs: []error{timeout, timeout, timeout, timeout, timeout}}

	_, err := Retry(context.Background(), "VTI", shortDelays, fetcher.attempt("VTI"))
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.Equal(t, 4, fetcher.calls)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	fetcher := &scriptedFetcher{errs: []error{&FetchError{Ticker: "VTI", Code: CodeRateLimited}}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Retry(ctx, "VTI", []time.Duration{time.Hour}, fetcher.attempt("VTI"))
	assert.Equal(t, CodeTimeout, CodeOf(err))
	assert.Equal(t, 1, fetcher.calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "network", err: &FetchError{Code: CodeNetworkError}, want: true},
		{name: "timeout", err: &FetchError{Code: CodeTimeout}, want: true},
		{name: "rate limited", err: &FetchError{Code: CodeRateLimited}, want: true},
		{name: "server error", err: &FetchError{Code: CodeHTTPError, HTTPStatus: 502}, want: true},
		{name: "client error", err: &FetchError{Code: CodeHTTPError, HTTPStatus: 404}, want: false},
		{name: "invalid symbol", err: &FetchError{Code: CodeInvalidSymbol}, want: false},
		{name: "missing key", err: &FetchError{Code: CodeMissingApiKey}, want: false},
		{name: "invalid response", err: &FetchError{Code: CodeInvalidResponse}, want: false},
		{name: "invalid ticker", err: &FetchError{Code: CodeInvalidTicker}, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.Equal(t, CodeCancelled, CodeOf(context.Canceled))
	assert.Equal(t, CodeTimeout, CodeOf(context.DeadlineExceeded))
	assert.Equal(t, CodeUnknown, CodeOf(assert.AnError))
}
