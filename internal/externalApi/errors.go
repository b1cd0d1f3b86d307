package externalApi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	CodeInvalidTicker   ErrorCode = "INVALID_TICKER"
	CodeMissingApiKey   ErrorCode = "MISSING_API_KEY"
	CodeHTTPError       ErrorCode = "HTTP_ERROR"
	CodeInvalidSymbol   ErrorCode = "INVALID_SYMBOL"
	CodeNoData          ErrorCode = "NO_DATA"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeNetworkError    ErrorCode = "NETWORK_ERROR"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeInvalidResponse ErrorCode = "INVALID_RESPONSE"
	CodeApiError        ErrorCode = "API_ERROR"
	CodeCancelled       ErrorCode = "CANCELLED"
	CodeUnknown         ErrorCode = "UNKNOWN"

	// CodeCacheFallback is never returned by a fetcher, it marks a price served
	// from the cache after a failed fetch.
	CodeCacheFallback ErrorCode = "CACHE_FALLBACK"
)

// FetchError is the only error type returned by price fetchers.
type FetchError struct {
	Ticker     string
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Ticker, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of a FetchError in the chain of err.
// Context errors map to CANCELLED and TIMEOUT, anything else to UNKNOWN.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Code
	}

	switch {
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeUnknown
	}
}

// IsRetryable reports whether repeating the same request may succeed.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeNetworkError, CodeTimeout, CodeRateLimited:
		return true
	case CodeHTTPError:
		var fetchErr *FetchError
		return errors.As(err, &fetchErr) && fetchErr.HTTPStatus >= http.StatusInternalServerError
	default:
		return false
	}
}

// Message is a short human readable description of a fetch failure code.
func Message(code ErrorCode) string {
	switch code {
	case CodeInvalidTicker:
		return "invalid ticker"
	case CodeMissingApiKey:
		return "price API key is missing or rejected"
	case CodeHTTPError:
		return "price API is unavailable"
	case CodeInvalidSymbol:
		return "ticker not found"
	case CodeNoData:
		return "no price data"
	case CodeTimeout:
		return "request timed out"
	case CodeNetworkError:
		return "network error"
	case CodeRateLimited:
		return "API rate limit exceeded"
	case CodeInvalidResponse:
		return "unexpected API response"
	case CodeApiError:
		return "price API error"
	case CodeCancelled:
		return "request cancelled"
	default:
		return "unknown error"
	}
}
