package model

import "time"

type PriceSource string

const (
	PriceSourceAPI   PriceSource = "api"
	PriceSourceCache PriceSource = "cache"
)

type PriceData struct {
	Ticker    string
	Price     float64
	Timestamp time.Time
	Currency  string
	Source    PriceSource
}

// CachedPrice is the persisted form of a price. Ticker is always upper case.
type CachedPrice struct {
	Ticker    string    `json:"ticker"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (c CachedPrice) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

type CacheStats struct {
	Total   int
	Fresh   int
	Expired int
	Oldest  *time.Time
	Newest  *time.Time
}

type PriceErrorSeverity string

const (
	SeverityWarning PriceErrorSeverity = "warning"
	SeverityError   PriceErrorSeverity = "error"
)

type PriceError struct {
	Ticker    string
	Message   string
	Code      string
	Severity  PriceErrorSeverity
	Timestamp time.Time
}

type FetchResult struct {
	Prices map[string]PriceData
	Errors map[string]PriceError
}

type QueueProgress struct {
	Total        int
	Processed    int
	QueueLength  int
	CurrentLabel string
}

type PriceFetchState struct {
	Loading   bool
	HasErrors bool
	Progress  QueueProgress
}
