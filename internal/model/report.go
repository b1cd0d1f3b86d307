package model

import "time"

// PortfolioReport is everything the exported report shows.
// ValueGaps holds the amount to buy (negative: sell) per category.
type PortfolioReport struct {
	Name        string
	GeneratedAt time.Time
	Portfolio   Portfolio
	Metrics     PortfolioMetrics
	Rebalancing RebalancingStatus
	ValueGaps   map[string]float64
	Errors      []PriceError
}

// PortfolioOverview is a metrics snapshot with the fetch problems of its tickers.
type PortfolioOverview struct {
	Name    string
	Metrics PortfolioMetrics
	Errors  []PriceError
	State   PriceFetchState
}
