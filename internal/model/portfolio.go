package model

import "time"

// Portfolio is the user supplied definition of holdings and target weights.
// Keys of Etfs are tickers exactly as the user wrote them.
type Portfolio struct {
	Name             string
	TargetAllocation map[string]float64
	Etfs             map[string]ETF
}

type ETF struct {
	Ticker       string
	Name         string
	AssetClasses []AssetClass
	Transactions []Transaction
}

// AssetClass attributes Percentage of the ETF value to Category.
type AssetClass struct {
	Name       string
	Category   string
	Percentage float64
}

// Transaction quantity is signed: positive for a buy, negative for a sell.
type Transaction struct {
	Date     time.Time
	Quantity float64
	Price    float64
}

// Tickers returns the portfolio tickers in no particular order.
func (p Portfolio) Tickers() []string {
	tickers := make([]string, 0, len(p.Etfs))
	for ticker := range p.Etfs {
		tickers = append(tickers, ticker)
	}
	return tickers
}
