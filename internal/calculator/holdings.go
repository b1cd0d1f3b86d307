// Package calculator turns a portfolio definition and a price map into holdings,
// valuation, profit/loss and category allocation. Every function is pure: it
// never performs I/O and never mutates its arguments.
package calculator

import "github.com/KotFed0t/etf_portfolio_tracker/internal/model"

// ComputeHoldings folds the transaction ledger of every ETF into a Holding.
// No rounding is applied here, rounding belongs to presentation.
func ComputeHoldings(etfs map[string]model.ETF) map[string]model.Holding {
	holdings := make(map[string]model.Holding, len(etfs))

	for ticker, etf := range etfs {
		var totalQuantity, totalCost float64
		for _, tx := range etf.Transactions {
			totalQuantity += tx.Quantity
			totalCost += tx.Quantity * tx.Price
		}

		costBasis := 0.0
		if totalQuantity > 0 {
			costBasis = totalCost / totalQuantity
		}

		holdings[ticker] = model.Holding{
			Quantity:  totalQuantity,
			CostBasis: costBasis,
			TotalCost: totalCost,
		}
	}

	return holdings
}
