package calculator

import (
	"sort"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
)

// ComputeMetrics recomputes the whole metrics snapshot from scratch.
// Holding details are sorted by ticker.
func ComputeMetrics(portfolio model.Portfolio, prices map[string]model.PriceData) model.PortfolioMetrics {
	holdings := ComputeHoldings(portfolio.Etfs)

	metrics := model.PortfolioMetrics{
		TotalValue: ComputeCurrentValue(holdings, prices),
		Allocation: ComputeAllocation(portfolio.Etfs, holdings, prices),
		Holdings:   make([]model.HoldingDetail, 0, len(holdings)),
	}

	for _, holding := range holdings {
		metrics.TotalCost += holding.TotalCost
	}

	if pl, ok := ComputeProfitLoss(holdings, prices); ok {
		metrics.TotalProfitLoss = pl.ProfitLoss
		metrics.TotalProfitLossPercent = pl.ProfitLossPercent
	} else {
		metrics.TotalProfitLoss = metrics.TotalValue - metrics.TotalCost
	}

	for ticker, holding := range holdings {
		detail := model.HoldingDetail{
			Ticker:    ticker,
			Name:      portfolio.Etfs[ticker].Name,
			Quantity:  holding.Quantity,
			CostBasis: holding.CostBasis,
			TotalCost: holding.TotalCost,
		}

		var pricePtr *model.PriceData
		if price, ok := prices[ticker]; ok {
			pricePtr = &price
			detail.HasPrice = true
			detail.CurrentPrice = price.Price
			detail.CurrentValue = holding.Quantity * price.Price
		}

		if pl, ok := ComputePositionProfitLoss(ticker, holding, pricePtr); ok {
			detail.ProfitLoss = pl.ProfitLoss
			detail.ProfitLossPercent = pl.ProfitLossPercent
		}

		metrics.Holdings = append(metrics.Holdings, detail)
	}

	sort.Slice(metrics.Holdings, func(i, j int) bool {
		return metrics.Holdings[i].Ticker < metrics.Holdings[j].Ticker
	})

	return metrics
}
