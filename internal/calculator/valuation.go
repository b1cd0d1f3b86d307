package calculator

import "github.com/KotFed0t/etf_portfolio_tracker/internal/model"

// ComputeCurrentValue sums quantity * price. Tickers without a price are skipped.
func ComputeCurrentValue(holdings map[string]model.Holding, prices map[string]model.PriceData) float64 {
	var total float64
	for ticker, holding := range holdings {
		price, ok := prices[ticker]
		if !ok {
			continue
		}
		total += holding.Quantity * price.Price
	}
	return total
}

// ComputeProfitLoss returns false when the aggregate cost is zero or negative.
// The cost includes tickers that have no price, so missing prices show up as a loss.
func ComputeProfitLoss(holdings map[string]model.Holding, prices map[string]model.PriceData) (model.ProfitLoss, bool) {
	currentValue := ComputeCurrentValue(holdings, prices)

	var totalCost float64
	for _, holding := range holdings {
		totalCost += holding.TotalCost
	}

	if totalCost <= 0 {
		return model.ProfitLoss{}, false
	}

	profitLoss := currentValue - totalCost
	return model.ProfitLoss{
		ProfitLoss:        profitLoss,
		ProfitLossPercent: profitLoss / totalCost * 100,
	}, true
}

// ComputePositionProfitLoss is the single position variant of ComputeProfitLoss.
// It returns false when price is nil or the position cost is zero or negative.
func ComputePositionProfitLoss(ticker string, holding model.Holding, price *model.PriceData) (model.ProfitLoss, bool) {
	if price == nil || holding.TotalCost <= 0 {
		return model.ProfitLoss{}, false
	}

	profitLoss := holding.Quantity*price.Price - holding.TotalCost
	return model.ProfitLoss{
		ProfitLoss:        profitLoss,
		ProfitLossPercent: profitLoss / holding.TotalCost * 100,
	}, true
}
