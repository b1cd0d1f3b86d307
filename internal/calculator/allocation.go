package calculator

import "github.com/KotFed0t/etf_portfolio_tracker/internal/model"

// ComputeAllocation distributes the value of every long position over its
// asset classes and returns category -> percent of total value.
//
// Asset class weights of an ETF that do not add up to 100 are not
// renormalized: the remainder is left unattributed and the result sums to
// less than 100.
func ComputeAllocation(
	etfs map[string]model.ETF,
	holdings map[string]model.Holding,
	prices map[string]model.PriceData,
) map[string]float64 {
	categoryValues := make(map[string]float64)
	var totalValue float64

	for ticker, etf := range etfs {
		holding, ok := holdings[ticker]
		if !ok {
			continue
		}
		price, ok := prices[ticker]
		if !ok {
			continue
		}

		etfValue := holding.Quantity * price.Price
		// шорт и пустые позиции в аллокацию не попадают
		if etfValue <= 0 {
			continue
		}
		totalValue += etfValue

		for _, assetClass := range etf.AssetClasses {
			categoryValues[assetClass.Category] += etfValue * (assetClass.Percentage / 100)
		}
	}

	allocation := make(map[string]float64, len(categoryValues))
	if totalValue == 0 {
		return allocation
	}

	for category, value := range categoryValues {
		allocation[category] = value / totalValue * 100
	}

	return allocation
}
