package yamlConverter

import (
	"fmt"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model/yamlModel"
)

const DateLayout = "2006-01-02"

// ConvertPortfolio expects an already validated portfolio.
func ConvertPortfolio(raw yamlModel.Portfolio) (model.Portfolio, error) {
	portfolio := model.Portfolio{
		Name:             raw.Name,
		TargetAllocation: make(map[string]float64, len(raw.TargetAllocation)),
		Etfs:             make(map[string]model.ETF, len(raw.Etfs)),
	}

	for category, pct := range raw.TargetAllocation {
		portfolio.TargetAllocation[category] = pct
	}

	for ticker, rawEtf := range raw.Etfs {
		etf, err := ConvertETF(ticker, rawEtf)
		if err != nil {
			return model.Portfolio{}, err
		}
		portfolio.Etfs[ticker] = etf
	}

	return portfolio, nil
}

func ConvertETF(ticker string, raw yamlModel.ETF) (model.ETF, error) {
	etf := model.ETF{
		Ticker:       ticker,
		Name:         raw.Name,
		AssetClasses: make([]model.AssetClass, 0, len(raw.AssetClasses)),
		Transactions: make([]model.Transaction, 0, len(raw.Transactions)),
	}
	if etf.Name == "" {
		etf.Name = ticker
	}

	for _, ac := range raw.AssetClasses {
		etf.AssetClasses = append(etf.AssetClasses, model.AssetClass{
			Name:       ac.Name,
			Category:   ac.Category,
			Percentage: ac.Percentage,
		})
	}

	for i, tx := range raw.Transactions {
		date, err := time.Parse(DateLayout, tx.Date)
		if err != nil {
			return model.ETF{}, fmt.Errorf("etf %s transaction %d: %w", ticker, i+1, err)
		}
		etf.Transactions = append(etf.Transactions, model.Transaction{
			Date:     date,
			Quantity: tx.Quantity,
			Price:    tx.Price,
		})
	}

	return etf, nil
}
