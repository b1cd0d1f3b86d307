package dbConverter

import (
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model/dbModel"
)

func ConvertCachedPrice(dbPrice dbModel.CachedPrice) model.CachedPrice {
	return model.CachedPrice{
		Ticker:    dbPrice.Ticker,
		Price:     dbPrice.Price,
		Currency:  dbPrice.Currency,
		Timestamp: dbPrice.CapturedAt.UTC(),
		ExpiresAt: dbPrice.ExpiresAt.UTC(),
	}
}

func ConvertCachedPriceToDB(price model.CachedPrice) dbModel.CachedPrice {
	return dbModel.CachedPrice{
		Ticker:     price.Ticker,
		Price:      price.Price,
		Currency:   price.Currency,
		CapturedAt: price.Timestamp,
		ExpiresAt:  price.ExpiresAt,
	}
}
