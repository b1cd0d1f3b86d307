package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KotFed0t/etf_portfolio_tracker/internal/converter/dbConverter"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model/dbModel"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/jmoiron/sqlx"
)

const undefinedTableCode = "42P01"

var ErrNoSchema = errors.New("error cached_prices table does not exist")

type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, ticker string) (price model.CachedPrice, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		SELECT ticker, price, currency, captured_at, expires_at
		FROM cached_prices
		WHERE ticker = $1
		`

	slog.Debug("PostgresStore.Get start", slog.String("rqID", rqID), slog.String("query", query))
	defer func() {
		if err != nil && !errors.Is(err, ErrNotFound) {
			slog.Error("PostgresStore.Get failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		}
	}()

	dbPrice := dbModel.CachedPrice{}
	err = p.db.QueryRowxContext(ctx, query, ticker).StructScan(&dbPrice)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.CachedPrice{}, ErrNotFound
		}
		return model.CachedPrice{}, mapPgErr(err)
	}

	return dbConverter.ConvertCachedPrice(dbPrice), nil
}

func (p *PostgresStore) Set(ctx context.Context, price model.CachedPrice) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `
		INSERT INTO cached_prices (ticker, price, currency, captured_at, expires_at)
		VALUES (:ticker, :price, :currency, :captured_at, :expires_at)
		ON CONFLICT (ticker) DO UPDATE SET
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			captured_at = EXCLUDED.captured_at,
			expires_at = EXCLUDED.expires_at
	`

	slog.Debug("PostgresStore.Set start", slog.String("rqID", rqID), slog.String("ticker", price.Ticker))
	defer func() {
		if err != nil {
			slog.Error("PostgresStore.Set failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		}
	}()

	_, err = p.db.NamedExecContext(ctx, query, dbConverter.ConvertCachedPriceToDB(price))
	return mapPgErr(err)
}

func (p *PostgresStore) Delete(ctx context.Context, ticker string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM cached_prices WHERE ticker = $1`, ticker)
	return mapPgErr(err)
}

func (p *PostgresStore) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM cached_prices`)
	return mapPgErr(err)
}

func (p *PostgresStore) List(ctx context.Context) (prices []model.CachedPrice, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	query := `SELECT ticker, price, currency, captured_at, expires_at FROM cached_prices ORDER BY ticker`

	slog.Debug("PostgresStore.List start", slog.String("rqID", rqID), slog.String("query", query))

	var dbPrices []dbModel.CachedPrice
	err = p.db.SelectContext(ctx, &dbPrices, query)
	if err != nil {
		slog.Error("PostgresStore.List failed", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return nil, mapPgErr(err)
	}

	prices = make([]model.CachedPrice, 0, len(dbPrices))
	for _, dbPrice := range dbPrices {
		prices = append(prices, dbConverter.ConvertCachedPrice(dbPrice))
	}

	return prices, nil
}

func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTableCode {
		return fmt.Errorf("%w: %s", ErrNoSchema, pgErr.Message)
	}
	return err
}
