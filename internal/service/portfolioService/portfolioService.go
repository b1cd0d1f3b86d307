package portfolioService

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/data/cache"
	"github.com/KotFed0t/etf_portfolio_tracker/data/session"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/calculator"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/parser/portfolioParser"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/rebalancing"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/service"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/service/priceService"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
)

type PriceService interface {
	FetchMany(ctx context.Context, tickers []string, opts ...priceService.FetchOption) (model.FetchResult, error)
	Prices() map[string]model.PriceData
	Errors() map[string]model.PriceError
	State() model.PriceFetchState
}

type Session interface {
	GetSession(ctx context.Context, chatID int64) (model.Session, error)
	SetSession(ctx context.Context, chatID int64, sess model.Session) error
}

type ReportGenerator interface {
	Generate(ctx context.Context, report model.PortfolioReport) (fileBytes []byte, fileExtension string, err error)
}

type CloudStorage interface {
	UploadFile(ctx context.Context, reader io.Reader, filename string) (downloadLink string, err error)
	DeleteOldFiles(ctx context.Context) error
}

// PortfolioService glues the stored portfolio, the price service and the pure
// engines together. Metrics are recomputed on every call.
type PortfolioService struct {
	sessions         Session
	prices           PriceService
	reportGenerator  ReportGenerator
	cloudStorage     CloudStorage
	ownerChatID      int64
	defaultThreshold float64
	now              func() time.Time
}

// New accepts a nil cloudStorage, reports are then only sent as files.
func New(
	sessions Session,
	prices PriceService,
	reportGenerator ReportGenerator,
	cloudStorage CloudStorage,
	ownerChatID int64,
	defaultThreshold float64,
) *PortfolioService {
	return &PortfolioService{
		sessions:         sessions,
		prices:           prices,
		reportGenerator:  reportGenerator,
		cloudStorage:     cloudStorage,
		ownerChatID:      ownerChatID,
		defaultThreshold: rebalancing.ClampThreshold(defaultThreshold),
		now:              time.Now,
	}
}

// LoadPortfolio validates raw YAML, replaces the stored portfolio and fetches
// prices of its tickers. The threshold chosen earlier is kept.
func (s *PortfolioService) LoadPortfolio(ctx context.Context, chatID int64, raw []byte) (model.Portfolio, model.FetchResult, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.LoadPortfolio"

	slog.Debug("LoadPortfolio start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID), slog.Int("size", len(raw)))
	defer func() {
		slog.Debug("LoadPortfolio finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	}()

	portfolio, err := portfolioParser.Parse(raw)
	if err != nil {
		slog.Info("portfolio rejected", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Portfolio{}, model.FetchResult{}, err
	}

	sess, err := s.getSession(ctx, chatID)
	if err != nil {
		return model.Portfolio{}, model.FetchResult{}, err
	}

	sess.Portfolio = &portfolio
	err = s.sessions.SetSession(ctx, chatID, sess)
	if err != nil {
		slog.Error("got error from sessions.SetSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.Portfolio{}, model.FetchResult{}, err
	}

	res, err := s.prices.FetchMany(ctx, portfolio.Tickers())
	if err != nil {
		slog.Warn("price fetch interrupted", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return portfolio, res, err
	}

	return portfolio, res, nil
}

func (s *PortfolioService) GetPortfolio(ctx context.Context, chatID int64) (model.Portfolio, error) {
	sess, err := s.getSession(ctx, chatID)
	if err != nil {
		return model.Portfolio{}, err
	}

	if sess.Portfolio == nil {
		return model.Portfolio{}, service.ErrPortfolioNotLoaded
	}

	return *sess.Portfolio, nil
}

func (s *PortfolioService) GetOverview(ctx context.Context, chatID int64) (model.PortfolioOverview, error) {
	portfolio, err := s.GetPortfolio(ctx, chatID)
	if err != nil {
		return model.PortfolioOverview{}, err
	}

	prices, priceErrors := s.pricesFor(portfolio)

	return model.PortfolioOverview{
		Name:    portfolio.Name,
		Metrics: calculator.ComputeMetrics(portfolio, prices),
		Errors:  priceErrors,
		State:   s.prices.State(),
	}, nil
}

func (s *PortfolioService) GetMetrics(ctx context.Context, chatID int64) (model.PortfolioMetrics, error) {
	overview, err := s.GetOverview(ctx, chatID)
	if err != nil {
		return model.PortfolioMetrics{}, err
	}
	return overview.Metrics, nil
}

func (s *PortfolioService) GetRebalancingStatus(ctx context.Context, chatID int64) (model.RebalancingStatus, error) {
	sess, err := s.getSession(ctx, chatID)
	if err != nil {
		return model.RebalancingStatus{}, err
	}
	if sess.Portfolio == nil {
		return model.RebalancingStatus{}, service.ErrPortfolioNotLoaded
	}

	prices, _ := s.pricesFor(*sess.Portfolio)
	metrics := calculator.ComputeMetrics(*sess.Portfolio, prices)

	return rebalancing.ComputeRebalancingStatus(metrics.Allocation, sess.Portfolio.TargetAllocation, sess.Threshold), nil
}

// SetThreshold stores the drift threshold clamped to the allowed range and
// returns the stored value.
func (s *PortfolioService) SetThreshold(ctx context.Context, chatID int64, threshold float64) (float64, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.SetThreshold"

	sess, err := s.getSession(ctx, chatID)
	if err != nil {
		return 0, err
	}

	sess.Threshold = rebalancing.ClampThreshold(threshold)

	err = s.sessions.SetSession(ctx, chatID, sess)
	if err != nil {
		slog.Error("got error from sessions.SetSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return 0, err
	}

	return sess.Threshold, nil
}

// RefreshPrices refetches every ticker of the portfolio ignoring fresh cache entries.
func (s *PortfolioService) RefreshPrices(ctx context.Context, chatID int64) (model.FetchResult, error) {
	portfolio, err := s.GetPortfolio(ctx, chatID)
	if err != nil {
		return model.FetchResult{}, err
	}

	return s.prices.FetchMany(ctx, portfolio.Tickers(), priceService.WithBypassCache())
}

// WarmUpPrices is the periodic job: it resolves prices of the owner portfolio
// through the cache, so only expired tickers hit the API.
func (s *PortfolioService) WarmUpPrices(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.WarmUpPrices"

	portfolio, err := s.GetPortfolio(ctx, s.ownerChatID)
	if err != nil {
		if errors.Is(err, service.ErrPortfolioNotLoaded) {
			slog.Debug("no portfolio to warm up", slog.String("rqID", rqID), slog.String("op", op))
			return nil
		}
		return err
	}

	res, err := s.prices.FetchMany(ctx, portfolio.Tickers())
	if err != nil {
		return err
	}

	slog.Info("prices warmed up", slog.String("rqID", rqID), slog.String("op", op), slog.Int("prices", len(res.Prices)), slog.Int("errors", len(res.Errors)))

	return nil
}

// GenerateReport builds the xlsx report. downloadLink is empty when cloud
// storage is not configured or the upload failed.
func (s *PortfolioService) GenerateReport(ctx context.Context, chatID int64) (fileBytes []byte, filename string, downloadLink string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.GenerateReport"

	slog.Debug("GenerateReport start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	defer func() {
		slog.Debug("GenerateReport finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("chatID", chatID))
	}()

	sess, err := s.getSession(ctx, chatID)
	if err != nil {
		return nil, "", "", err
	}
	if sess.Portfolio == nil {
		return nil, "", "", service.ErrPortfolioNotLoaded
	}

	portfolio := *sess.Portfolio
	prices, priceErrors := s.pricesFor(portfolio)
	metrics := calculator.ComputeMetrics(portfolio, prices)
	status := rebalancing.ComputeRebalancingStatus(metrics.Allocation, portfolio.TargetAllocation, sess.Threshold)
	now := s.now()

	report := model.PortfolioReport{
		Name:        portfolio.Name,
		GeneratedAt: now,
		Portfolio:   portfolio,
		Metrics:     metrics,
		Rebalancing: status,
		ValueGaps:   rebalancing.ComputeValueGaps(status.Drifts, metrics.TotalValue),
		Errors:      priceErrors,
	}

	fileBytes, ext, err := s.reportGenerator.Generate(ctx, report)
	if err != nil {
		slog.Error("got error from reportGenerator.Generate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", "", err
	}

	filename = fmt.Sprintf("portfolio_%s%s", now.Format("2006-01-02_15-04-05"), ext)

	if s.cloudStorage == nil {
		return fileBytes, filename, "", nil
	}

	downloadLink, err = s.cloudStorage.UploadFile(ctx, bytes.NewReader(fileBytes), filename)
	if err != nil {
		slog.Error("got error from cloudStorage.UploadFile", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return fileBytes, filename, "", nil
	}

	return fileBytes, filename, downloadLink, nil
}

// CleanupReports removes expired reports from cloud storage.
func (s *PortfolioService) CleanupReports(ctx context.Context) error {
	if s.cloudStorage == nil {
		return service.ErrCloudStorageDisabled
	}
	return s.cloudStorage.DeleteOldFiles(ctx)
}

func (s *PortfolioService) getSession(ctx context.Context, chatID int64) (model.Session, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.getSession"

	sess, err := s.sessions.GetSession(ctx, chatID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			slog.Error("got error from sessions.GetSession", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			return model.Session{}, err
		}
		sess = model.Session{}
	}

	if sess.Threshold == 0 {
		sess.Threshold = s.defaultThreshold
	}

	return sess, nil
}

// pricesFor maps the service wide prices, keyed by upper case ticker, back to
// the tickers as written in the portfolio.
func (s *PortfolioService) pricesFor(portfolio model.Portfolio) (map[string]model.PriceData, []model.PriceError) {
	allPrices := s.prices.Prices()
	allErrors := s.prices.Errors()

	prices := make(map[string]model.PriceData, len(portfolio.Etfs))
	priceErrors := make(map[string]model.PriceError)
	for ticker := range portfolio.Etfs {
		key := cache.NormalizeTicker(ticker)
		if price, ok := allPrices[key]; ok {
			prices[ticker] = price
		}
		if priceErr, ok := allErrors[key]; ok {
			priceErrors[key] = priceErr
		}
	}

	return prices, priceService.SortedErrors(priceErrors)
}
