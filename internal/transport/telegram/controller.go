package telegram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/config"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/converter/telebotConverter"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/parser/portfolioParser"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/requestQueue"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/service"
	"github.com/KotFed0t/etf_portfolio_tracker/utils"
	tele "gopkg.in/telebot.v4"
)

const (
	internalErrMsg       = "что-то пошло не так..."
	noPortfolioMsg       = "Портфель не загружен. Пришлите YAML файл с портфелем."
	progressEditInterval = time.Second
)

type PortfolioService interface {
	LoadPortfolio(ctx context.Context, chatID int64, raw []byte) (model.Portfolio, model.FetchResult, error)
	GetOverview(ctx context.Context, chatID int64) (model.PortfolioOverview, error)
	GetRebalancingStatus(ctx context.Context, chatID int64) (model.RebalancingStatus, error)
	SetThreshold(ctx context.Context, chatID int64, threshold float64) (float64, error)
	RefreshPrices(ctx context.Context, chatID int64) (model.FetchResult, error)
	GenerateReport(ctx context.Context, chatID int64) (fileBytes []byte, filename string, downloadLink string, err error)
}

type PriceService interface {
	CancelFetch()
	OnProgress(listener requestQueue.ProgressListener) (unsubscribe func())
	CacheStats(ctx context.Context) model.CacheStats
	CachedTickers(ctx context.Context) []string
	ClearCache(ctx context.Context) error
	PruneExpiredCache(ctx context.Context) (int, error)
}

type Controller struct {
	portfolioService PortfolioService
	priceService     PriceService
	fileLimitInBytes int
}

func NewController(cfg *config.Config, portfolioService PortfolioService, priceService PriceService) *Controller {
	return &Controller{
		portfolioService: portfolioService,
		priceService:     priceService,
		fileLimitInBytes: cfg.Telegram.FileLimitInBytes,
	}
}

func (ctrl *Controller) Start(c tele.Context) error {
	return c.Send(telebotConverter.HelpResponse())
}

func (ctrl *Controller) Metrics(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	overview, err := ctrl.portfolioService.GetOverview(ctx, c.Chat().ID)
	if err != nil {
		if errors.Is(err, service.ErrPortfolioNotLoaded) {
			return c.Send(noPortfolioMsg)
		}
		slog.Error("got error from portfolioService.GetOverview", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send(telebotConverter.OverviewResponse(overview))
}

func (ctrl *Controller) Rebalance(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	status, err := ctrl.portfolioService.GetRebalancingStatus(ctx, c.Chat().ID)
	if err != nil {
		if errors.Is(err, service.ErrPortfolioNotLoaded) {
			return c.Send(noPortfolioMsg)
		}
		slog.Error("got error from portfolioService.GetRebalancingStatus", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send(telebotConverter.RebalancingResponse(status))
}

func (ctrl *Controller) Threshold(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	payload := strings.TrimSpace(c.Message().Payload)
	if payload == "" {
		return c.Send("Укажите порог в п.п., например: /threshold 5")
	}

	// допускаем десятичную запятую: "2,5"
	threshold, err := strconv.ParseFloat(strings.ReplaceAll(payload, ",", "."), 64)
	if err != nil {
		return c.Send("Порог должен быть числом, например: /threshold 2.5")
	}

	stored, err := ctrl.portfolioService.SetThreshold(ctx, c.Chat().ID, threshold)
	if err != nil {
		slog.Error("got error from portfolioService.SetThreshold", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send(telebotConverter.ThresholdResponse(stored))
}

func (ctrl *Controller) Refresh(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	stop := ctrl.trackProgress(ctx, c)

	res, err := ctrl.portfolioService.RefreshPrices(ctx, c.Chat().ID)
	if err != nil {
		if errors.Is(err, service.ErrPortfolioNotLoaded) {
			return stop(noPortfolioMsg)
		}
		slog.Error("got error from portfolioService.RefreshPrices", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return stop(internalErrMsg)
	}

	return stop(telebotConverter.RefreshResponse(res))
}

func (ctrl *Controller) Cancel(c tele.Context) error {
	ctrl.priceService.CancelFetch()
	return c.Send("⛔ Запросы в очереди отменены")
}

func (ctrl *Controller) CancelCallback(c tele.Context) error {
	ctrl.priceService.CancelFetch()
	return c.Respond(&tele.CallbackResponse{Text: "Запросы в очереди отменены"})
}

func (ctrl *Controller) Cache(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	text, markup := telebotConverter.CacheStatsResponse(ctrl.priceService.CacheStats(ctx), ctrl.priceService.CachedTickers(ctx))
	return c.Send(text, markup)
}

func (ctrl *Controller) CacheClearCallback(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)

	if err := ctrl.priceService.ClearCache(ctx); err != nil {
		return c.Respond(&tele.CallbackResponse{Text: internalErrMsg})
	}

	_ = c.Respond(&tele.CallbackResponse{Text: "Кэш очищен"})
	return ctrl.editCacheStats(ctx, c)
}

func (ctrl *Controller) CachePruneCallback(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)

	pruned, err := ctrl.priceService.PruneExpiredCache(ctx)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: internalErrMsg})
	}

	_ = c.Respond(&tele.CallbackResponse{Text: "Удалено просроченных: " + strconv.Itoa(pruned)})
	return ctrl.editCacheStats(ctx, c)
}

func (ctrl *Controller) CacheRefreshCallback(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	_ = c.Respond()
	return ctrl.editCacheStats(ctx, c)
}

func (ctrl *Controller) editCacheStats(ctx context.Context, c tele.Context) error {
	text, markup := telebotConverter.CacheStatsResponse(ctrl.priceService.CacheStats(ctx), ctrl.priceService.CachedTickers(ctx))
	err := c.Edit(text, markup)
	if errors.Is(err, tele.ErrSameMessageContent) {
		return nil
	}
	return err
}

func (ctrl *Controller) Report(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	fileBytes, filename, downloadLink, err := ctrl.portfolioService.GenerateReport(ctx, c.Chat().ID)
	if err != nil {
		if errors.Is(err, service.ErrPortfolioNotLoaded) {
			return c.Send(noPortfolioMsg)
		}
		slog.Error("got error from portfolioService.GenerateReport", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	doc := &tele.Document{
		File:     tele.FromReader(bytes.NewReader(fileBytes)),
		FileName: filename,
		Caption:  telebotConverter.ReportCaption(downloadLink),
	}

	return c.Send(doc)
}

// UploadPortfolio принимает YAML документ и заменяет им текущий портфель.
func (ctrl *Controller) UploadPortfolio(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	doc := c.Message().Document
	if doc == nil {
		return c.Send(noPortfolioMsg)
	}

	ext := strings.ToLower(filepath.Ext(doc.FileName))
	if ext != ".yaml" && ext != ".yml" {
		return c.Send("Нужен файл с расширением .yaml или .yml")
	}

	if doc.FileSize > int64(ctrl.fileLimitInBytes) {
		return c.Send("Файл слишком большой")
	}

	raw, err := ctrl.download(c, &doc.File)
	if err != nil {
		slog.Error("failed to download portfolio file", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}
	if len(raw) > ctrl.fileLimitInBytes {
		return c.Send("Файл слишком большой")
	}

	stop := ctrl.trackProgress(ctx, c)

	portfolio, res, err := ctrl.portfolioService.LoadPortfolio(ctx, c.Chat().ID, raw)
	if err != nil {
		var validationErr *portfolioParser.ValidationError
		if errors.As(err, &validationErr) {
			return stop(telebotConverter.ValidationErrorResponse(validationErr.Issues))
		}
		slog.Error("got error from portfolioService.LoadPortfolio", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return stop(internalErrMsg)
	}

	return stop(telebotConverter.LoadedResponse(portfolio, res))
}

func (ctrl *Controller) download(c tele.Context, file *tele.File) ([]byte, error) {
	reader, err := c.Bot().File(file)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(io.LimitReader(reader, int64(ctrl.fileLimitInBytes)+1))
}

func (ctrl *Controller) Text(c tele.Context) error {
	return c.Send("Не понимаю. " + telebotConverter.HelpResponse())
}

// trackProgress shows queue progress in a single message edited at most once
// per progressEditInterval. stop replaces the message with the final text.
func (ctrl *Controller) trackProgress(ctx context.Context, c tele.Context) (stop func(final string) error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	msg, err := c.Bot().Send(c.Chat(), "⏳ Загрузка цен...", telebotConverter.CancelMarkup())
	if err != nil {
		slog.Error("failed to send progress message", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return func(final string) error { return c.Send(final) }
	}

	updates := make(chan model.QueueProgress, 1)
	unsubscribe := ctrl.priceService.OnProgress(func(p model.QueueProgress) {
		// храним только последнее состояние
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- p:
		default:
		}
	})

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		ticker := time.NewTicker(progressEditInterval)
		defer ticker.Stop()

		var last string
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			select {
			case p := <-updates:
				text := telebotConverter.ProgressResponse(p)
				if text == last {
					continue
				}
				if _, err := c.Bot().Edit(msg, text, telebotConverter.CancelMarkup()); err != nil {
					slog.Warn("failed to edit progress message", slog.String("rqID", rqID), slog.String("err", err.Error()))
				}
				last = text
			default:
			}
		}
	}()

	return func(final string) error {
		unsubscribe()
		close(done)
		wg.Wait()

		if _, err := c.Bot().Edit(msg, final); err != nil {
			slog.Warn("failed to edit progress message", slog.String("rqID", rqID), slog.String("err", err.Error()))
			return c.Send(final)
		}
		return nil
	}
}
