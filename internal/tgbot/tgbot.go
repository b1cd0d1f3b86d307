package tgbot

import (
	"log/slog"

	"github.com/KotFed0t/etf_portfolio_tracker/config"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/model/tg/tgCallback"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/transport/telegram"
	customMW "github.com/KotFed0t/etf_portfolio_tracker/internal/transport/telegram/middleware"
	tele "gopkg.in/telebot.v4"
	"gopkg.in/telebot.v4/middleware"
)

type TGBot struct {
	bot         *tele.Bot
	ctrl        *telegram.Controller
	ownerChatID int64
}

func New(cfg *config.Config, ctrl *telegram.Controller) *TGBot {
	settings := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: cfg.Telegram.UpdTimeout},
	}

	b, err := tele.NewBot(settings)
	if err != nil {
		slog.Error("error while tele.NewBot", slog.String("err", err.Error()))
		panic(err)
	}

	return &TGBot{bot: b, ctrl: ctrl, ownerChatID: cfg.Telegram.OwnerChatID}
}

func (b *TGBot) Start() {
	b.bot.Use(middleware.Recover(), customMW.Logger(), customMW.OwnerOnly(b.ownerChatID))

	b.setupRoutes()

	if err := b.bot.SetCommands(commands()); err != nil {
		slog.Warn("failed to set bot commands", slog.String("err", err.Error()))
	}

	go b.bot.Start()
	slog.Info("tgbot started!")
}

func (b *TGBot) Stop() {
	slog.Info("start stopping tgbot")
	b.bot.Stop()
	slog.Info("tgbot stopped")
}

func (b *TGBot) setupRoutes() {
	b.bot.Handle("/start", b.ctrl.Start)
	b.bot.Handle("/help", b.ctrl.Start)
	b.bot.Handle("/metrics", b.ctrl.Metrics)
	b.bot.Handle("/rebalance", b.ctrl.Rebalance)
	b.bot.Handle("/threshold", b.ctrl.Threshold)
	b.bot.Handle("/refresh", b.ctrl.Refresh)
	b.bot.Handle("/cancel", b.ctrl.Cancel)
	b.bot.Handle("/cache", b.ctrl.Cache)
	b.bot.Handle("/report", b.ctrl.Report)

	b.bot.Handle(tele.OnDocument, b.ctrl.UploadPortfolio)
	b.bot.Handle(tele.OnText, b.ctrl.Text)

	b.bot.Handle(&tele.Btn{Unique: tgCallback.CacheClear}, b.ctrl.CacheClearCallback)
	b.bot.Handle(&tele.Btn{Unique: tgCallback.CachePrune}, b.ctrl.CachePruneCallback)
	b.bot.Handle(&tele.Btn{Unique: tgCallback.CacheRefresh}, b.ctrl.CacheRefreshCallback)
	b.bot.Handle(&tele.Btn{Unique: tgCallback.CancelFetch}, b.ctrl.CancelCallback)
}

func commands() []tele.Command {
	return []tele.Command{
		{Text: "metrics", Description: "стоимость и P&L портфеля"},
		{Text: "rebalance", Description: "отклонения от целевых весов"},
		{Text: "threshold", Description: "порог ребалансировки, п.п."},
		{Text: "refresh", Description: "обновить цены"},
		{Text: "cancel", Description: "отменить запросы в очереди"},
		{Text: "cache", Description: "кэш цен"},
		{Text: "report", Description: "отчет в xlsx"},
		{Text: "help", Description: "справка"},
	}
}
