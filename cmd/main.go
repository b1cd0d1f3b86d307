package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KotFed0t/etf_portfolio_tracker/config"
	"github.com/KotFed0t/etf_portfolio_tracker/data"
	"github.com/KotFed0t/etf_portfolio_tracker/data/cache"
	"github.com/KotFed0t/etf_portfolio_tracker/data/session"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/externalApi/cloudStorageApi/googleDriveApi"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/externalApi/twelveDataApi"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/reportGenerator/xslsxGenerator"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/requestQueue"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/scheduler"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/service/portfolioService"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/service/priceService"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/tgbot"
	"github.com/KotFed0t/etf_portfolio_tracker/internal/transport/telegram"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient := data.NewRedisClient(ctx, cfg)
	defer redisClient.Close()

	redisSession := session.NewRedisSession(redisClient, cfg.SessionExpiration)

	var store cache.Store
	switch cfg.Cache.Backend {
	case config.CacheBackendPostgres:
		pgClient := data.NewPostgresClient(ctx, cfg)
		defer pgClient.Close()
		store = cache.NewPostgresStore(pgClient)
	case config.CacheBackendMemory:
		store = cache.NewMemoryStore()
	default:
		store = cache.NewRedisStore(redisClient, cfg.Cache.MaxStaleness)
	}
	slog.Info("price cache backend", slog.String("backend", cfg.Cache.Backend))

	priceCache := cache.NewPriceCache(store, cfg.Cache.MaxStaleness)

	queue := requestQueue.New(cfg.Queue.Delay)

	priceSrv := priceService.New(twelveDataApi.New(cfg), priceCache, queue, cfg.Cache.PriceTTL, cfg.API.RetryDelays)
	defer priceSrv.WaitPendingWrites()
	defer queue.Close()

	var cloudStorage portfolioService.CloudStorage
	if cfg.GoogleDrive.CredentialsFile != "" {
		driveApi, err := googleDriveApi.New(ctx, cfg)
		if err != nil {
			slog.Error("google drive disabled", slog.String("err", err.Error()))
		} else {
			cloudStorage = driveApi
		}
	}

	portfolioSrv := portfolioService.New(
		redisSession,
		priceSrv,
		xslsxGenerator.New(),
		cloudStorage,
		cfg.Telegram.OwnerChatID,
		cfg.Rebalancing.DefaultThreshold,
	)

	jobs := []scheduler.Job{
		{
			Name:             "refresh prices",
			Task:             portfolioSrv.WarmUpPrices,
			Interval:         cfg.Jobs.RefreshPricesInterval,
			StartImmediately: true,
		},
		{
			Name: "prune price cache",
			Task: func(ctx context.Context) error {
				_, err := priceSrv.PruneExpiredCache(ctx)
				return err
			},
			Crontab: cfg.Jobs.PruneCacheCrontab,
			Timeout: time.Minute,
		},
	}
	if cloudStorage != nil {
		jobs = append(jobs, scheduler.Job{
			Name:    "delete old reports",
			Task:    portfolioSrv.CleanupReports,
			Crontab: cfg.Jobs.DeleteOldReportsCrontab,
			Timeout: 5 * time.Minute,
		})
	}

	sched := scheduler.New()
	if err := sched.Register(jobs...); err != nil {
		slog.Error("failed to register jobs", slog.String("err", err.Error()))
		panic(err)
	}
	sched.Start()
	defer sched.Stop()

	tgController := telegram.NewController(cfg, portfolioSrv, priceSrv)

	tgBot := tgbot.New(cfg, tgController)
	tgBot.Start()
	defer tgBot.Stop()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	<-interrupt
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
