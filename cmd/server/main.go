package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "medialeech/internal/api/http"
	"medialeech/internal/app"
	"medialeech/internal/bot"
	"medialeech/internal/domain/ports"
	"medialeech/internal/metrics"
	mongorepo "medialeech/internal/repository/mongo"
	"medialeech/internal/services/dialog"
	"medialeech/internal/services/download"
	"medialeech/internal/services/fetch"
	"medialeech/internal/services/probe"
	"medialeech/internal/services/runner"
	"medialeech/internal/services/scanner"
	"medialeech/internal/services/tools"
	"medialeech/internal/services/torrent"
	"medialeech/internal/services/upload"
	"medialeech/internal/task"
	"medialeech/internal/telemetry"
	"medialeech/internal/transport/bridge"
	"medialeech/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "medialeech")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("tasksRoot", cfg.TasksRoot),
		slog.String("downloadRoot", cfg.DownloadRoot),
		slog.Int("workers", cfg.Workers),
		slog.Int64("staggerSeconds", cfg.StaggerSeconds),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(otelmongo.NewMonitor()))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	users := mongorepo.NewUserRepository(mongoClient, cfg.MongoDB, cfg.DefaultPlan)
	if err := users.EnsureIndexes(ctx); err != nil {
		logger.Warn("mongo ensure indexes failed", slog.String("error", err.Error()))
	}

	var fetchCache ports.FetchCache
	if cfg.RedisAddr != "" {
		fetchCache = fetch.NewRedisCache(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		logger.Info("fetch cache: redis", slog.String("addr", cfg.RedisAddr))
	} else {
		fetchCache = fetch.NewMemoryCache()
	}

	if err := os.MkdirAll(cfg.TasksRoot, 0o755); err != nil {
		logger.Error("tasks root unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	run := runner.New(logger)
	prober := probe.New(cfg.FFProbePath, run)
	registry := task.NewRegistry()

	chat := bridge.New(logger, cfg.BridgeToken)
	dialogs := dialog.NewManager(chat, logger)
	uploader := upload.New(chat, logger)
	fetcher := &fetch.Fetcher{
		Runner: run,
		Cache:  fetchCache,
		Logger: logger,
		YTDLP:  cfg.YTDLPPath,
		FFmpeg: cfg.FFMPEGPath,
	}
	quota := &usecase.QuotaGate{
		Store:       users,
		DefaultTier: cfg.DefaultPlan,
		LimitsGB:    cfg.PlanLimitsGB,
		IsAdmin:     cfg.IsOwner,
		Logger:      logger,
	}

	var torrentClient ports.TorrentClient
	if qbt, err := torrent.NewClient(torrent.Config{
		BaseURL:  fmt.Sprintf("http://%s:%d", cfg.QBHost, cfg.QBPort),
		Username: cfg.QBUser,
		Password: cfg.QBPass,
	}, logger); err != nil {
		logger.Warn("torrent client disabled", slog.String("error", err.Error()))
	} else {
		torrentClient = qbt
	}

	var ownerID int64
	if len(cfg.OwnerIDs) > 0 {
		ownerID = cfg.OwnerIDs[0]
	}
	restarter := &usecase.Restarter{
		Registry:     registry,
		Chat:         chat,
		OwnerID:      ownerID,
		ScratchRoots: []string{cfg.TasksRoot, cfg.DownloadRoot},
		Logger:       logger,
	}
	watchdog := &usecase.Watchdog{
		Registry:     registry,
		Trigger:      func(reason string) { go restarter.Trigger(reason, 0) },
		Interval:     time.Duration(cfg.WatchdogIntervalSeconds) * time.Second,
		StartupGrace: time.Minute,
		IdleTimeout:  time.Duration(cfg.IdleTimeoutSeconds) * time.Second,
		CPUThreshold: cfg.WatchdogCPUThreshold,
		RAMThreshold: cfg.WatchdogRAMThreshold,
		Logger:       logger,
	}

	pipeline := &usecase.Pipeline{
		Registry: registry,
		Chat:     chat,
		Scanner:  &scanner.Scanner{Chat: chat, Logger: logger},
		Pool: &download.Pool{
			Stagger: time.Duration(cfg.StaggerSeconds) * time.Second,
			Logger:  logger,
		},
		Tools: &tools.Service{
			Runner: run,
			Prober: prober,
			Logger: logger,
			FFmpeg: cfg.FFMPEGPath,
		},
		Prober:         prober,
		Fetcher:        fetcher,
		Uploader:       uploader,
		Dialogs:        dialogs,
		Quota:          quota,
		Store:          users,
		Torrent:        torrentClient,
		Runner:         run,
		Logger:         logger,
		BaseURL:        cfg.BaseURL,
		TwitterAPIBase: cfg.TwitterAPIBase,
	}

	api := apihttp.NewServer(registry, logger, apihttp.WithBridge(chat))
	pipeline.OnTransition = api.NotifyTasks

	router := &bot.Router{
		Cfg:       cfg,
		Chat:      chat,
		Registry:  registry,
		Pipeline:  pipeline,
		Dialogs:   dialogs,
		Quota:     quota,
		Store:     users,
		Restarter: restarter,
		Watchdog:  watchdog,
		Logger:    logger,
	}

	go watchdog.Run(rootCtx)
	go api.Watch(rootCtx)
	go router.Run(rootCtx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	registry.CancelAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	api.Close()
	chat.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(strings.TrimSpace(formatRaw)) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
