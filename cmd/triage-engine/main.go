package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/triagestack/triage-engine/internal/agent"
	"github.com/triagestack/triage-engine/internal/api"
	"github.com/triagestack/triage-engine/internal/cache"
	"github.com/triagestack/triage-engine/internal/config"
	"github.com/triagestack/triage-engine/internal/dedup"
	"github.com/triagestack/triage-engine/internal/enrich"
	"github.com/triagestack/triage-engine/internal/gitx"
	"github.com/triagestack/triage-engine/internal/graph"
	"github.com/triagestack/triage-engine/internal/metrics"
	"github.com/triagestack/triage-engine/internal/prompt"
	"github.com/triagestack/triage-engine/internal/repo"
	"github.com/triagestack/triage-engine/internal/runctx"
	"github.com/triagestack/triage-engine/internal/services"
	"github.com/triagestack/triage-engine/internal/store"
	"github.com/triagestack/triage-engine/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting triage-engine", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewRedisProvider(cache.RedisConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
		})
		if err != nil {
			logger.Warn("cache unavailable, continuing without it", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}

	db, err := store.Open(cfg.Database)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close(db)

	appConfigs := store.NewAppConfigStore(db)
	runs := store.NewRunStore(db)
	feedback := store.NewFeedbackStore(db)

	embedder := repo.NewEmbeddingClient(
		cfg.Clients.Embedding.BaseURL,
		cfg.Clients.Embedding.APIKey,
		cfg.Clients.Embedding.Timeout,
	)
	vectorStore := repo.NewWeaviateVectorStore(cfg.Vector.Endpoint, cfg.Vector.APIKey, cfg.Vector.Timeout)
	gate := dedup.NewGate(embedder, vectorStore, logger)

	logSearch := repo.NewLogSearchClient(
		cfg.Clients.LogSearch.BaseURL,
		cfg.Clients.LogSearch.APIKey,
		cfg.Clients.LogSearch.Timeout,
		cacheProvider,
		cfg.Cache.QueryTTL,
	)
	tracker := repo.NewIssueTrackerClient(
		cfg.Clients.Tracker.BaseURL,
		cfg.Clients.Tracker.APIKey,
		cfg.Clients.Tracker.Timeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checkouts, err := gitx.NewManager(ctx, cfg.Checkout.RootDir, cfg.Checkout.FetchTimeout, cfg.Checkout.CommitDepth, logger)
	if err != nil {
		logger.Error("failed to initialise checkout cache", slog.Any("error", err))
		os.Exit(1)
	}

	ticketPattern, err := regexp.Compile(cfg.Clients.Tracker.TicketPattern)
	if err != nil {
		logger.Error("invalid ticket pattern",
			slog.String("pattern", cfg.Clients.Tracker.TicketPattern), slog.Any("error", err))
		os.Exit(1)
	}

	graphBuilder := graph.NewBuilder()
	orchestrator := enrich.NewOrchestrator(
		logger,
		enrich.GitCheckouts{Manager: checkouts},
		tracker,
		logSearch,
		graphBuilder,
		utils.RedactLine,
		ticketPattern,
		enrich.DefaultRetryPolicy(),
		cfg.Clients.LogSearch.Timeout,
	)

	assembler := prompt.NewAssembler(cfg.Prompt)
	executor := agent.NewExecutor(logger, agent.NewAnthropicClient(cfg.Agent.APIKey), cfg.Agent)

	pool := services.NewPool(ctx, logger, cfg.Workers.PoolSize, cfg.Workers.QueueSize)
	defer pool.Shutdown()

	triage := services.NewTriageService(
		logger,
		appConfigs,
		runs,
		feedback,
		gate,
		orchestrator,
		assembler,
		executor,
		services.NewLogNotifier(logger),
		pool,
		runctx.NewCache(),
		logSearch,
		tracker,
		graphBuilder,
	)

	handler := api.NewHandler(logger, triage, appConfigs)
	server := api.NewServer(logger, cfg.Server, api.NewRouter(handler))

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("http server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("triage-engine stopped")
}
