package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"storefront-pipeline/pipeline/internal/adapters"
	"storefront-pipeline/pipeline/internal/processor"
	"storefront-pipeline/pipeline/internal/repos"
	"storefront-pipeline/shared/cachex"
	"storefront-pipeline/shared/clients/recs"
	"storefront-pipeline/shared/config"
	"storefront-pipeline/shared/dbx"
	"storefront-pipeline/shared/httpx"
	"storefront-pipeline/shared/influxx"
	"storefront-pipeline/shared/lockx"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/metricsx"
	"storefront-pipeline/shared/mqx"
	"storefront-pipeline/shared/observability"
	"storefront-pipeline/shared/queuex"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, problems := config.Load("pipeline-processor", 8090)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	metricsx.Register()
	if cfg.OtelEnabled {
		shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfigFrom(cfg))
		if err != nil {
			logger.Warn(context.Background(), "tracer_init_failed", "tracing disabled",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("error", err.Error()),
			)
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	store, err := queuex.NewRedisStore(cfg)
	if err != nil {
		fatal(logger, "redis_init_failed", "redis init failed", err)
	}
	defer store.Close()

	initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
	dbPool, err := dbx.NewPool(initCtx, cfg)
	if err != nil {
		cancelInit()
		fatal(logger, "db_init_failed", "db init failed", err)
	}
	defer dbPool.Close()
	if err := repos.EnsureSchema(initCtx, dbPool); err != nil {
		cancelInit()
		fatal(logger, "schema_init_failed", "schema bootstrap failed", err)
	}
	cancelInit()

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		fatal(logger, "kafka_init_failed", "kafka producer init failed", err)
	}
	defer producer.Close()

	cache := cachex.NewFromClient(store.Client())

	analytics := adapters.Analytics{Store: repos.NewAnalyticsRepo(dbPool)}
	if influxx.Configured(cfg) {
		influx, err := influxx.New(cfg)
		if err != nil {
			fatal(logger, "influx_init_failed", "influx init failed", err)
		}
		defer influx.Close()
		analytics.Points = influx
	} else {
		logger.Info(context.Background(), "influx_disabled", "INFLUX_* not set; analytics go to postgres only")
	}

	recommendation := adapters.Recommendation{Cache: cache}
	if cfg.RecsServiceURL != "" {
		client, err := recs.New(cfg)
		if err != nil {
			fatal(logger, "recs_init_failed", "recommendation client init failed", err)
		}
		recommendation.Refresher = client
	}

	opts := processor.OptionsFrom(cfg, logger)
	opts.Locker = lockx.NewLocker(store.Client())
	proc, err := processor.New(store, processor.Adapters{
		Graph:     adapters.Graph{Store: repos.NewGraphRepo(dbPool), Logger: logger},
		Analytics: analytics,
		Vector: adapters.Vector{
			Publisher: producer,
			Topic:     cfg.KafkaSearchTopic,
			Marker:    cache,
			Logger:    logger,
		},
		Recommendation: recommendation,
		Profile:        adapters.Profile{Store: cache},
	}, opts)
	if err != nil {
		fatal(logger, "processor_init_failed", "processor init failed", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ok", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: redis unavailable", map[string]any{"problem": "redis_ping_failed"})
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, "FAILED_PRECONDITION",
				"service not ready: database unavailable", map[string]any{"problem": "db_ping_failed"})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{Status: "ready", Service: cfg.ServiceName, Env: cfg.Env, Version: version})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	handler := httpx.WrapServeMux(mux, notFound)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if err := proc.Start(context.Background()); err != nil {
		fatal(logger, "processor_start_failed", "processor start failed", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting processor",
			slog.String("addr", server.Addr),
			slog.Int("tick_ms", cfg.PipelineTickMS),
			slog.Int("job_max_attempts", cfg.JobMaxAttempts),
			slog.Int("job_retry_delay_ms", cfg.JobRetryDelayMS),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := proc.Stop(shutdownCtx); err != nil {
		logger.Error(context.Background(), "processor_stop_failed", "processor did not stop cleanly",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func fatal(logger logx.Logger, event string, msg string, err error) {
	logger.Error(context.Background(), event, msg,
		slog.String("error_code", "FAILED_PRECONDITION"),
		slog.String("error", err.Error()),
	)
	os.Exit(1)
}
