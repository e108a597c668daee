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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"storefront-pipeline/pipeline/internal/admin"
	"storefront-pipeline/pipeline/internal/deadletter"
	"storefront-pipeline/pipeline/internal/middleware"
	"storefront-pipeline/shared/authx"
	"storefront-pipeline/shared/config"
	"storefront-pipeline/shared/httpx"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/metricsx"
	"storefront-pipeline/shared/observability"
	"storefront-pipeline/shared/queuex"
)

func main() {
	cfg, readyProblems := config.Load("pipeline-admin", 8091)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.RedisAddr == "" {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", []config.Problem{{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"}}),
		)
		os.Exit(1)
	}

	metricsx.Register()
	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfigFrom(cfg)); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	store, err := queuex.NewRedisStore(cfg)
	if err != nil {
		logger.Error(context.Background(), "redis_init_failed", "redis init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer store.Close()

	// Scopes the JWKS cache refresher.
	appCtx, stopApp := context.WithCancel(context.Background())
	defer stopApp()

	var verifier authx.Verifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		jwtVerifier, err := authx.NewJWTVerifier(appCtx, cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSURL, cfg.JWKSTTLSeconds, cfg.JWTClockSkewSec)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize JWT verifier"})
		} else {
			verifier = jwtVerifier
		}
	} else {
		readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "OIDC_ISSUER and OIDC_AUDIENCE are required"})
	}

	mux := http.NewServeMux()
	admin.Handlers{
		Service:  cfg.ServiceName,
		Env:      cfg.Env,
		Version:  version,
		Problems: readyProblems,
		Checks:   []admin.Check{{Name: "redis", Run: store.Ping}},
		DLQ:      deadletter.New(store, logger),
		Logger:   logger,
	}.Register(mux)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})

	limiter := middleware.NewRateLimiter(5, 20, 10*time.Minute)
	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.RateLimitMiddleware{
		Limiter: limiter,
		Limit:   func(r *http.Request) bool { return !admin.Public(r) },
	}.Wrap(handler)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		Role:     cfg.AdminRole,
		Logger:   logger,
		Skip:     admin.Public,
	}.Wrap(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{SkipPaths: map[string]bool{"/healthz": true, "/metrics": true}}, handler)
	handler = metricsx.Instrument(handler)
	handler = otelhttp.NewHandler(handler, "pipeline-admin")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.String("admin_role", cfg.AdminRole),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed",
			slog.String("error_code", "INTERNAL_ERROR"),
			slog.String("error", err.Error()),
		)
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}
