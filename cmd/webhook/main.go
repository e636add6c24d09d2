// Package main is the entry point for the Resonate billing webhook service.
//
// It loads configuration (resolving secrets from SSM outside local mode),
// opens the Postgres pool and applies embedded migrations, wires the webhook
// processing pipeline (verifier, reconciler, checkout processor, mirror
// store), and serves the chi router over plain HTTP.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"resonate/internal/api/handlers"
	"resonate/internal/billing"
	"resonate/internal/config"
	"resonate/internal/core"
	"resonate/internal/db"
	"resonate/internal/external"
	"resonate/internal/observe"
	"resonate/internal/types"
)

const envLocal = "local"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SSM resolution is bypassed when APP_ENV=local, but the provider is
	// constructed lazily either way, so this is safe before config is read.
	provider := config.NewSSMProvider(os.Getenv("AWS_REGION"))
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("resonate billing webhook starting",
		"environment", cfg.Environment,
		"service", cfg.Service,
		"port", cfg.Server.Port,
	)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer pool.Close()

	subRepo := db.NewSubscriptionRepo(pool, logger)
	promoRepo := db.NewPromotionRepo(pool, logger)
	mirrorRepo := db.NewMirrorRepo(pool, logger)

	verifier, fetcher := buildStripeDependencies(cfg, logger)

	metrics, err := buildMetrics(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	reconciler := billing.NewReconciler(subRepo, priceTierMap(cfg.Billing), logger)
	checkout := billing.NewCheckoutProcessor(fetcher, reconciler, promoRepo, logger)

	webhookHandler := handlers.NewStripeWebhookHandler(
		verifier,
		reconciler,
		checkout,
		mirrorRepo,
		metrics,
		cfg.Billing.StripeWebhookSecret,
		logger,
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, db.NewPoolProbe(pool))
	srv.RouteRegistrars = append(srv.RouteRegistrars, func(r chi.Router) {
		webhookHandler.RegisterRoutes(r)
	})
	srv.MountRoutes()

	return serveHTTP(ctx, srv, cfg, logger)
}

// buildStripeDependencies returns the webhook verifier and subscription
// fetcher. Local mode substitutes stubs so the service runs without Stripe
// credentials or network access.
func buildStripeDependencies(cfg *config.Config, logger *slog.Logger) (external.WebhookVerifier, billing.SubscriptionFetcher) {
	if cfg.Environment == envLocal {
		logger.Warn("local mode: using stub Stripe verifier and fetcher")
		return external.NewStubWebhookVerifier(logger), external.NewStubSubscriptionFetcher(logger)
	}

	client := external.NewStripeClient(
		&http.Client{Timeout: 15 * time.Second},
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			Logger:    logger,
		},
	)
	return &external.StripeVerifier{}, client
}

// buildMetrics returns the CloudWatch collector when metrics are enabled,
// otherwise a no-op.
func buildMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (observe.WebhookMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return observe.NoopWebhookMetrics{}, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return observe.NewCloudWatchWebhookMetrics(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.Observability.MetricsNamespace,
		logger,
	), nil
}

// priceTierMap builds the price-to-tier lookup the reconciler consults when
// a subscription event carries no tier metadata.
func priceTierMap(cfg config.BillingConfig) map[string]types.Tier {
	m := make(map[string]types.Tier, 2)
	if cfg.PriceProMonthly != "" {
		m[cfg.PriceProMonthly] = types.TierPro
	}
	if cfg.PriceProAnnual != "" {
		m[cfg.PriceProAnnual] = types.TierPro
	}
	return m
}

// serveHTTP runs the HTTP server until the context is canceled by a signal,
// then drains in-flight requests within the configured grace period.
func serveHTTP(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
