package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"engagement-gateway/internal/analytics"
	"engagement-gateway/internal/config"
	"engagement-gateway/internal/database"
	"engagement-gateway/internal/engagement"
	"engagement-gateway/internal/events"
	"engagement-gateway/internal/handlers"
	"engagement-gateway/internal/log"
	"engagement-gateway/internal/middleware"
	"engagement-gateway/internal/router"
	"engagement-gateway/internal/telemetry"
	"engagement-gateway/internal/websocket"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		base := log.Base()
		base.Fatal().Err(err).Msg("engagement gateway stopped")
	}
}

func run() error {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Configure(log.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.Env == "development",
	})
	logger := log.WithComponent("main")
	logger.Info().Str("env", cfg.Env).Str("version", version).Msg("starting engagement gateway")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 2: Tracing ────
	tracer, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTelEnabled,
		ServiceName:    "engagement-gateway",
		ServiceVersion: version,
		Environment:    cfg.Env,
		ExporterType:   cfg.OTelExporter,
		Endpoint:       cfg.OTelEndpoint,
		SamplingRate:   cfg.OTelSamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	logger.Info().Bool("enabled", cfg.OTelEnabled).Msg("tracing initialized")

	// ──── Step 3: Redis (optional) ────
	var (
		publisher *events.Publisher
		updates   *websocket.UpdatesHub
	)
	if cfg.RedisURL != "" {
		redisClients, err := database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisClients.Close()
		publisher = events.NewPublisher(redisClients.Publish)
		updates = websocket.NewUpdatesHub(redisClients.PubSub, []string{cfg.FrontendURL})
		defer updates.Close()
		logger.Info().Msg("redis connected, live updates enabled")
	} else {
		logger.Info().Msg("REDIS_URL not set, live updates disabled")
	}

	// ──── Step 4: Analytics Dispatcher ────
	client := analytics.NewClient(cfg.AnalyticsBaseURL, cfg.AnalyticsTimeout)
	dispatcher := analytics.NewDispatcher(client, cfg.DispatchWorkers, cfg.DispatchQueueSize, cfg.AnalyticsTimeout)
	dispatcher.Start()

	// ──── Step 5: Viewer Gateway ────
	trackCfg := cfg.Tracking()
	viewerOpts := []websocket.ViewerOption{}
	if publisher != nil {
		viewerOpts = append(viewerOpts, websocket.WithNotifiers(publisher.ForUser))
	}
	viewer := websocket.NewViewerHandler(func(token string) engagement.AnalyticsClient {
		return dispatcher.Bind(token)
	}, trackCfg, []string{cfg.FrontendURL}, viewerOpts...)

	// ──── Step 6: HTTP Server ────
	var updatesHandler http.Handler
	if updates != nil {
		updatesHandler = updates
	}
	handler := router.New(middleware.NewJWTAuth(cfg.JWTSecret), viewer, updatesHandler, router.Options{
		FrontendURL:   cfg.FrontendURL,
		ViewRateLimit: cfg.ViewRateLimit,
		Sessions:      handlers.NewSessionsHandler(viewer).List,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("engagement gateway ready")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Hijacked sockets survive Shutdown. Viewers are closed explicitly so
		// their final deltas and endAccess calls reach the dispatcher before
		// it drains.
		var errs []error
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := viewer.Close(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("close viewers: %w", err))
		}
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if publisher != nil {
			publisher.Wait()
		}
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("engagement gateway stopped cleanly")
	return nil
}
