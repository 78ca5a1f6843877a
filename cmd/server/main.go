package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/ideaboard/internal/archive"
	"github.com/example/ideaboard/internal/backend/pg"
	"github.com/example/ideaboard/internal/config"
	"github.com/example/ideaboard/internal/gateway"
	"github.com/example/ideaboard/internal/ingest"
	"github.com/example/ideaboard/internal/observability"
	"github.com/example/ideaboard/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := log.With().Str("app", cfg.AppName).Logger()
	observability.RegisterRuntimeCollectors()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resources, err := config.NewResources(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize resources")
	}
	defer resources.Close()

	telemetryShutdown, err := observability.Start(ctx, observability.Config{
		ServiceName:  cfg.AppName,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, resources.HealthCheck, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer telemetryShutdown(context.Background())

	backendClient := pg.NewClient(resources.Postgres, resources.Redis, logger, pg.WithChannelPrefix(cfg.ChannelPrefix))
	if err := backendClient.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure schema")
	}
	if err := resources.EnsureBucket(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to ensure archive bucket")
	}

	// The server keeps its own mirror of the board so the archive worker can
	// export consistent snapshots without querying Postgres.
	mirror := store.New()
	ingestor := ingest.New(mirror, backendClient, logger)
	if err := seedMirror(ctx, mirror, backendClient, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to seed board mirror")
	}
	ingestor.Start(ctx)
	defer ingestor.Close()

	archiveWorker := archive.NewWorker(mirror, resources.Object, cfg.ObjectBucket, logger)
	archiveWorker.Start(ctx)

	gw := gateway.New(resources.Redis, logger, gateway.Config{ChannelPrefix: cfg.ChannelPrefix})
	gw.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/feed", gw)
	httpServer := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}

	go func() {
		logger.Info().Str("addr", cfg.GatewayAddr).Msg("gateway server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("gateway server failed")
		}
	}()

	go healthcheckLoop(ctx, resources, logger, cfg.HealthcheckProbe)

	logger.Info().Msg("server dependencies initialized")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		ingestor.Close()
		resources.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Error().Err(shutdownCtx.Err()).Msg("forced shutdown")
	}
}

func seedMirror(ctx context.Context, mirror *store.Store, client *pg.Client, logger zerolog.Logger) error {
	ideas, err := client.QueryIdeas(ctx)
	if err != nil {
		return err
	}
	for _, idea := range ideas {
		mirror.UpsertIdea(idea)
	}

	comments, err := client.QueryComments(ctx)
	if err != nil {
		return err
	}
	for _, comment := range comments {
		mirror.UpsertComment(comment)
	}

	logger.Info().Int("ideas", len(ideas)).Int("comments", len(comments)).Msg("board mirror seeded")
	return nil
}

func healthcheckLoop(ctx context.Context, resources *config.Resources, logger zerolog.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := resources.HealthCheck(context.Background()); err != nil {
				logger.Error().Err(err).Msg("dependency healthcheck failed")
			} else {
				logger.Debug().Msg("dependency healthcheck ok")
			}
		case <-ctx.Done():
			return
		}
	}
}
