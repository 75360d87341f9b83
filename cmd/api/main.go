package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"wmsdispatch/internal/api"
	"wmsdispatch/internal/buildinfo"
	"wmsdispatch/internal/config"
	"wmsdispatch/internal/dispatch"
	"wmsdispatch/internal/events"
	"wmsdispatch/internal/logging"
	"wmsdispatch/internal/metrics"
	"wmsdispatch/internal/store"
)

var interruptSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGINT,
}

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal().Err(err).Msg("cannot load config")
	}
	logging.Setup(cfg.Environment, cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	log.Info().Str("version", buildinfo.String()).Str("environment", cfg.Environment).Msg("starting dispatch api")

	ctx, stop := signal.NotifyContext(context.Background(), interruptSignals...)
	defer stop()

	st, closeStore, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open store")
	}
	defer closeStore()

	var broker events.EventBroker
	if cfg.RedisURL != "" {
		rb, err := events.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("cannot create redis broker")
		}
		if err := rb.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("cannot reach redis")
		}
		defer func() { _ = rb.Close() }()
		broker = rb
		log.Info().Msg("redis event broker connected")
	}

	metrics.RegisterDefault()
	srv := api.NewServer(cfg, st, broker)

	g, ctx := errgroup.WithContext(ctx)
	runHTTPServer(ctx, g, cfg, srv)
	runWebhookWorker(ctx, g, srv)
	if cfg.DispatchSchedule != "" {
		runDispatchScheduler(ctx, g, cfg, srv.Dispatcher)
	}

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("error from wait group")
	}
	log.Info().Msg("dispatch api stopped")
}

func runHTTPServer(ctx context.Context, g *errgroup.Group, cfg config.Config, srv *api.Server) {
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Msg("start HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed to serve")
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("graceful shutdown HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown HTTP server")
			return err
		}
		log.Info().Msg("HTTP server is stopped")
		return nil
	})
}

func runWebhookWorker(ctx context.Context, g *errgroup.Group, srv *api.Server) {
	worker := srv.NewWebhookWorker()
	g.Go(func() error {
		return worker.Run(ctx)
	})
}

func runDispatchScheduler(ctx context.Context, g *errgroup.Group, cfg config.Config, d *dispatch.Dispatcher) {
	sched := dispatch.NewScheduler(d, cfg.DispatchSchedule, cfg.DispatchTenants)
	g.Go(func() error {
		return sched.Run(ctx)
	})
}
