package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lilavathra-tackits/gps-tracker/internal/auth"
	"github.com/lilavathra-tackits/gps-tracker/internal/config"
	"github.com/lilavathra-tackits/gps-tracker/internal/logger"
	"github.com/lilavathra-tackits/gps-tracker/internal/pipeline"
	"github.com/lilavathra-tackits/gps-tracker/internal/query"
	"github.com/lilavathra-tackits/gps-tracker/internal/scheduler"
	"github.com/lilavathra-tackits/gps-tracker/internal/store"
	transporthttp "github.com/lilavathra-tackits/gps-tracker/internal/transport/http"
	"github.com/lilavathra-tackits/gps-tracker/internal/transport/ws"
	"github.com/lilavathra-tackits/gps-tracker/internal/upstream"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("tracker exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	db, err := store.NewTimescaleStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("connected to timescaledb", "host", cfg.DBHost, "db", cfg.DBName)

	hub := ws.NewHub(log)
	pingers := map[string]transporthttp.Pinger{"timescale": db}

	var (
		cache     pipeline.StateCache
		publisher pipeline.AlertPublisher
		keys      auth.KeyStore
		locator   transporthttp.Locator
		bg        sync.WaitGroup
	)
	switch cfg.CacheBackend {
	case "memory":
		cache = store.NewMemoryCache(nil)
		publisher = hub
		log.Info("using in-process state cache")
	default:
		rs, err := store.NewRedisStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer rs.Close()
		cache, publisher, keys, locator = rs, rs, rs, rs
		pingers["redis"] = rs
		log.Info("connected to redis", "addr", cfg.RedisAddr)

		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := ws.Relay(ctx, rs.Client(), hub, store.AlertChannelPattern, store.DataChannelPattern); err != nil {
				log.Error("redis relay stopped", "error", err)
			}
		}()
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	dispatcher := pipeline.NewDispatcher(cfg.AlertChannelSize)
	var publishers sync.WaitGroup
	for i := 0; i < max(cfg.AlertWorkers, 1); i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			pipeline.NewPublisher(dispatcher.AlertChan, publisher, log).Run(ctx)
		}()
	}

	evaluator := pipeline.NewAlertEvaluator(db, dispatcher, pipeline.Thresholds{
		RashSpeedKmh:    cfg.RashSpeedKmh,
		AccelKmhPerHour: cfg.AccelKmhPerHour,
		MovementKm:      cfg.MovementKm,
		IdleMinutes:     cfg.IdleMinutes,
		MaintenanceDays: cfg.MaintenanceDays,
		MaintenanceKm:   cfg.MaintenanceKm,
	}, log)
	ingestor := pipeline.NewIngestor(db, cache, evaluator, pipeline.IngestOptions{
		CacheTTL:       cfg.CacheTTL,
		GateDirectPush: cfg.GateDirectPush,
		MaxClockSkew:   cfg.MaxClockSkew,
	}, log)
	queries := query.NewService(db, query.Options{
		ActiveWindow: cfg.ActiveWindow,
		RashSpeedKmh: cfg.RashSpeedKmh,
		IdleMinutes:  cfg.IdleMinutes,
	})

	if cfg.PollerEnabled && cfg.UpstreamURL != "" {
		sched := scheduler.New(db, upstream.NewHTTPFetcher(cfg.UpstreamURL, cfg.UpstreamTimeout), ingestor, scheduler.Options{
			Workers:        cfg.PollWorkers,
			DirectInterval: cfg.DirectPollInterval,
			DeviceTimeout:  3 * cfg.UpstreamTimeout,
		}, log)
		bg.Add(1)
		go func() {
			defer bg.Done()
			sched.Run(ctx)
		}()
	}

	authn := auth.NewAuthenticator(cfg, keys, log)
	handler := transporthttp.NewHandler(ingestor, db, queries, pingers, log)
	if locator != nil {
		handler.SetLocator(locator)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           transporthttp.NewRouter(handler, transporthttp.NewAuthMiddleware(authn), hub, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}

	// Nothing dispatches once the server and scheduler have stopped.
	cancelRun()
	bg.Wait()
	dispatcher.Close()
	publishers.Wait()
	stopHub()

	log.Info("tracker stopped")
	return nil
}
