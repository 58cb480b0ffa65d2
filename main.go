package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bundle-cache-go/config"
	"bundle-cache-go/logcolors"
	"bundle-cache-go/services/events"
	"bundle-cache-go/services/notifier"
	"bundle-cache-go/stats"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	statsSaveInterval = 5 * time.Minute
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("%s %v", logcolors.LogServer, err)
	}
}

func run() error {
	cfg := config.Get()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.New(cfg.Configuration.EventBufferSize)

	alerts := notifier.NewAlertHandler(notifier.AlertConfig{Notifiers: setupNotifiers(cfg)})
	alertCtx, stopAlerts := context.WithCancel(context.Background())
	alertsDone := alerts.Start(alertCtx, bus)
	defer func() {
		stopAlerts()
		<-alertsDone
	}()

	pc, err := openCache(cfg)
	if err != nil {
		bus.PublishServerStartupFailed("cache", err)
		return err
	}
	defer func() {
		if err := pc.Close(); err != nil {
			log.Errorf("%s Failed to close cache: %v", logcolors.LogCache, err)
		}
	}()

	statsStore := stats.NewStore(pc)
	if err := statsStore.Load(); err != nil {
		log.Warnf("%s Failed to load persisted stats: %v", logcolors.LogServer, err)
	}
	statsStore.StartAutoSave(statsSaveInterval)
	defer statsStore.Close()

	s := newServer(cfg, pc, bus)
	s.metrics = newMetricsHandler(cfg.FeatureFlags.Metrics)

	// Request contexts derive from ctx so event streams end on a signal.
	srv := &http.Server{
		Addr:              ":" + cfg.Configuration.Port,
		Handler:           newHandler(cfg, s),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.beatsaver.Run(gctx) })
	g.Go(func() error { return s.lyrics.Run(gctx) })
	g.Go(func() error {
		log.Infof("%s Server listening on port %s", logcolors.LogServer, cfg.Configuration.Port)
		bus.PublishServerStarted(cfg.Configuration.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			bus.PublishServerStartupFailed("http", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Infof("%s Shutting down", logcolors.LogServer)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Infof("%s Server stopped", logcolors.LogServer)
	return nil
}
