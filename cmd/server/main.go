package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sipcore/proxy/internal/avstore"
	"github.com/sipcore/proxy/internal/config"
	"github.com/sipcore/proxy/internal/metrics"
	"github.com/sipcore/proxy/internal/raf"
	"github.com/sipcore/proxy/internal/registrar"
	"github.com/sipcore/proxy/internal/sipserver"
	"github.com/sipcore/proxy/internal/web"
)

func main() {
	cfg := config.Parse()
	log := newLogger(cfg.LogLevel)

	log.Info("initializing application")

	store, closeStore, err := openAVStore(cfg.AVStorePath)
	if err != nil {
		log.Error("failed to open authentication vector store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	m := metrics.NewMetrics("sipcore")

	hss := raf.NewHSSClient(cfg.HSSBaseURL, cfg.HSSTimeout)
	filter := raf.NewFilter(cfg.Realm, hss, store, cfg.AVTTL, m, log)
	bindings := registrar.NewTable(log)

	sipSrv := sipserver.NewServer(cfg.HomeDomain, cfg.SCSCFAddr, cfg.DelayTrying, filter, bindings, m, log)
	webSrv := web.NewServer(bindings, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting sip server", "addr", cfg.SCSCFAddr)
		if err := sipSrv.Run(gCtx, cfg.SCSCFAddr); err != nil {
			log.Error("sip server exited with error", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("starting admin dashboard", "addr", cfg.WebAddr)
		if err := webSrv.Run(cfg.WebAddr); err != nil {
			log.Error("admin dashboard exited with error", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("starting metrics endpoint", "addr", cfg.MetricsAddr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics endpoint exited with error", "err", err)
			return err
		}
		return nil
	})

	log.Info("application started, press ctrl+c to stop")

	if err := g.Wait(); err != nil {
		log.Error("application exited with error", "err", err)
		os.Exit(1)
	}
	log.Info("application shut down cleanly")
}

func openAVStore(path string) (raf.AuthVectorStore, func(), error) {
	if path == "" {
		return raf.NewMemoryAuthVectorStore(), func() {}, nil
	}
	s, err := avstore.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
