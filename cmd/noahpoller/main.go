// cmd/noahpoller/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tamzrod/noah-poller/internal/config"
	"github.com/tamzrod/noah-poller/internal/metrics"
	"github.com/tamzrod/noah-poller/internal/poller"
	"github.com/tamzrod/noah-poller/internal/writer"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: noahpoller <config.yaml|config.toml>")
	}

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(os.Args[1])
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --------------------
	// Sinks
	// --------------------

	hub := writer.NewHub(logger)
	collector := metrics.NewCollector()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// --------------------
	// Build per-device pollers
	// --------------------

	devs := newDevices()
	var closers []func() error

	for _, d := range cfg.Devices {
		p, closePoller, err := poller.Build(d, logger)
		if err != nil {
			logger.Error("poller build failed", "device", d.ID, "err", err)
			os.Exit(1)
		}
		closers = append(closers, closePoller)

		p.Subscribe(hub)
		p.Subscribe(collector)
		collector.Add(p)
		devs.add(p)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, p := range devs.order {
		p := p
		g.Go(func() error {
			p.Run(gctx)
			return nil
		})
	}

	// --------------------
	// HTTP surface (optional)
	// --------------------

	if cfg.Server.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Server.Listen,
			Handler:           newMux(devs, reg, hub),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("http listening", "addr", cfg.Server.Listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			hub.Close()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	logger.Info("noahpoller started", "devices", len(devs.order))

	err = g.Wait()

	for _, c := range closers {
		if cerr := c(); cerr != nil {
			logger.Warn("close failed", "err", cerr)
		}
	}

	if err != nil {
		logger.Error("noahpoller stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("noahpoller stopped")
}

func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
