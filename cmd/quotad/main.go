// Command quotad serves rate limit decisions over HTTP.
//
// It loads the process configuration (see package config), opens the
// configured store, builds the policy registry, and serves:
//
//	POST /v1/check     {policy, identifier, load} -> allow or 429
//	POST /v1/reset     {policy, identifier}       -> 204
//	GET  /v1/policies
//	GET  /healthz
//	GET  /metrics      when metrics.enabled
//
// Usage:
//
//	quotad -config /etc/quotad.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nhalm/quota/config"
	"github.com/nhalm/quota/policy"
	"github.com/nhalm/quota/ratelimit"
	"github.com/nhalm/quota/store"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("quotad exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	st, err := store.New(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []ratelimit.Option{
		ratelimit.WithLogger(logger),
		ratelimit.WithTimeout(cfg.Limits.CheckTimeout),
	}
	if cfg.Limits.LedgerCap > 0 {
		opts = append(opts, ratelimit.WithLedgerCap(cfg.Limits.LedgerCap))
	}

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts = append(opts, ratelimit.WithMetrics(ratelimit.NewMetrics(promReg)))
		gatherer = promReg
	}

	reg, err := policy.NewRegistry(st, cfg.Policies, opts...)
	if err != nil {
		return fmt.Errorf("build policies: %w", err)
	}
	logger.Info("policies loaded", "count", reg.Len(), "names", reg.Names())

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      newRouter(cfg, reg, st, gatherer),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server",
			"address", cfg.Server.ListenAddress,
			"store", store.Kind(st),
			"metrics", cfg.Metrics.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err, ok := <-errChan:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
