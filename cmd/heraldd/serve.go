package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/xraph/herald/api"
	"github.com/xraph/herald/store"
)

func newServeCmd() *cobra.Command {
	envFiles := defaultEnvFiles

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the retry sweep loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), envFiles)
		},
	}
	cmd.Flags().StringSliceVar(&envFiles, "env-file", envFiles, "env files to load before reading HERALD_* variables")
	return cmd
}

func serve(parent context.Context, envFiles []string) error {
	cfg, err := loadConfig(envFiles)
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, locker, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			logger.Warn("close store", "error", cerr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hd, err := newHerald(cfg, s, locker, reg, logger)
	if err != nil {
		return fmt.Errorf("init herald: %w", err)
	}

	mux := http.NewServeMux()
	prefix := strings.TrimSuffix(cfg.APIPrefix, "/")
	mux.Handle(prefix+"/", http.StripPrefix(prefix, api.NewHandler(hd, logger)))
	mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthz(s))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	hd.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "store", cfg.Store, "api_prefix", prefix)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := hd.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop herald: %w", err)
	}
	return nil
}

func healthz(s store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok")) //nolint:errcheck // best-effort
	}
}
