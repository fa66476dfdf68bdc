package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/gamewarden/gamewarden/internal/config"
	"github.com/gamewarden/gamewarden/internal/install"
	"github.com/gamewarden/gamewarden/internal/logger"
	"github.com/gamewarden/gamewarden/internal/metrics"
	"github.com/gamewarden/gamewarden/internal/notify"
	"github.com/gamewarden/gamewarden/internal/scheduler"
	"github.com/gamewarden/gamewarden/internal/server"
	"github.com/gamewarden/gamewarden/internal/store"
	"github.com/gamewarden/gamewarden/internal/supervisor"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: supervisor, scheduler, sampler and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to TOML config file")
	return cmd
}

func runServe(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := logger.Setup(cfg.LogLevel); err != nil {
		return err
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		slog.Warn("metrics registration failed", "error", err)
	}

	sup := supervisor.New(cfg.Supervisor)
	installer := install.New(sup, cfg.Supervisor.Log)
	installer.OnComplete = func(ctx context.Context, id, execPath string) error {
		return st.SetExecutablePath(ctx, id, execPath)
	}

	notifier := notify.NewWebhook(cfg.WebhookURL)
	sched := scheduler.New(cfg.Scheduler, st, sup, notifier)
	sampler := metrics.NewSampler(sup, cfg.Sampler)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sampler.Run(ctx) }()
	go func() { defer wg.Done(); sched.Run(ctx) }()

	router := server.NewRouter(sup, st, installer, "")
	router.SetNotifier(notifier)
	httpSrv := server.NewServer(cfg.Listen, router)
	slog.Info("gamewarden started", "listen", cfg.Listen, "store", cfg.Store.Type)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("http shutdown", "error", err)
	}
	cancel()
	wg.Wait()
	sup.Shutdown(shutdownCtx)
	return nil
}
