package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"upres/internal/config"
	"upres/internal/history"
	"upres/internal/jobs"
	"upres/internal/logging"
	"upres/internal/notifications"
	"upres/internal/pipeline"
	"upres/internal/preflight"
	"upres/internal/server"
	"upres/internal/services/realesrgan"
)

const shutdownGrace = 15 * time.Second

func newServeCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the upscaling service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cmdCtx.ensureConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      resolveLogFormat(cfg.Logging.Format),
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "upres.log")},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "upres.lock")
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another upres instance is already running")
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("release instance lock", logging.Error(err))
		}
	}()

	for _, result := range preflight.RunAll(ctx, cfg) {
		if !result.Passed {
			logger.Warn("preflight check failed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail))
		}
	}

	registry := jobs.NewRegistry(logger)

	pipelineOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithEnhancer(realesrgan.NewCLI(
			realesrgan.WithBinary(cfg.Enhancer.Binary),
			realesrgan.WithModelsDir(cfg.Enhancer.ModelsDir),
			realesrgan.WithStderrLimit(cfg.Encoding.StderrLimit))),
	}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.Paths.LogDir)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		defer store.Close()
		pipelineOpts = append(pipelineOpts, pipeline.WithHistory(store))
		serverOpts = append(serverOpts, server.WithHistory(store))
	}

	notifier := notifications.NewService(cfg)
	pipelineOpts = append(pipelineOpts, pipeline.WithNotifier(notifier))

	orchestrator := pipeline.New(cfg, registry, pipelineOpts...)
	srv := server.New(cfg, registry, orchestrator, serverOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("upres started",
		logging.String("bind", cfg.Paths.APIBind),
		logging.String("lock", lockPath))

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("upres shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// resolveLogFormat maps the "auto" setting to console on a terminal and
// JSON otherwise.
func resolveLogFormat(format string) string {
	if format != "auto" {
		return format
	}
	fd := os.Stdout.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return "console"
	}
	return "json"
}
