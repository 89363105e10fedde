package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/cync-bridge/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge (default command)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return run(ctx, configPath)
}

// run loads configuration, builds the supervisor, and blocks until ctx
// is cancelled or the supervisor stops on its own. Split out of
// runServe for testability.
func run(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return configError(fmt.Errorf("loading config: %w", err))
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting cyncbridged", "version", version, "commit", commit, "config", path)

	sup, err := supervisor.New(cfg, logger, version)
	if err != nil {
		return startupIOError(fmt.Errorf("building supervisor: %w", err))
	}

	err = sup.Run(ctx)
	if err != nil {
		logger.Error("shutdown with errors", "error", err)
		return err
	}

	logger.Info("cyncbridged stopped")
	return nil
}
