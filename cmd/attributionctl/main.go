// Command attributionctl is the operator CLI of the attribution service.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/radiusdt/enhanced-attribution/internal/app"
	"github.com/radiusdt/enhanced-attribution/internal/config"
	"github.com/radiusdt/enhanced-attribution/internal/middleware"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "attributionctl",
		Short: "Operate the goal conversion attribution service",
		Long: `attributionctl builds archived rollups, runs the archive scheduler
and measures report performance against the configured stores.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newBenchCmd(),
		newBuildCmd(),
		newScheduleCmd(),
	)
	return root
}

// env is what every subcommand needs: configuration, a logger and the
// opened stores.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	backends *app.Backends
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.LoadOffline()
	if err != nil {
		return nil, err
	}
	logger, err := middleware.NewLogger(cfg.Log.Level, "console")
	if err != nil {
		return nil, err
	}
	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, backends: backends}, nil
}

func (e *env) close() {
	e.backends.Close()
	_ = e.logger.Sync()
}
