package main

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/radiusdt/enhanced-attribution/internal/metrics"
	"github.com/radiusdt/enhanced-attribution/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the archive scheduler",
		Long: `schedule rebuilds the archives of the configured sites, periods and
segments on ATTRIBUTION_SCHEDULER_CRON until interrupted. With --once it
builds every due archive a single time and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer e.close()

			var m *metrics.Metrics
			if e.cfg.Metrics.Enabled {
				m = metrics.NewMetrics("attribution", prometheus.DefaultRegisterer)
			}

			s, err := scheduler.New(e.cfg.Scheduler, e.backends.Builder(), e.backends.Locker, e.logger, m)
			if err != nil {
				return err
			}
			s.WithClock(e.backends.Now)

			if once {
				return s.RunOnce(ctx)
			}

			s.Start(ctx)
			<-ctx.Done()
			e.logger.Info("stopping archive scheduler")
			<-s.Stop().Done()
			e.logger.Info("archive scheduler stopped")
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "build due archives once and exit")
	return cmd
}
