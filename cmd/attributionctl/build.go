package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/scheduler"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
)

func newBuildCmd() *cobra.Command {
	var (
		site    int64
		per     string
		date    string
		segExpr string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the archived rollups of one window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			w, err := period.Parse(per, date, e.backends.Now())
			if err != nil {
				return err
			}
			seg, err := segment.Parse(segExpr)
			if err != nil {
				return err
			}

			job := scheduler.Job{SiteID: site, Window: w, Segment: seg}
			err = scheduler.BuildLocked(cmd.Context(), e.backends.Builder(), e.backends.Locker, e.cfg.Scheduler.LockTTL, job, e.logger, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", job.Key())
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&site, "site", 1, "site id")
	f.StringVar(&per, "period", "day", "period: day, week, month, year or range")
	f.StringVar(&date, "date", "yesterday", "date, or date range for the range period")
	f.StringVar(&segExpr, "segment", "", "segment expression")
	return cmd
}
