package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"runtime"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/radiusdt/enhanced-attribution/internal/attribution"
)

type benchOptions struct {
	site       int64
	date       string
	period     string
	segment    string
	iterations int
	pause      time.Duration
}

func newBenchCmd() *cobra.Command {
	opts := benchOptions{pause: 100 * time.Millisecond}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure the detailed goal URL report",
		Long: `bench runs the detailed goal URL report several times and prints
per iteration timings, a summary and an assessment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.iterations < 1 {
				return fmt.Errorf("--iterations must be at least 1")
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()
			return runBench(cmd.Context(), cmd.OutOrStdout(), e.backends.Service(), opts)
		},
	}

	f := cmd.Flags()
	f.Int64Var(&opts.site, "site", 1, "site id")
	f.StringVar(&opts.date, "date", "2025-05-15", "report date")
	f.StringVar(&opts.period, "period", "day", "report period")
	f.StringVar(&opts.segment, "segment", "", "segment expression")
	f.IntVar(&opts.iterations, "iterations", 3, "number of runs")
	return cmd
}

func runBench(ctx context.Context, out io.Writer, svc *attribution.Service, opts benchOptions) error {
	segLabel := opts.segment
	if segLabel == "" {
		segLabel = "none"
	}
	fmt.Fprintln(out, "Goal URLs Performance Test")
	fmt.Fprintln(out, "==========================")
	fmt.Fprintf(out, "Site ID: %d\n", opts.site)
	fmt.Fprintf(out, "Date: %s\n", opts.date)
	fmt.Fprintf(out, "Period: %s\n", opts.period)
	fmt.Fprintf(out, "Segment: %s\n", segLabel)
	fmt.Fprintf(out, "Iterations: %d\n\n", opts.iterations)

	req := attribution.Request{
		SiteID:  opts.site,
		Period:  opts.period,
		Date:    opts.date,
		Segment: opts.segment,
	}

	times := make([]time.Duration, 0, opts.iterations)
	rows := make([]int, 0, opts.iterations)

	for i := 1; i <= opts.iterations; i++ {
		fmt.Fprintf(out, "Iteration %d/%d\n", i, opts.iterations)

		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)

		start := time.Now()
		res, err := svc.GoalUrlsDetailed(ctx, req)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Fprintf(out, "  x Error: %v\n", err)
			return err
		}
		runtime.ReadMemStats(&after)

		times = append(times, elapsed)
		rows = append(rows, res.Len())

		fmt.Fprintf(out, "  Execution time: %s\n", formatMillis(elapsed))
		fmt.Fprintf(out, "  Rows returned: %d (%s)\n", res.Len(), res.Route)
		fmt.Fprintf(out, "  Heap delta: %s\n", formatBytes(int64(after.HeapAlloc)-int64(before.HeapAlloc)))

		if i == 1 && res.Len() > 0 {
			fmt.Fprintln(out, "  Sample URLs:")
			for _, u := range sampleURLs(res, 3) {
				fmt.Fprintf(out, "    - %s\n", u)
			}
		}
		fmt.Fprintln(out)

		if i < opts.iterations && opts.pause > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.pause):
			}
		}
	}

	st := summarize(times, rows)
	fmt.Fprintln(out, "Performance Summary")
	fmt.Fprintln(out, "===================")
	fmt.Fprintf(out, "Average execution time: %s\n", formatMillis(st.avg))
	fmt.Fprintf(out, "Minimum execution time: %s\n", formatMillis(st.min))
	fmt.Fprintf(out, "Maximum execution time: %s\n", formatMillis(st.max))
	fmt.Fprintf(out, "Average rows returned: %.1f\n", st.avgRows)
	if len(times) > 1 {
		fmt.Fprintf(out, "Standard deviation: %s\n", formatMillis(st.stdDev))
	}

	fmt.Fprintln(out, "\nPerformance Assessment")
	fmt.Fprintln(out, assess(st.avg))

	if recs := recommendations(st.avg, st.avgRows, opts.segment != ""); len(recs) > 0 {
		fmt.Fprintln(out, "\nPerformance Recommendations:")
		for _, r := range recs {
			fmt.Fprintf(out, "- %s\n", r)
		}
	}
	return nil
}

func sampleURLs(res *attribution.DetailedResult, n int) []string {
	var urls []string
	for _, r := range res.Rows {
		urls = append(urls, r.ConversionURL)
	}
	for _, r := range res.URLs {
		urls = append(urls, r.ConversionURL)
	}
	if len(urls) > n {
		urls = urls[:n]
	}
	return urls
}

type benchStats struct {
	avg, min, max, stdDev time.Duration
	avgRows               float64
}

// summarize uses the population standard deviation.
func summarize(times []time.Duration, rows []int) benchStats {
	if len(times) == 0 {
		return benchStats{}
	}
	var sum time.Duration
	for _, t := range times {
		sum += t
	}
	avg := sum / time.Duration(len(times))

	var variance float64
	for _, t := range times {
		d := float64(t - avg)
		variance += d * d
	}
	variance /= float64(len(times))

	var rowSum int
	for _, r := range rows {
		rowSum += r
	}

	return benchStats{
		avg:     avg,
		min:     slices.Min(times),
		max:     slices.Max(times),
		stdDev:  time.Duration(math.Sqrt(variance)),
		avgRows: float64(rowSum) / float64(max(len(rows), 1)),
	}
}

func assess(avg time.Duration) string {
	switch {
	case avg < 100*time.Millisecond:
		return "EXCELLENT: Under 100ms average"
	case avg < 500*time.Millisecond:
		return "GOOD: Under 500ms average"
	case avg < time.Second:
		return "ACCEPTABLE: Under 1 second average"
	case avg < 3*time.Second:
		return "SLOW: Under 3 seconds average"
	default:
		return "VERY SLOW: Over 3 seconds average"
	}
}

func recommendations(avg time.Duration, avgRows float64, segmented bool) []string {
	if avg <= 500*time.Millisecond {
		return nil
	}
	var recs []string
	if avgRows > 100 {
		recs = append(recs, "Consider passing a smaller filter_limit")
	}
	if segmented {
		recs = append(recs, "Segmented reports are served from archives; check that the scheduler builds this segment")
	}
	return append(recs,
		"Check database indexes on log_conversion and log_visit",
		"Consider archiving frequently requested windows",
	)
}

func formatMillis(d time.Duration) string {
	return fmt.Sprintf("%.2f ms", float64(d)/float64(time.Millisecond))
}

func formatBytes(n int64) string {
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%s%.2f GB", sign, float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%s%.2f MB", sign, float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%s%.2f KB", sign, float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%s%d bytes", sign, n)
	}
}
