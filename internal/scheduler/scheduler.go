// Package scheduler periodically rebuilds the archived rollups.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/radiusdt/enhanced-attribution/internal/attribution"
	"github.com/radiusdt/enhanced-attribution/internal/config"
	"github.com/radiusdt/enhanced-attribution/internal/metrics"
	"github.com/radiusdt/enhanced-attribution/internal/models"
	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

// Builder builds and persists the rollups of one archive.
type Builder interface {
	Build(ctx context.Context, siteID int64, w period.Window, seg segment.Segment) (*attribution.Rollup, error)
}

// Job is one archive to build.
type Job struct {
	SiteID  int64
	Window  period.Window
	Segment segment.Segment
}

// Key is the archive key shared by all records of the job.
func (j Job) Key() string {
	return storage.NewArchiveKey(j.SiteID, j.Window, j.Segment, "").Archive()
}

// Scheduler runs archive builds on a cron spec.
type Scheduler struct {
	cfg      config.SchedulerConfig
	builder  Builder
	locker   Locker
	logger   *zap.Logger
	metrics  *metrics.Metrics
	segments []segment.Segment
	loc      *time.Location
	now      func() time.Time

	cron *cron.Cron
	ctx  context.Context
}

// New validates cfg and registers the build job on its cron spec. The
// scheduler does nothing until Start.
func New(cfg config.SchedulerConfig, builder Builder, locker Locker, logger *zap.Logger, m *metrics.Metrics) (*Scheduler, error) {
	for _, p := range cfg.Periods {
		switch p {
		case period.Day, period.Week, period.Month, period.Year:
		default:
			return nil, fmt.Errorf("scheduler: unsupported period %q", p)
		}
	}

	// the empty segment is always built
	segments := []segment.Segment{{}}
	for _, expr := range cfg.Segments {
		seg, err := segment.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		if !seg.IsEmpty() {
			segments = append(segments, seg)
		}
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		loc = l
	}

	s := &Scheduler{
		cfg:      cfg,
		builder:  builder,
		locker:   locker,
		logger:   logger,
		metrics:  m,
		segments: segments,
		loc:      loc,
		now:      time.Now,
		ctx:      context.Background(),
	}

	cl := cronLogger{logger.Sugar()}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(cfg.Cron, s.tick); err != nil {
		return nil, fmt.Errorf("scheduler: invalid cron spec %q: %w", cfg.Cron, err)
	}
	return s, nil
}

// WithClock replaces the clock used to pick the windows to build.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start runs the cron loop in the background. Builds use ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("archive scheduler started",
		zap.String("cron", s.cfg.Cron),
		zap.Int64s("sites", s.cfg.Sites),
		zap.Strings("periods", s.cfg.Periods),
		zap.Int("segments", len(s.segments)),
	)
}

// Stop stops scheduling and returns a context done when running builds
// have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) tick() {
	if err := s.RunOnce(s.ctx); err != nil {
		s.logger.Error("archive run finished with errors", zap.Error(err))
	}
}

// Jobs lists the archives due at now: for every site, period and segment
// the window containing today, plus yesterday for the day period.
func (s *Scheduler) Jobs(now time.Time) []Job {
	now = now.In(s.loc)
	var jobs []Job
	for _, site := range s.cfg.Sites {
		for _, p := range s.cfg.Periods {
			dates := []string{"today"}
			if p == period.Day {
				dates = append(dates, "yesterday")
			}
			for _, d := range dates {
				w, err := period.Parse(p, d, now)
				if err != nil {
					s.logger.Error("cannot derive window", zap.String("period", p), zap.String("date", d), zap.Error(err))
					continue
				}
				for _, seg := range s.segments {
					jobs = append(jobs, Job{SiteID: site, Window: w, Segment: seg})
				}
			}
		}
	}
	return jobs
}

// RunOnce builds every due archive. Archives locked by another builder
// are skipped; other failures are collected and returned together.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, job := range s.Jobs(s.now()) {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := s.Build(ctx, job); err != nil && !errors.Is(err, ErrLockHeld) {
			errs = append(errs, fmt.Errorf("%s: %w", job.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// Build builds one archive under its lock.
func (s *Scheduler) Build(ctx context.Context, job Job) error {
	return BuildLocked(ctx, s.builder, s.locker, s.cfg.LockTTL, job, s.logger, s.metrics)
}

// BuildLocked builds job while holding its archive lock. It returns
// ErrLockHeld without building when the lock is taken.
func BuildLocked(ctx context.Context, b Builder, locker Locker, ttl time.Duration, job Job, logger *zap.Logger, m *metrics.Metrics) error {
	key := job.Key()
	fields := []zap.Field{
		zap.Int64("site", job.SiteID),
		zap.String("window", job.Window.String()),
		zap.String("segment", job.Segment.String()),
	}

	unlock, err := locker.TryLock(ctx, "lock:"+key, ttl)
	if errors.Is(err, ErrLockHeld) {
		logger.Info("archive build skipped, lock held", fields...)
		if m != nil {
			m.RecordLockSkip(job.Window.Period)
		}
		return err
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to release archive lock", append(fields, zap.Error(err))...)
		}
	}()

	start := time.Now()
	r, err := b.Build(ctx, job.SiteID, job.Window, job.Segment)
	elapsed := time.Since(start)
	if m != nil {
		m.RecordBuild(job.Window.Period, err, elapsed)
	}
	if err != nil {
		logger.Error("archive build failed", append(fields, zap.Error(err))...)
		return err
	}

	if m != nil {
		m.RecordRowsWritten(models.RecordGoalUrlsAggregate, len(r.URLs))
		m.RecordRowsWritten(models.RecordGoalUrlsByChannel, len(r.Channels))
		m.RecordRowsWritten(models.RecordGoalUrlsBySource, len(r.Sources))
	}
	logger.Info("archive built", append(fields,
		zap.Int("urls", len(r.URLs)),
		zap.Int64("conversions", r.Summary.TotalGoalConversions),
		zap.Duration("duration", elapsed),
	)...)
	return nil
}

// cronLogger adapts zap to cron's logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
