package attribution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/radiusdt/enhanced-attribution/internal/models"
	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

// Route is the branch a request is served from.
type Route string

const (
	RouteLive     Route = "live"
	RouteArchived Route = "archived"
)

// Operation names a public report.
type Operation string

const (
	OpDetailed         Operation = "detailed"
	OpAggregate        Operation = "aggregate"
	OpByChannel        Operation = "by_channel"
	OpBySource         Operation = "by_source"
	OpTotalConversions Operation = "total_conversions"
	OpUniqueURLs       Operation = "unique_urls"
)

// Operations lists every public report.
var Operations = []Operation{
	OpDetailed, OpAggregate, OpByChannel, OpBySource, OpTotalConversions, OpUniqueURLs,
}

// Request selects a site, window and segment for one report.
type Request struct {
	SiteID  int64
	Period  string
	Date    string
	Segment string
	// Limit caps returned rows; 0 or less means no cap.
	Limit int
}

// RouteFor picks the branch serving op for req. Only the detailed report
// without a segment is computed live.
func RouteFor(req Request, op Operation) Route {
	if op == OpDetailed && strings.TrimSpace(req.Segment) == "" {
		return RouteLive
	}
	return RouteArchived
}

// DetailedResult is the detailed report. Live requests fill Rows; a
// segmented request is served the archived URL rollup in URLs.
type DetailedResult struct {
	Route Route
	Rows  []models.DetailedConversionRow
	URLs  []models.UrlRollupRow
}

// Len returns the number of rows in whichever table is set.
func (r *DetailedResult) Len() int {
	if r.Route == RouteLive {
		return len(r.Rows)
	}
	return len(r.URLs)
}

// Service exposes the public reports. Failures of the chosen branch are
// returned as is; there is no fallback to the other branch.
type Service struct {
	live   *LiveAggregator
	reader *Reader
	now    func() time.Time
}

// NewService wires the live and archived branches.
func NewService(rows storage.RowStore, goals storage.GoalStore, archive storage.RollupStore) *Service {
	return &Service{
		live:   NewLiveAggregator(rows, goals),
		reader: NewReader(archive),
		now:    time.Now,
	}
}

// WithClock replaces the clock used to resolve relative dates.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Resolve validates req and returns its window and segment.
func (s *Service) Resolve(req Request) (period.Window, segment.Segment, error) {
	if req.SiteID <= 0 {
		return period.Window{}, segment.Segment{}, fmt.Errorf("%w: %d", ErrInvalidSite, req.SiteID)
	}
	w, err := period.Parse(req.Period, req.Date, s.now())
	if err != nil {
		return period.Window{}, segment.Segment{}, err
	}
	seg, err := segment.Parse(req.Segment)
	if err != nil {
		return period.Window{}, segment.Segment{}, err
	}
	return w, seg, nil
}

// GoalUrlsDetailed returns one row per conversion, newest first.
func (s *Service) GoalUrlsDetailed(ctx context.Context, req Request) (*DetailedResult, error) {
	w, seg, err := s.Resolve(req)
	if err != nil {
		return nil, err
	}

	route := RouteFor(req, OpDetailed)
	if route == RouteLive {
		rows, err := s.live.ComputeDetailed(ctx, req.SiteID, w, req.Limit)
		if err != nil {
			return nil, err
		}
		return &DetailedResult{Route: route, Rows: rows}, nil
	}

	urls, err := s.reader.URLs(ctx, req.SiteID, w, seg)
	if err != nil {
		return nil, err
	}
	return &DetailedResult{Route: route, URLs: truncate(urls, req.Limit)}, nil
}

// GoalUrlsAggregate returns the archived URL rollup.
func (s *Service) GoalUrlsAggregate(ctx context.Context, req Request) ([]models.UrlRollupRow, error) {
	w, seg, err := s.Resolve(req)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.URLs(ctx, req.SiteID, w, seg)
	if err != nil {
		return nil, err
	}
	return truncate(rows, req.Limit), nil
}

// GoalUrlsByChannel returns the archived channel rollup.
func (s *Service) GoalUrlsByChannel(ctx context.Context, req Request) ([]models.ChannelRollupRow, error) {
	w, seg, err := s.Resolve(req)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.Channels(ctx, req.SiteID, w, seg)
	if err != nil {
		return nil, err
	}
	return truncate(rows, req.Limit), nil
}

// GoalUrlsBySource returns the archived source rollup.
func (s *Service) GoalUrlsBySource(ctx context.Context, req Request) ([]models.SourceRollupRow, error) {
	w, seg, err := s.Resolve(req)
	if err != nil {
		return nil, err
	}
	rows, err := s.reader.Sources(ctx, req.SiteID, w, seg)
	if err != nil {
		return nil, err
	}
	return truncate(rows, req.Limit), nil
}

// TotalGoalConversions returns the archived total conversion count.
func (s *Service) TotalGoalConversions(ctx context.Context, req Request) (int64, error) {
	w, seg, err := s.Resolve(req)
	if err != nil {
		return 0, err
	}
	return s.reader.TotalConversions(ctx, req.SiteID, w, seg)
}

// UniqueGoalUrls returns the archived distinct URL count.
func (s *Service) UniqueGoalUrls(ctx context.Context, req Request) (int64, error) {
	w, seg, err := s.Resolve(req)
	if err != nil {
		return 0, err
	}
	return s.reader.UniqueURLs(ctx, req.SiteID, w, seg)
}
