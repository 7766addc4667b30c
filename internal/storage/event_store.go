package storage

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/radiusdt/enhanced-attribution/internal/models"
)

// InMemoryEventStore keeps conversion records and goals in memory. It
// implements RowStore and GoalStore and serves tests and local runs.
type InMemoryEventStore struct {
	mu          sync.RWMutex
	conversions []models.ConversionRecord
	goals       map[int64]map[int64]string // site -> goal -> name

	// failWith makes every query fail, for exercising error paths
	failWith error
}

// NewInMemoryEventStore creates an empty store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		goals: make(map[int64]map[int64]string),
	}
}

// =============================================
// Writes
// =============================================

// AddConversions appends records in storage order.
func (s *InMemoryEventStore) AddConversions(recs ...models.ConversionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversions = append(s.conversions, recs...)
}

// AddGoal registers a goal name.
func (s *InMemoryEventStore) AddGoal(g models.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	site, ok := s.goals[g.SiteID]
	if !ok {
		site = make(map[int64]string)
		s.goals[g.SiteID] = site
	}
	site[g.GoalID] = g.Name
}

// FailWith makes subsequent queries return err wrapped as ErrUnavailable.
// A nil err restores normal operation.
func (s *InMemoryEventStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// =============================================
// RowStore
// =============================================

func (s *InMemoryEventStore) FetchConversions(ctx context.Context, q ConversionQuery) ([]models.ConversionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, unavailable("fetch conversions", s.failWith)
	}

	result := make([]models.ConversionRecord, 0)
	for _, rec := range s.conversions {
		if rec.SiteID != q.SiteID || rec.URL == "" || !q.Window.Contains(rec.Timestamp) {
			continue
		}
		result = append(result, rec)
	}

	// Stable keeps storage order among equal timestamps.
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})

	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

type memoryGroup struct {
	values   map[Dimension]string
	count    int64
	visits   map[int64]struct{}
	visitors map[string]struct{}
	revenue  float64
}

func (s *InMemoryEventStore) QueryByDimension(ctx context.Context, q DimensionQuery) (RowIterator, error) {
	if err := validateDimensions(q.Dimensions); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, unavailable("query by dimension", s.failWith)
	}

	groups := make(map[string]*memoryGroup)
	for i := range s.conversions {
		rec := &s.conversions[i]
		if rec.SiteID != q.SiteID || !q.Window.Contains(rec.Timestamp) {
			continue
		}
		if q.NonEmptyURL && rec.URL == "" {
			continue
		}
		if !q.Segment.Match(rec) {
			continue
		}

		values := make(map[Dimension]string, len(q.Dimensions))
		parts := make([]string, 0, len(q.Dimensions))
		for _, d := range q.Dimensions {
			v := dimensionValue(rec, d)
			values[d] = v
			parts = append(parts, v)
		}
		key := strings.Join(parts, "\x00")

		g, ok := groups[key]
		if !ok {
			g = &memoryGroup{
				values:   values,
				visits:   make(map[int64]struct{}),
				visitors: make(map[string]struct{}),
			}
			groups[key] = g
		}
		g.count++
		g.visits[rec.VisitID] = struct{}{}
		g.visitors[rec.VisitorID] = struct{}{}
		g.revenue += rec.Revenue
	}

	// A total query always yields one row, like SQL aggregates without GROUP BY.
	if len(q.Dimensions) == 0 && len(groups) == 0 {
		groups[""] = &memoryGroup{values: map[Dimension]string{}}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([]DimensionRow, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		row := DimensionRow{
			Values:              g.values,
			NbConversions:       g.count,
			NbVisitsConverted:   int64(len(g.visits)),
			NbVisitorsConverted: int64(len(g.visitors)),
		}
		if len(q.Aggregates) > 0 {
			row.Aggregates = make(map[Aggregate]float64, len(q.Aggregates))
			for _, a := range q.Aggregates {
				if a == AggregateRevenue {
					row.Aggregates[a] = g.revenue
				}
			}
		}
		rows = append(rows, row)
	}
	return newSliceIterator(rows), nil
}

func dimensionValue(rec *models.ConversionRecord, d Dimension) string {
	switch d {
	case DimensionURL:
		return rec.URL
	case DimensionReferrerType:
		return strconv.Itoa(rec.ReferrerType)
	case DimensionReferrerName:
		return rec.ReferrerName
	}
	return ""
}

// =============================================
// GoalStore
// =============================================

func (s *InMemoryEventStore) GoalNames(ctx context.Context, siteID int64) (map[int64]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failWith != nil {
		return nil, unavailable("goal names", s.failWith)
	}

	names := make(map[int64]string, len(s.goals[siteID]))
	for id, name := range s.goals[siteID] {
		names[id] = name
	}
	return names, nil
}
