package attribution_test

import (
	"context"
	"fmt"
	"time"

	"github.com/radiusdt/enhanced-attribution/internal/models"
	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

var (
	testNow = time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)
	may15   = period.MustParse(period.Day, "2025-05-15", testNow)
)

type event struct {
	visit      int64
	visitor    string
	url        string
	at         string // HH:MM:SS on 2025-05-15
	refType    int
	refName    string
	medium     string
	source     string
	revenue    float64
	goal       int64
	returning  bool
	visitCount *int64
}

func (e event) record() models.ConversionRecord {
	ts, err := time.Parse("2006-01-02 15:04:05", "2025-05-15 "+e.at)
	if err != nil {
		panic(err)
	}
	goal := e.goal
	if goal == 0 {
		goal = 1
	}
	visitor := e.visitor
	if visitor == "" {
		visitor = fmt.Sprintf("visitor-%d", e.visit)
	}
	return models.ConversionRecord{
		ConversionEvent: models.ConversionEvent{
			SiteID:         1,
			GoalID:         goal,
			VisitID:        e.visit,
			VisitorID:      visitor,
			Timestamp:      ts,
			URL:            e.url,
			ReferrerType:   e.refType,
			ReferrerName:   e.refName,
			CampaignMedium: e.medium,
			CampaignSource: e.source,
			Revenue:        e.revenue,
		},
		Visit: models.VisitContext{
			IsReturning: e.returning,
			VisitCount:  e.visitCount,
		},
	}
}

func newStore(events ...event) *storage.InMemoryEventStore {
	s := storage.NewInMemoryEventStore()
	for _, e := range events {
		s.AddConversions(e.record())
	}
	s.AddGoal(models.Goal{SiteID: 1, GoalID: 1, Name: "Purchase"})
	return s
}

func int64p(v int64) *int64 { return &v }

// urlRows is a RowStore serving fixed rows to URL queries and nothing to
// any other grouping.
type urlRows struct {
	storage.RowStore
	rows []storage.DimensionRow
}

func (r urlRows) QueryByDimension(_ context.Context, q storage.DimensionQuery) (storage.RowIterator, error) {
	if len(q.Dimensions) == 1 && q.Dimensions[0] == storage.DimensionURL {
		return &fixedIterator{rows: r.rows, pos: -1}, nil
	}
	return &fixedIterator{pos: -1}, nil
}

type fixedIterator struct {
	rows []storage.DimensionRow
	pos  int
}

func (it *fixedIterator) Next() bool                { it.pos++; return it.pos < len(it.rows) }
func (it *fixedIterator) Row() storage.DimensionRow { return it.rows[it.pos] }
func (it *fixedIterator) Err() error                { return nil }
func (it *fixedIterator) Close() error              { return nil }
