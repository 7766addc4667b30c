package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/radiusdt/enhanced-attribution/internal/models"
	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
)

// ErrUnavailable wraps every failure to reach or query a store. Callers
// distinguish it from empty results with errors.Is.
var ErrUnavailable = errors.New("storage unavailable")

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// =============================================
// ROW STORE
// =============================================

// Dimension is a groupable conversion column.
type Dimension string

const (
	DimensionURL          Dimension = "url"
	DimensionReferrerType Dimension = "referer_type"
	DimensionReferrerName Dimension = "referer_name"
)

// Aggregate is an extra aggregate column requested from QueryByDimension.
type Aggregate string

const (
	AggregateRevenue Aggregate = "revenue"
)

// ConversionQuery selects raw conversions for the live view.
type ConversionQuery struct {
	SiteID int64
	Window period.Window
	// Limit caps the number of rows; 0 means unlimited.
	Limit int
}

// DimensionQuery selects grouped conversion counts. An empty Dimensions
// list collapses everything into a single total row.
type DimensionQuery struct {
	SiteID      int64
	Window      period.Window
	Dimensions  []Dimension
	Segment     segment.Segment
	NonEmptyURL bool
	Aggregates  []Aggregate
}

// DimensionRow is one group returned by QueryByDimension.
type DimensionRow struct {
	Values              map[Dimension]string
	NbConversions       int64
	NbVisitsConverted   int64
	NbVisitorsConverted int64
	Aggregates          map[Aggregate]float64
}

// RowIterator walks the result of a grouped query. Close must be called.
type RowIterator interface {
	Next() bool
	Row() DimensionRow
	Err() error
	Close() error
}

// RowStore is the query surface over raw conversion and visit logs.
type RowStore interface {
	// FetchConversions returns conversions with a non-empty URL joined to
	// their visit, newest first.
	FetchConversions(ctx context.Context, q ConversionQuery) ([]models.ConversionRecord, error)
	// QueryByDimension groups conversions by the requested dimensions.
	QueryByDimension(ctx context.Context, q DimensionQuery) (RowIterator, error)
}

// GoalStore resolves goal names for a site.
type GoalStore interface {
	GoalNames(ctx context.Context, siteID int64) (map[int64]string, error)
}

// =============================================
// ROLLUP STORE
// =============================================

// RollupStore persists archived records. Reads return the latest put.
type RollupStore interface {
	PutBlob(ctx context.Context, key ArchiveKey, blob []byte) error
	GetBlob(ctx context.Context, key ArchiveKey) ([]byte, bool, error)
	PutNumeric(ctx context.Context, key ArchiveKey, value float64) error
	GetNumeric(ctx context.Context, key ArchiveKey) (float64, bool, error)
}

func validDimension(d Dimension) bool {
	switch d {
	case DimensionURL, DimensionReferrerType, DimensionReferrerName:
		return true
	}
	return false
}

func validateDimensions(dims []Dimension) error {
	seen := make(map[Dimension]bool, len(dims))
	for _, d := range dims {
		if !validDimension(d) {
			return fmt.Errorf("unknown dimension %q", d)
		}
		if seen[d] {
			return fmt.Errorf("duplicate dimension %q", d)
		}
		seen[d] = true
	}
	return nil
}

// sliceIterator serves rows already held in memory.
type sliceIterator struct {
	rows []DimensionRow
	pos  int
}

func newSliceIterator(rows []DimensionRow) *sliceIterator {
	return &sliceIterator{rows: rows, pos: -1}
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.rows)
}

func (it *sliceIterator) Row() DimensionRow { return it.rows[it.pos] }
func (it *sliceIterator) Err() error        { return nil }
func (it *sliceIterator) Close() error      { return nil }
