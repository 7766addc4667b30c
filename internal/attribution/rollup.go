package attribution

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/radiusdt/enhanced-attribution/internal/models"
	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

// MaxRollupRows caps each persisted rollup table.
const MaxRollupRows = 1000

// Rollup is the output of one archive build.
type Rollup struct {
	URLs     []models.UrlRollupRow
	Channels []models.ChannelRollupRow
	Sources  []models.SourceRollupRow
	Summary  models.SummaryMetrics
}

// Builder computes rollups from raw conversions and persists them.
// Concurrent builds of the same archive key must be serialized by the
// caller. Each table is its own query, so the tables only agree with each
// other when the window's raw rows do not change during the build.
type Builder struct {
	rows    storage.RowStore
	archive storage.RollupStore
	maxRows int
}

// NewBuilder creates a rollup builder.
func NewBuilder(rows storage.RowStore, archive storage.RollupStore) *Builder {
	return &Builder{rows: rows, archive: archive, maxRows: MaxRollupRows}
}

// Build computes all five records for a site, window and segment and
// writes them to the rollup store. Rebuilding identical input writes
// byte-identical records.
func (b *Builder) Build(ctx context.Context, siteID int64, w period.Window, seg segment.Segment) (*Rollup, error) {
	r, err := b.Compute(ctx, siteID, w, seg)
	if err != nil {
		return nil, err
	}
	if err := b.persist(ctx, storage.NewArchiveKey(siteID, w, seg, ""), r); err != nil {
		return nil, err
	}
	return r, nil
}

// Compute runs the aggregation without persisting anything.
func (b *Builder) Compute(ctx context.Context, siteID int64, w period.Window, seg segment.Segment) (*Rollup, error) {
	base := storage.DimensionQuery{
		SiteID:      siteID,
		Window:      w,
		Segment:     seg,
		NonEmptyURL: true,
		Aggregates:  []storage.Aggregate{storage.AggregateRevenue},
	}

	urls, err := b.urlRollup(ctx, base)
	if err != nil {
		return nil, err
	}
	channels, err := b.channelRollup(ctx, base)
	if err != nil {
		return nil, err
	}
	sources, err := b.sourceRollup(ctx, base)
	if err != nil {
		return nil, err
	}
	total, err := b.totalConversions(ctx, base)
	if err != nil {
		return nil, err
	}

	return &Rollup{
		URLs:     truncate(urls, b.maxRows),
		Channels: truncate(channels, b.maxRows),
		Sources:  truncate(sources, b.maxRows),
		Summary: models.SummaryMetrics{
			TotalGoalConversions: total,
			UniqueGoalUrls:       int64(len(urls)),
		},
	}, nil
}

// =============================================
// Aggregations
// =============================================

func (b *Builder) urlRollup(ctx context.Context, q storage.DimensionQuery) ([]models.UrlRollupRow, error) {
	q.Dimensions = []storage.Dimension{storage.DimensionURL}

	result := make([]models.UrlRollupRow, 0)
	err := each(ctx, b.rows, q, func(row storage.DimensionRow) error {
		url := row.Values[storage.DimensionURL]
		if url == "" {
			return nil
		}
		m := metricsOf(row)
		result = append(result, models.UrlRollupRow{
			ConversionURL:     url,
			ConversionMetrics: m,
			AvgOrderRevenue:   avgOrderRevenue(row.Aggregates[storage.AggregateRevenue], m.NbConversions),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(result, func(x, y models.UrlRollupRow) int {
		if c := cmp.Compare(y.NbConversions, x.NbConversions); c != 0 {
			return c
		}
		return cmp.Compare(x.ConversionURL, y.ConversionURL)
	})
	return result, nil
}

func (b *Builder) channelRollup(ctx context.Context, q storage.DimensionQuery) ([]models.ChannelRollupRow, error) {
	q.Dimensions = []storage.Dimension{storage.DimensionReferrerType}

	byChannel := make(map[models.Channel]*models.ChannelRollupRow)
	revenue := make(map[models.Channel]float64)
	err := each(ctx, b.rows, q, func(row storage.DimensionRow) error {
		refType, err := referrerType(row)
		if err != nil {
			return err
		}
		ch := ChannelLabel(refType)
		m := metricsOf(row)
		acc, ok := byChannel[ch]
		if !ok {
			acc = &models.ChannelRollupRow{Label: ch}
			byChannel[ch] = acc
		}
		acc.NbConversions += m.NbConversions
		// Distinct counts are per referrer type. A visit that converted under
		// two types folded into the same label counts twice.
		acc.NbVisitsConverted += m.NbVisitsConverted
		acc.NbVisitorsConverted += m.NbVisitorsConverted
		revenue[ch] += row.Aggregates[storage.AggregateRevenue]
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]models.ChannelRollupRow, 0, len(byChannel))
	for ch, row := range byChannel {
		row.Revenue = roundRevenue(revenue[ch])
		result = append(result, *row)
	}
	slices.SortStableFunc(result, func(x, y models.ChannelRollupRow) int {
		if c := cmp.Compare(y.NbConversions, x.NbConversions); c != 0 {
			return c
		}
		return cmp.Compare(x.Label, y.Label)
	})
	return result, nil
}

func (b *Builder) sourceRollup(ctx context.Context, q storage.DimensionQuery) ([]models.SourceRollupRow, error) {
	q.Dimensions = []storage.Dimension{storage.DimensionReferrerType, storage.DimensionReferrerName}

	result := make([]models.SourceRollupRow, 0)
	err := each(ctx, b.rows, q, func(row storage.DimensionRow) error {
		refType, err := referrerType(row)
		if err != nil {
			return err
		}
		name := row.Values[storage.DimensionReferrerName]
		result = append(result, models.SourceRollupRow{
			Label:             SourceLabel(refType, name),
			ReferrerType:      refType,
			ReferrerName:      name,
			ConversionMetrics: metricsOf(row),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(result, func(x, y models.SourceRollupRow) int {
		if c := cmp.Compare(y.NbConversions, x.NbConversions); c != 0 {
			return c
		}
		if c := cmp.Compare(x.Label, y.Label); c != 0 {
			return c
		}
		if c := cmp.Compare(x.ReferrerType, y.ReferrerType); c != 0 {
			return c
		}
		return cmp.Compare(x.ReferrerName, y.ReferrerName)
	})
	return result, nil
}

func (b *Builder) totalConversions(ctx context.Context, q storage.DimensionQuery) (int64, error) {
	q.Dimensions = nil
	q.Aggregates = nil

	var total int64
	err := each(ctx, b.rows, q, func(row storage.DimensionRow) error {
		total += row.NbConversions
		return nil
	})
	return total, err
}

// =============================================
// Persistence
// =============================================

func (b *Builder) persist(ctx context.Context, key storage.ArchiveKey, r *Rollup) error {
	blobs := []struct {
		record string
		rows   any
	}{
		{models.RecordGoalUrlsAggregate, r.URLs},
		{models.RecordGoalUrlsByChannel, r.Channels},
		{models.RecordGoalUrlsBySource, r.Sources},
	}
	for _, blob := range blobs {
		data, err := json.Marshal(blob.rows)
		if err != nil {
			return fmt.Errorf("encode %s: %w", blob.record, err)
		}
		if err := b.archive.PutBlob(ctx, key.WithRecord(blob.record), data); err != nil {
			return err
		}
	}

	if err := b.archive.PutNumeric(ctx, key.WithRecord(models.RecordTotalGoalConversions), float64(r.Summary.TotalGoalConversions)); err != nil {
		return err
	}
	return b.archive.PutNumeric(ctx, key.WithRecord(models.RecordUniqueGoalUrls), float64(r.Summary.UniqueGoalUrls))
}

// =============================================
// Helpers
// =============================================

func each(ctx context.Context, rows storage.RowStore, q storage.DimensionQuery, fn func(storage.DimensionRow) error) error {
	it, err := rows.QueryByDimension(ctx, q)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		if err := fn(it.Row()); err != nil {
			return err
		}
	}
	return it.Err()
}

func metricsOf(row storage.DimensionRow) models.ConversionMetrics {
	return models.ConversionMetrics{
		NbConversions:       row.NbConversions,
		NbVisitsConverted:   row.NbVisitsConverted,
		NbVisitorsConverted: row.NbVisitorsConverted,
		Revenue:             roundRevenue(row.Aggregates[storage.AggregateRevenue]),
	}
}

func referrerType(row storage.DimensionRow) (int, error) {
	v := row.Values[storage.DimensionReferrerType]
	t, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("referrer type %q: %w", v, err)
	}
	return t, nil
}

func avgOrderRevenue(revenue float64, conversions int64) float64 {
	if conversions == 0 {
		return 0
	}
	return roundRevenue(revenue / float64(conversions))
}

func roundRevenue(v float64) float64 {
	return math.Round(v*100) / 100
}

func truncate[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}
