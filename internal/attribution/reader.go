package attribution

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/radiusdt/enhanced-attribution/internal/models"
	"github.com/radiusdt/enhanced-attribution/internal/period"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

// Reader serves archived records. It never triggers a build: a missing
// record reads as an empty table or zero.
type Reader struct {
	archive storage.RollupStore
}

// NewReader creates a rollup reader.
func NewReader(archive storage.RollupStore) *Reader {
	return &Reader{archive: archive}
}

// URLs reads the URL rollup.
func (r *Reader) URLs(ctx context.Context, siteID int64, w period.Window, seg segment.Segment) ([]models.UrlRollupRow, error) {
	return readTable[models.UrlRollupRow](ctx, r.archive, storage.NewArchiveKey(siteID, w, seg, models.RecordGoalUrlsAggregate))
}

// Channels reads the channel rollup.
func (r *Reader) Channels(ctx context.Context, siteID int64, w period.Window, seg segment.Segment) ([]models.ChannelRollupRow, error) {
	return readTable[models.ChannelRollupRow](ctx, r.archive, storage.NewArchiveKey(siteID, w, seg, models.RecordGoalUrlsByChannel))
}

// Sources reads the source rollup.
func (r *Reader) Sources(ctx context.Context, siteID int64, w period.Window, seg segment.Segment) ([]models.SourceRollupRow, error) {
	return readTable[models.SourceRollupRow](ctx, r.archive, storage.NewArchiveKey(siteID, w, seg, models.RecordGoalUrlsBySource))
}

// TotalConversions reads the total conversion count.
func (r *Reader) TotalConversions(ctx context.Context, siteID int64, w period.Window, seg segment.Segment) (int64, error) {
	return readCount(ctx, r.archive, storage.NewArchiveKey(siteID, w, seg, models.RecordTotalGoalConversions))
}

// UniqueURLs reads the distinct conversion URL count.
func (r *Reader) UniqueURLs(ctx context.Context, siteID int64, w period.Window, seg segment.Segment) (int64, error) {
	return readCount(ctx, r.archive, storage.NewArchiveKey(siteID, w, seg, models.RecordUniqueGoalUrls))
}

func readTable[T any](ctx context.Context, archive storage.RollupStore, key storage.ArchiveKey) ([]T, error) {
	blob, found, err := archive.GetBlob(ctx, key)
	if err != nil {
		return nil, err
	}
	rows := make([]T, 0)
	if !found {
		return rows, nil
	}
	if err := json.Unmarshal(blob, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", key.Record, storage.ErrUnavailable, err)
	}
	if rows == nil {
		rows = make([]T, 0)
	}
	return rows, nil
}

func readCount(ctx context.Context, archive storage.RollupStore, key storage.ArchiveKey) (int64, error) {
	v, found, err := archive.GetNumeric(ctx, key)
	if err != nil || !found {
		return 0, err
	}
	return int64(v), nil
}
