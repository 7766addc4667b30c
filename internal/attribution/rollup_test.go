package attribution_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiusdt/enhanced-attribution/internal/attribution"
	"github.com/radiusdt/enhanced-attribution/internal/models"
	"github.com/radiusdt/enhanced-attribution/internal/segment"
	"github.com/radiusdt/enhanced-attribution/internal/storage"
)

var allRecords = []string{
	models.RecordGoalUrlsAggregate,
	models.RecordGoalUrlsByChannel,
	models.RecordGoalUrlsBySource,
}

func TestBuild_URLRollup(t *testing.T) {
	store := newStore(
		event{visit: 1, url: "/a", at: "08:00:00", refType: models.ReferrerTypeDirectEntry, revenue: 10},
		event{visit: 2, url: "/a", at: "09:00:00", refType: models.ReferrerTypeDirectEntry, revenue: 5.5},
		event{visit: 3, url: "/b", at: "10:00:00", refType: models.ReferrerTypeDirectEntry},
	)
	b := attribution.NewBuilder(store, storage.NewInMemoryRollupStore())

	r, err := b.Build(context.Background(), 1, may15, segment.Segment{})
	require.NoError(t, err)

	require.Len(t, r.URLs, 2)
	assert.Equal(t, "/a", r.URLs[0].ConversionURL)
	assert.Equal(t, int64(2), r.URLs[0].NbConversions)
	assert.Equal(t, int64(2), r.URLs[0].NbVisitsConverted)
	assert.Equal(t, 15.5, r.URLs[0].Revenue)
	assert.Equal(t, 7.75, r.URLs[0].AvgOrderRevenue)
	assert.Equal(t, "/b", r.URLs[1].ConversionURL)
	assert.Equal(t, int64(1), r.URLs[1].NbConversions)
	assert.Zero(t, r.URLs[1].AvgOrderRevenue)

	assert.Equal(t, models.SummaryMetrics{TotalGoalConversions: 3, UniqueGoalUrls: 2}, r.Summary)
}

func TestBuild_ExcludesEmptyURL(t *testing.T) {
	store := newStore(
		event{visit: 1, url: "/a", at: "08:00:00", refType: models.ReferrerTypeSearchEngine, refName: "Google"},
		event{visit: 2, url: "", at: "09:00:00", refType: models.ReferrerTypeWebsite, refName: "blog.example"},
	)
	b := attribution.NewBuilder(store, storage.NewInMemoryRollupStore())

	r, err := b.Build(context.Background(), 1, may15, segment.Segment{})
	require.NoError(t, err)

	assert.Equal(t, models.SummaryMetrics{TotalGoalConversions: 1, UniqueGoalUrls: 1}, r.Summary)
	require.Len(t, r.Channels, 1)
	assert.Equal(t, models.ChannelSearch, r.Channels[0].Label)
	require.Len(t, r.Sources, 1)
	assert.Equal(t, "Google", r.Sources[0].Label)
}

func TestBuild_ChannelRollupMergesUnknownTypes(t *testing.T) {
	store := newStore(
		event{visit: 1, url: "/a", at: "08:00:00", refType: 0, revenue: 1},
		event{visit: 2, url: "/a", at: "08:00:00", refType: 4, revenue: 2},
		event{visit: 3, url: "/a", at: "08:00:00", refType: 5, revenue: 3},
		event{visit: 4, url: "/a", at: "08:00:00", refType: models.ReferrerTypeSocialNetwork, refName: "twitter"},
		event{visit: 5, url: "/a", at: "08:00:00", refType: models.ReferrerTypeSocialNetwork, refName: "facebook"},
	)
	b := attribution.NewBuilder(store, storage.NewInMemoryRollupStore())

	r, err := b.Build(context.Background(), 1, may15, segment.Segment{})
	require.NoError(t, err)

	require.Len(t, r.Channels, 2)
	assert.Equal(t, models.ChannelUnknown, r.Channels[0].Label)
	assert.Equal(t, int64(3), r.Channels[0].NbConversions)
	assert.Equal(t, 6.0, r.Channels[0].Revenue)
	assert.Equal(t, models.ChannelSocial, r.Channels[1].Label)
	assert.Equal(t, int64(2), r.Channels[1].NbConversions)
}

func TestBuild_ChannelRollupSumsDistinctCountsAcrossMergedTypes(t *testing.T) {
	store := newStore(
		event{visit: 1, url: "/a", at: "08:00:00", refType: 4},
		event{visit: 1, url: "/b", at: "09:00:00", refType: 5},
	)
	b := attribution.NewBuilder(store, storage.NewInMemoryRollupStore())

	r, err := b.Build(context.Background(), 1, may15, segment.Segment{})
	require.NoError(t, err)

	require.Len(t, r.Channels, 1)
	assert.Equal(t, models.ChannelUnknown, r.Channels[0].Label)
	assert.Equal(t, int64(2), r.Channels[0].NbConversions)
	assert.Equal(t, int64(2), r.Channels[0].NbVisitsConverted)
	assert.Equal(t, int64(2), r.Channels[0].NbVisitorsConverted)

	require.Len(t, r.URLs, 2)
	assert.Equal(t, int64(1), r.URLs[0].NbVisitsConverted)
}

func TestBuild_SourceRollupLabels(t *testing.T) {
	store := newStore(
		event{visit: 1, url: "/a", at: "08:00:00", refType: models.ReferrerTypeDirectEntry},
		event{visit: 2, url: "/a", at: "08:00:00", refType: models.ReferrerTypeDirectEntry},
		event{visit: 3, url: "/a", at: "08:00:00", refType: models.ReferrerTypeCampaign},
		event{visit: 4, url: "/a", at: "08:00:00", refType: models.ReferrerTypeCampaign, refName: "Spring Sale"},
		event{visit: 5, url: "/a", at: "08:00:00", refType: models.ReferrerTypeSearchEngine},
	)
	b := attribution.NewBuilder(store, storage.NewInMemoryRollupStore())

	r, err := b.Build(context.Background(), 1, may15, segment.Segment{})
	require.NoError(t, err)

	labels := make([]string, 0, len(r.Sources))
	for _, s := range r.Sources {
		labels = append(labels, s.Label)
	}
	assert.Equal(t, []string{"Direct", "Spring Sale", "Unknown", "Unknown Campaign"}, labels)
	assert.Equal(t, int64(2), r.Sources[0].NbConversions)
	assert.Equal(t, models.ReferrerTypeSearchEngine, r.Sources[2].ReferrerType)
}

func TestBuild_Conservation(t *testing.T) {
	var events []event
	for i := 0; i < 40; i++ {
		events = append(events, event{
			visit:   int64(i % 17),
			url:     fmt.Sprintf("/p/%d", i%9),
			at:      fmt.Sprintf("%02d:00:00", i%24),
			refType: []int{0, 1, 2, 3, 6, 7}[i%6],
			refName: []string{"", "x", "y"}[i%3],
			revenue: float64(i) * 1.25,
		})
	}
	b := attribution.NewBuilder(newStore(events...), storage.NewInMemoryRollupStore())

	r, err := b.Build(context.Background(), 1, may15, segment.Segment{})
	require.NoError(t, err)

	var byURL, byChannel, bySource int64
	for _, row := range r.URLs {
		byURL += row.NbConversions
	}
	for _, row := range r.Channels {
		byChannel += row.NbConversions
	}
	for _, row := range r.Sources {
		bySource += row.NbConversions
	}
	assert.Equal(t, int64(40), r.Summary.TotalGoalConversions)
	assert.Equal(t, r.Summary.TotalGoalConversions, byURL)
	assert.Equal(t, r.Summary.TotalGoalConversions, byChannel)
	assert.Equal(t, r.Summary.TotalGoalConversions, bySource)
	assert.Equal(t, int64(9), r.Summary.UniqueGoalUrls)
}

func TestBuild_Idempotent(t *testing.T) {
	var events []event
	for i := 0; i < 60; i++ {
		events = append(events, event{
			visit:   int64(i),
			url:     fmt.Sprintf("/p/%d", i%7),
			at:      "12:00:00",
			refType: []int{1, 2, 3, 6, 7, 9}[i%6],
			refName: fmt.Sprintf("ref-%d", i%4),
			revenue: 0.1 * float64(i),
		})
	}
	store := newStore(events...)
	archive := storage.NewInMemoryRollupStore()
	b := attribution.NewBuilder(store, archive)
	ctx := context.Background()

	snapshot := func() map[string][]byte {
		out := map[string][]byte{}
		for _, record := range allRecords {
			blob, found, err := archive.GetBlob(ctx, storage.NewArchiveKey(1, may15, segment.Segment{}, record))
			require.NoError(t, err)
			require.True(t, found, record)
			out[record] = blob
		}
		return out
	}

	first, err := b.Build(ctx, 1, may15, segment.Segment{})
	require.NoError(t, err)
	blobs := snapshot()

	second, err := b.Build(ctx, 1, may15, segment.Segment{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, blobs, snapshot())
	assert.Equal(t, 5, archive.Len())
}

func TestBuild_Truncation(t *testing.T) {
	var events []event
	visit := int64(0)
	// 1005 URLs; /hot/N carry 3 conversions, the rest one each
	for i := 0; i < 1005; i++ {
		url := fmt.Sprintf("/cold/%04d", i)
		n := 1
		if i < 10 {
			url = fmt.Sprintf("/hot/%d", i)
			n = 3
		}
		for j := 0; j < n; j++ {
			visit++
			events = append(events, event{visit: visit, url: url, at: "10:00:00", refType: 2, refName: url})
		}
	}
	b := attribution.NewBuilder(newStore(events...), storage.NewInMemoryRollupStore())

	r, err := b.Build(context.Background(), 1, may15, segment.Segment{})
	require.NoError(t, err)

	assert.Len(t, r.URLs, attribution.MaxRollupRows)
	assert.Len(t, r.Sources, attribution.MaxRollupRows)
	assert.Len(t, r.Channels, 1)
	assert.Equal(t, int64(1005), r.Summary.UniqueGoalUrls)
	assert.Equal(t, int64(1025), r.Summary.TotalGoalConversions)

	for i := 0; i < 10; i++ {
		assert.Equal(t, int64(3), r.URLs[i].NbConversions)
	}
	assert.Equal(t, "/hot/0", r.URLs[0].ConversionURL)
	// ties break by URL ascending, so the highest cold URLs are dropped
	assert.Equal(t, "/cold/0999", r.URLs[len(r.URLs)-1].ConversionURL)
	for i := 1; i < len(r.URLs); i++ {
		assert.GreaterOrEqual(t, r.URLs[i-1].NbConversions, r.URLs[i].NbConversions)
	}
}

func TestBuild_ZeroConversionGuard(t *testing.T) {
	rows := urlRows{rows: []storage.DimensionRow{{
		Values:     map[storage.Dimension]string{storage.DimensionURL: "/ghost"},
		Aggregates: map[storage.Aggregate]float64{storage.AggregateRevenue: 12},
	}}}
	b := attribution.NewBuilder(rows, storage.NewInMemoryRollupStore())

	r, err := b.Build(context.Background(), 1, may15, segment.Segment{})
	require.NoError(t, err)
	require.Len(t, r.URLs, 1)
	assert.Equal(t, 0.0, r.URLs[0].AvgOrderRevenue)
	assert.Equal(t, 12.0, r.URLs[0].Revenue)
}

func TestBuild_Segmented(t *testing.T) {
	store := newStore(
		event{visit: 1, url: "/a", at: "08:00:00", refType: models.ReferrerTypeSearchEngine, refName: "Google"},
		event{visit: 2, url: "/b", at: "08:00:00", refType: models.ReferrerTypeDirectEntry},
	)
	archive := storage.NewInMemoryRollupStore()
	b := attribution.NewBuilder(store, archive)
	ctx := context.Background()

	seg := segment.MustParse("referrerType==search")
	r, err := b.Build(ctx, 1, may15, seg)
	require.NoError(t, err)
	assert.Equal(t, models.SummaryMetrics{TotalGoalConversions: 1, UniqueGoalUrls: 1}, r.Summary)

	_, found, err := archive.GetNumeric(ctx, storage.NewArchiveKey(1, may15, segment.Segment{}, models.RecordTotalGoalConversions))
	require.NoError(t, err)
	assert.False(t, found)

	v, found, err := archive.GetNumeric(ctx, storage.NewArchiveKey(1, may15, seg, models.RecordTotalGoalConversions))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1.0, v)
}

func TestBuild_EmptyWindowPersistsEmptyTables(t *testing.T) {
	archive := storage.NewInMemoryRollupStore()
	b := attribution.NewBuilder(newStore(), archive)
	ctx := context.Background()

	_, err := b.Build(ctx, 1, may15, segment.Segment{})
	require.NoError(t, err)

	blob, found, err := archive.GetBlob(ctx, storage.NewArchiveKey(1, may15, segment.Segment{}, models.RecordGoalUrlsAggregate))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "[]", string(blob))
}
