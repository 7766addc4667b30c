package attribution_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radiusdt/enhanced-attribution/internal/attribution"
	"github.com/radiusdt/enhanced-attribution/internal/models"
)

func TestComputeDetailed_CampaignRow(t *testing.T) {
	store := newStore(event{
		visit:      10,
		visitor:    "3fa2c1",
		url:        "https://shop.example/thanks",
		at:         "14:03:07",
		refType:    models.ReferrerTypeCampaign,
		refName:    "Spring Sale",
		medium:     "cpc",
		source:     "google",
		returning:  true,
		visitCount: int64p(3),
	})
	live := attribution.NewLiveAggregator(store, store)

	rows, err := live.ComputeDetailed(context.Background(), 1, may15, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, models.DetailedConversionRow{
		ConversionURL:      "https://shop.example/thanks",
		Channel:            models.ChannelCampaign,
		Source:             "google",
		CampaignMedium:     "cpc",
		CampaignName:       "Spring Sale",
		GoalID:             1,
		GoalName:           "Purchase",
		ServerTime:         "2025-05-15 14:03:07",
		DateS:              "2025-05-15",
		TimeS:              "14:03:07",
		VisitID:            10,
		VisitorID:          "3fa2c1",
		VisitorCountVisits: "3",
		VisitorReturning:   "returning",
	}, rows[0])
}

func TestComputeDetailed_Defaults(t *testing.T) {
	store := newStore(event{visit: 1, url: "/a", at: "08:00:00", refType: models.ReferrerTypeDirectEntry, goal: 99})
	live := attribution.NewLiveAggregator(store, store)

	rows, err := live.ComputeDetailed(context.Background(), 1, may15, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, "-", row.Source)
	assert.Equal(t, models.ChannelDirect, row.Channel)
	assert.Equal(t, "", row.GoalName)
	assert.Equal(t, "", row.VisitorCountVisits)
	assert.Equal(t, "new", row.VisitorReturning)
	assert.Equal(t, "", row.LocationCountry)
}

func TestComputeDetailed_ExcludesEmptyURL(t *testing.T) {
	store := newStore(
		event{visit: 1, url: "/a", at: "08:00:00", refType: models.ReferrerTypeDirectEntry},
		event{visit: 2, url: "", at: "09:00:00", refType: models.ReferrerTypeDirectEntry},
	)
	live := attribution.NewLiveAggregator(store, store)

	rows, err := live.ComputeDetailed(context.Background(), 1, may15, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/a", rows[0].ConversionURL)
}

func TestComputeDetailed_LimitKeepsMostRecent(t *testing.T) {
	store := newStore(
		event{visit: 1, url: "/a", at: "08:00:00"},
		event{visit: 2, url: "/b", at: "12:00:00"},
		event{visit: 3, url: "/c", at: "09:00:00"},
		event{visit: 4, url: "/d", at: "23:00:00"},
		event{visit: 5, url: "/e", at: "10:00:00"},
	)
	live := attribution.NewLiveAggregator(store, store)

	rows, err := live.ComputeDetailed(context.Background(), 1, may15, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(4), rows[0].VisitID)
	assert.Equal(t, int64(2), rows[1].VisitID)

	all, err := live.ComputeDetailed(context.Background(), 1, may15, -1)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.GreaterOrEqual(t, all[i-1].ServerTime, all[i].ServerTime)
	}
}

func TestComputeDetailed_EmptyResult(t *testing.T) {
	store := newStore()
	live := attribution.NewLiveAggregator(store, store)

	rows, err := live.ComputeDetailed(context.Background(), 1, may15, 0)
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestComputeDetailed_StorageUnavailable(t *testing.T) {
	store := newStore(event{visit: 1, url: "/a", at: "08:00:00"})
	store.FailWith(errors.New("connection reset"))
	live := attribution.NewLiveAggregator(store, store)

	rows, err := live.ComputeDetailed(context.Background(), 1, may15, 0)
	assert.ErrorIs(t, err, attribution.ErrStorageUnavailable)
	assert.Nil(t, rows)
}
