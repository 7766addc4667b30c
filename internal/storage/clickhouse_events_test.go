package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var conversionColumns = []string{
	"idgoal", "idvisit", "server_time", "visitor_id", "url", "referer_name", "referer_type",
	"campaign_medium", "campaign_source", "revenue", "visitor_count_visits", "visitor_returning",
	"location_country", "location_city", "config_os", "config_browser_name", "config_device_type",
}

func newMockClickHouse(t *testing.T) (*ClickHouseEventStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewClickHouseEventStore(db, NewTables("")), mock
}

func TestClickHouseEventStore_FetchConversions(t *testing.T) {
	store, mock := newMockClickHouse(t)
	ts := time.Date(2025, 5, 15, 14, 3, 7, 0, time.UTC)

	mock.ExpectQuery(`FROM log_conversion c\s+INNER JOIN log_visit v`).
		WithArgs(int64(1), "2025-05-15 00:00:00", "2025-05-15 23:59:59").
		WillReturnRows(sqlmock.NewRows(conversionColumns).
			AddRow(int64(3), int64(42), ts, "a1b2", "https://shop/thanks", "Google", int64(2),
				"", "", 19.5, int64(4), int64(1), "de", "Berlin", "LIN", "FF", "desktop").
			AddRow(int64(3), int64(43), ts, "c3d4", "https://shop/thanks", "", int64(1),
				"", "", 0.0, nil, int64(0), "", "", "", "", ""))

	recs, err := store.FetchConversions(context.Background(), ConversionQuery{SiteID: 1, Window: may15})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, int64(1), first.SiteID)
	assert.Equal(t, int64(42), first.VisitID)
	assert.Equal(t, "a1b2", first.VisitorID)
	assert.Equal(t, ts, first.Timestamp)
	assert.Equal(t, 2, first.ReferrerType)
	assert.True(t, first.Visit.IsReturning)
	require.NotNil(t, first.Visit.VisitCount)
	assert.Equal(t, int64(4), *first.Visit.VisitCount)

	assert.Nil(t, recs[1].Visit.VisitCount)
	assert.False(t, recs[1].Visit.IsReturning)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseEventStore_QueryByDimension(t *testing.T) {
	store, mock := newMockClickHouse(t)

	mock.ExpectQuery(`GROUP BY COALESCE\(c.referer_type, 0\)`).
		WillReturnRows(sqlmock.NewRows([]string{"referer_type", "nb_conversions", "nb_visits_converted", "nb_visitors_converted"}).
			AddRow(int64(1), int64(5), int64(4), int64(3)).
			AddRow(int64(2), int64(2), int64(2), int64(2)))

	it, err := store.QueryByDimension(context.Background(), DimensionQuery{
		SiteID:     1,
		Window:     may15,
		Dimensions: []Dimension{DimensionReferrerType},
	})
	require.NoError(t, err)

	var rows []DimensionRow
	for it.Next() {
		rows = append(rows, it.Row())
	}
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())

	require.Len(t, rows, 2)
	assert.Equal(t, "1", rows[0].Values[DimensionReferrerType])
	assert.Equal(t, int64(5), rows[0].NbConversions)
	assert.Equal(t, int64(3), rows[0].NbVisitorsConverted)
	assert.Equal(t, "2", rows[1].Values[DimensionReferrerType])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseEventStore_GoalNames(t *testing.T) {
	store, mock := newMockClickHouse(t)

	mock.ExpectQuery(`SELECT idgoal, name FROM goal WHERE idsite = \?`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"idgoal", "name"}).
			AddRow(int64(1), "Signup").
			AddRow(int64(2), "Purchase"))

	names, err := store.GoalNames(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{1: "Signup", 2: "Purchase"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClickHouseEventStore_Unavailable(t *testing.T) {
	store, mock := newMockClickHouse(t)
	boom := errors.New("dial tcp: connection refused")

	mock.ExpectQuery(`FROM log_conversion`).WillReturnError(boom)

	_, err := store.FetchConversions(context.Background(), ConversionQuery{SiteID: 1, Window: may15})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, boom)
}
