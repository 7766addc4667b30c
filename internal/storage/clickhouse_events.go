package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/radiusdt/enhanced-attribution/internal/models"
)

// ClickHouseEventStore implements RowStore and GoalStore on ClickHouse
// through the clickhouse-go database/sql driver.
type ClickHouseEventStore struct {
	db     *sql.DB
	tables Tables
}

// NewClickHouseEventStore creates a ClickHouse-backed row store.
func NewClickHouseEventStore(db *sql.DB, tables Tables) *ClickHouseEventStore {
	return &ClickHouseEventStore{db: db, tables: tables}
}

// FetchConversions runs the windowed conversion/visit join.
func (s *ClickHouseEventStore) FetchConversions(ctx context.Context, q ConversionQuery) ([]models.ConversionRecord, error) {
	query, args := conversionsSQL(clickhouseDialect, s.tables, q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("fetch conversions", err)
	}
	defer rows.Close()

	result := make([]models.ConversionRecord, 0)
	var scan conversionScan
	for rows.Next() {
		scan = conversionScan{}
		if err := rows.Scan(scan.targets()...); err != nil {
			return nil, unavailable("scan conversion", err)
		}
		result = append(result, scan.record(q.SiteID))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("fetch conversions", err)
	}
	return result, nil
}

// QueryByDimension runs a grouped aggregation and streams its rows.
func (s *ClickHouseEventStore) QueryByDimension(ctx context.Context, q DimensionQuery) (RowIterator, error) {
	query, args, err := dimensionSQL(clickhouseDialect, s.tables, q)
	if err != nil {
		return nil, fmt.Errorf("build dimension query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query by dimension", err)
	}
	return &sqlIterator{rows: rows, scan: newDimensionScan(q)}, nil
}

// GoalNames loads the goal id to name mapping of a site.
func (s *ClickHouseEventStore) GoalNames(ctx context.Context, siteID int64) (map[int64]string, error) {
	rows, err := s.db.QueryContext(ctx, goalsSQL(clickhouseDialect, s.tables), siteID)
	if err != nil {
		return nil, unavailable("goal names", err)
	}
	defer rows.Close()

	names := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, unavailable("scan goal", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("goal names", err)
	}
	return names, nil
}

type sqlIterator struct {
	rows *sql.Rows
	scan *dimensionScan
	row  DimensionRow
	err  error
}

func (it *sqlIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	if err := it.rows.Scan(it.scan.targets()...); err != nil {
		it.err = unavailable("scan dimension row", err)
		return false
	}
	it.row = it.scan.current()
	return true
}

func (it *sqlIterator) Row() DimensionRow { return it.row }

func (it *sqlIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if err := it.rows.Err(); err != nil {
		return unavailable("query by dimension", err)
	}
	return nil
}

func (it *sqlIterator) Close() error {
	return it.rows.Close()
}
