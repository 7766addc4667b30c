package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/radiusdt/enhanced-attribution/internal/models"
)

// PgxQuerier is the part of *pgxpool.Pool the row store needs.
type PgxQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresEventStore implements RowStore and GoalStore on PostgreSQL.
type PostgresEventStore struct {
	pool   PgxQuerier
	tables Tables
}

// NewPostgresEventStore creates a PostgreSQL-backed row store.
func NewPostgresEventStore(pool PgxQuerier, tables Tables) *PostgresEventStore {
	return &PostgresEventStore{pool: pool, tables: tables}
}

// FetchConversions runs the windowed conversion/visit join.
func (s *PostgresEventStore) FetchConversions(ctx context.Context, q ConversionQuery) ([]models.ConversionRecord, error) {
	query, args := conversionsSQL(postgresDialect, s.tables, q)

	rows, err := s.pool.Query(ctx, query, args...)
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
func (s *PostgresEventStore) QueryByDimension(ctx context.Context, q DimensionQuery) (RowIterator, error) {
	query, args, err := dimensionSQL(postgresDialect, s.tables, q)
	if err != nil {
		return nil, fmt.Errorf("build dimension query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query by dimension", err)
	}
	return &pgxIterator{rows: rows, scan: newDimensionScan(q)}, nil
}

// GoalNames loads the goal id to name mapping of a site.
func (s *PostgresEventStore) GoalNames(ctx context.Context, siteID int64) (map[int64]string, error) {
	rows, err := s.pool.Query(ctx, goalsSQL(postgresDialect, s.tables), siteID)
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

type pgxIterator struct {
	rows pgx.Rows
	scan *dimensionScan
	row  DimensionRow
	err  error
}

func (it *pgxIterator) Next() bool {
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

func (it *pgxIterator) Row() DimensionRow { return it.row }

func (it *pgxIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if err := it.rows.Err(); err != nil {
		return unavailable("query by dimension", err)
	}
	return nil
}

func (it *pgxIterator) Close() error {
	it.rows.Close()
	return nil
}
