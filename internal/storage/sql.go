package storage

import (
	"strconv"
	"strings"

	"github.com/radiusdt/enhanced-attribution/internal/segment"
)

// Tables names the log tables, optionally prefixed (e.g. "matomo_").
//
//	log_conversion(idsite, idgoal, idvisit, idvisitor, server_time, url,
//	               referer_name, referer_type, campaign_medium, campaign_source, revenue)
//	log_visit(idvisit, visitor_count_visits, visitor_returning, location_country,
//	          location_city, config_os, config_browser_name, config_device_type)
//	goal(idsite, idgoal, name)
type Tables struct {
	Conversion string
	Visit      string
	Goal       string
}

// NewTables applies prefix to the default table names.
func NewTables(prefix string) Tables {
	return Tables{
		Conversion: prefix + "log_conversion",
		Visit:      prefix + "log_visit",
		Goal:       prefix + "goal",
	}
}

// dialect covers the SQL differences between the supported row stores.
type dialect struct {
	segment.Dialect
	visitorHex string
}

var (
	postgresDialect   = dialect{Dialect: segment.Postgres{}, visitorHex: "encode(c.idvisitor, 'hex')"}
	clickhouseDialect = dialect{Dialect: segment.ClickHouse{}, visitorHex: "lower(hex(c.idvisitor))"}
)

const dateTimeLayout = "2006-01-02 15:04:05"

// conversionsSQL builds the windowed join of the live view.
func conversionsSQL(d dialect, t Tables, q ConversionQuery) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT
	c.idgoal,
	c.idvisit,
	c.server_time,
	` + d.visitorHex + ` AS visitor_id,
	c.url,
	COALESCE(c.referer_name, ''),
	COALESCE(c.referer_type, 0),
	COALESCE(c.campaign_medium, ''),
	COALESCE(c.campaign_source, ''),
	COALESCE(c.revenue, 0),
	v.visitor_count_visits,
	COALESCE(v.visitor_returning, 0),
	COALESCE(v.location_country, ''),
	COALESCE(v.location_city, ''),
	COALESCE(v.config_os, ''),
	COALESCE(v.config_browser_name, ''),
	COALESCE(v.config_device_type, '')
FROM ` + t.Conversion + ` c
INNER JOIN ` + t.Visit + ` v ON c.idvisit = v.idvisit
WHERE c.idsite = ` + d.Placeholder(1) + `
	AND c.url IS NOT NULL
	AND c.url <> ''
	AND c.server_time >= ` + d.Placeholder(2) + `
	AND c.server_time <= ` + d.Placeholder(3) + `
ORDER BY c.server_time DESC`)
	if q.Limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(q.Limit))
	}

	args := []any{
		q.SiteID,
		q.Window.Lower().Format(dateTimeLayout),
		q.Window.Upper().Format(dateTimeLayout),
	}
	return b.String(), args
}

func dimensionColumn(dim Dimension) string {
	switch dim {
	case DimensionURL:
		return "c.url"
	case DimensionReferrerType:
		return "COALESCE(c.referer_type, 0)"
	case DimensionReferrerName:
		return "COALESCE(c.referer_name, '')"
	}
	return ""
}

// dimensionSQL builds the grouped aggregation query. Output columns are
// the dimensions in order, then nb_conversions, nb_visits_converted,
// nb_visitors_converted, then the requested aggregates in order.
func dimensionSQL(d dialect, t Tables, q DimensionQuery) (string, []any, error) {
	if err := validateDimensions(q.Dimensions); err != nil {
		return "", nil, err
	}

	selects := make([]string, 0, len(q.Dimensions)+3+len(q.Aggregates))
	groupBy := make([]string, 0, len(q.Dimensions))
	for _, dim := range q.Dimensions {
		col := dimensionColumn(dim)
		selects = append(selects, col+" AS "+string(dim))
		groupBy = append(groupBy, col)
	}
	selects = append(selects,
		"COUNT(*) AS nb_conversions",
		"COUNT(DISTINCT c.idvisit) AS nb_visits_converted",
		"COUNT(DISTINCT c.idvisitor) AS nb_visitors_converted",
	)
	for _, a := range q.Aggregates {
		switch a {
		case AggregateRevenue:
			selects = append(selects, "COALESCE(SUM(c.revenue), 0) AS revenue")
		default:
			return "", nil, errUnknownAggregate(a)
		}
	}

	where := []string{
		"c.idsite = " + d.Placeholder(1),
		"c.server_time >= " + d.Placeholder(2),
		"c.server_time <= " + d.Placeholder(3),
	}
	args := []any{
		q.SiteID,
		q.Window.Lower().Format(dateTimeLayout),
		q.Window.Upper().Format(dateTimeLayout),
	}
	if q.NonEmptyURL {
		where = append(where, "c.url IS NOT NULL", "c.url <> ''")
	}
	if pred, segArgs := q.Segment.SQL(d, len(args)+1); pred != "" {
		where = append(where, pred)
		args = append(args, segArgs...)
	}

	var b strings.Builder
	b.WriteString("SELECT " + strings.Join(selects, ", "))
	b.WriteString(" FROM " + t.Conversion + " c INNER JOIN " + t.Visit + " v ON c.idvisit = v.idvisit")
	b.WriteString(" WHERE " + strings.Join(where, " AND "))
	if len(groupBy) > 0 {
		b.WriteString(" GROUP BY " + strings.Join(groupBy, ", "))
		b.WriteString(" ORDER BY " + strings.Join(groupBy, ", "))
	}
	return b.String(), args, nil
}

func goalsSQL(d dialect, t Tables) string {
	return "SELECT idgoal, name FROM " + t.Goal + " WHERE idsite = " + d.Placeholder(1)
}

type errUnknownAggregate Aggregate

func (e errUnknownAggregate) Error() string {
	return "unknown aggregate " + strconv.Quote(string(e))
}
