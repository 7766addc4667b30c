package segment

import (
	"strconv"
	"strings"
)

// Dialect renders the database-specific parts of a predicate.
type Dialect interface {
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// Contains returns a boolean expression testing whether column contains
	// the bound value.
	Contains(column, placeholder string) string
}

// Postgres renders $n placeholders.
type Postgres struct{}

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) Contains(column, placeholder string) string {
	return "strpos(" + column + ", " + placeholder + ") > 0"
}

// ClickHouse renders positional ? placeholders.
type ClickHouse struct{}

func (ClickHouse) Placeholder(int) string { return "?" }

func (ClickHouse) Contains(column, placeholder string) string {
	return "position(" + column + ", " + placeholder + ") > 0"
}

// SQL compiles the segment into a predicate over the c (conversion) and
// v (visit) aliases. firstArg is the index of the first placeholder. The
// empty segment compiles to "" with no args.
func (s Segment) SQL(d Dialect, firstArg int) (string, []any) {
	if s.IsEmpty() {
		return "", nil
	}

	var args []any
	next := func(v any) string {
		args = append(args, v)
		return d.Placeholder(firstArg + len(args) - 1)
	}

	ands := make([]string, 0, len(s.groups))
	for _, group := range s.groups {
		ors := make([]string, 0, len(group))
		for _, c := range group {
			ors = append(ors, c.sql(d, next))
		}
		ands = append(ands, "("+strings.Join(ors, " OR ")+")")
	}
	return strings.Join(ands, " AND "), args
}

func (c Condition) sql(d Dialect, next func(any) string) string {
	col := c.dim.column

	switch c.dim.kind {
	case kindFlag:
		truthy := c.num != 0
		if c.Op == OpNotEquals {
			truthy = !truthy
		}
		if truthy {
			return col + " <> 0"
		}
		return col + " = 0"
	case kindInt:
		if c.Op == OpNotEquals {
			return col + " <> " + next(c.num)
		}
		return col + " = " + next(c.num)
	}

	switch c.Op {
	case OpNotEquals:
		return col + " <> " + next(c.Value)
	case OpContains:
		return d.Contains(col, next(c.Value))
	case OpNotContains:
		return "NOT " + d.Contains(col, next(c.Value))
	default:
		return col + " = " + next(c.Value)
	}
}
