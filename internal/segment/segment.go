// Package segment parses segment filter expressions and evaluates them,
// either compiled to a SQL predicate or directly against conversion records.
//
// Syntax: "dimension OP value" conditions, ';' joins conditions with AND and
// ',' joins them with OR. OR binds tighter than AND, so
// "referrerType==search,referrerType==social;countryCode==se" reads as
// (search OR social) AND se. Values are URL-encoded.
package segment

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/radiusdt/enhanced-attribution/internal/models"
)

// ErrInvalidSegment is returned by Parse for malformed expressions.
var ErrInvalidSegment = errors.New("invalid segment")

// Op is a comparison operator.
type Op string

const (
	OpEquals      Op = "=="
	OpNotEquals   Op = "!="
	OpContains    Op = "=@"
	OpNotContains Op = "!@"
)

// operators in match order
var operators = []Op{OpEquals, OpNotEquals, OpContains, OpNotContains}

// Condition is a single dimension comparison.
type Condition struct {
	Dimension string
	Op        Op
	Value     string

	dim *dimension
	num int64
}

// Segment is a conjunction of disjunctions. The zero value matches everything.
type Segment struct {
	groups [][]Condition
}

// Parse parses an expression. An empty or blank expression yields the empty
// segment.
func Parse(expr string) (Segment, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Segment{}, nil
	}

	var seg Segment
	for _, andPart := range strings.Split(expr, ";") {
		andPart = strings.TrimSpace(andPart)
		if andPart == "" {
			return Segment{}, fmt.Errorf("%w: empty AND clause in %q", ErrInvalidSegment, expr)
		}
		var group []Condition
		for _, orPart := range strings.Split(andPart, ",") {
			cond, err := parseCondition(strings.TrimSpace(orPart))
			if err != nil {
				return Segment{}, err
			}
			group = append(group, cond)
		}
		seg.groups = append(seg.groups, group)
	}
	return seg, nil
}

// MustParse is Parse for tests and constants; it panics on error.
func MustParse(expr string) Segment {
	s, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return s
}

func parseCondition(s string) (Condition, error) {
	if s == "" {
		return Condition{}, fmt.Errorf("%w: empty condition", ErrInvalidSegment)
	}

	idx, op := -1, Op("")
	for _, candidate := range operators {
		if i := strings.Index(s, string(candidate)); i > 0 && (idx == -1 || i < idx) {
			idx, op = i, candidate
		}
	}
	if idx == -1 {
		return Condition{}, fmt.Errorf("%w: no operator in %q", ErrInvalidSegment, s)
	}

	name := strings.TrimSpace(s[:idx])
	raw := s[idx+len(op):]
	value, err := url.QueryUnescape(raw)
	if err != nil {
		return Condition{}, fmt.Errorf("%w: bad value encoding in %q", ErrInvalidSegment, s)
	}

	dim, ok := dimensions[name]
	if !ok {
		return Condition{}, fmt.Errorf("%w: unknown dimension %q", ErrInvalidSegment, name)
	}

	cond := Condition{Dimension: name, Op: op, Value: value, dim: dim}
	if dim.kind != kindString {
		if op != OpEquals && op != OpNotEquals {
			return Condition{}, fmt.Errorf("%w: operator %s not supported for %s", ErrInvalidSegment, op, name)
		}
		n, err := dim.parseValue(value)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: %s: %v", ErrInvalidSegment, name, err)
		}
		cond.num = n
	}
	return cond, nil
}

// IsEmpty reports whether the segment has no conditions.
func (s Segment) IsEmpty() bool {
	return len(s.groups) == 0
}

// String returns the canonical form of the expression. Equal canonical forms
// select the same rows.
func (s Segment) String() string {
	ands := make([]string, 0, len(s.groups))
	for _, group := range s.groups {
		ors := make([]string, 0, len(group))
		for _, c := range group {
			ors = append(ors, c.Dimension+string(c.Op)+url.QueryEscape(c.Value))
		}
		ands = append(ands, strings.Join(ors, ","))
	}
	return strings.Join(ands, ";")
}

// Match evaluates the segment against a conversion record.
func (s Segment) Match(rec *models.ConversionRecord) bool {
	for _, group := range s.groups {
		matched := false
		for _, c := range group {
			if c.match(rec) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (c Condition) match(rec *models.ConversionRecord) bool {
	if c.dim.kind != kindString {
		got := c.dim.number(rec)
		if c.Op == OpEquals {
			return c.dim.numEqual(got, c.num)
		}
		return !c.dim.numEqual(got, c.num)
	}

	got := c.dim.text(rec)
	switch c.Op {
	case OpEquals:
		return got == c.Value
	case OpNotEquals:
		return got != c.Value
	case OpContains:
		return strings.Contains(got, c.Value)
	case OpNotContains:
		return !strings.Contains(got, c.Value)
	}
	return false
}
