// Package filter implements the catalog predicate model: a small closed set of
// predicate nodes that can be evaluated against in-memory granule records and
// rendered as CQL for logs or as SQL by database backed catalogs.
package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Feature is what predicates are evaluated against.
type Feature interface {
	Attr(name string) (any, bool)
	Bound() orb.Bound
}

type Predicate interface {
	Evaluate(f Feature) bool
	String() string
}

type constant bool

func (c constant) Evaluate(Feature) bool { return bool(c) }

func (c constant) String() string {
	if c {
		return "INCLUDE"
	}
	return "EXCLUDE"
}

var (
	// Include matches every feature.
	Include Predicate = constant(true)
	// Exclude matches nothing.
	Exclude Predicate = constant(false)
)

type And []Predicate

func (a And) Evaluate(f Feature) bool {
	for _, p := range a {
		if !p.Evaluate(f) {
			return false
		}
	}
	return true
}

func (a And) String() string { return join(a, " AND ") }

type Or []Predicate

func (o Or) Evaluate(f Feature) bool {
	for _, p := range o {
		if p.Evaluate(f) {
			return true
		}
	}
	return false
}

func (o Or) String() string { return join(o, " OR ") }

type Not struct{ P Predicate }

func (n Not) Evaluate(f Feature) bool { return !n.P.Evaluate(f) }
func (n Not) String() string          { return "NOT (" + n.P.String() + ")" }

func join(ps []Predicate, sep string) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, p.String())
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// AllOf conjoins ps, dropping Include terms and flattening nested And.
// A single remaining term is returned unwrapped.
func AllOf(ps ...Predicate) Predicate {
	out := make(And, 0, len(ps))
	for _, p := range ps {
		switch v := p.(type) {
		case nil:
			continue
		case constant:
			if !v {
				return Exclude
			}
			continue
		case And:
			out = append(out, v...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return Include
	case 1:
		return out[0]
	}
	return out
}

// AnyOf disjoins ps, dropping Exclude terms and flattening nested Or.
// An empty disjunction matches nothing.
func AnyOf(ps ...Predicate) Predicate {
	out := make(Or, 0, len(ps))
	for _, p := range ps {
		switch v := p.(type) {
		case nil:
			continue
		case constant:
			if v {
				return Include
			}
			continue
		case Or:
			out = append(out, v...)
		default:
			out = append(out, p)
		}
	}
	switch len(out) {
	case 0:
		return Exclude
	case 1:
		return out[0]
	}
	return out
}

type Op int

const (
	EQ Op = iota
	NE
	LT
	LE
	GT
	GE
)

func (o Op) String() string {
	switch o {
	case EQ:
		return "="
	case NE:
		return "<>"
	case LT:
		return "<"
	case LE:
		return "<="
	case GT:
		return ">"
	case GE:
		return ">="
	default:
		return "?"
	}
}

// Compare tests one attribute against a literal.
type Compare struct {
	Property string
	Op       Op
	Value    any
}

func Equal(prop string, v any) Compare          { return Compare{Property: prop, Op: EQ, Value: v} }
func LessOrEqual(prop string, v any) Compare    { return Compare{Property: prop, Op: LE, Value: v} }
func GreaterOrEqual(prop string, v any) Compare { return Compare{Property: prop, Op: GE, Value: v} }

func (c Compare) Evaluate(f Feature) bool {
	got, ok := f.Attr(c.Property)
	if !ok || got == nil {
		return false
	}
	cmp, ok := CompareValues(got, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case EQ:
		return cmp == 0
	case NE:
		return cmp != 0
	case LT:
		return cmp < 0
	case LE:
		return cmp <= 0
	case GT:
		return cmp > 0
	case GE:
		return cmp >= 0
	}
	return false
}

func (c Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Property, c.Op, Literal(c.Value))
}

// BBox matches features whose envelope intersects Bound.
type BBox struct {
	Property string
	Bound    orb.Bound
	SRID     string
}

func (b BBox) Evaluate(f Feature) bool {
	return f.Bound().Intersects(b.Bound)
}

func (b BBox) String() string {
	s := fmt.Sprintf("BBOX(%s, %g, %g, %g, %g", b.Property, b.Bound.Min[0], b.Bound.Min[1], b.Bound.Max[0], b.Bound.Max[1])
	if b.SRID != "" {
		s += ", '" + b.SRID + "'"
	}
	return s + ")"
}

// Literal renders a value the way CQL expects it.
func Literal(v any) string {
	switch t := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}

// BBoxes returns the bbox terms that constrain every match of p: the bbox
// itself, the members of a top-level conjunction, or the union of an
// all-bbox disjunction. It is used by catalogs to pre-filter with an index.
func BBoxes(p Predicate) ([]BBox, bool) {
	switch v := p.(type) {
	case BBox:
		return []BBox{v}, true
	case Or:
		out := make([]BBox, 0, len(v))
		for _, t := range v {
			b, ok := t.(BBox)
			if !ok {
				return nil, false
			}
			out = append(out, b)
		}
		return out, len(out) > 0
	case And:
		for _, t := range v {
			if bs, ok := BBoxes(t); ok {
				return bs, true
			}
		}
	}
	return nil, false
}
