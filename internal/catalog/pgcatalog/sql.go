package pgcatalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
	"github.com/mohammed-shakir/granule-mosaic/internal/query"
)

var errNotPushable = errors.New("predicate cannot be rendered as SQL")

type sqlBuilder struct {
	geomColumn string
	srid       int
	args       []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// split renders the pushable conjuncts of p as SQL and returns the rest for
// evaluation in memory.
func (b *sqlBuilder) split(p filter.Predicate) (string, []filter.Predicate) {
	var terms []filter.Predicate
	if and, ok := p.(filter.And); ok {
		terms = and
	} else if p != nil {
		terms = []filter.Predicate{p}
	}
	var where []string
	var residual []filter.Predicate
	for _, t := range terms {
		mark := len(b.args)
		s, err := b.render(t)
		if err != nil {
			b.args = b.args[:mark]
			residual = append(residual, t)
			continue
		}
		where = append(where, s)
	}
	if len(where) == 0 {
		return "TRUE", residual
	}
	return strings.Join(where, " AND "), residual
}

func (b *sqlBuilder) render(p filter.Predicate) (string, error) {
	switch v := p.(type) {
	case filter.And:
		return b.join(v, " AND ")
	case filter.Or:
		return b.join(v, " OR ")
	case filter.Not:
		s, err := b.render(v.P)
		if err != nil {
			return "", err
		}
		return "NOT (" + s + ")", nil
	case filter.Compare:
		return fmt.Sprintf("%s %s %s", ident(v.Property), v.Op, b.arg(v.Value)), nil
	case filter.BBox:
		col := b.geomColumn
		if v.Property != "" {
			col = v.Property
		}
		srid := b.srid
		if n, ok := parseSRID(v.SRID); ok {
			srid = n
		}
		return fmt.Sprintf("ST_Intersects(%s, ST_MakeEnvelope(%s, %s, %s, %s, %d))",
			ident(col), b.arg(v.Bound.Min[0]), b.arg(v.Bound.Min[1]), b.arg(v.Bound.Max[0]), b.arg(v.Bound.Max[1]), srid), nil
	}
	switch p {
	case filter.Include:
		return "TRUE", nil
	case filter.Exclude:
		return "FALSE", nil
	}
	return "", fmt.Errorf("%w: %T", errNotPushable, p)
}

func (b *sqlBuilder) join(ps []filter.Predicate, sep string) (string, error) {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		s, err := b.render(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func orderBy(by []query.SortBy) string {
	if len(by) == 0 {
		return ""
	}
	parts := make([]string, 0, len(by))
	for _, s := range by {
		parts = append(parts, ident(s.Property)+" "+s.Order.String())
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

func parseSRID(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	if strings.EqualFold(s, "CRS84") || s == "84" {
		return 4326, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil && n > 0
}
