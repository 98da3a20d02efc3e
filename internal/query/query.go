// Package query builds catalog queries from mosaic read requests.
package query

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
)

type Order int

const (
	Ascending Order = iota
	Descending
)

func (o Order) String() string {
	if o == Descending {
		return "DESC"
	}
	return "ASC"
}

type SortBy struct {
	Property string
	Order    Order
}

func (s SortBy) String() string { return s.Property + " " + s.Order.String() }

// Query is a typed catalog query for one coverage.
type Query struct {
	TypeName    string
	Filter      filter.Predicate
	SortBy      []SortBy
	MaxFeatures int
}

func (q Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s]", q.TypeName, q.Filter)
	if len(q.SortBy) > 0 {
		parts := make([]string, 0, len(q.SortBy))
		for _, s := range q.SortBy {
			parts = append(parts, s.String())
		}
		fmt.Fprintf(&b, " sort=%s", strings.Join(parts, ","))
	}
	if q.MaxFeatures > 0 {
		fmt.Fprintf(&b, " max=%d", q.MaxFeatures)
	}
	return b.String()
}

// ParseSortBy reads a comma separated list of "attr ASC" / "attr DESC"
// clauses. Malformed clauses are logged and skipped.
func ParseSortBy(s string, logger *slog.Logger) []SortBy {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var out []SortBy
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		fields := strings.Fields(tok)
		if len(fields) != 2 {
			logger.Warn("ignoring malformed sort clause", "clause", tok)
			continue
		}
		var o Order
		switch strings.ToUpper(fields[1]) {
		case "ASC", "A":
			o = Ascending
		case "DESC", "D":
			o = Descending
		default:
			logger.Warn("ignoring sort clause with unknown order", "clause", tok)
			continue
		}
		out = append(out, SortBy{Property: fields[0], Order: o})
	}
	return out
}
