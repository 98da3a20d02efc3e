// Package catalog is the queryable granule index consumed by coverage
// readers.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
	"github.com/mohammed-shakir/granule-mosaic/internal/query"
)

var ErrUnknownType = errors.New("unknown granule type")

// Record is one granule as stored in the catalog.
type Record struct {
	ID       string
	Location string
	Envelope orb.Bound
	// Footprint is the optional inclusion geometry, in the same CRS as
	// Envelope.
	Footprint  orb.Geometry
	CRS        string
	Attributes map[string]any
}

func (r Record) Bound() orb.Bound { return r.Envelope }

// Attr resolves attribute name, with "id" and "location" as built-ins.
func (r Record) Attr(name string) (any, bool) {
	if v, ok := r.Attributes[name]; ok {
		return v, true
	}
	switch name {
	case "id":
		return r.ID, r.ID != ""
	case "location":
		return r.Location, r.Location != ""
	}
	return nil, false
}

var _ filter.Feature = Record{}

type Schema struct {
	TypeName          string
	GeometryAttribute string
	Attributes        []string
}

func (s Schema) Has(attr string) bool {
	return attr == "id" || attr == "location" || slices.Contains(s.Attributes, attr)
}

type Catalog interface {
	query.Capabilities
	Granules(ctx context.Context, q query.Query) ([]Record, error)
	Schema(typeName string) (Schema, error)
}

// SortRecords orders recs by the clauses; records missing an attribute sort
// last. The sort is stable so equal keys keep catalog order.
func SortRecords(recs []Record, by []query.SortBy) {
	if len(by) == 0 {
		return
	}
	slices.SortStableFunc(recs, func(a, b Record) int {
		for _, s := range by {
			va, okA := a.Attr(s.Property)
			vb, okB := b.Attr(s.Property)
			var c int
			switch {
			case !okA && !okB:
				continue
			case !okA:
				return 1
			case !okB:
				return -1
			default:
				c, _ = filter.CompareValues(va, vb)
			}
			if c == 0 {
				continue
			}
			if s.Order == query.Descending {
				c = -c
			}
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
