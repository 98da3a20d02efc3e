// Package memcatalog is an in-memory granule catalog indexed with an
// R-tree. It serves static coverage definitions and tests.
package memcatalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/granule-mosaic/internal/catalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
	"github.com/mohammed-shakir/granule-mosaic/internal/query"
)

// minExtent keeps point and line granules indexable.
const minExtent = 1e-9

type entry struct {
	rec *catalog.Record
}

func (e entry) Bounds() rtreego.Rect { return rect(e.rec.Envelope) }

func rect(b orb.Bound) rtreego.Rect {
	point := rtreego.Point{b.Min[0], b.Min[1]}
	lengths := []float64{
		max(b.Max[0]-b.Min[0], minExtent),
		max(b.Max[1]-b.Min[1], minExtent),
	}
	r, _ := rtreego.NewRect(point, lengths)
	return r
}

type table struct {
	schema  catalog.Schema
	tree    *rtreego.Rtree
	records map[string]*catalog.Record
}

type Catalog struct {
	mu     sync.RWMutex
	tables map[string]*table
}

func New() *Catalog {
	return &Catalog{tables: map[string]*table{}}
}

// CreateType registers a granule type. Registering an existing type keeps
// its records and replaces the schema.
func (c *Catalog) CreateType(s catalog.Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[s.TypeName]; ok {
		t.schema = s
		return
	}
	c.tables[s.TypeName] = &table{
		schema:  s,
		tree:    rtreego.NewTree(2, 25, 50),
		records: map[string]*catalog.Record{},
	}
}

// Add inserts or replaces records by ID.
func (c *Catalog) Add(typeName string, recs ...catalog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[typeName]
	if !ok {
		return fmt.Errorf("memcatalog add: %w %q", catalog.ErrUnknownType, typeName)
	}
	for i := range recs {
		r := recs[i]
		if r.ID == "" {
			r.ID = r.Location
		}
		if old, ok := t.records[r.ID]; ok {
			t.tree.Delete(entry{rec: old})
		}
		t.records[r.ID] = &r
		t.tree.Insert(entry{rec: &r})
	}
	return nil
}

// Remove deletes a record and reports whether it existed.
func (c *Catalog) Remove(typeName, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[typeName]
	if !ok {
		return false
	}
	old, ok := t.records[id]
	if !ok {
		return false
	}
	t.tree.Delete(entry{rec: old})
	delete(t.records, id)
	return true
}

func (c *Catalog) Schema(typeName string) (catalog.Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[typeName]
	if !ok {
		return catalog.Schema{}, fmt.Errorf("memcatalog: %w %q", catalog.ErrUnknownType, typeName)
	}
	return t.schema, nil
}

// SupportsSorting is true for schema attributes.
func (c *Catalog) SupportsSorting(typeName string, by []query.SortBy) bool {
	s, err := c.Schema(typeName)
	if err != nil {
		return false
	}
	for _, b := range by {
		if !s.Has(b.Property) {
			return false
		}
	}
	return true
}

func (c *Catalog) Granules(ctx context.Context, q query.Query) ([]catalog.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	t, ok := c.tables[q.TypeName]
	if !ok {
		c.mu.RUnlock()
		return nil, fmt.Errorf("memcatalog: %w %q", catalog.ErrUnknownType, q.TypeName)
	}
	pred := q.Filter
	if pred == nil {
		pred = filter.Include
	}

	var candidates []*catalog.Record
	if boxes, ok := filter.BBoxes(pred); ok {
		seen := map[string]bool{}
		for _, b := range boxes {
			for _, s := range t.tree.SearchIntersect(rect(b.Bound)) {
				r := s.(entry).rec
				if !seen[r.ID] {
					seen[r.ID] = true
					candidates = append(candidates, r)
				}
			}
		}
	} else {
		for _, r := range t.records {
			candidates = append(candidates, r)
		}
	}

	out := make([]catalog.Record, 0, len(candidates))
	for _, r := range candidates {
		if pred.Evaluate(*r) {
			out = append(out, *r)
		}
	}
	c.mu.RUnlock()

	by := q.SortBy
	if len(by) == 0 {
		// stable output for unsorted queries
		by = []query.SortBy{{Property: "id"}}
	}
	catalog.SortRecords(out, by)
	if q.MaxFeatures > 0 && len(out) > q.MaxFeatures {
		out = out[:q.MaxFeatures]
	}
	return out, nil
}
