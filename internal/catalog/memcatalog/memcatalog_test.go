package memcatalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/granule-mosaic/internal/catalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
	"github.com/mohammed-shakir/granule-mosaic/internal/query"
)

func grid(t *testing.T) *Catalog {
	t.Helper()
	c := New()
	c.CreateType(catalog.Schema{TypeName: "tiles", GeometryAttribute: "the_geom", Attributes: []string{"elev", "row"}})
	var recs []catalog.Record
	for row := 0; row < 10; row++ {
		for col := 0; col < 10; col++ {
			recs = append(recs, catalog.Record{
				ID:       fmt.Sprintf("r%02dc%02d", row, col),
				Location: fmt.Sprintf("mem://%d/%d", row, col),
				Envelope: orb.Bound{Min: orb.Point{float64(col), float64(row)}, Max: orb.Point{float64(col + 1), float64(row + 1)}},
				Attributes: map[string]any{
					"elev": (row + col) % 3,
					"row":  row,
				},
			})
		}
	}
	if err := c.Add("tiles", recs...); err != nil {
		t.Fatal(err)
	}
	return c
}

func bbox(x1, y1, x2, y2 float64) filter.BBox {
	return filter.BBox{Property: "the_geom", Bound: orb.Bound{Min: orb.Point{x1, y1}, Max: orb.Point{x2, y2}}}
}

func TestGranules_SpatialAndAttributeFilter(t *testing.T) {
	c := grid(t)
	got, err := c.Granules(context.Background(), query.Query{
		TypeName: "tiles",
		Filter:   filter.AllOf(bbox(0.5, 0.5, 2.5, 2.5), filter.Equal("elev", 0)),
	})
	if err != nil {
		t.Fatalf("Granules: %v", err)
	}
	// 3x3 candidate cells, elev 0 where (row+col)%3 == 0
	want := []string{"r00c00", "r01c02", "r02c01"}
	if len(got) != len(want) {
		t.Fatalf("got %d records: %v", len(got), got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("record %d = %s want %s", i, got[i].ID, id)
		}
	}
}

func TestGranules_DisjunctionOfBoxesAndSortLimit(t *testing.T) {
	c := grid(t)
	got, err := c.Granules(context.Background(), query.Query{
		TypeName:    "tiles",
		Filter:      filter.AnyOf(bbox(0.2, 0.2, 0.8, 0.8), bbox(9.2, 9.2, 9.8, 9.8), bbox(9.1, 9.1, 9.9, 9.9)),
		SortBy:      []query.SortBy{{Property: "row", Order: query.Descending}},
		MaxFeatures: 1,
	})
	if err != nil {
		t.Fatalf("Granules: %v", err)
	}
	if len(got) != 1 || got[0].ID != "r09c09" {
		t.Fatalf("got %v", got)
	}
}

func TestGranules_NoSpatialTermScansAll(t *testing.T) {
	c := grid(t)
	got, err := c.Granules(context.Background(), query.Query{TypeName: "tiles", Filter: filter.Equal("row", 4)})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d", len(got))
	}
}

func TestAddReplacesAndRemove(t *testing.T) {
	c := grid(t)
	moved := catalog.Record{ID: "r00c00", Location: "mem://moved", Envelope: orb.Bound{Min: orb.Point{50, 50}, Max: orb.Point{51, 51}}}
	if err := c.Add("tiles", moved); err != nil {
		t.Fatal(err)
	}
	got, _ := c.Granules(context.Background(), query.Query{TypeName: "tiles", Filter: bbox(0.1, 0.1, 0.9, 0.9)})
	if len(got) != 0 {
		t.Fatalf("old envelope still indexed: %v", got)
	}
	got, _ = c.Granules(context.Background(), query.Query{TypeName: "tiles", Filter: bbox(50.1, 50.1, 50.9, 50.9)})
	if len(got) != 1 || got[0].Location != "mem://moved" {
		t.Fatalf("got %v", got)
	}
	if !c.Remove("tiles", "r00c00") || c.Remove("tiles", "r00c00") {
		t.Fatalf("remove should succeed once")
	}
}

func TestUnknownType(t *testing.T) {
	c := New()
	if _, err := c.Granules(context.Background(), query.Query{TypeName: "x"}); !errors.Is(err, catalog.ErrUnknownType) {
		t.Fatalf("err=%v", err)
	}
	if err := c.Add("x", catalog.Record{}); !errors.Is(err, catalog.ErrUnknownType) {
		t.Fatalf("err=%v", err)
	}
	if c.SupportsSorting("x", nil) {
		t.Fatalf("unknown type sortable")
	}
}

func TestSupportsSorting(t *testing.T) {
	c := grid(t)
	if !c.SupportsSorting("tiles", []query.SortBy{{Property: "row"}, {Property: "location"}}) {
		t.Fatalf("expected support")
	}
	if c.SupportsSorting("tiles", []query.SortBy{{Property: "cloud"}}) {
		t.Fatalf("unexpected support")
	}
}

func TestLoadCoverage(t *testing.T) {
	cov := config.Coverage{
		Name:       "ortho",
		Resolution: [2]float64{1, 1},
		Time:       &config.Domain{Attribute: "ingestion"},
		Attributes: []string{"cloud"},
		Granules: []config.Granule{
			{ID: "a", Location: "a.tif", BBox: [4]float64{0, 0, 10, 10}, Attributes: map[string]any{"cloud": 5.0}},
			{ID: "b", Location: "b.tif", BBox: [4]float64{20, 20, 30, 30}},
		},
	}
	c := New()
	if err := c.Load(cov); err != nil {
		t.Fatalf("Load: %v", err)
	}
	s, err := c.Schema("ortho")
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	if !s.Has("cloud") || !s.Has("ingestion") {
		t.Fatalf("schema attributes=%v", s.Attributes)
	}
	recs, err := c.Granules(context.Background(), query.Query{TypeName: "ortho", Filter: filter.Include})
	if err != nil {
		t.Fatalf("Granules: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records want 2", len(recs))
	}
	if !c.Remove("ortho", "b") {
		t.Fatal("Remove(b) = false")
	}
}
