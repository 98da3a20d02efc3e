package memcatalog

import (
	"fmt"
	"maps"

	"github.com/mohammed-shakir/granule-mosaic/internal/catalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
)

// RecordOf converts a declared granule to a catalog record.
func RecordOf(g config.Granule) catalog.Record {
	return catalog.Record{
		ID:         g.ID,
		Location:   g.Location,
		Envelope:   g.Envelope(),
		Footprint:  g.FootprintGeometry(),
		CRS:        g.CRS,
		Attributes: maps.Clone(g.Attributes),
	}
}

// SchemaOf is the granule type backing cov.
func SchemaOf(cov config.Coverage) catalog.Schema {
	tn := cov.TypeName
	if tn == "" {
		tn = cov.Name
	}
	return catalog.Schema{
		TypeName:          tn,
		GeometryAttribute: cov.GeometryAttribute,
		Attributes:        cov.AttributeNames(),
	}
}

// Load registers cov's granule type and indexes its declared granules.
func (c *Catalog) Load(cov config.Coverage) error {
	s := SchemaOf(cov)
	c.CreateType(s)
	recs := make([]catalog.Record, 0, len(cov.Granules))
	for _, g := range cov.Granules {
		recs = append(recs, RecordOf(g))
	}
	if err := c.Add(s.TypeName, recs...); err != nil {
		return fmt.Errorf("load coverage %s: %w", cov.Name, err)
	}
	return nil
}
