package kafkaconsumer

import (
	"fmt"

	"github.com/mohammed-shakir/granule-mosaic/internal/catalog/memcatalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
)

// MemoryCatalog applies granule definitions carried by change events to an
// in-memory catalog. TypeNames maps coverage names to their granule types;
// coverages missing from it use their own name.
type MemoryCatalog struct {
	Catalog   *memcatalog.Catalog
	TypeNames map[string]string
}

func (m MemoryCatalog) typeName(coverage string) string {
	if tn, ok := m.TypeNames[coverage]; ok && tn != "" {
		return tn
	}
	return coverage
}

func (m MemoryCatalog) Upsert(coverage string, g config.Granule) error {
	if err := m.Catalog.Add(m.typeName(coverage), memcatalog.RecordOf(g)); err != nil {
		return fmt.Errorf("upsert granule %s: %w", g.ID, err)
	}
	return nil
}

func (m MemoryCatalog) Remove(coverage, id string) bool {
	return m.Catalog.Remove(m.typeName(coverage), id)
}
