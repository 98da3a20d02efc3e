// Package coverage serves mosaic reads: it resolves a request to catalog
// granules, loads each granule into the output grid and composes the
// result.
package coverage

import (
	"log/slog"
	"slices"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
	"github.com/mohammed-shakir/granule-mosaic/internal/overview"
	"github.com/mohammed-shakir/granule-mosaic/internal/query"
)

// Coverage is the resolved, immutable form of a configured mosaic.
type Coverage struct {
	Name       string
	TypeName   string
	CRS        string
	Background []uint8
	SortBy     string
	Threshold  float64
	Controller *overview.Controller

	builder *query.Builder
	// attrs are the names a filter expression may reference.
	attrs []string
}

func newCoverage(cfg config.Coverage, caps query.Capabilities, logger *slog.Logger) *Coverage {
	env := query.Env{
		TypeName:          cfg.TypeName,
		GeometryAttribute: cfg.GeometryAttribute,
		CRSAttribute:      cfg.CRSAttribute,
		Heterogeneous:     cfg.Heterogeneous,
	}
	if cfg.Geographic {
		env.Projection = query.GeographicSplitter{}
	}
	attrs := append([]string{"id", "location"}, cfg.Attributes...)
	domain := func(d *config.Domain) *filter.DomainBuilder {
		attrs = append(attrs, d.Attribute)
		if d.End != "" {
			attrs = append(attrs, d.End)
		}
		return filter.NewRangeDomainBuilder(d.Attribute, d.End, logger)
	}
	if cfg.Time != nil {
		env.Time = domain(cfg.Time)
	}
	if cfg.Elevation != nil {
		env.Elevation = domain(cfg.Elevation)
	}
	if len(cfg.Dimensions) > 0 {
		env.Dimensions = make(map[string]*filter.DomainBuilder, len(cfg.Dimensions))
		for name, d := range cfg.Dimensions {
			env.Dimensions[name] = domain(&d)
		}
	}
	if cfg.CRSAttribute != "" {
		attrs = append(attrs, cfg.CRSAttribute)
	}

	return &Coverage{
		Name:       cfg.Name,
		TypeName:   cfg.TypeName,
		CRS:        cfg.CRS,
		Background: cfg.BackgroundValues(),
		SortBy:     cfg.SortBy,
		Threshold:  cfg.Threshold,
		Controller: overview.NewController(cfg.HighestResolution(), cfg.OverviewResolutions()),
		builder:    query.NewBuilder(env, caps, logger.With("coverage", cfg.Name)),
		attrs:      slices.Compact(slices.Sorted(slices.Values(attrs))),
	}
}

// CompileFilter compiles a request filter expression against the coverage
// attributes.
func (c *Coverage) CompileFilter(src string) (filter.Predicate, error) {
	e, err := filter.CompileExpr(src, c.attrs)
	if err != nil {
		return nil, err
	}
	return e, nil
}
