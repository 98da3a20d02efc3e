package query

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
)

var ErrUnknownDimension = errors.New("unknown dimension")

// Capabilities reports what the catalog can do for a type.
type Capabilities interface {
	SupportsSorting(typeName string, by []SortBy) bool
}

// Env describes how a coverage maps onto its catalog type.
type Env struct {
	TypeName          string
	GeometryAttribute string
	// CRSAttribute discriminates granule CRS in heterogeneous mosaics.
	CRSAttribute  string
	Heterogeneous bool
	Projection    ProjectionHandler

	Time       *filter.DomainBuilder
	Elevation  *filter.DomainBuilder
	Dimensions map[string]*filter.DomainBuilder
}

type Builder struct {
	env    Env
	caps   Capabilities
	logger *slog.Logger
}

func NewBuilder(env Env, caps Capabilities, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{env: env, caps: caps, logger: logger}
}

// Build composes the catalog query for req.
func (b *Builder) Build(req *model.Request) (Query, error) {
	if req == nil {
		return Query{}, errors.New("query: nil request")
	}

	terms := []filter.Predicate{b.spatial(req.BBox)}

	if len(req.Elevations) > 0 {
		if b.env.Elevation == nil {
			b.logger.Warn("elevation requested but coverage has no elevation attribute", "coverage", req.Coverage)
		} else {
			terms = append(terms, b.env.Elevation.Build(req.Elevations))
		}
	}
	if req.Filter != nil {
		terms = append(terms, req.Filter)
	}
	if len(req.Times) > 0 {
		if b.env.Time == nil {
			b.logger.Warn("time requested but coverage has no time attribute", "coverage", req.Coverage)
		} else {
			terms = append(terms, b.env.Time.Build(req.Times))
		}
	}
	if len(req.Dimensions) > 0 {
		custom := make([]filter.Predicate, 0, len(req.Dimensions))
		for _, name := range req.DimensionNames() {
			db, ok := b.env.Dimensions[name]
			if !ok {
				return Query{}, fmt.Errorf("query %s: %w %q", b.env.TypeName, ErrUnknownDimension, name)
			}
			custom = append(custom, db.Build(req.Dimensions[name]))
		}
		terms = append(terms, filter.AllOf(custom...))
	}

	q := Query{
		TypeName:    b.env.TypeName,
		Filter:      filter.AllOf(terms...),
		MaxFeatures: req.MaxGranules,
	}
	q.SortBy = b.sort(req.SortBy)
	return q, nil
}

func (b *Builder) spatial(env model.BBox) filter.Predicate {
	prop := b.env.GeometryAttribute
	if b.env.Heterogeneous && b.env.Projection != nil {
		if parts, ok := b.env.Projection.Split(env); ok && len(parts) > 0 {
			boxes := make([]filter.Predicate, 0, len(parts))
			for _, p := range parts {
				boxes = append(boxes, filter.BBox{Property: prop, Bound: p, SRID: env.SRID})
			}
			return filter.AnyOf(boxes...)
		}
	}
	return filter.BBox{Property: prop, Bound: env.Bound(), SRID: env.SRID}
}

func (b *Builder) sort(clause string) []SortBy {
	if clause != "" {
		by := ParseSortBy(clause, b.logger)
		if len(by) > 0 && b.supports(by) {
			return by
		}
		b.logger.Warn("catalog cannot sort on requested clause, ignoring it", "type", b.env.TypeName, "sort_by", clause)
	}
	if b.env.CRSAttribute != "" {
		by := []SortBy{{Property: b.env.CRSAttribute, Order: Ascending}}
		if b.supports(by) {
			return by
		}
	}
	if clause != "" || b.env.CRSAttribute != "" {
		b.logger.Warn("query left unsorted", "type", b.env.TypeName)
	}
	return nil
}

func (b *Builder) supports(by []SortBy) bool {
	return b.caps != nil && b.caps.SupportsSorting(b.env.TypeName, by)
}
