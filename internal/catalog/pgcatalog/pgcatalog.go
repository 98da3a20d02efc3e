// Package pgcatalog queries granules from PostGIS tables, one table per
// granule type. Filters are pushed down as SQL where possible; terms that
// cannot be rendered, such as CEL expressions, are evaluated on the rows.
package pgcatalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/mohammed-shakir/granule-mosaic/internal/catalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
	"github.com/mohammed-shakir/granule-mosaic/internal/query"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Options names the fixed columns every granule table carries.
type Options struct {
	IDColumn        string
	LocationColumn  string
	FootprintColumn string
	CRSColumn       string
	SRID            int
}

func (o Options) withDefaults() Options {
	if o.IDColumn == "" {
		o.IDColumn = "id"
	}
	if o.LocationColumn == "" {
		o.LocationColumn = "location"
	}
	if o.SRID == 0 {
		o.SRID = 4326
	}
	return o
}

type Catalog struct {
	db   querier
	opts Options

	mu      sync.RWMutex
	schemas map[string]catalog.Schema
}

// Open connects a pool to dsn.
func Open(ctx context.Context, dsn string, opts Options) (*Catalog, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgcatalog: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgcatalog: ping: %w", err)
	}
	return New(pool, opts), pool.Close, nil
}

func New(db querier, opts Options) *Catalog {
	return &Catalog{db: db, opts: opts.withDefaults(), schemas: map[string]catalog.Schema{}}
}

// Register declares a granule table and the attribute columns to load.
func (c *Catalog) Register(s catalog.Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[s.TypeName] = s
}

func (c *Catalog) Schema(typeName string) (catalog.Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[typeName]
	if !ok {
		return catalog.Schema{}, fmt.Errorf("pgcatalog: %w %q", catalog.ErrUnknownType, typeName)
	}
	return s, nil
}

func (c *Catalog) SupportsSorting(typeName string, by []query.SortBy) bool {
	s, err := c.Schema(typeName)
	if err != nil {
		return false
	}
	for _, b := range by {
		if b.Property != c.opts.IDColumn && b.Property != c.opts.LocationColumn && !s.Has(b.Property) {
			return false
		}
	}
	return true
}

// statement renders the SELECT for q. residual holds the filter terms left
// for in-memory evaluation; LIMIT is only pushed down when there are none.
func (c *Catalog) statement(s catalog.Schema, q query.Query) (string, []any, []filter.Predicate) {
	b := &sqlBuilder{geomColumn: s.GeometryAttribute, srid: c.opts.SRID}
	where, residual := b.split(q.Filter)

	g := ident(s.GeometryAttribute)
	cols := []string{
		ident(c.opts.IDColumn),
		ident(c.opts.LocationColumn),
		"ST_XMin(" + g + ")", "ST_YMin(" + g + ")", "ST_XMax(" + g + ")", "ST_YMax(" + g + ")",
	}
	if c.opts.FootprintColumn != "" {
		cols = append(cols, "ST_AsBinary("+ident(c.opts.FootprintColumn)+")")
	}
	if c.opts.CRSColumn != "" {
		cols = append(cols, ident(c.opts.CRSColumn))
	}
	for _, a := range s.Attributes {
		cols = append(cols, ident(a))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), ident(s.TypeName), where)
	sb.WriteString(orderBy(q.SortBy))
	if q.MaxFeatures > 0 && len(residual) == 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.MaxFeatures)
	}
	return sb.String(), b.args, residual
}

func (c *Catalog) Granules(ctx context.Context, q query.Query) ([]catalog.Record, error) {
	s, err := c.Schema(q.TypeName)
	if err != nil {
		return nil, err
	}
	stmt, args, residual := c.statement(s, q)
	rows, err := c.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("pgcatalog: query %s: %w", q.TypeName, err)
	}
	defer rows.Close()

	rest := filter.AllOf(residual...)
	var out []catalog.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("pgcatalog: scan: %w", err)
		}
		rec, err := c.record(s, vals)
		if err != nil {
			return nil, err
		}
		if !rest.Evaluate(rec) {
			continue
		}
		out = append(out, rec)
		if q.MaxFeatures > 0 && len(out) >= q.MaxFeatures {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgcatalog: rows: %w", err)
	}
	return out, nil
}

func (c *Catalog) record(s catalog.Schema, vals []any) (catalog.Record, error) {
	var rec catalog.Record
	i := 0
	next := func() any {
		v := vals[i]
		i++
		return v
	}

	rec.ID = fmt.Sprint(next())
	rec.Location, _ = next().(string)
	var env [4]float64
	for k := range env {
		f, ok := next().(float64)
		if !ok {
			return rec, fmt.Errorf("pgcatalog: granule %s has no envelope", rec.ID)
		}
		env[k] = f
	}
	rec.Envelope = orb.Bound{Min: orb.Point{env[0], env[1]}, Max: orb.Point{env[2], env[3]}}
	if c.opts.FootprintColumn != "" {
		if raw, ok := next().([]byte); ok && len(raw) > 0 {
			g, err := wkb.Unmarshal(raw)
			if err != nil {
				return rec, fmt.Errorf("pgcatalog: granule %s footprint: %w", rec.ID, err)
			}
			rec.Footprint = g
		}
	}
	if c.opts.CRSColumn != "" {
		rec.CRS, _ = next().(string)
	}
	rec.Attributes = make(map[string]any, len(s.Attributes))
	for _, a := range s.Attributes {
		if v := next(); v != nil {
			rec.Attributes[a] = v
		}
	}
	return rec, nil
}
