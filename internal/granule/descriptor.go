// Package granule models one source raster of a mosaic: its footprint, its
// per-level geometry and the extraction of its pixels into an output grid.
package granule

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/granule-mosaic/internal/catalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/geom"
	"github.com/mohammed-shakir/granule-mosaic/internal/raster"
	"github.com/mohammed-shakir/granule-mosaic/internal/source"
)

var (
	ErrNilCrop   = errors.New("granule: crop envelope is required")
	ErrNoLevels  = errors.New("granule: source has no levels")
	errEmptySize = errors.New("granule: empty raster")
)

// ReadType selects how pixels are pulled from the source.
type ReadType int

const (
	// ReadDirect decodes the whole window in one call.
	ReadDirect ReadType = iota
	// ReadTiled decodes the window tile by tile and assembles the result.
	ReadTiled
)

func (r ReadType) String() string {
	if r == ReadTiled {
		return "TILED"
	}
	return "DIRECT"
}

type Options struct {
	Tolerance float64
	ReadType  ReadType
	// TileSize is used by ReadTiled when the read params carry no hint.
	TileSize image.Point
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = geom.DefaultTolerance
	}
	if o.TileSize.X <= 0 || o.TileSize.Y <= 0 {
		o.TileSize = image.Pt(256, 256)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Level is the geometry of one pyramid level of a granule. Scale is the
// size of a level pixel in base pixels.
type Level struct {
	Index          int
	ScaleX, ScaleY float64
	Width, Height  int
	// BaseToLevel maps base raster corner coordinates to level ones.
	BaseToLevel geom.Affine
	// LevelToWorld maps level raster corner coordinates to world ones.
	LevelToWorld geom.Affine
}

func (l *Level) Bounds() image.Rectangle { return image.Rect(0, 0, l.Width, l.Height) }

// Descriptor is long lived and shared by concurrent loads. Its level cache
// only grows.
type Descriptor struct {
	ID        string
	Location  string
	Bound     orb.Bound
	Inclusion orb.Geometry
	// Attributes are the catalog attributes the granule was matched with.
	Attributes map[string]any

	formats   *source.Registry
	opts      Options
	numLevels int
	baseSize  image.Point
	// baseG2W is pixel-center based.
	baseG2W geom.Affine
	// mask is the inclusion geometry rasterized in base raster space.
	mask   *image.Alpha
	levels sync.Map
}

// NewDescriptor probes rec's source once for its size and levels.
func NewDescriptor(ctx context.Context, rec catalog.Record, formats *source.Registry, opts Options) (*Descriptor, error) {
	opts = opts.withDefaults()
	src, err := formats.Open(ctx, rec.Location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	if src.Levels() == 0 {
		return nil, fmt.Errorf("%s: %w", rec.Location, ErrNoLevels)
	}
	size, err := src.Size(0)
	if err != nil {
		return nil, fmt.Errorf("%s: size: %w", rec.Location, err)
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%s: %w", rec.Location, errEmptySize)
	}

	d := &Descriptor{
		ID:         rec.ID,
		Location:   rec.Location,
		Bound:      rec.Envelope,
		Inclusion:  rec.Footprint,
		Attributes: rec.Attributes,
		formats:    formats,
		opts:       opts,
		numLevels:  src.Levels(),
		baseSize:   size,
		baseG2W:    geom.GridToWorld(rec.Envelope, size.X, size.Y),
	}
	if rec.Footprint != nil {
		d.mask = raster.Rasterize(rec.Footprint, d.baseG2W.Concat(geom.CenterToCorner), image.Rect(0, 0, size.X, size.Y))
	}
	d.levels.Store(0, d.level(0, size))
	return d, nil
}

func (d *Descriptor) NumLevels() int { return d.numLevels }

func (d *Descriptor) BaseSize() image.Point { return d.baseSize }

// Mask is the rasterized inclusion geometry, nil without one.
func (d *Descriptor) Mask() *image.Alpha { return d.mask }

// Level returns the geometry of level i, probing the source on first use.
// Levels past the granule's coarsest one resolve to the coarsest.
func (d *Descriptor) Level(ctx context.Context, i int) (*Level, error) {
	i = max(0, min(i, d.numLevels-1))
	if l, ok := d.levels.Load(i); ok {
		return l.(*Level), nil
	}
	src, err := d.formats.Open(ctx, d.Location)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	return d.loadLevel(src, i)
}

func (d *Descriptor) levelFrom(src source.Source, i int) (*Level, error) {
	i = max(0, min(i, d.numLevels-1))
	if l, ok := d.levels.Load(i); ok {
		return l.(*Level), nil
	}
	return d.loadLevel(src, i)
}

func (d *Descriptor) loadLevel(src source.Source, i int) (*Level, error) {
	size, err := src.Size(i)
	if err != nil {
		return nil, fmt.Errorf("%s: level %d size: %w", d.Location, i, err)
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("%s: level %d: %w", d.Location, i, errEmptySize)
	}
	l, _ := d.levels.LoadOrStore(i, d.level(i, size))
	return l.(*Level), nil
}

func (d *Descriptor) level(i int, size image.Point) *Level {
	sx := float64(d.baseSize.X) / float64(size.X)
	sy := float64(d.baseSize.Y) / float64(size.Y)
	return &Level{
		Index:        i,
		ScaleX:       sx,
		ScaleY:       sy,
		Width:        size.X,
		Height:       size.Y,
		BaseToLevel:  geom.Scale(1/sx, 1/sy),
		LevelToWorld: d.baseG2W.Concat(geom.CenterToCorner).Concat(geom.Scale(sx, sy)),
	}
}
