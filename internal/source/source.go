// Package source defines the raster decode collaborator: format detection,
// cheap size probing per pyramid level and windowed, subsampled reads.
package source

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/mohammed-shakir/granule-mosaic/internal/raster"
)

var ErrNoFormat = errors.New("no format accepts source")

// Source is an open raster. Level 0 is full resolution.
type Source interface {
	Levels() int
	Size(level int) (image.Point, error)
	// Read decodes window (in level pixel space) keeping every ssX-th
	// column and ssY-th row. Implementations may return fewer pixels than
	// asked for; callers derive the effective decimation from the result.
	Read(ctx context.Context, level int, window image.Rectangle, ssX, ssY int) (image.Image, error)
	Close() error
}

type Format interface {
	Name() string
	Accepts(location string) bool
	Open(ctx context.Context, location string) (Source, error)
}

// Registry resolves a location to a format. The last format that opened a
// source is tried first; the hint is best effort and a stale one only costs
// an extra probe.
type Registry struct {
	formats []Format
	hint    atomic.Int64
}

func NewRegistry(formats ...Format) *Registry {
	r := &Registry{formats: formats}
	r.hint.Store(-1)
	return r
}

func (r *Registry) Formats() []Format { return r.formats }

// Open opens location with the first accepting format.
func (r *Registry) Open(ctx context.Context, location string) (Source, error) {
	if h := int(r.hint.Load()); h >= 0 && h < len(r.formats) && r.formats[h].Accepts(location) {
		if s, err := r.formats[h].Open(ctx, location); err == nil {
			return s, nil
		}
	}
	var errs []error
	for i, f := range r.formats {
		if !f.Accepts(location) {
			continue
		}
		s, err := f.Open(ctx, location)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.Name(), err))
			continue
		}
		r.hint.Store(int64(i))
		return s, nil
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("open %s: %w", location, errors.Join(errs...))
	}
	return nil, fmt.Errorf("open %s: %w", location, ErrNoFormat)
}

// Subsample copies window of img keeping every ssX-th column and ssY-th
// row. The result starts at the origin. Indexed and gray images keep their
// color model.
func Subsample(img image.Image, window image.Rectangle, ssX, ssY int) image.Image {
	ssX, ssY = max(1, ssX), max(1, ssY)
	window = window.Intersect(img.Bounds())
	w := (window.Dx() + ssX - 1) / ssX
	h := (window.Dy() + ssY - 1) / ssY
	dst := raster.NewLike(img, image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(x, y, img.At(window.Min.X+x*ssX, window.Min.Y+y*ssY))
		}
	}
	return dst
}
