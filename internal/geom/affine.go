// Package geom holds the planar geometry shared by the query, granule and
// mosaic packages: affine transforms between raster and world space and
// envelope helpers on top of orb bounds.
package geom

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/paulmach/orb"
	"golang.org/x/image/math/f64"
)

// DefaultTolerance is used when callers do not configure one.
const DefaultTolerance = 1e-6

var ErrSingular = errors.New("non-invertible transform")

// Affine maps (x, y) to (a*x + b*y + c, d*x + e*y + f). The layout matches
// f64.Aff3 so a transform can be handed straight to x/image/draw.
type Affine f64.Aff3

// CenterToCorner converts pixel-corner grid coordinates into pixel-center
// grid coordinates, so that a center based grid-to-world transform can be
// applied to corner coordinates.
var CenterToCorner = Translate(-0.5, -0.5)

func Identity() Affine { return Affine{1, 0, 0, 0, 1, 0} }

func Translate(tx, ty float64) Affine { return Affine{1, 0, tx, 0, 1, ty} }

func Scale(sx, sy float64) Affine { return Affine{sx, 0, 0, 0, sy, 0} }

// Concat returns m·n: n is applied first, then m.
func (m Affine) Concat(n Affine) Affine {
	return Affine{
		m[0]*n[0] + m[1]*n[3],
		m[0]*n[1] + m[1]*n[4],
		m[0]*n[2] + m[1]*n[5] + m[2],
		m[3]*n[0] + m[4]*n[3],
		m[3]*n[1] + m[4]*n[4],
		m[3]*n[2] + m[4]*n[5] + m[5],
	}
}

// PreConcat returns n·m: m is applied first, then n.
func (m Affine) PreConcat(n Affine) Affine { return n.Concat(m) }

func (m Affine) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

func (m Affine) Det() float64 { return m[0]*m[4] - m[1]*m[3] }

func (m Affine) Invert() (Affine, error) {
	det := m.Det()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return Affine{}, fmt.Errorf("invert %v: %w", m, ErrSingular)
	}
	return Affine{
		m[4] / det,
		-m[1] / det,
		(m[1]*m[5] - m[4]*m[2]) / det,
		-m[3] / det,
		m[0] / det,
		(m[3]*m[2] - m[0]*m[5]) / det,
	}, nil
}

func (m Affine) IsIdentity(tol float64) bool {
	id := Identity()
	for i := range m {
		if math.Abs(m[i]-id[i]) > tol {
			return false
		}
	}
	return true
}

// IntegerTranslation reports whether m is a pure translation by whole pixels.
func (m Affine) IntegerTranslation(tol float64) (image.Point, bool) {
	if math.Abs(m[0]-1) > tol || math.Abs(m[1]) > tol || math.Abs(m[3]) > tol || math.Abs(m[4]-1) > tol {
		return image.Point{}, false
	}
	tx, ty := math.Round(m[2]), math.Round(m[5])
	if math.Abs(m[2]-tx) > tol || math.Abs(m[5]-ty) > tol {
		return image.Point{}, false
	}
	return image.Pt(int(tx), int(ty)), true
}

// AxisAligned reports whether m has no rotation or shear terms.
func (m Affine) AxisAligned(tol float64) bool {
	return math.Abs(m[1]) <= tol && math.Abs(m[3]) <= tol
}

// Snap rounds every coefficient lying within tol of an integer to that
// integer. Chained scale factors like 3 * (1/3) otherwise drift away from
// the rational value they stand for.
func (m Affine) Snap(tol float64) Affine {
	out := m
	for i, v := range out {
		if r := math.Round(v); math.Abs(v-r) <= tol {
			out[i] = r
		}
	}
	return out
}

// TransformBound maps the four corners of b and returns their envelope.
func (m Affine) TransformBound(b orb.Bound) orb.Bound {
	corners := [4]orb.Point{
		{b.Min[0], b.Min[1]},
		{b.Max[0], b.Min[1]},
		{b.Max[0], b.Max[1]},
		{b.Min[0], b.Max[1]},
	}
	x, y := m.Apply(corners[0][0], corners[0][1])
	out := orb.Bound{Min: orb.Point{x, y}, Max: orb.Point{x, y}}
	for _, c := range corners[1:] {
		x, y = m.Apply(c[0], c[1])
		out = out.Extend(orb.Point{x, y})
	}
	return out
}

// TransformRect maps an integer rectangle and returns the enclosing
// rectangle. Edges lying within tol of an integer are not expanded.
func (m Affine) TransformRect(r image.Rectangle, tol float64) image.Rectangle {
	b := m.TransformBound(orb.Bound{
		Min: orb.Point{float64(r.Min.X), float64(r.Min.Y)},
		Max: orb.Point{float64(r.Max.X), float64(r.Max.Y)},
	})
	return PixelRect(b, tol)
}

// PixelRect converts a raster-space envelope to the smallest enclosing
// integer rectangle, treating coordinates within tol of an integer as exact.
func PixelRect(b orb.Bound, tol float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(b.Min[0]+tol)),
		int(math.Floor(b.Min[1]+tol)),
		int(math.Ceil(b.Max[0]-tol)),
		int(math.Ceil(b.Max[1]-tol)),
	)
}

func (m Affine) Aff3() f64.Aff3 { return f64.Aff3(m) }

// GridToWorld returns the pixel-center grid-to-world transform of a north-up
// raster of w x h pixels covering b.
func GridToWorld(b orb.Bound, w, h int) Affine {
	sx := (b.Max[0] - b.Min[0]) / float64(w)
	sy := (b.Max[1] - b.Min[1]) / float64(h)
	return Affine{sx, 0, b.Min[0] + sx/2, 0, -sy, b.Max[1] - sy/2}
}

// GridToWorldCorner is GridToWorld expressed for pixel-corner coordinates.
func GridToWorldCorner(b orb.Bound, w, h int) Affine {
	return GridToWorld(b, w, h).Concat(CenterToCorner)
}
