package raster

import (
	"image"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/mohammed-shakir/granule-mosaic/internal/geom"
)

// Rasterize burns geometry g into a mask over bounds. gridToWorld maps
// pixel-corner raster coordinates to world coordinates; a pixel is inside
// when its center is inside g.
func Rasterize(g orb.Geometry, gridToWorld geom.Affine, bounds image.Rectangle) *image.Alpha {
	m := image.NewAlpha(bounds)
	var contains func(orb.Point) bool
	switch t := g.(type) {
	case orb.Polygon:
		contains = func(p orb.Point) bool { return planar.PolygonContains(t, p) }
	case orb.MultiPolygon:
		contains = func(p orb.Point) bool { return planar.MultiPolygonContains(t, p) }
	case orb.Bound:
		contains = func(p orb.Point) bool { return t.Contains(p) }
	case orb.Ring:
		contains = func(p orb.Point) bool { return planar.RingContains(t, p) }
	default:
		return m
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			wx, wy := gridToWorld.Apply(float64(x)+0.5, float64(y)+0.5)
			if contains(orb.Point{wx, wy}) {
				m.Pix[m.PixOffset(x, y)] = 0xff
			}
		}
	}
	return m
}
