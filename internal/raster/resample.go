package raster

import (
	"errors"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"github.com/mohammed-shakir/granule-mosaic/internal/geom"
)

// ErrEmptyLayout is returned when a transform maps a raster onto no pixels,
// which happens with extreme scale ratios.
var ErrEmptyLayout = errors.New("transformed raster has an empty extent")

// Resample maps img into a new raster through tr using nearest neighbour
// sampling. tr maps source pixel-corner coordinates to destination
// pixel-corner coordinates. Indexed and gray images keep their color
// model. The returned ROI covers the destination pixels fed by img.
func Resample(img image.Image, tr geom.Affine, tol float64) (image.Image, *ROI, error) {
	src := img.Bounds()
	dst := tr.TransformRect(src, tol)
	if dst.Empty() {
		return nil, nil, ErrEmptyLayout
	}
	if _, err := tr.Invert(); err != nil {
		return nil, nil, err
	}

	var out xdraw.Image
	switch m := img.(type) {
	case *image.Paletted:
		out = image.NewPaletted(dst, m.Palette)
	case *image.Gray:
		out = image.NewGray(dst)
	case *image.Gray16:
		out = image.NewGray16(dst)
	case *image.RGBA:
		out = image.NewRGBA(dst)
	case *Bands:
		b := &Bands{Rect: dst, Planes: make([]*image.Gray, len(m.Planes))}
		for i, p := range m.Planes {
			g := image.NewGray(dst)
			xdraw.NearestNeighbor.Transform(g, tr.Aff3(), p, src, xdraw.Src, nil)
			b.Planes[i] = g
		}
		return b, TransformROI(RectROI(src), tr, tol), nil
	default:
		out = image.NewNRGBA(dst)
	}
	xdraw.NearestNeighbor.Transform(out, tr.Aff3(), img, src, xdraw.Src, nil)
	return out, TransformROI(RectROI(src), tr, tol), nil
}

// TransformROI maps a region through tr. Axis aligned transforms of plain
// rectangles stay rectangles; everything else is resampled as a mask.
func TransformROI(r *ROI, tr geom.Affine, tol float64) *ROI {
	if r == nil {
		return nil
	}
	dst := tr.TransformRect(r.Rect, tol)
	if dst.Empty() {
		return RectROI(image.Rectangle{})
	}
	if r.Mask == nil && tr.AxisAligned(tol) {
		return RectROI(dst)
	}
	var src image.Image = image.NewUniform(color.Alpha{A: 0xff})
	if r.Mask != nil {
		src = r.Mask
	}
	m := image.NewAlpha(dst)
	xdraw.NearestNeighbor.Transform(m, tr.Aff3(), src, r.Rect, xdraw.Src, nil)
	return MaskROI(m)
}
