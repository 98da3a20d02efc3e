// Package raster holds the pixel level operations used to place granules
// into the output grid and merge them: regions of interest, translation,
// resampling, band stacking and alpha handling.
package raster

import (
	"image"
	"image/draw"
)

// ROI is the valid-data region of a raster. A nil Mask means the whole of
// Rect is valid; otherwise a pixel is valid where the mask is non-zero.
type ROI struct {
	Rect image.Rectangle
	Mask *image.Alpha
}

func RectROI(r image.Rectangle) *ROI { return &ROI{Rect: r} }

func MaskROI(m *image.Alpha) *ROI { return &ROI{Rect: m.Rect, Mask: m} }

func (r *ROI) Bounds() image.Rectangle {
	if r == nil {
		return image.Rectangle{}
	}
	return r.Rect
}

// IsRect reports whether the region is exactly its bounding rectangle.
func (r *ROI) IsRect() bool {
	if r == nil {
		return false
	}
	if r.Mask == nil {
		return true
	}
	for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
		for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
			if r.Mask.AlphaAt(x, y).A == 0 {
				return false
			}
		}
	}
	return true
}

func (r *ROI) Contains(x, y int) bool {
	if r == nil || !image.Pt(x, y).In(r.Rect) {
		return false
	}
	return r.Mask == nil || r.Mask.AlphaAt(x, y).A != 0
}

func (r *ROI) Empty() bool { return r == nil || r.Rect.Empty() }

// Alpha rasterizes the region over bounds: 0xff inside, 0 outside.
func (r *ROI) Alpha(bounds image.Rectangle) *image.Alpha {
	out := image.NewAlpha(bounds)
	if r == nil {
		return out
	}
	in := r.Rect.Intersect(bounds)
	if r.Mask == nil {
		draw.Draw(out, in, image.Opaque, image.Point{}, draw.Src)
		return out
	}
	for y := in.Min.Y; y < in.Max.Y; y++ {
		for x := in.Min.X; x < in.Max.X; x++ {
			if r.Mask.AlphaAt(x, y).A != 0 {
				out.Pix[out.PixOffset(x, y)] = 0xff
			}
		}
	}
	return out
}

// Intersect clips the region to rect.
func (r *ROI) Intersect(rect image.Rectangle) *ROI {
	if r == nil {
		return nil
	}
	in := r.Rect.Intersect(rect)
	if r.Mask == nil {
		return RectROI(in)
	}
	m, _ := r.Mask.SubImage(in).(*image.Alpha)
	return &ROI{Rect: in, Mask: m}
}

// Translate shifts the region by d without copying the mask pixels.
func (r *ROI) Translate(d image.Point) *ROI {
	if r == nil {
		return nil
	}
	out := &ROI{Rect: r.Rect.Add(d)}
	if r.Mask != nil {
		m := *r.Mask
		m.Rect = m.Rect.Add(d)
		out.Mask = &m
	}
	return out
}

// Union merges regions. The result keeps a plain rectangle when one of the
// inputs already covers the other's bounds.
func Union(rois ...*ROI) *ROI {
	var out *ROI
	for _, r := range rois {
		if r.Empty() {
			continue
		}
		if out == nil {
			c := *r
			out = &c
			continue
		}
		switch {
		case out.Mask == nil && r.Rect.In(out.Rect):
		case r.Mask == nil && out.Rect.In(r.Rect):
			c := *r
			out = &c
		default:
			bounds := out.Rect.Union(r.Rect)
			m := out.Alpha(bounds)
			ra := r.Alpha(bounds)
			for i, a := range ra.Pix {
				if a != 0 {
					m.Pix[i] = 0xff
				}
			}
			out = &ROI{Rect: bounds, Mask: m}
		}
	}
	return out
}

// IntersectROI returns the pixels valid in both regions.
func IntersectROI(a, b *ROI) *ROI {
	if a == nil || b == nil {
		return nil
	}
	in := a.Rect.Intersect(b.Rect)
	if a.Mask == nil && b.Mask == nil {
		return RectROI(in)
	}
	m := image.NewAlpha(in)
	for y := in.Min.Y; y < in.Max.Y; y++ {
		for x := in.Min.X; x < in.Max.X; x++ {
			if a.Contains(x, y) && b.Contains(x, y) {
				m.Pix[m.PixOffset(x, y)] = 0xff
			}
		}
	}
	return MaskROI(m)
}
