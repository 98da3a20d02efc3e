package mosaic

import (
	"image"
	"image/color"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/raster"
)

// MergeInput is what a merge behavior works on. Alphas, ROIs and
// Thresholds are nil slices, not slices of nils or zeros, when no source
// carries one. A source pixel darker than its threshold is no data.
type MergeInput struct {
	Sources    []image.Image
	Bounds     image.Rectangle
	Background []uint8
	Thresholds []float64
	Alphas     []*image.Alpha
	ROIs       []*raster.ROI
	Mode       model.BlendMode
}

// Process merges in according to behavior and returns the merged raster and
// the region that received source data.
func Process(behavior model.MergeBehavior, in MergeInput) (image.Image, *raster.ROI) {
	switch behavior {
	case model.MergeStack:
		return stack(in)
	default:
		return flat(in)
	}
}

func flat(in MergeInput) (image.Image, *raster.ROI) {
	out := raster.Background(in.Bounds, in.Background)
	srcs := make([]*image.NRGBA, len(in.Sources))
	for i, s := range in.Sources {
		srcs[i] = raster.ToNRGBA(s)
	}
	valid := func(i, x, y int) (color.NRGBA, uint8, bool) {
		s := srcs[i]
		if !image.Pt(x, y).In(s.Rect) {
			return color.NRGBA{}, 0, false
		}
		if in.ROIs != nil && in.ROIs[i] != nil && !in.ROIs[i].Contains(x, y) {
			return color.NRGBA{}, 0, false
		}
		c := s.NRGBAAt(x, y)
		a := c.A
		if in.Alphas != nil && in.Alphas[i] != nil {
			if !image.Pt(x, y).In(in.Alphas[i].Rect) {
				return color.NRGBA{}, 0, false
			}
			a = in.Alphas[i].AlphaAt(x, y).A
		}
		if a == 0 {
			return color.NRGBA{}, 0, false
		}
		if in.Thresholds != nil && float64(luma(c)) < in.Thresholds[i] {
			return color.NRGBA{}, 0, false
		}
		return c, a, true
	}

	b := in.Bounds
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch in.Mode {
			case model.BlendAlpha:
				var r, g, bl, wsum float64
				for i := range srcs {
					c, a, ok := valid(i, x, y)
					if !ok {
						continue
					}
					w := float64(a) / 0xff
					r += float64(c.R) * w
					g += float64(c.G) * w
					bl += float64(c.B) * w
					wsum += w
				}
				if wsum > 0 {
					out.SetNRGBA(x, y, color.NRGBA{
						R: uint8(r/wsum + 0.5), G: uint8(g/wsum + 0.5), B: uint8(bl/wsum + 0.5),
						A: uint8(min(wsum, 1)*0xff + 0.5),
					})
				}
			default:
				for i := range srcs {
					if c, a, ok := valid(i, x, y); ok {
						c.A = a
						out.SetNRGBA(x, y, c)
						break
					}
				}
			}
		}
	}
	return out, overallROI(in)
}

func luma(c color.NRGBA) uint8 {
	return color.GrayModel.Convert(color.NRGBA{c.R, c.G, c.B, 0xff}).(color.Gray).Y
}

// overallROI is the union of the source regions clipped to the output.
func overallROI(in MergeInput) *raster.ROI {
	parts := make([]*raster.ROI, 0, len(in.Sources))
	for i, s := range in.Sources {
		r := raster.RectROI(s.Bounds())
		if in.ROIs != nil && in.ROIs[i] != nil {
			r = in.ROIs[i]
		}
		parts = append(parts, r.Intersect(in.Bounds))
	}
	return raster.Union(parts...)
}

func stack(in MergeInput) (image.Image, *raster.ROI) {
	if len(in.Sources) == 0 {
		return raster.Background(in.Bounds, in.Background), nil
	}
	srcs := in.Sources
	common := srcs[0].Bounds()
	same := true
	for _, s := range srcs[1:] {
		if s.Bounds() != common {
			same = false
			common = common.Union(s.Bounds())
		}
	}
	if !same {
		if in.ROIs != nil {
			// padding would misalign partial coverage masks
			return flat(in)
		}
		padded := make([]image.Image, len(srcs))
		for i, s := range srcs {
			padded[i] = raster.PadLike(s, common, in.Background, nil)
		}
		srcs = padded
	}
	out, ok := raster.BandStack(srcs)
	if !ok {
		return flat(in)
	}
	roi := overallROI(MergeInput{Sources: srcs, Bounds: in.Bounds, ROIs: in.ROIs})
	return out.Pad(in.Bounds, in.Background), roi
}
