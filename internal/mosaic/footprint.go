package mosaic

import (
	"image"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/raster"
)

// PostProcessMosaic applies the footprint behavior to a merged raster.
func PostProcessMosaic(f model.FootprintBehavior, img image.Image, roi *raster.ROI) image.Image {
	switch f {
	case model.FootprintTransparent:
		return withFootprintAlpha(img, roi)
	default:
		// NONE leaves the image alone; CUT is enforced while merging.
		return img
	}
}

// PostProcessBlank builds the response used when no granule contributed.
func PostProcessBlank(f model.FootprintBehavior, bounds image.Rectangle, bg []uint8) image.Image {
	blank := raster.Background(bounds, bg)
	switch f {
	case model.FootprintTransparent:
		return withFootprintAlpha(blank, nil)
	default:
		return blank
	}
}

// withFootprintAlpha returns img as NRGBA whose alpha is the existing alpha
// limited to roi.
func withFootprintAlpha(img image.Image, roi *raster.ROI) *image.NRGBA {
	b := img.Bounds()
	mask := roi.Alpha(b)
	out := raster.CloneNRGBA(img)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if mask.Pix[mask.PixOffset(x, y)] == 0 {
				out.Pix[out.PixOffset(x, y)+3] = 0
			}
		}
	}
	return out
}
