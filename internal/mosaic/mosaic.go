// Package mosaic composes placed granule rasters into the output image.
package mosaic

import (
	"image"
	"log/slog"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/raster"
)

// Element is one granule's contribution to a mosaic.
type Element struct {
	Source image.Image
	Alpha  *image.Alpha
	ROI    *raster.ROI
	// Threshold is the luma below which source pixels are no data; zero
	// keeps every pixel.
	Threshold float64
	// Attributes is optional per granule metadata carried to the caller.
	Attributes map[string]any
}

type Path int

const (
	PathEmpty Path = iota
	PathFast
	PathMerge
)

func (p Path) String() string {
	switch p {
	case PathFast:
		return "fast"
	case PathMerge:
		return "merge"
	default:
		return "empty"
	}
}

type Output struct {
	Image image.Image
	// Alpha is set when the request asked for an alpha channel.
	Alpha *image.Alpha
	ROI   *raster.ROI
	Path  Path
}

type Mosaicker struct {
	logger *slog.Logger
	merge  func(model.MergeBehavior, MergeInput) (image.Image, *raster.ROI)
}

func New(logger *slog.Logger) *Mosaicker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Mosaicker{logger: logger, merge: Process}
}

// Compose merges elems into bounds. It returns nil when there is nothing to
// merge; callers substitute PostProcessBlank.
func (m *Mosaicker) Compose(elems []Element, bounds image.Rectangle, req *model.Request) *Output {
	if len(elems) == 0 {
		return nil
	}
	var out *Output
	if len(elems) == 1 && !req.SkipFastPath && fastPathEligible(elems[0], bounds) {
		out = m.fastPath(elems[0], bounds, req)
	} else {
		out = m.general(elems, bounds, req)
	}
	if req.HasAlpha || req.InputTransparent != nil {
		out.Alpha = raster.ExtractAlpha(out.Image)
	}
	return out
}

// fastPathEligible: a single raster whose region is its whole bounds and
// which is no larger than the output and needs no thresholding.
func fastPathEligible(e Element, bounds image.Rectangle) bool {
	if e.Threshold > 0 {
		return false
	}
	sb := e.Source.Bounds()
	if sb.Dx() > bounds.Dx() || sb.Dy() > bounds.Dy() || !sb.Overlaps(bounds) {
		return false
	}
	return e.ROI == nil || (e.ROI.Rect == sb && e.ROI.IsRect())
}

func (m *Mosaicker) fastPath(e Element, bounds image.Rectangle, req *model.Request) *Output {
	img := raster.Crop(e.Source, bounds)
	roi := raster.RectROI(img.Bounds())
	if img.Bounds() != bounds || e.Alpha != nil {
		img = raster.PadLike(img, bounds, req.Background, e.Alpha)
	}
	m.logger.Debug("mosaic fast path", "bounds", bounds, "granule_bounds", e.Source.Bounds())
	return &Output{
		Image: PostProcessMosaic(req.Footprint, img, roi),
		ROI:   roi,
		Path:  PathFast,
	}
}

func (m *Mosaicker) general(elems []Element, bounds image.Rectangle, req *model.Request) *Output {
	in := MergeInput{
		Sources:    make([]image.Image, len(elems)),
		Bounds:     bounds,
		Background: req.Background,
		Mode:       req.BlendMode,
	}
	var hasAlpha, hasROI, hasThreshold bool
	for _, e := range elems {
		hasAlpha = hasAlpha || e.Alpha != nil
		hasROI = hasROI || e.ROI != nil
		hasThreshold = hasThreshold || e.Threshold > 0
	}
	if hasThreshold {
		in.Thresholds = make([]float64, len(elems))
	}
	if hasAlpha {
		in.Alphas = make([]*image.Alpha, len(elems))
	}
	if hasROI {
		in.ROIs = make([]*raster.ROI, len(elems))
	}
	for i, e := range elems {
		in.Sources[i] = e.Source
		if hasThreshold {
			in.Thresholds[i] = e.Threshold
		}
		if hasROI {
			in.ROIs[i] = e.ROI
			if in.ROIs[i] == nil {
				in.ROIs[i] = raster.RectROI(e.Source.Bounds())
			}
		}
		if hasAlpha {
			a := e.Alpha
			if a != nil && e.ROI != nil {
				a = raster.MultiplyAlpha(a, e.ROI)
			}
			in.Alphas[i] = a
		}
	}

	merged, roi := m.merge(req.Merge, in)
	m.logger.Debug("mosaic merged", "granules", len(elems), "merge", req.Merge.String())
	return &Output{
		Image: PostProcessMosaic(req.Footprint, merged, roi),
		ROI:   roi,
		Path:  PathMerge,
	}
}
