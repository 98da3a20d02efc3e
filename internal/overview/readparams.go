package overview

import (
	"image"
	"math"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
)

// ReadParams is what a decode call needs besides the pixel window.
type ReadParams struct {
	SubsamplingX, SubsamplingY int
	OffsetX, OffsetY           int
	// TileSize is an optional decode tiling hint.
	TileSize *image.Point
	// Virtual is the virtual native resolution still in effect after
	// level selection; nil when none was asked for or it was given up.
	Virtual *model.Resolution
}

// DefaultReadParams reads every pixel.
func DefaultReadParams() ReadParams {
	return ReadParams{SubsamplingX: 1, SubsamplingY: 1}
}

func (rp ReadParams) Clone() ReadParams {
	c := rp
	if rp.TileSize != nil {
		ts := *rp.TileSize
		c.TileSize = &ts
	}
	if rp.Virtual != nil {
		v := *rp.Virtual
		c.Virtual = &v
	}
	return c
}

// SetReadParams picks the pyramid level for requested and, when decimation
// is allowed, the integer subsampling to apply on top of it. base is the
// native raster size; level sizes are derived from the level scale.
// Decimation targets the virtual resolution while it stays in effect and
// the requested one otherwise.
func SetReadParams(
	requested, virtual *model.Resolution,
	ovPolicy model.OverviewPolicy,
	decPolicy model.DecimationPolicy,
	base image.Point,
	ctrl *Controller,
) (int, ReadParams) {
	rp := DefaultReadParams()
	if ovPolicy == model.OverviewIgnore && decPolicy == model.DecimationDisallow {
		return 0, rp
	}

	if virtual != nil && (math.IsNaN(virtual.X) || math.IsNaN(virtual.Y)) {
		virtual = nil
	}
	level := 0
	if ovPolicy != model.OverviewIgnore {
		level, virtual = ctrl.PickLevel(ovPolicy, requested, virtual)
	}
	if virtual != nil {
		v := *virtual
		rp.Virtual = &v
	}

	target := requested
	if rp.Virtual != nil {
		target = rp.Virtual
	}
	if decPolicy == model.DecimationAllow && target != nil && ctrl != nil && ctrl.NumLevels() > 0 {
		l := ctrl.Level(level)
		size := levelSize(base, l)
		rp.SubsamplingX = decimation(target.X, l.ResX, size.X)
		rp.SubsamplingY = decimation(target.Y, l.ResY, size.Y)
	}
	return level, rp
}

// ForRequest is SetReadParams driven by a request, carrying its tile hint.
func ForRequest(req *model.Request, base image.Point, ctrl *Controller) (int, ReadParams) {
	level, rp := SetReadParams(req.RequestedResolution(), req.VirtualResolution, req.OverviewPolicy, req.DecimationPolicy, base, ctrl)
	if req.TileSize.X > 0 && req.TileSize.Y > 0 {
		ts := req.TileSize
		rp.TileSize = &ts
	}
	return level, rp
}

func levelSize(base image.Point, l Level) image.Point {
	if l.ScaleFactor <= 1 {
		return base
	}
	return image.Pt(
		max(1, int(math.Round(float64(base.X)/l.ScaleFactor))),
		max(1, int(math.Round(float64(base.Y)/l.ScaleFactor))),
	)
}

func decimation(requested, levelRes float64, dim int) int {
	if levelRes <= 0 || math.IsNaN(requested) {
		return 1
	}
	ss := max(1, int(math.Floor(requested/levelRes)))
	for ss > 1 && dim/ss == 0 {
		ss--
	}
	return max(1, ss)
}
