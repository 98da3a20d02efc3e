package granule

import (
	"context"
	"errors"
	"image"
	"image/draw"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/geom"
	"github.com/mohammed-shakir/granule-mosaic/internal/overview"
	"github.com/mohammed-shakir/granule-mosaic/internal/raster"
	"github.com/mohammed-shakir/granule-mosaic/internal/source"
)

// Result is a granule's pixels placed in the output grid. A nil *Result
// means the granule contributes nothing to the request.
type Result struct {
	Image image.Image
	ROI   *raster.ROI
	// Transform is the raster-to-output chain the pixels were placed with.
	Transform geom.Affine
	// Descriptor is the granule the pixels came from.
	Descriptor *Descriptor
}

// LoadRaster extracts the part of the granule inside crop at pyramid level
// and maps it into the output grid described by worldToGrid, which takes
// world coordinates to output pixel-corner coordinates.
//
// Empty intersections, missing decoders and degenerate transforms yield a
// nil result and no error. Decode failures are returned.
func (d *Descriptor) LoadRaster(
	ctx context.Context,
	rp overview.ReadParams,
	level int,
	crop orb.Bound,
	worldToGrid geom.Affine,
	req *model.Request,
) (*Result, error) {
	if geom.IsZero(crop) {
		return nil, ErrNilCrop
	}
	log := d.opts.Logger.With("granule", d.Location, "level", level)
	tol := d.opts.Tolerance

	bound := d.Bound
	if d.Inclusion != nil {
		var ok bool
		if bound, ok = geom.Intersect(bound, d.Inclusion.Bound()); !ok {
			return nil, nil
		}
	}
	inter, ok := geom.Intersect(bound, crop)
	if !ok {
		log.Debug("granule outside crop")
		return nil, nil
	}

	src, err := d.formats.Open(ctx, d.Location)
	if err != nil {
		if errors.Is(err, source.ErrNoFormat) {
			log.Debug("no decoder for granule")
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = src.Close() }()

	lvl, err := d.levelFrom(src, level)
	if err != nil {
		return nil, err
	}

	// world -> level raster corner space
	worldToLevel, err := lvl.LevelToWorld.Invert()
	if err != nil {
		log.Debug("level transform not invertible", "err", err)
		return nil, nil
	}
	window := geom.PixelRect(worldToLevel.TransformBound(inter), tol).Intersect(lvl.Bounds())
	if window.Empty() {
		return nil, nil
	}

	ssX, ssY := max(1, rp.SubsamplingX), max(1, rp.SubsamplingY)
	img, err := d.read(ctx, src, lvl.Index, window, ssX, ssY, rp.TileSize)
	if err != nil {
		return nil, err
	}
	got := img.Bounds()
	if got.Empty() {
		return nil, nil
	}

	// decoders may not honour the requested stride exactly
	decX := float64(window.Dx()) / float64(got.Dx())
	decY := float64(window.Dy()) / float64(got.Dy())

	baseToWorld := d.baseG2W.Concat(geom.CenterToCorner)
	chain := worldToGrid.
		Concat(baseToWorld).
		Concat(geom.Scale(lvl.ScaleX, lvl.ScaleY)).
		Concat(geom.Translate(float64(window.Min.X), float64(window.Min.Y))).
		Concat(geom.Scale(decX, decY)).
		Concat(geom.Translate(-float64(got.Min.X), -float64(got.Min.Y))).
		Snap(tol)

	var maskROI *raster.ROI
	if d.mask != nil {
		maskROI = raster.TransformROI(raster.MaskROI(d.mask), worldToGrid.Concat(baseToWorld).Snap(tol), tol)
	}

	var out image.Image
	var roi *raster.ROI
	if dp, ok := chain.IntegerTranslation(tol); ok {
		out = raster.Translate(img, dp)
		roi = raster.RectROI(got.Add(dp))
	} else {
		out, roi, err = raster.Resample(img, chain, tol)
		if err != nil {
			log.Debug("granule dropped, degenerate transform", "err", err)
			return nil, nil
		}
	}
	if maskROI != nil {
		roi = raster.IntersectROI(roi, maskROI)
		if roi.Empty() {
			return nil, nil
		}
	}
	if req != nil && req.InputTransparent != nil {
		out = raster.MakeTransparent(out, *req.InputTransparent)
	}
	return &Result{Image: out, ROI: roi, Transform: chain, Descriptor: d}, nil
}

func (d *Descriptor) read(ctx context.Context, src source.Source, level int, window image.Rectangle, ssX, ssY int, hint *image.Point) (image.Image, error) {
	switch d.opts.ReadType {
	case ReadTiled:
		ts := d.opts.TileSize
		if hint != nil && hint.X > 0 && hint.Y > 0 {
			ts = *hint
		}
		return readTiled(ctx, src, level, window, ssX, ssY, ts)
	default:
		return src.Read(ctx, level, window, ssX, ssY)
	}
}

// readTiled reads window in tiles of ts output pixels. Tile origins stay on
// the subsampling stride so the assembled raster matches a direct read.
func readTiled(ctx context.Context, src source.Source, level int, window image.Rectangle, ssX, ssY int, ts image.Point) (image.Image, error) {
	w := (window.Dx() + ssX - 1) / ssX
	h := (window.Dy() + ssY - 1) / ssY
	var dst draw.Image
	for ty := 0; ty < h; ty += ts.Y {
		for tx := 0; tx < w; tx += ts.X {
			tile := image.Rect(
				window.Min.X+tx*ssX, window.Min.Y+ty*ssY,
				window.Min.X+min(tx+ts.X, w)*ssX, window.Min.Y+min(ty+ts.Y, h)*ssY,
			).Intersect(window)
			part, err := src.Read(ctx, level, tile, ssX, ssY)
			if err != nil {
				return nil, err
			}
			if dst == nil {
				dst = raster.NewLike(part, image.Rect(0, 0, w, h))
			}
			pb := part.Bounds()
			draw.Draw(dst, pb.Sub(pb.Min).Add(image.Pt(tx, ty)), part, pb.Min, draw.Src)
		}
	}
	if dst == nil {
		return image.NewNRGBA(image.Rectangle{}), nil
	}
	return dst, nil
}
