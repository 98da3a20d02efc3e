// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"image"
	"image/color"
	"maps"
	"slices"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.X1, b.Y1}, Max: orb.Point{b.X2, b.Y2}}
}

func BBoxOf(bd orb.Bound, srid string) BBox {
	return BBox{X1: bd.Min[0], Y1: bd.Min[1], X2: bd.Max[0], Y2: bd.Max[1], SRID: srid}
}

// Resolution is a pixel size in world units per axis.
type Resolution struct {
	X, Y float64
}

type OverviewPolicy int

const (
	OverviewNearest OverviewPolicy = iota
	OverviewIgnore
	OverviewQuality
	OverviewSpeed
)

func (p OverviewPolicy) String() string {
	switch p {
	case OverviewIgnore:
		return "IGNORE"
	case OverviewQuality:
		return "QUALITY"
	case OverviewSpeed:
		return "SPEED"
	default:
		return "NEAREST"
	}
}

func ParseOverviewPolicy(s string) (OverviewPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NEAREST":
		return OverviewNearest, nil
	case "IGNORE":
		return OverviewIgnore, nil
	case "QUALITY":
		return OverviewQuality, nil
	case "SPEED":
		return OverviewSpeed, nil
	}
	return OverviewNearest, fmt.Errorf("unknown overview policy %q", s)
}

type DecimationPolicy int

const (
	DecimationAllow DecimationPolicy = iota
	DecimationDisallow
)

func (p DecimationPolicy) String() string {
	if p == DecimationDisallow {
		return "DISALLOW"
	}
	return "ALLOW"
}

func ParseDecimationPolicy(s string) (DecimationPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ALLOW":
		return DecimationAllow, nil
	case "DISALLOW":
		return DecimationDisallow, nil
	}
	return DecimationAllow, fmt.Errorf("unknown decimation policy %q", s)
}

// MergeBehavior selects how aligned granule rasters are combined.
type MergeBehavior int

const (
	MergeFlat MergeBehavior = iota
	MergeStack
)

func (m MergeBehavior) String() string {
	if m == MergeStack {
		return "STACK"
	}
	return "FLAT"
}

func ParseMergeBehavior(s string) (MergeBehavior, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "FLAT":
		return MergeFlat, nil
	case "STACK":
		return MergeStack, nil
	}
	return MergeFlat, fmt.Errorf("unknown merge behavior %q", s)
}

// FootprintBehavior selects how granule footprints shape the output.
type FootprintBehavior int

const (
	FootprintNone FootprintBehavior = iota
	FootprintCut
	FootprintTransparent
)

func (f FootprintBehavior) String() string {
	switch f {
	case FootprintCut:
		return "CUT"
	case FootprintTransparent:
		return "TRANSPARENT"
	default:
		return "NONE"
	}
}

func ParseFootprintBehavior(s string) (FootprintBehavior, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return FootprintNone, nil
	case "CUT":
		return FootprintCut, nil
	case "TRANSPARENT":
		return FootprintTransparent, nil
	}
	return FootprintNone, fmt.Errorf("unknown footprint behavior %q", s)
}

type BlendMode int

const (
	BlendOverlay BlendMode = iota
	BlendAlpha
)

// Request is one read call against a coverage. It is built once and not
// modified afterwards; use Clone to derive a variant.
type Request struct {
	Coverage string
	BBox     BBox
	Width    int
	Height   int

	// Resolution is nil for native resolution.
	Resolution        *Resolution
	VirtualResolution *Resolution
	OverviewPolicy    OverviewPolicy
	DecimationPolicy  DecimationPolicy

	Times      []filter.DomainValue
	Elevations []filter.DomainValue
	Dimensions map[string][]filter.DomainValue
	Filter     filter.Predicate
	SortBy     string

	MaxGranules   int
	Multithreaded bool

	Merge     MergeBehavior
	Footprint FootprintBehavior
	BlendMode BlendMode

	Background        []uint8
	InputTransparent  *color.NRGBA
	OutputTransparent *color.NRGBA
	TileSize          image.Point
	HasAlpha          bool
	SkipFastPath      bool
}

// RequestedResolution returns Resolution, or the one implied by the bbox and
// output size when unset. Nil means native.
func (r *Request) RequestedResolution() *Resolution {
	if r == nil {
		return nil
	}
	if r.Resolution != nil {
		return r.Resolution
	}
	if r.Width <= 0 || r.Height <= 0 {
		return nil
	}
	b := r.BBox.Bound()
	return &Resolution{X: (b.Max[0] - b.Min[0]) / float64(r.Width), Y: (b.Max[1] - b.Min[1]) / float64(r.Height)}
}

// OutputBounds is the pixel rectangle of the composed image.
func (r *Request) OutputBounds() image.Rectangle {
	return image.Rect(0, 0, r.Width, r.Height)
}

func (r *Request) Clone() *Request {
	c := *r
	if r.Resolution != nil {
		v := *r.Resolution
		c.Resolution = &v
	}
	if r.VirtualResolution != nil {
		v := *r.VirtualResolution
		c.VirtualResolution = &v
	}
	c.Times = slices.Clone(r.Times)
	c.Elevations = slices.Clone(r.Elevations)
	if r.Dimensions != nil {
		c.Dimensions = make(map[string][]filter.DomainValue, len(r.Dimensions))
		for k, v := range r.Dimensions {
			c.Dimensions[k] = slices.Clone(v)
		}
	}
	c.Background = slices.Clone(r.Background)
	if r.InputTransparent != nil {
		v := *r.InputTransparent
		c.InputTransparent = &v
	}
	if r.OutputTransparent != nil {
		v := *r.OutputTransparent
		c.OutputTransparent = &v
	}
	return &c
}

// DimensionNames returns the custom dimension names in sorted order.
func (r *Request) DimensionNames() []string {
	return slices.Sorted(maps.Keys(r.Dimensions))
}
