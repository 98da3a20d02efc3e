package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"sigs.k8s.io/yaml"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
)

// Domain names the catalog attributes backing a time, elevation or custom
// dimension. End is set when granules store a [Attribute, End] extent.
type Domain struct {
	Attribute string `json:"attribute"`
	End       string `json:"end,omitempty"`
}

type Granule struct {
	ID         string            `json:"id"`
	Location   string            `json:"location"`
	BBox       [4]float64        `json:"bbox"`
	CRS        string            `json:"crs,omitempty"`
	Footprint  *geojson.Geometry `json:"footprint,omitempty"`
	Attributes map[string]any    `json:"attributes,omitempty"`
}

func (g Granule) Envelope() orb.Bound {
	return orb.Bound{Min: orb.Point{g.BBox[0], g.BBox[1]}, Max: orb.Point{g.BBox[2], g.BBox[3]}}
}

// FootprintGeometry returns the inclusion geometry or nil.
func (g Granule) FootprintGeometry() orb.Geometry {
	if g.Footprint == nil {
		return nil
	}
	return g.Footprint.Geometry()
}

// Coverage is one mosaic as declared in the coverage file.
type Coverage struct {
	Name              string `json:"name"`
	TypeName          string `json:"typeName,omitempty"`
	GeometryAttribute string `json:"geometryAttribute,omitempty"`
	CRS               string `json:"crs"`
	CRSAttribute      string `json:"crsAttribute,omitempty"`
	Heterogeneous     bool   `json:"heterogeneous,omitempty"`
	// Geographic coverages split requests crossing the antimeridian.
	Geographic bool `json:"geographic,omitempty"`

	Resolution [2]float64   `json:"resolution"`
	Overviews  [][2]float64 `json:"overviews,omitempty"`

	Time       *Domain           `json:"time,omitempty"`
	Elevation  *Domain           `json:"elevation,omitempty"`
	Dimensions map[string]Domain `json:"dimensions,omitempty"`

	Attributes []string `json:"attributes,omitempty"`
	SortBy     string   `json:"sortBy,omitempty"`
	Background []int    `json:"background,omitempty"`
	// Threshold is the luma below which granule pixels are treated as
	// no data while merging.
	Threshold float64 `json:"threshold,omitempty"`

	Granules []Granule `json:"granules,omitempty"`
}

func (c Coverage) HighestResolution() model.Resolution {
	return model.Resolution{X: c.Resolution[0], Y: c.Resolution[1]}
}

func (c Coverage) OverviewResolutions() []model.Resolution {
	out := make([]model.Resolution, 0, len(c.Overviews))
	for _, o := range c.Overviews {
		out = append(out, model.Resolution{X: o[0], Y: o[1]})
	}
	return out
}

// AttributeNames lists the granule attributes the coverage declares or
// queries through its domains, sorted and without duplicates.
func (c Coverage) AttributeNames() []string {
	out := slices.Clone(c.Attributes)
	add := func(d Domain) {
		out = append(out, d.Attribute)
		if d.End != "" {
			out = append(out, d.End)
		}
	}
	if c.Time != nil {
		add(*c.Time)
	}
	if c.Elevation != nil {
		add(*c.Elevation)
	}
	for _, d := range c.Dimensions {
		add(d)
	}
	if c.CRSAttribute != "" {
		out = append(out, c.CRSAttribute)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (c Coverage) BackgroundValues() []uint8 {
	if len(c.Background) == 0 {
		return nil
	}
	out := make([]uint8, len(c.Background))
	for i, v := range c.Background {
		out[i] = uint8(min(max(v, 0), 255))
	}
	return out
}

func (c Coverage) Validate() error {
	if c.Name == "" {
		return errors.New("coverage name is required")
	}
	if c.Resolution[0] <= 0 || c.Resolution[1] <= 0 {
		return fmt.Errorf("coverage %s: resolution must be positive", c.Name)
	}
	for i, o := range c.Overviews {
		if o[0] < c.Resolution[0] || o[1] < c.Resolution[1] {
			return fmt.Errorf("coverage %s: overview %d is finer than the native resolution", c.Name, i)
		}
	}
	if c.Threshold < 0 || c.Threshold > 255 {
		return fmt.Errorf("coverage %s: threshold must be within [0,255]", c.Name)
	}
	for i, g := range c.Granules {
		if g.ID == "" || g.Location == "" {
			return fmt.Errorf("coverage %s: granule %d needs id and location", c.Name, i)
		}
		if !(g.BBox[2] > g.BBox[0] && g.BBox[3] > g.BBox[1]) {
			return fmt.Errorf("coverage %s: granule %s bbox must satisfy x2>x1 and y2>y1", c.Name, g.ID)
		}
	}
	return nil
}

type coverageFile struct {
	Coverages []Coverage `json:"coverages"`
}

// ParseCoverages decodes a YAML (or JSON) coverage document.
func ParseCoverages(b []byte) ([]Coverage, error) {
	var f coverageFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse coverages: %w", err)
	}
	seen := make(map[string]bool, len(f.Coverages))
	for i := range f.Coverages {
		c := &f.Coverages[i]
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate coverage %q", c.Name)
		}
		seen[c.Name] = true
		if c.TypeName == "" {
			c.TypeName = c.Name
		}
		if c.GeometryAttribute == "" {
			c.GeometryAttribute = "the_geom"
		}
	}
	return f.Coverages, nil
}

func LoadCoverages(path string) ([]Coverage, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read coverages: %w", err)
	}
	return ParseCoverages(b)
}
