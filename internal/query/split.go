package query

import (
	"math"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
)

// ProjectionHandler may decompose a query envelope into non-overlapping
// parts, e.g. around a projection's wrap line.
type ProjectionHandler interface {
	Split(env model.BBox) ([]orb.Bound, bool)
}

// GeographicSplitter splits longitude/latitude envelopes that cross the
// antimeridian.
type GeographicSplitter struct{}

func isGeographic(srid string) bool {
	switch strings.ToUpper(strings.TrimSpace(srid)) {
	case "EPSG:4326", "CRS:84", "OGC:CRS84", "4326":
		return true
	}
	return false
}

func (GeographicSplitter) Split(env model.BBox) ([]orb.Bound, bool) {
	if !isGeographic(env.SRID) {
		return nil, false
	}
	w := env.X2 - env.X1
	if w < 0 {
		// wrapped notation: east edge given west of the west edge
		w += 360
	}
	if w >= 360 {
		return []orb.Bound{{Min: orb.Point{-180, env.Y1}, Max: orb.Point{180, env.Y2}}}, true
	}
	x1 := normalizeLon(env.X1)
	x2 := x1 + w
	if x2 <= 180 {
		if x1 == env.X1 && x2 == env.X2 {
			return nil, false
		}
		return []orb.Bound{{Min: orb.Point{x1, env.Y1}, Max: orb.Point{x2, env.Y2}}}, true
	}
	return []orb.Bound{
		{Min: orb.Point{x1, env.Y1}, Max: orb.Point{180, env.Y2}},
		{Min: orb.Point{-180, env.Y1}, Max: orb.Point{x2 - 360, env.Y2}},
	}, true
}

// normalizeLon maps lon into [-180, 180).
func normalizeLon(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}
