package geom

import (
	"math"

	"github.com/paulmach/orb"
)

// Intersect returns the overlap of a and b. Envelopes that only touch along
// an edge do not intersect.
func Intersect(a, b orb.Bound) (orb.Bound, bool) {
	out := orb.Bound{
		Min: orb.Point{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: orb.Point{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}
	if out.Max[0] <= out.Min[0] || out.Max[1] <= out.Min[1] {
		return orb.Bound{}, false
	}
	return out, true
}

// IsZero reports whether b is the zero envelope, which callers use for
// "no envelope supplied".
func IsZero(b orb.Bound) bool {
	return b == orb.Bound{}
}

func Width(b orb.Bound) float64  { return b.Max[0] - b.Min[0] }
func Height(b orb.Bound) float64 { return b.Max[1] - b.Min[1] }

// Equal compares two envelopes coordinate by coordinate within tol.
func Equal(a, b orb.Bound, tol float64) bool {
	return math.Abs(a.Min[0]-b.Min[0]) <= tol &&
		math.Abs(a.Min[1]-b.Min[1]) <= tol &&
		math.Abs(a.Max[0]-b.Max[0]) <= tol &&
		math.Abs(a.Max[1]-b.Max[1]) <= tol
}
