// Package overview selects pyramid levels and decode subsampling for a
// requested resolution.
package overview

import (
	"math"
	"slices"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
)

// Level is one entry of a coverage pyramid. Level 0 is the native
// resolution and has ScaleFactor 1.
type Level struct {
	ScaleFactor float64
	ResX, ResY  float64
	Index       int
}

// Controller holds the pyramid of a coverage, sorted from finest to
// coarsest. Overviews must be coarser than the native resolution, which
// config.Coverage.Validate enforces. It is immutable once built and safe
// for concurrent use.
type Controller struct {
	levels []Level
}

func NewController(highest model.Resolution, overviews []model.Resolution) *Controller {
	levels := make([]Level, 0, len(overviews)+1)
	levels = append(levels, Level{ScaleFactor: 1, ResX: highest.X, ResY: highest.Y})
	for _, ov := range overviews {
		levels = append(levels, Level{ScaleFactor: ov.X / highest.X, ResX: ov.X, ResY: ov.Y})
	}
	slices.SortStableFunc(levels, func(a, b Level) int {
		switch {
		case a.ScaleFactor < b.ScaleFactor:
			return -1
		case a.ScaleFactor > b.ScaleFactor:
			return 1
		}
		return 0
	})
	for i := range levels {
		levels[i].Index = i
	}
	return &Controller{levels: levels}
}

func (c *Controller) Levels() []Level { return slices.Clone(c.levels) }

func (c *Controller) NumLevels() int { return len(c.levels) }

// Level returns the level at index i, clamped to the pyramid.
func (c *Controller) Level(i int) Level {
	if i < 0 {
		i = 0
	}
	if i >= len(c.levels) {
		i = len(c.levels) - 1
	}
	return c.levels[i]
}

// PickLevel returns the level index that best serves requested under
// policy, and the virtual native resolution still in effect afterwards
// (nil when selection had to give it up).
func (c *Controller) PickLevel(policy model.OverviewPolicy, requested, virtual *model.Resolution) (int, *model.Resolution) {
	if c == nil || len(c.levels) == 0 {
		return 0, virtual
	}
	hasVirtual := virtual != nil && !math.IsNaN(virtual.X) && !math.IsNaN(virtual.Y)
	if requested == nil && !hasVirtual {
		return 0, virtual
	}
	if requested == nil {
		requested = virtual
	}

	native := c.levels[0]
	sfX := requested.X / native.ResX
	sfY := requested.Y / native.ResY
	leastReducedX := sfX <= sfY
	reqScale := sfY
	if leastReducedX {
		reqScale = sfX
	}

	if reqScale <= 1 && !hasVirtual {
		return native.Index, virtual
	}

	coarsest := c.levels[len(c.levels)-1]
	if reqScale >= coarsest.ScaleFactor {
		if hasVirtual {
			virtual = nil
		}
		return coarsest.Index, virtual
	}

	virtScale := 1.0
	if hasVirtual {
		virtScale = virtual.Y / native.ResY
		if leastReducedX {
			virtScale = virtual.X / native.ResX
		}
	}

	prev := native
	for i := 1; i < len(c.levels); i++ {
		curr := c.levels[i]
		if curr.ScaleFactor == reqScale && (!hasVirtual || curr.ScaleFactor <= virtScale) {
			return curr.Index, virtual
		}
		if curr.ScaleFactor < reqScale {
			prev = curr
			continue
		}

		switch {
		case policy == model.OverviewQuality || hasVirtual:
			if hasVirtual {
				chosen := prev
				for j := i; j < len(c.levels) && c.levels[j].ScaleFactor <= virtScale; j++ {
					chosen = c.levels[j]
				}
				if chosen.Index == prev.Index && reqScale > virtScale {
					virtual = nil
				}
				return chosen.Index, virtual
			}
			return prev.Index, virtual
		case policy == model.OverviewSpeed:
			return curr.Index, virtual
		default:
			if curr.ScaleFactor-reqScale < reqScale-prev.ScaleFactor {
				return curr.Index, virtual
			}
			return prev.Index, virtual
		}
	}
	return native.Index, virtual
}
