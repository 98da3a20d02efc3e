// Package decision decides whether a rendered mosaic is worth storing.
package decision

import (
	"github.com/mohammed-shakir/granule-mosaic/internal/core/observability"
	"github.com/mohammed-shakir/granule-mosaic/internal/hotness"
)

type Interface interface {
	// ShouldCache records one miss for key and reports whether the
	// response should be stored.
	ShouldCache(key string) bool
}

// Always admits every response.
type Always struct{}

func (Always) ShouldCache(string) bool { return true }

type sizer interface{ Size() int }

// Threshold admits a key once its hotness reaches Min.
type Threshold struct {
	Hot hotness.Interface
	Min float64
}

var _ Interface = (*Threshold)(nil)

func (t *Threshold) ShouldCache(key string) bool {
	if t.Hot == nil || t.Min <= 0 {
		return true
	}
	t.Hot.Inc(key)
	ok := t.Hot.Score(key) >= t.Min
	if ok {
		// count starts over for the stored entry
		t.Hot.Reset(key)
	}
	tracked := 0
	if s, isSizer := t.Hot.(sizer); isSizer {
		tracked = s.Size()
	}
	observability.ObserveAdmission(ok, tracked)
	return ok
}
