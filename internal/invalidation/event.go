// Package invalidation defines granule change events. A change retires the
// cached descriptor of the granule and every rendered response of its
// coverage.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	// OpReload retires a whole coverage.
	OpReload = "reload"
)

type Event struct {
	Version   int       `json:"version"`
	Op        string    `json:"op"`
	Coverage  string    `json:"coverage"`
	GranuleID string    `json:"granule_id,omitempty"`
	TS        time.Time `json:"ts"`
	// Seq orders changes to one granule; zero disables deduplication.
	Seq uint64 `json:"seq,omitempty"`
	// Granule is the new definition on insert and update.
	Granule *config.Granule `json:"granule,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if strings.TrimSpace(e.Coverage) == "" {
		return fmt.Errorf("coverage is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	switch e.Op {
	case OpReload:
		return nil
	case OpInsert, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("op must be insert|update|delete|reload")
	}
	if strings.TrimSpace(e.GranuleID) == "" {
		return fmt.Errorf("granule_id is required for %s", e.Op)
	}
	if g := e.Granule; g != nil {
		if g.ID != "" && g.ID != e.GranuleID {
			return fmt.Errorf("granule.id %q does not match granule_id %q", g.ID, e.GranuleID)
		}
		if g.Location == "" {
			return fmt.Errorf("granule.location is required")
		}
		if !(g.BBox[2] > g.BBox[0] && g.BBox[3] > g.BBox[1]) {
			return fmt.Errorf("granule.bbox must satisfy x2>x1 and y2>y1")
		}
		if e.Op == OpDelete {
			return fmt.Errorf("delete must not carry a granule")
		}
	}
	return nil
}

// Key identifies the subject of the event for ordering.
func (e Event) Key() string {
	if e.Op == OpReload || e.GranuleID == "" {
		return e.Coverage
	}
	return e.Coverage + "/" + e.GranuleID
}
