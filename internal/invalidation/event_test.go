package invalidation

import (
	"testing"
	"time"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate(t *testing.T) {
	g := &config.Granule{ID: "g1", Location: "g1.tif", BBox: [4]float64{0, 0, 1, 1}}
	tests := []struct {
		name string
		ev   Event
		ok   bool
	}{
		{"update with granule", Event{Version: 1, Op: OpUpdate, Coverage: "dem", GranuleID: "g1", TS: mustTS(), Granule: g}, true},
		{"delete", Event{Version: 1, Op: OpDelete, Coverage: "dem", GranuleID: "g1", TS: mustTS()}, true},
		{"reload needs no granule", Event{Version: 1, Op: OpReload, Coverage: "dem", TS: mustTS()}, true},
		{"bad version", Event{Version: 2, Op: OpDelete, Coverage: "dem", GranuleID: "g1", TS: mustTS()}, false},
		{"missing coverage", Event{Version: 1, Op: OpDelete, GranuleID: "g1", TS: mustTS()}, false},
		{"missing ts", Event{Version: 1, Op: OpDelete, Coverage: "dem", GranuleID: "g1"}, false},
		{"unknown op", Event{Version: 1, Op: "upsert", Coverage: "dem", GranuleID: "g1", TS: mustTS()}, false},
		{"missing granule id", Event{Version: 1, Op: OpInsert, Coverage: "dem", TS: mustTS()}, false},
		{"id mismatch", Event{Version: 1, Op: OpInsert, Coverage: "dem", GranuleID: "g2", TS: mustTS(), Granule: g}, false},
		{"delete with granule", Event{Version: 1, Op: OpDelete, Coverage: "dem", GranuleID: "g1", TS: mustTS(), Granule: g}, false},
		{"bad bbox", Event{Version: 1, Op: OpInsert, Coverage: "dem", GranuleID: "g1", TS: mustTS(),
			Granule: &config.Granule{Location: "x.tif", BBox: [4]float64{1, 0, 1, 1}}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ev.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDedupe_DropsStaleSequences(t *testing.T) {
	d := NewDedupe(16)
	ev := Event{Coverage: "dem", GranuleID: "g1", Op: OpUpdate, Seq: 5}
	if !d.ShouldApply(ev) || !d.ShouldApply(ev) {
		t.Fatal("unapplied change should stay eligible")
	}
	d.Applied(ev)
	if d.ShouldApply(ev) {
		t.Fatal("redelivery should be dropped")
	}
	ev.Seq = 4
	if d.ShouldApply(ev) {
		t.Fatal("older change should be dropped")
	}
	ev.Seq = 6
	if !d.ShouldApply(ev) {
		t.Fatal("newer change should apply")
	}
	d.Applied(ev)
	d.Applied(Event{Coverage: "dem", GranuleID: "g1", Op: OpUpdate, Seq: 3})
	if d.ShouldApply(Event{Coverage: "dem", GranuleID: "g1", Op: OpUpdate, Seq: 6}) {
		t.Fatal("recording an older change must not rewind the sequence")
	}
	other := Event{Coverage: "dem", GranuleID: "g2", Op: OpUpdate, Seq: 1}
	if !d.ShouldApply(other) {
		t.Fatal("sequences are per granule")
	}
	if !d.ShouldApply(Event{Coverage: "dem", GranuleID: "g1"}) || !d.ShouldApply(Event{Coverage: "dem", GranuleID: "g1"}) {
		t.Fatal("unsequenced changes always apply")
	}
}
