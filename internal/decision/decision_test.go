package decision

import (
	"sync"
	"testing"
)

type fakeHot struct {
	mu sync.Mutex
	m  map[string]float64
}

func newFakeHot() *fakeHot { return &fakeHot{m: make(map[string]float64)} }

func (f *fakeHot) Inc(key string) {
	f.mu.Lock()
	f.m[key]++
	f.mu.Unlock()
}

func (f *fakeHot) Score(key string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.m[key]
}

func (f *fakeHot) Reset(keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.m, k)
	}
}

func (f *fakeHot) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.m)
}

func TestThreshold_AdmitsOnThirdMiss(t *testing.T) {
	hot := newFakeHot()
	d := &Threshold{Hot: hot, Min: 3}

	got := []bool{d.ShouldCache("a"), d.ShouldCache("a"), d.ShouldCache("b"), d.ShouldCache("a")}
	want := []bool{false, false, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("decision %d=%v want %v (all=%v)", i, got[i], want[i], got)
		}
	}
	if hot.Score("a") != 0 {
		t.Fatalf("admitted key should start over, score=%g", hot.Score("a"))
	}
	if hot.Score("b") != 1 {
		t.Fatalf("unrelated key score=%g want 1", hot.Score("b"))
	}
}

func TestThreshold_DisabledAdmitsAll(t *testing.T) {
	tests := []struct {
		name string
		d    Interface
	}{
		{"always", Always{}},
		{"zero min", &Threshold{Hot: newFakeHot()}},
		{"nil tracker", &Threshold{Min: 5}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if !tc.d.ShouldCache("k") {
				t.Fatal("expected admit")
			}
		})
	}
}
