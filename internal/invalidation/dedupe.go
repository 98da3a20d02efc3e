package invalidation

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Dedupe drops redelivered or reordered changes by remembering the last
// applied sequence per key.
type Dedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func NewDedupe(size int) *Dedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[string, uint64](size)
	return &Dedupe{lru: c}
}

// ShouldApply reports whether ev is newer than the last applied change to
// its subject.
func (d *Dedupe) ShouldApply(ev Event) bool {
	if ev.Seq == 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lru.Peek(ev.Key())
	return !ok || ev.Seq > last
}

// Applied records ev once its change has taken effect, so a failed attempt
// can be retried.
func (d *Dedupe) Applied(ev Event) {
	if ev.Seq == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lru.Get(ev.Key()); ok && last >= ev.Seq {
		return
	}
	d.lru.Add(ev.Key(), ev.Seq)
}
