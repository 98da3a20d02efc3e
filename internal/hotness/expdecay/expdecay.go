// Package expdecay implements an exponential decay model for hotness scores.
package expdecay

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/granule-mosaic/internal/hotness"
)

const (
	numShards = 64
	// scores below pruneFloor are dropped when a shard is full
	pruneFloor = 0.05
)

type Tracker struct {
	HalfLife time.Duration

	now         func() time.Time
	maxPerShard int

	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*counter
}

type counter struct {
	score float64
	last  time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

// New returns a tracker keeping roughly maxKeys keys; 0 is unbounded.
func New(halfLife time.Duration, maxKeys int) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	t := &Tracker{HalfLife: halfLife, now: time.Now}
	if maxKeys > 0 {
		t.maxPerShard = max(1, maxKeys/numShards)
	}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*counter)
	}
	return t
}

func (t *Tracker) Inc(key string) {
	if key == "" {
		return
	}
	s := t.pick(key)
	n := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m[key]
	if c == nil {
		if t.maxPerShard > 0 && len(s.m) >= t.maxPerShard {
			t.prune(s, n)
		}
		s.m[key] = &counter{score: 1, last: n}
		return
	}
	dt := n.Sub(c.last).Seconds()
	c.score = decay(c.score, dt, t.HalfLife.Seconds()) + 1.0
	c.last = n
}

// prune drops cold keys from s; when nothing is cold the coldest goes.
// Caller holds s.mu.
func (t *Tracker) prune(s *shard, n time.Time) {
	hl := t.HalfLife.Seconds()
	coldest, coldScore := "", math.Inf(1)
	for k, c := range s.m {
		sc := decay(c.score, n.Sub(c.last).Seconds(), hl)
		if sc < pruneFloor {
			delete(s.m, k)
			continue
		}
		if sc < coldScore {
			coldest, coldScore = k, sc
		}
	}
	if len(s.m) >= t.maxPerShard && coldest != "" {
		delete(s.m, coldest)
	}
}

func (t *Tracker) Score(key string) float64 {
	if key == "" {
		return 0
	}
	s := t.pick(key)
	n := t.now()

	s.mu.RLock()
	c := s.m[key]
	if c == nil {
		s.mu.RUnlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.RUnlock()

	return decay(score, n.Sub(last).Seconds(), t.HalfLife.Seconds())
}

func (t *Tracker) Reset(keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		s := t.pick(key)
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
	}
}

func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	lambda := math.Ln2 / halfLife
	// e^(-λt)
	return score * math.Exp(-lambda*dt)
}

func (t *Tracker) pick(key string) *shard {
	h := xxhash.Sum64String(key)
	return &t.shards[h&(numShards-1)]
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}
