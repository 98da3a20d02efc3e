// Package memsource serves rasters held in memory. It backs tests and demo
// coverages and can inject decode failures.
package memsource

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mohammed-shakir/granule-mosaic/internal/source"
)

const Scheme = "mem://"

var ErrInjected = errors.New("injected read failure")

// Format is a source.Format over an in-memory set of pyramids keyed by
// location.
type Format struct {
	mu       sync.RWMutex
	pyramids map[string][]image.Image
	failing  map[string]error
	panics   map[string]bool

	Opened atomic.Int64
	Closed atomic.Int64
	Reads  atomic.Int64
}

func New() *Format {
	return &Format{
		pyramids: map[string][]image.Image{},
		failing:  map[string]error{},
		panics:   map[string]bool{},
	}
}

// Put registers a pyramid; levels[0] is full resolution.
func (f *Format) Put(location string, levels ...image.Image) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pyramids[location] = levels
}

// FailReads makes every read of location return err (ErrInjected if nil).
func (f *Format) FailReads(location string, err error) {
	if err == nil {
		err = ErrInjected
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[location] = err
}

// PanicReads makes reads of location panic.
func (f *Format) PanicReads(location string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panics[location] = true
}

func (f *Format) Name() string { return "memory" }

func (f *Format) Accepts(location string) bool {
	if !strings.HasPrefix(location, Scheme) {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.pyramids[location]
	return ok
}

func (f *Format) Open(_ context.Context, location string) (source.Source, error) {
	f.mu.RLock()
	levels, ok := f.pyramids[location]
	failErr := f.failing[location]
	panics := f.panics[location]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("memsource: %s: not found", location)
	}
	f.Opened.Add(1)
	return &src{f: f, location: location, levels: levels, failErr: failErr, panics: panics}, nil
}

type src struct {
	f        *Format
	location string
	levels   []image.Image
	failErr  error
	panics   bool
	closed   atomic.Bool
}

func (s *src) Levels() int { return len(s.levels) }

func (s *src) Size(level int) (image.Point, error) {
	if level < 0 || level >= len(s.levels) {
		return image.Point{}, fmt.Errorf("memsource: %s: no level %d", s.location, level)
	}
	return s.levels[level].Bounds().Size(), nil
}

func (s *src) Read(ctx context.Context, level int, window image.Rectangle, ssX, ssY int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.f.Reads.Add(1)
	if s.panics {
		panic("memsource: forced panic reading " + s.location)
	}
	if s.failErr != nil {
		return nil, fmt.Errorf("memsource: read %s: %w", s.location, s.failErr)
	}
	if level < 0 || level >= len(s.levels) {
		return nil, fmt.Errorf("memsource: %s: no level %d", s.location, level)
	}
	img := s.levels[level]
	return source.Subsample(img, window.Add(img.Bounds().Min), ssX, ssY), nil
}

func (s *src) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.f.Closed.Add(1)
	}
	return nil
}
