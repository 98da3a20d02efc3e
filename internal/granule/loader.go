package granule

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/geom"
	"github.com/mohammed-shakir/granule-mosaic/internal/overview"
)

// LoadError tags a failed granule load with the granule's location.
type LoadError struct {
	Location string
	Err      error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load granule %s: %v", e.Location, e.Err) }

func (e *LoadError) Unwrap() error { return e.Err }

// Loader is one unit of granule loading work. It owns a private copy of the
// read params and touches no shared state besides the descriptor's level
// cache.
type Loader struct {
	ReadParams  overview.ReadParams
	Level       int
	Crop        orb.Bound
	WorldToGrid geom.Affine
	Descriptor  *Descriptor
	Request     *model.Request
}

func NewLoader(rp overview.ReadParams, level int, crop orb.Bound, w2g geom.Affine, d *Descriptor, req *model.Request) *Loader {
	return &Loader{
		ReadParams:  rp.Clone(),
		Level:       level,
		Crop:        crop,
		WorldToGrid: w2g,
		Descriptor:  d,
		Request:     req,
	}
}

// Call loads the granule. Any failure, including a panic in the decode
// path, comes back as a *LoadError.
func (l *Loader) Call(ctx context.Context) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, &LoadError{Location: l.Descriptor.Location, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	res, err = l.Descriptor.LoadRaster(ctx, l.ReadParams, l.Level, l.Crop, l.WorldToGrid, l.Request)
	if err != nil {
		return nil, &LoadError{Location: l.Descriptor.Location, Err: err}
	}
	return res, nil
}

// Pool configures LoadAll.
type Pool struct {
	Workers       int
	Multithreaded bool
}

// Loaded is a non-nil result with the index of the loader that produced it.
type Loaded struct {
	Index  int
	Result *Result
}

type Batch struct {
	Results  []Loaded
	Failures []*LoadError
	// Skipped counts loaders that returned no contribution.
	Skipped int
}

// LoadAll runs every loader, on a bounded pool when p.Multithreaded is set,
// and waits for all of them. Individual failures are collected, never
// returned; only context cancellation ends the batch early. Results are in
// completion order.
func LoadAll(ctx context.Context, loaders []*Loader, p Pool) (Batch, error) {
	var (
		mu    sync.Mutex
		batch Batch
	)
	record := func(i int, res *Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case err != nil:
			var le *LoadError
			if !errors.As(err, &le) {
				le = &LoadError{Location: loaders[i].Descriptor.Location, Err: err}
			}
			batch.Failures = append(batch.Failures, le)
		case res == nil:
			batch.Skipped++
		default:
			batch.Results = append(batch.Results, Loaded{Index: i, Result: res})
		}
	}

	if !p.Multithreaded || len(loaders) < 2 {
		for i, l := range loaders {
			if err := ctx.Err(); err != nil {
				return batch, err
			}
			res, err := l.Call(ctx)
			record(i, res, err)
		}
		return batch, nil
	}

	var g errgroup.Group
	g.SetLimit(max(1, p.Workers))
	for i, l := range loaders {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := l.Call(ctx)
			record(i, res, err)
			return nil
		})
	}
	_ = g.Wait()
	return batch, ctx.Err()
}
