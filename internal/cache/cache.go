// Package cache defines the rendered-response store used by the cache
// serving scenario.
package cache

import (
	"context"
	"time"
)

// Interface stores encoded responses. Get reports ok=false for a missing
// or expired key.
type Interface interface {
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Generations versions a coverage's cached responses. Bumping a
// generation makes every earlier response key unreachable.
type Generations interface {
	Generation(ctx context.Context, coverage string) (int64, error)
	BumpGeneration(ctx context.Context, coverage string) (int64, error)
}

type Store interface {
	Interface
	Generations
}
