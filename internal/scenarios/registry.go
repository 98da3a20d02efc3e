package scenarios

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/granule-mosaic/internal/cache"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/router"
	"github.com/mohammed-shakir/granule-mosaic/internal/coverage"
)

// Reader composes mosaics.
type Reader interface {
	Read(ctx context.Context, req *model.Request) (*coverage.Response, error)
}

// Deps are the collaborators a scenario serves requests with. A nil Store
// lets scenarios that need one dial their own.
type Deps struct {
	Reader Reader
	Store  cache.Store
}

type Factory func(cfg config.Config, logger *slog.Logger, deps Deps) (router.MosaicHandler, error)

var reg = map[string]Factory{}

func Register(name string, f Factory) {
	reg[name] = f
}

func New(name string, cfg config.Config, logger *slog.Logger, deps Deps) (router.MosaicHandler, error) {
	if f, ok := reg[name]; ok {
		return f(cfg, logger, deps)
	}
	if f, ok := reg["direct"]; ok {
		logger.Warn("unknown scenario; falling back to direct", "scenario", name)
		return f(cfg, logger, deps)
	}
	return nil, fmt.Errorf("no factory for scenario %q and no direct registered", name)
}
