// Package cache serves mosaics through a Redis response cache. Keys carry
// the coverage generation so granule invalidation retires stale images
// without scanning.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	cacheiface "github.com/mohammed-shakir/granule-mosaic/internal/cache"
	"github.com/mohammed-shakir/granule-mosaic/internal/cache/keys"
	"github.com/mohammed-shakir/granule-mosaic/internal/cache/redisstore"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/observability"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/router"
	"github.com/mohammed-shakir/granule-mosaic/internal/coverage"
	"github.com/mohammed-shakir/granule-mosaic/internal/decision"
	"github.com/mohammed-shakir/granule-mosaic/internal/hotness/expdecay"
	mylog "github.com/mohammed-shakir/granule-mosaic/internal/logger"
	"github.com/mohammed-shakir/granule-mosaic/internal/scenarios"
)

type Engine struct {
	logger *slog.Logger
	reader scenarios.Reader
	store  cacheiface.Store
	cfg    config.Config
	admit  decision.Interface
	fills  singleflight.Group
}

func init() {
	scenarios.Register("cache", newCache)
}

// creates cache scenario mosaic handler
func newCache(cfg config.Config, logger *slog.Logger, deps scenarios.Deps) (router.MosaicHandler, error) {
	if deps.Reader == nil {
		return nil, fmt.Errorf("cache scenario: reader is required")
	}
	store := deps.Store
	if store == nil {
		rc, err := redisstore.New(context.Background(), cfg.RedisAddr, redisstore.WithPoolSize(cfg.RedisPoolSize))
		if err != nil {
			return nil, fmt.Errorf("redis client: %w", err)
		}
		store = rc
	}
	var admit decision.Interface = decision.Always{}
	if cfg.CacheAdmitMin > 0 {
		admit = &decision.Threshold{
			Hot: expdecay.New(cfg.HotnessHalfLife, cfg.HotnessMaxKeys),
			Min: cfg.CacheAdmitMin,
		}
	}
	return &Engine{
		logger: logger,
		reader: deps.Reader,
		store:  newCacheAdapter(store, cfg.CacheOpTimeout),
		cfg:    cfg,
		admit:  admit,
	}, nil
}

type cacheAdapter struct {
	cacheiface.Store
	timeout time.Duration
}

func newCacheAdapter(s cacheiface.Store, t time.Duration) cacheiface.Store {
	return &cacheAdapter{Store: s, timeout: t}
}

// bounds a cache call by the op timeout without outliving ctx
func (a *cacheAdapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

func (a *cacheAdapter) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	b, ok, err := a.Store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("cache get %q: %w", key, err)
	}
	return b, ok, nil
}

func (a *cacheAdapter) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	if err := a.Store.Set(ctx, key, val, ttl); err != nil {
		return fmt.Errorf("cache set %q: %w", key, err)
	}
	return nil
}

func (a *cacheAdapter) Generation(ctx context.Context, coverage string) (int64, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	g, err := a.Store.Generation(ctx, coverage)
	if err != nil {
		return 0, fmt.Errorf("cache generation %q: %w", coverage, err)
	}
	return g, nil
}

type fill struct {
	body        []byte
	contentType string
	resp        *coverage.Response
}

func (e *Engine) HandleMosaic(ctx context.Context, w http.ResponseWriter, _ *http.Request, q router.MosaicQuery) {
	start := time.Now()
	cov := q.Request.Coverage

	// a broken cache degrades to direct serving
	cacheable := true
	gen, err := e.store.Generation(ctx, cov)
	if err != nil {
		observability.IncCacheError()
		e.logger.WarnContext(ctx, "cache generation lookup failed, bypassing cache", "err", err)
		cacheable = false
	}
	key := keys.Key(cov, gen, q.Format.Format.String(), keys.Canonical(q.Request))

	if cacheable {
		body, ok, err := e.store.Get(ctx, key)
		switch {
		case err != nil:
			observability.IncCacheError()
			e.logger.WarnContext(ctx, "cache get error, continuing with fill path", "err", err)
		case ok && len(body) > 0:
			observability.IncCacheHit()
			w.Header().Set(scenarios.HeaderCache, "HIT")
			scenarios.WriteImage(w, body, q.Format.ContentType, nil)
			e.logger.InfoContext(mylog.WithCacheResult(ctx, "hit"), "cache hit",
				"coverage", cov, "generation", gen, "bytes", len(body),
				"dur", time.Since(start).String())
			return
		}
	}
	observability.IncCacheMiss()

	// concurrent misses on one key share a single read
	v, err, shared := e.fills.Do(key, func() (any, error) {
		resp, err := e.reader.Read(ctx, q.Request)
		if err != nil {
			return nil, err
		}
		res, err := scenarios.Encode(resp, q)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		// partial mosaics are served but never stored
		if cacheable && len(resp.Failures) == 0 && e.admit.ShouldCache(hotKey(q)) {
			if err := e.store.Set(ctx, key, res.Body, e.cfg.TTLFor(cov)); err != nil {
				observability.IncCacheError()
				e.logger.WarnContext(ctx, "cache fill failed", "err", err)
			}
		}
		return fill{body: res.Body, contentType: res.ContentType, resp: resp}, nil
	})
	if err != nil {
		e.logger.WarnContext(ctx, "mosaic read failed", "coverage", cov, "err", err)
		http.Error(w, err.Error(), scenarios.StatusFor(err))
		return
	}
	f := v.(fill)
	w.Header().Set(scenarios.HeaderCache, "MISS")
	scenarios.WriteImage(w, f.body, f.contentType, f.resp)
	e.logger.InfoContext(mylog.WithCacheResult(ctx, "miss"), "cache miss",
		"coverage", cov, "generation", gen,
		"path", f.resp.Path.String(), "granules", f.resp.Loaded, "failures", len(f.resp.Failures),
		"shared", shared, "ttl_used", e.cfg.TTLFor(cov).String(),
		"dur", time.Since(start).String())
}

// hotKey identifies a request across generations so hotness survives
// invalidation.
func hotKey(q router.MosaicQuery) string {
	return q.Request.Coverage + ":" + q.Format.Format.String() + ":" + keys.Canonical(q.Request)
}
