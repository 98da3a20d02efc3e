package coverage

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/granule-mosaic/internal/catalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	obs "github.com/mohammed-shakir/granule-mosaic/internal/core/observability"
	"github.com/mohammed-shakir/granule-mosaic/internal/events"
	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
	"github.com/mohammed-shakir/granule-mosaic/internal/geom"
	"github.com/mohammed-shakir/granule-mosaic/internal/granule"
	"github.com/mohammed-shakir/granule-mosaic/internal/mosaic"
	"github.com/mohammed-shakir/granule-mosaic/internal/overview"
	"github.com/mohammed-shakir/granule-mosaic/internal/raster"
	"github.com/mohammed-shakir/granule-mosaic/internal/source"
)

var (
	ErrUnknownCoverage = errors.New("unknown coverage")
	ErrTooManyGranules = errors.New("too many granules")
	ErrInvalidRequest  = errors.New("invalid request")
)

type Options struct {
	// MaxGranules caps the granules one request may touch; 0 is unlimited.
	MaxGranules         int
	Workers             int
	DescriptorCacheSize int
	Granule             granule.Options
	Sink                events.Sink
	Logger              *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.DescriptorCacheSize <= 0 {
		o.DescriptorCacheSize = 4096
	}
	if o.Sink == nil {
		o.Sink = events.Nop{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Granule.Logger == nil {
		o.Granule.Logger = o.Logger
	}
	return o
}

// Response is a composed mosaic.
type Response struct {
	Image image.Image
	Alpha *image.Alpha
	ROI   *raster.ROI
	Path  mosaic.Path
	// Granules is the number of granules matched by the catalog query.
	Granules int
	Loaded   int
	Failures []*granule.LoadError
}

// Reader is safe for concurrent use.
type Reader struct {
	catalog   catalog.Catalog
	formats   *source.Registry
	opts      Options
	mosaicker *mosaic.Mosaicker
	logger    *slog.Logger

	mu        sync.RWMutex
	coverages map[string]*Coverage

	descriptors *lru.Cache[string, *granule.Descriptor]
}

func NewReader(cat catalog.Catalog, formats *source.Registry, opts Options) (*Reader, error) {
	opts = opts.withDefaults()
	cache, err := lru.New[string, *granule.Descriptor](opts.DescriptorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("descriptor cache: %w", err)
	}
	return &Reader{
		catalog:     cat,
		formats:     formats,
		opts:        opts,
		mosaicker:   mosaic.New(opts.Logger),
		logger:      opts.Logger,
		coverages:   make(map[string]*Coverage),
		descriptors: cache,
	}, nil
}

// AddCoverage registers (or replaces) a coverage definition.
func (r *Reader) AddCoverage(cfg config.Coverage) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.TypeName == "" {
		cfg.TypeName = cfg.Name
	}
	c := newCoverage(cfg, r.catalog, r.logger)
	r.mu.Lock()
	r.coverages[cfg.Name] = c
	r.mu.Unlock()
	r.EvictCoverage(cfg.Name)
	return nil
}

func (r *Reader) Coverage(name string) (*Coverage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.coverages[name]
	return c, ok
}

func (r *Reader) Coverages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.coverages))
}

func descriptorKey(coverage, id string) string { return coverage + "\x00" + id }

// Evict drops a cached granule descriptor so the next read probes the
// source again.
func (r *Reader) Evict(coverage, id string) bool {
	return r.descriptors.Remove(descriptorKey(coverage, id))
}

// EvictCoverage drops every cached descriptor of a coverage.
func (r *Reader) EvictCoverage(coverage string) int {
	prefix := coverage + "\x00"
	n := 0
	for _, k := range r.descriptors.Keys() {
		if strings.HasPrefix(k, prefix) && r.descriptors.Remove(k) {
			n++
		}
	}
	return n
}

func validate(req *model.Request) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	case req.Width <= 0 || req.Height <= 0:
		return fmt.Errorf("%w: output size %dx%d", ErrInvalidRequest, req.Width, req.Height)
	case !(req.BBox.X2 > req.BBox.X1 && req.BBox.Y2 > req.BBox.Y1):
		return fmt.Errorf("%w: bbox %s", ErrInvalidRequest, req.BBox)
	}
	return nil
}

// Read composes the mosaic for req. Failing granules are reported in the
// response and to the event sink; only catalog errors, an exceeded granule
// cap and cancellation fail the request.
func (r *Reader) Read(ctx context.Context, req *model.Request) (*Response, error) {
	start := time.Now()
	if err := validate(req); err != nil {
		return nil, err
	}
	cov, ok := r.Coverage(req.Coverage)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCoverage, req.Coverage)
	}
	req = req.Clone()
	if req.Background == nil {
		req.Background = cov.Background
	}
	if req.SortBy == "" {
		req.SortBy = cov.SortBy
	}
	log := r.logger.With("coverage", cov.Name)

	limit := r.opts.MaxGranules
	if req.MaxGranules > 0 && (limit <= 0 || req.MaxGranules < limit) {
		limit = req.MaxGranules
	}
	q, err := cov.builder.Build(req)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	q.MaxFeatures = 0
	if limit > 0 {
		// one more than allowed tells an exact fit from an overflow
		q.MaxFeatures = limit + 1
	}
	log.Debug("catalog query", "query", q.String())

	qStart := time.Now()
	recs, err := r.catalog.Granules(ctx, q)
	obs.ObserveUpstreamLatency("catalog", time.Since(qStart).Seconds())
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", cov.TypeName, err)
	}
	if limit > 0 && len(recs) > limit {
		return nil, fmt.Errorf("%w: more than %d granules match", ErrTooManyGranules, limit)
	}

	bounds := req.OutputBounds()
	w2g, err := geom.GridToWorldCorner(req.BBox.Bound(), req.Width, req.Height).Invert()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	resp := &Response{Granules: len(recs)}
	loaders := make([]*granule.Loader, 0, len(recs))
	owners := make([]catalog.Record, 0, len(recs))
	for _, rec := range recs {
		d, err := r.descriptor(ctx, cov.Name, rec)
		if err != nil {
			if errors.Is(err, source.ErrNoFormat) {
				log.Debug("granule skipped, no decoder", "granule", rec.ID)
				continue
			}
			le := &granule.LoadError{Location: rec.Location, Err: err}
			resp.Failures = append(resp.Failures, le)
			r.opts.Sink.GranuleFailed(ctx, events.Granule{Coverage: cov.Name, ID: rec.ID, Location: rec.Location}, le)
			continue
		}
		level, rp := overview.ForRequest(req, d.BaseSize(), cov.Controller)
		loaders = append(loaders, granule.NewLoader(rp, level, req.BBox.Bound(), w2g, d, req))
		owners = append(owners, rec)
	}

	batch, err := granule.LoadAll(ctx, loaders, granule.Pool{Workers: r.opts.Workers, Multithreaded: req.Multithreaded})
	if err != nil {
		return nil, fmt.Errorf("load granules: %w", err)
	}
	obs.ObserveGranules(cov.Name, len(batch.Results), batch.Skipped, len(batch.Failures)+len(resp.Failures))

	byLocation := make(map[string]catalog.Record, len(owners))
	for _, rec := range owners {
		byLocation[rec.Location] = rec
	}
	for _, le := range batch.Failures {
		rec := byLocation[le.Location]
		log.Warn("granule load failed", "granule", rec.ID, "location", le.Location, "err", le.Err)
		r.opts.Sink.GranuleFailed(ctx, events.Granule{Coverage: cov.Name, ID: rec.ID, Location: le.Location}, le)
	}
	resp.Failures = append(resp.Failures, batch.Failures...)

	// catalog order decides overlay priority
	slices.SortFunc(batch.Results, func(a, b granule.Loaded) int { return cmp.Compare(a.Index, b.Index) })
	elems := make([]mosaic.Element, 0, len(batch.Results))
	for _, l := range batch.Results {
		rec := owners[l.Index]
		r.opts.Sink.GranuleLoaded(ctx, events.Granule{Coverage: cov.Name, ID: rec.ID, Location: rec.Location}, loaders[l.Index].Level)
		e := mosaic.Element{Source: l.Result.Image, ROI: l.Result.ROI, Threshold: cov.Threshold, Attributes: rec.Attributes}
		if req.InputTransparent != nil {
			e.Alpha = raster.ExtractAlpha(l.Result.Image)
		}
		elems = append(elems, e)
	}
	resp.Loaded = len(elems)

	if out := r.mosaicker.Compose(elems, bounds, req); out != nil {
		resp.Image, resp.Alpha, resp.ROI, resp.Path = out.Image, out.Alpha, out.ROI, out.Path
	} else {
		resp.Image = mosaic.PostProcessBlank(req.Footprint, bounds, req.Background)
		resp.Path = mosaic.PathEmpty
		if req.HasAlpha {
			resp.Alpha = raster.ExtractAlpha(resp.Image)
		}
	}
	if req.OutputTransparent != nil {
		resp.Image = raster.MakeTransparent(resp.Image, *req.OutputTransparent)
	}

	took := time.Since(start)
	obs.ObserveMosaic(cov.Name, resp.Path.String(), resp.Granules, took.Seconds())
	r.opts.Sink.RequestCompleted(ctx, events.Summary{
		Coverage: cov.Name, Granules: resp.Granules, Failures: len(resp.Failures), Path: resp.Path.String(), Took: took,
	})
	log.Debug("mosaic read", "granules", resp.Granules, "loaded", resp.Loaded, "failures", len(resp.Failures), "path", resp.Path.String(), "took", took)
	return resp, nil
}

func (r *Reader) descriptor(ctx context.Context, coverage string, rec catalog.Record) (*granule.Descriptor, error) {
	key := descriptorKey(coverage, rec.ID)
	if d, ok := r.descriptors.Get(key); ok && d.Location == rec.Location {
		return d, nil
	}
	d, err := granule.NewDescriptor(ctx, rec, r.formats, r.opts.Granule)
	if err != nil {
		return nil, err
	}
	r.descriptors.Add(key, d)
	return d, nil
}

// CompileFilter compiles src against the attributes of coverage.
func (r *Reader) CompileFilter(coverage, src string) (filter.Predicate, error) {
	c, ok := r.Coverage(coverage)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCoverage, coverage)
	}
	return c.CompileFilter(src)
}
