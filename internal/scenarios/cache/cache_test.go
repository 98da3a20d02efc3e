package cache

import (
	"context"
	"image"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/granule-mosaic/internal/cache/keys"
	"github.com/mohammed-shakir/granule-mosaic/internal/cache/redisstore"
	"github.com/mohammed-shakir/granule-mosaic/internal/composer"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/router"
	"github.com/mohammed-shakir/granule-mosaic/internal/coverage"
	"github.com/mohammed-shakir/granule-mosaic/internal/granule"
	"github.com/mohammed-shakir/granule-mosaic/internal/mosaic"
	"github.com/mohammed-shakir/granule-mosaic/internal/scenarios"
)

// counts reads and optionally blocks them until release is closed
type countingReader struct {
	calls    atomic.Int64
	failures int
	release  chan struct{}
}

func (c *countingReader) Read(ctx context.Context, req *model.Request) (*coverage.Response, error) {
	c.calls.Add(1)
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	img := image.NewGray(image.Rect(0, 0, req.Width, req.Height))
	img.SetGray(0, 0, color.Gray{Y: 7})
	resp := &coverage.Response{Image: img, Path: mosaic.PathFast, Loaded: 1}
	for range c.failures {
		resp.Failures = append(resp.Failures, &granule.LoadError{Location: "broken.tif"})
	}
	return resp, nil
}

func newEngine(t *testing.T, rd scenarios.Reader, tweaks ...func(*config.Config)) (*Engine, *miniredis.Miniredis, *redisstore.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	cfg := config.FromEnv()
	cfg.CacheTTLDefault = time.Minute
	cfg.CacheTTLOvr = map[string]time.Duration{"dem": 5 * time.Minute}
	cfg.CacheOpTimeout = time.Second
	cfg.CacheAdmitMin = 0
	for _, f := range tweaks {
		f(&cfg)
	}

	h, err := newCache(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), scenarios.Deps{Reader: rd, Store: rc})
	if err != nil {
		t.Fatalf("newCache: %v", err)
	}
	return h.(*Engine), mr, rc
}

func demQuery() router.MosaicQuery {
	return router.MosaicQuery{
		Request: &model.Request{Coverage: "dem", BBox: model.BBox{X2: 8, Y2: 8, SRID: "EPSG:4326"}, Width: 8, Height: 8},
		Format:  composer.NegotiateFormat(composer.NegotiationInput{DefaultFormat: composer.FormatPNG}),
	}
}

func serve(e *Engine, q router.MosaicQuery) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.HandleMosaic(context.Background(), rr, httptest.NewRequest(http.MethodGet, "/", nil), q)
	return rr
}

func TestHandleMosaic_MissThenHit(t *testing.T) {
	rd := &countingReader{}
	e, mr, _ := newEngine(t, rd)
	q := demQuery()

	first := serve(e, q)
	if first.Code != http.StatusOK || first.Header().Get(scenarios.HeaderCache) != "MISS" {
		t.Fatalf("first: code=%d cache=%q", first.Code, first.Header().Get(scenarios.HeaderCache))
	}
	second := serve(e, q)
	if second.Code != http.StatusOK || second.Header().Get(scenarios.HeaderCache) != "HIT" {
		t.Fatalf("second: code=%d cache=%q", second.Code, second.Header().Get(scenarios.HeaderCache))
	}
	if got := rd.calls.Load(); got != 1 {
		t.Fatalf("reader calls=%d want 1", got)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("cached body differs from rendered body")
	}
	if ct := second.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("hit content-type=%q", ct)
	}

	key := keys.Key("dem", 0, "png", keys.Canonical(q.Request))
	if !mr.Exists(key) {
		t.Fatalf("expected key %q in redis, have %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl != 5*time.Minute {
		t.Fatalf("ttl=%v want coverage override 5m", ttl)
	}
}

func TestHandleMosaic_FormatsAreSeparateEntries(t *testing.T) {
	rd := &countingReader{}
	e, _, _ := newEngine(t, rd)
	png := demQuery()
	jpg := demQuery()
	jpg.Format = composer.NegotiateFormat(composer.NegotiationInput{OutputFormat: "jpeg"})

	serve(e, png)
	if rr := serve(e, jpg); rr.Header().Get(scenarios.HeaderCache) != "MISS" || rr.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("jpeg should miss, got %q %q", rr.Header().Get(scenarios.HeaderCache), rr.Header().Get("Content-Type"))
	}
	if got := rd.calls.Load(); got != 2 {
		t.Fatalf("reader calls=%d want 2", got)
	}
}

func TestHandleMosaic_GenerationBumpRetiresEntries(t *testing.T) {
	rd := &countingReader{}
	e, _, rc := newEngine(t, rd)
	q := demQuery()

	serve(e, q)
	if rr := serve(e, q); rr.Header().Get(scenarios.HeaderCache) != "HIT" {
		t.Fatalf("expected hit before bump")
	}
	if _, err := rc.BumpGeneration(context.Background(), "dem"); err != nil {
		t.Fatalf("BumpGeneration: %v", err)
	}
	if rr := serve(e, q); rr.Header().Get(scenarios.HeaderCache) != "MISS" {
		t.Fatalf("expected miss after bump, got %q", rr.Header().Get(scenarios.HeaderCache))
	}
	if got := rd.calls.Load(); got != 2 {
		t.Fatalf("reader calls=%d want 2", got)
	}
}

func TestHandleMosaic_PartialMosaicsNotStored(t *testing.T) {
	rd := &countingReader{failures: 1}
	e, mr, _ := newEngine(t, rd)
	q := demQuery()

	if rr := serve(e, q); rr.Code != http.StatusOK || rr.Header().Get(scenarios.HeaderFailures) != "1" {
		t.Fatalf("code=%d failures=%q", rr.Code, rr.Header().Get(scenarios.HeaderFailures))
	}
	serve(e, q)
	if got := rd.calls.Load(); got != 2 {
		t.Fatalf("reader calls=%d want 2", got)
	}
	for _, k := range mr.Keys() {
		if k != keys.GenerationKey("dem") {
			t.Fatalf("unexpected stored key %q", k)
		}
	}
}

func TestHandleMosaic_RedisDownServesDirect(t *testing.T) {
	rd := &countingReader{}
	e, mr, _ := newEngine(t, rd)
	mr.Close()

	rr := serve(e, demQuery())
	if rr.Code != http.StatusOK || rr.Header().Get(scenarios.HeaderCache) != "MISS" {
		t.Fatalf("code=%d cache=%q", rr.Code, rr.Header().Get(scenarios.HeaderCache))
	}
	if got := rd.calls.Load(); got != 1 {
		t.Fatalf("reader calls=%d want 1", got)
	}
}

func TestHandleMosaic_ConcurrentMissesShareOneRead(t *testing.T) {
	rd := &countingReader{release: make(chan struct{})}
	e, _, _ := newEngine(t, rd)
	q := demQuery()

	const n = 8
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = serve(e, q).Code
		}()
	}
	// let the callers pile up behind the first read
	time.Sleep(50 * time.Millisecond)
	close(rd.release)
	wg.Wait()

	for i, c := range codes {
		if c != http.StatusOK {
			t.Fatalf("caller %d status=%d", i, c)
		}
	}
	if got := rd.calls.Load(); got < 1 || got > n {
		t.Fatalf("reader calls=%d", got)
	}
	if got := rd.calls.Load(); got == n {
		t.Fatalf("expected shared reads, got %d reads for %d callers", got, n)
	}
}

func TestHandleMosaic_AdmissionWaitsForRepeatMisses(t *testing.T) {
	rd := &countingReader{}
	e, _, _ := newEngine(t, rd, func(c *config.Config) {
		c.CacheAdmitMin = 2
		c.HotnessHalfLife = time.Hour
	})
	q := demQuery()

	want := []string{"MISS", "MISS", "HIT"}
	for i, w := range want {
		if got := serve(e, q).Header().Get(scenarios.HeaderCache); got != w {
			t.Fatalf("request %d cache=%q want %q", i, got, w)
		}
	}
	if got := rd.calls.Load(); got != 2 {
		t.Fatalf("reader calls=%d want 2", got)
	}
}
