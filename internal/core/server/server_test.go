package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/router"
	"github.com/mohammed-shakir/granule-mosaic/internal/filter"
)

type fakeCoverages struct{ names []string }

func (f fakeCoverages) Coverages() []string { return f.names }

func (fakeCoverages) CompileFilter(string, string) (filter.Predicate, error) { return nil, nil }

type recordingMosaic struct{ got []string }

func (m *recordingMosaic) HandleMosaic(_ context.Context, w http.ResponseWriter, _ *http.Request, q router.MosaicQuery) {
	m.got = append(m.got, q.Request.Coverage)
	w.Header().Set("Content-Type", q.Format.ContentType)
	_, _ = w.Write([]byte("img"))
}

type notReady struct{}

func (notReady) Readiness() (bool, []int32) { return false, nil }

func newTestServer(t *testing.T, d Deps) *httptest.Server {
	t.Helper()
	cfg := config.Config{Scenario: "direct"}
	ts := httptest.NewServer(NewRouter(cfg, slog.New(slog.DiscardHandler), d))
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, string, http.Header) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b), resp.Header
}

func TestRouter_Routes(t *testing.T) {
	m := &recordingMosaic{}
	ts := newTestServer(t, Deps{
		Coverages: fakeCoverages{names: []string{"dem", "ortho"}},
		Mosaic:    m,
	})

	if code, body, _ := get(t, ts.URL+"/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	if code, _, _ := get(t, ts.URL+"/readyz"); code != http.StatusOK {
		t.Fatalf("readyz: %d", code)
	}
	if code, body, _ := get(t, ts.URL+"/coverages"); code != http.StatusOK || strings.TrimSpace(body) != `{"coverages":["dem","ortho"]}` {
		t.Fatalf("coverages: %d %s", code, body)
	}
	if code, _, _ := get(t, ts.URL+"/metrics"); code != http.StatusOK {
		t.Fatalf("metrics: %d", code)
	}

	code, body, h := get(t, ts.URL+"/coverages/ortho/mosaic?bbox=0,0,1,1&width=4&height=4")
	if code != http.StatusOK || body != "img" {
		t.Fatalf("mosaic: %d %q", code, body)
	}
	if h.Get("Content-Type") != "image/png" || h.Get("X-Request-ID") == "" {
		t.Fatalf("mosaic headers: %v", h)
	}
	if len(m.got) != 1 || m.got[0] != "ortho" {
		t.Fatalf("dispatched coverages: %v", m.got)
	}
}

func TestRouter_NotReady(t *testing.T) {
	ts := newTestServer(t, Deps{Coverages: fakeCoverages{}, Mosaic: &recordingMosaic{}, Ready: notReady{}})
	if code, _, _ := get(t, ts.URL+"/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz: %d want 503", code)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := config.Config{Addr: "127.0.0.1:0"}
	if err := Run(ctx, cfg, slog.New(slog.DiscardHandler), Deps{}); err != nil {
		t.Fatalf("run: %v", err)
	}
}
