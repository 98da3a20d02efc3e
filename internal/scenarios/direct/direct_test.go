package direct

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammed-shakir/granule-mosaic/internal/composer"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/router"
	"github.com/mohammed-shakir/granule-mosaic/internal/coverage"
	"github.com/mohammed-shakir/granule-mosaic/internal/granule"
	"github.com/mohammed-shakir/granule-mosaic/internal/mosaic"
	"github.com/mohammed-shakir/granule-mosaic/internal/scenarios"
)

type stubReader struct {
	resp *coverage.Response
	err  error
	last *model.Request
}

func (s *stubReader) Read(_ context.Context, req *model.Request) (*coverage.Response, error) {
	s.last = req
	return s.resp, s.err
}

func query(format composer.Format) router.MosaicQuery {
	return router.MosaicQuery{
		Request: &model.Request{Coverage: "dem", BBox: model.BBox{X2: 4, Y2: 4, SRID: "EPSG:4326"}, Width: 4, Height: 4},
		Format:  composer.NegotiateFormat(composer.NegotiationInput{DefaultFormat: format}),
	}
}

func TestHandleMosaic_EncodesResponse(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.SetGray(1, 1, color.Gray{Y: 99})
	rd := &stubReader{resp: &coverage.Response{
		Image:    img,
		Path:     mosaic.PathMerge,
		Loaded:   3,
		Failures: []*granule.LoadError{{}},
	}}
	e := &Engine{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), reader: rd}

	rr := httptest.NewRecorder()
	q := query(composer.FormatPNG)
	e.HandleMosaic(context.Background(), rr, httptest.NewRequest(http.MethodGet, "/", nil), q)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rd.last != q.Request {
		t.Fatalf("reader did not receive the request")
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content-type=%q", ct)
	}
	if rr.Header().Get(scenarios.HeaderPath) != "merge" || rr.Header().Get(scenarios.HeaderGranules) != "3" || rr.Header().Get(scenarios.HeaderFailures) != "1" {
		t.Fatalf("headers=%v", rr.Header())
	}
	dec, err := png.Decode(bytes.NewReader(rr.Body.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if y := color.GrayModel.Convert(dec.At(1, 1)).(color.Gray).Y; y != 99 {
		t.Fatalf("pixel=%d want 99", y)
	}
}

func TestHandleMosaic_ErrorStatus(t *testing.T) {
	e := &Engine{logger: slog.New(slog.NewTextHandler(io.Discard, nil)), reader: &stubReader{err: coverage.ErrUnknownCoverage}}
	rr := httptest.NewRecorder()
	e.HandleMosaic(context.Background(), rr, httptest.NewRequest(http.MethodGet, "/", nil), query(composer.FormatPNG))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
}
