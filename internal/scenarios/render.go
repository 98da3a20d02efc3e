package scenarios

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/mohammed-shakir/granule-mosaic/internal/composer"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/router"
	"github.com/mohammed-shakir/granule-mosaic/internal/coverage"
	"github.com/mohammed-shakir/granule-mosaic/internal/raster"
)

// Response headers describing how a mosaic was produced.
const (
	HeaderPath     = "X-Mosaic-Path"
	HeaderGranules = "X-Mosaic-Granules"
	HeaderFailures = "X-Mosaic-Failures"
	HeaderCache    = "X-Cache"
)

// Encode renders a composed mosaic in the negotiated format. Formats
// without alpha are flattened onto the request background.
func Encode(resp *coverage.Response, q router.MosaicQuery) (composer.Result, error) {
	opts := composer.Options{}
	if bg := q.Request.Background; len(bg) > 0 {
		opts.Matte = raster.BackgroundColor(bg)
	}
	return composer.Encode(resp.Image, q.Format, opts)
}

// WriteImage writes an encoded body with its mosaic headers. resp may be
// nil for responses served from a cache.
func WriteImage(w http.ResponseWriter, body []byte, contentType string, resp *coverage.Response) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	if resp != nil {
		h.Set(HeaderPath, resp.Path.String())
		h.Set(HeaderGranules, strconv.Itoa(resp.Loaded))
		if n := len(resp.Failures); n > 0 {
			h.Set(HeaderFailures, strconv.Itoa(n))
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// StatusFor maps a read error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, coverage.ErrUnknownCoverage):
		return http.StatusNotFound
	case errors.Is(err, coverage.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, coverage.ErrTooManyGranules):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
