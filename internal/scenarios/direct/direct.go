// Package direct serves every request by composing it from the granules.
package direct

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/router"
	"github.com/mohammed-shakir/granule-mosaic/internal/scenarios"
)

type Engine struct {
	logger *slog.Logger
	reader scenarios.Reader
}

func init() {
	scenarios.Register("direct", newDirect)
}

func newDirect(_ config.Config, logger *slog.Logger, deps scenarios.Deps) (router.MosaicHandler, error) {
	if deps.Reader == nil {
		return nil, errors.New("direct scenario: reader is required")
	}
	return &Engine{logger: logger, reader: deps.Reader}, nil
}

func (e *Engine) HandleMosaic(ctx context.Context, w http.ResponseWriter, _ *http.Request, q router.MosaicQuery) {
	start := time.Now()
	resp, err := e.reader.Read(ctx, q.Request)
	if err != nil {
		e.logger.WarnContext(ctx, "mosaic read failed", "coverage", q.Request.Coverage, "err", err)
		http.Error(w, err.Error(), scenarios.StatusFor(err))
		return
	}
	res, err := scenarios.Encode(resp, q)
	if err != nil {
		http.Error(w, "encode error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	scenarios.WriteImage(w, res.Body, res.ContentType, resp)
	e.logger.InfoContext(ctx, "mosaic served",
		"coverage", q.Request.Coverage,
		"path", resp.Path.String(),
		"granules", resp.Loaded,
		"failures", len(resp.Failures),
		"format", res.Format.String(),
		"dur", time.Since(start).String())
}
