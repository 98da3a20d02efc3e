package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/health"
	middleware "github.com/mohammed-shakir/granule-mosaic/internal/core/middleware"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/router"
)

// Coverages is the coverage registry the HTTP surface reads from.
type Coverages interface {
	router.FilterCompiler
	Coverages() []string
}

type Deps struct {
	Coverages Coverages
	Mosaic    router.MosaicHandler
	// Ready reports consumer readiness; nil is always ready.
	Ready health.ReadinessReporter
	// Metrics serves /metrics; nil falls back to the default registry.
	Metrics http.Handler
}

// NewRouter builds the chi router with every route mounted.
func NewRouter(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger, cfg.Scenario))
	r.Use(middleware.CORS())

	metrics := d.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready))
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/coverages", listCoverages(d.Coverages))
	r.Get("/coverages/{coverage}/mosaic", router.HandleMosaic(logger, cfg, d.Coverages, d.Mosaic))
	return r
}

func listCoverages(c Coverages) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		names := []string{}
		if c != nil {
			names = append(names, c.Coverages()...)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Coverages []string `json:"coverages"`
		}{names})
	}
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
