package scenarios_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/model"
	"github.com/mohammed-shakir/granule-mosaic/internal/coverage"
	"github.com/mohammed-shakir/granule-mosaic/internal/scenarios"
	"github.com/mohammed-shakir/granule-mosaic/internal/scenarios/direct"
)

type nopReader struct{}

func (nopReader) Read(context.Context, *model.Request) (*coverage.Response, error) {
	return nil, coverage.ErrUnknownCoverage
}

func TestRegistry_FallbackToDirect(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.FromEnv()

	h, err := scenarios.New("totally-unknown", cfg, logger, scenarios.Deps{Reader: nopReader{}})
	if err != nil || h == nil {
		t.Fatalf("expected fallback to direct, got err=%v h=%v", err, h)
	}
	if _, ok := h.(*direct.Engine); !ok {
		t.Fatalf("fallback handler is %T, want *direct.Engine", h)
	}
}

func TestRegistry_DirectRequiresReader(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := scenarios.New("direct", config.FromEnv(), logger, scenarios.Deps{}); err == nil {
		t.Fatal("expected error without a reader")
	}
}
