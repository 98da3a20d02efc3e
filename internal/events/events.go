// Package events publishes notifications about granule loads and completed
// mosaic requests.
package events

import (
	"context"
	"log/slog"
	"time"
)

// Granule identifies a granule in a notification.
type Granule struct {
	Coverage string `json:"coverage"`
	ID       string `json:"id"`
	Location string `json:"location"`
}

type Event struct {
	Kind     string        `json:"kind"`
	TS       time.Time     `json:"ts"`
	Coverage string        `json:"coverage"`
	Granule  *Granule      `json:"granule,omitempty"`
	Level    int           `json:"level,omitempty"`
	Error    string        `json:"error,omitempty"`
	Granules int           `json:"granules,omitempty"`
	Failures int           `json:"failures,omitempty"`
	Path     string        `json:"path,omitempty"`
	Took     time.Duration `json:"took_ns,omitempty"`
}

const (
	KindGranuleLoaded    = "granule_loaded"
	KindGranuleFailed    = "granule_failed"
	KindRequestCompleted = "request_completed"
)

// Sink receives notifications. Implementations must not block the caller.
type Sink interface {
	GranuleLoaded(ctx context.Context, g Granule, level int)
	GranuleFailed(ctx context.Context, g Granule, err error)
	RequestCompleted(ctx context.Context, summary Summary)
}

// Summary describes one finished mosaic request.
type Summary struct {
	Coverage string
	Granules int
	Failures int
	Path     string
	Took     time.Duration
}

type Nop struct{}

func (Nop) GranuleLoaded(context.Context, Granule, int)   {}
func (Nop) GranuleFailed(context.Context, Granule, error) {}
func (Nop) RequestCompleted(context.Context, Summary)     {}

// Multi fans every notification out to each sink in order.
type Multi []Sink

func (m Multi) GranuleLoaded(ctx context.Context, g Granule, level int) {
	for _, s := range m {
		s.GranuleLoaded(ctx, g, level)
	}
}

func (m Multi) GranuleFailed(ctx context.Context, g Granule, err error) {
	for _, s := range m {
		s.GranuleFailed(ctx, g, err)
	}
}

func (m Multi) RequestCompleted(ctx context.Context, summary Summary) {
	for _, s := range m {
		s.RequestCompleted(ctx, summary)
	}
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) GranuleLoaded(ctx context.Context, g Granule, level int) {
	l.Logger.DebugContext(ctx, "granule loaded", "coverage", g.Coverage, "granule", g.ID, "level", level)
}

func (l LogSink) GranuleFailed(ctx context.Context, g Granule, err error) {
	l.Logger.WarnContext(ctx, "granule failed", "coverage", g.Coverage, "granule", g.ID, "location", g.Location, "err", err)
}

func (l LogSink) RequestCompleted(ctx context.Context, s Summary) {
	l.Logger.InfoContext(ctx, "mosaic completed",
		"coverage", s.Coverage, "granules", s.Granules, "failures", s.Failures, "path", s.Path, "took", s.Took)
}
