package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mohammed-shakir/granule-mosaic/internal/catalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/catalog/memcatalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/catalog/pgcatalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/events"
	"github.com/mohammed-shakir/granule-mosaic/internal/invalidation/kafkaconsumer"
)

// catalogs is the granule index the reader queries, plus the writer the
// invalidation consumer applies granule changes to when the index is local.
type catalogs struct {
	catalog catalog.Catalog
	writer  kafkaconsumer.CatalogWriter
	close   func()
}

func openCatalog(ctx context.Context, cfg config.Config, covs []config.Coverage) (catalogs, error) {
	switch cfg.CatalogDriver {
	case "postgis", "postgres":
		pg, closeFn, err := pgcatalog.Open(ctx, cfg.PostGISDSN, pgcatalog.Options{})
		if err != nil {
			return catalogs{}, err
		}
		for _, c := range covs {
			pg.Register(memcatalog.SchemaOf(c))
		}
		return catalogs{catalog: pg, close: closeFn}, nil
	case "memory", "":
		mem := memcatalog.New()
		types := make(map[string]string, len(covs))
		for _, c := range covs {
			if err := mem.Load(c); err != nil {
				return catalogs{}, fmt.Errorf("load coverage %s: %w", c.Name, err)
			}
			types[c.Name] = c.TypeName
		}
		return catalogs{
			catalog: mem,
			writer:  kafkaconsumer.MemoryCatalog{Catalog: mem, TypeNames: types},
			close:   func() {},
		}, nil
	default:
		return catalogs{}, fmt.Errorf("unknown catalog driver %q", cfg.CatalogDriver)
	}
}

// eventSink always logs; with events enabled it also publishes to Kafka.
// The returned close flushes the producer.
func eventSink(cfg config.Config, logger *slog.Logger) (events.Sink, func(), error) {
	logSink := events.LogSink{Logger: logger.With("component", "events")}
	if !cfg.Events.Enabled {
		return logSink, func() {}, nil
	}
	ks, err := events.NewKafkaSink(config.SplitCSV(cfg.Events.Brokers), cfg.Events.Topic, cfg.Events.QueueSize, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("events: %w", err)
	}
	return events.Multi{logSink, ks}, func() { _ = ks.Close() }, nil
}
