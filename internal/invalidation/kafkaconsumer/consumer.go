// Package kafkaconsumer applies granule change events from Kafka: catalog
// updates, descriptor eviction and response cache retirement.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/granule-mosaic/internal/cache"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	obs "github.com/mohammed-shakir/granule-mosaic/internal/core/observability"
	"github.com/mohammed-shakir/granule-mosaic/internal/invalidation"
	mylog "github.com/mohammed-shakir/granule-mosaic/internal/logger"
)

// Evictor drops cached granule descriptors.
type Evictor interface {
	Evict(coverage, id string) bool
	EvictCoverage(coverage string) int
}

// CatalogWriter applies granule definitions to the catalog.
type CatalogWriter interface {
	Upsert(coverage string, g config.Granule) error
	Remove(coverage, id string) bool
}

type Options struct {
	Logger   *slog.Logger
	Zerolog  *zerolog.Logger
	Register prometheus.Registerer
	// Generations is nil when no response cache is in use.
	Generations cache.Generations
	// Catalog is nil when the catalog is maintained elsewhere.
	Catalog    CatalogWriter
	DedupeSize int
}

type Consumer struct {
	cfg      Config
	logger   *slog.Logger
	zlog     *zerolog.Logger
	evict    Evictor
	gens     cache.Generations
	catalog  CatalogWriter
	dedupe   *invalidation.Dedupe
	ms       *metricSet
	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

func New(cfg Config, ev Evictor, opts Options) *Consumer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Consumer{
		cfg:     cfg,
		logger:  opts.Logger,
		zlog:    opts.Zerolog,
		evict:   ev,
		gens:    opts.Generations,
		catalog: opts.Catalog,
		dedupe:  invalidation.NewDedupe(opts.DedupeSize),
		ms:      newMetricSet(opts.Register),
		assign:  map[int32]struct{}{},
	}
}

// Start joins the consumer group and applies changes in the background
// until ctx ends or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.logger.Info("kafka invalidation consumer disabled")
		return nil
	}
	if c.evict == nil {
		return errors.New("kafkaconsumer: missing dependencies (evictor)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(mylog.WithComponent(ctx, "kafka_consumer"))
	c.cancel = cancel

	h := &groupHandler{setup: c.onAssign, cleanup: c.onRevoke, process: c.ProcessOne}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.logger.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.logger.Error("consumer error", "err", err)
				mylog.FromContext(ctx, c.zlog).Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			obs.IncKafkaConsumerError("group")
			c.logger.Error("kafka group error", "err", err)
		}
	}()

	c.logger.Info("kafka invalidation consumer started",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("kafka invalidation consumer stopped")
}

func (c *Consumer) onAssign(sess sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assign = map[int32]struct{}{}
	for _, parts := range sess.Claims() {
		for _, p := range parts {
			c.assign[p] = struct{}{}
		}
	}
	c.assigned.Store(true)
}

func (c *Consumer) onRevoke(sarama.ConsumerGroupSession) {
	c.assignMu.Lock()
	defer c.assignMu.Unlock()
	c.assigned.Store(false)
	c.assign = map[int32]struct{}{}
}

// Readiness reports whether the consumer holds a partition assignment.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	slices.Sort(partitions)
	return true, partitions
}

// process a single granule change message
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	if !msg.Timestamp.IsZero() {
		c.ms.lagGauge.Set(time.Since(msg.Timestamp).Seconds())
	}

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return c.reject(ctx, msg, "decode", fmt.Errorf("json decode: %w", err))
	}
	if err := ev.Validate(); err != nil {
		return c.reject(ctx, msg, "validate", fmt.Errorf("validate: %w", err))
	}
	ctx = mylog.WithCoverage(ctx, ev.Coverage)

	if !c.dedupe.ShouldApply(ev) {
		c.ms.apply.WithLabelValues("skip_seq").Inc()
		c.ms.msgs.WithLabelValues("skipped").Inc()
		c.logger.Debug("stale granule change skipped",
			"coverage", ev.Coverage, "granule", ev.GranuleID, "seq", ev.Seq)
		return nil
	}

	err := c.apply(ctx, ev)
	obs.ObserveInvalidation(ev.Op, err)
	c.ms.proc.WithLabelValues(ev.Op).Observe(time.Since(start).Seconds())
	if err != nil {
		c.ms.msgs.WithLabelValues("error").Inc()
		mylog.FromContext(ctx, c.zlog).Error().Err(err).
			Str("kind", "apply").
			Str("op", ev.Op).
			Str("granule", ev.GranuleID).
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return err
	}
	c.dedupe.Applied(ev)
	c.ms.msgs.WithLabelValues("ok").Inc()

	mylog.FromContext(ctx, c.zlog).Info().
		Str("event", "invalidation").
		Str("op", ev.Op).
		Str("granule", ev.GranuleID).
		Dur("took", time.Since(start)).
		Msg("granule change applied")
	return nil
}

// Decode and validation failures are not retryable: the message is
// logged and skipped so the partition keeps moving.
func (c *Consumer) reject(ctx context.Context, msg *sarama.ConsumerMessage, kind string, err error) error {
	obs.IncKafkaConsumerError(kind)
	c.ms.msgs.WithLabelValues("invalid").Inc()
	mylog.FromContext(ctx, c.zlog).Error().Err(err).
		Str("kind", kind).
		Str("topic", msg.Topic).
		Int32("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("kafka error")
	return nil
}

// catalog first, then descriptors, then the response generation
func (c *Consumer) apply(ctx context.Context, ev invalidation.Event) error {
	if c.catalog != nil {
		switch {
		case ev.Op == invalidation.OpDelete:
			if c.catalog.Remove(ev.Coverage, ev.GranuleID) {
				c.ms.apply.WithLabelValues("catalog_remove").Inc()
			}
		case ev.Granule != nil:
			g := *ev.Granule
			g.ID = ev.GranuleID
			if err := c.catalog.Upsert(ev.Coverage, g); err != nil {
				obs.IncKafkaConsumerError("catalog")
				return fmt.Errorf("catalog upsert: %w", err)
			}
			c.ms.apply.WithLabelValues("catalog_upsert").Inc()
		}
	}

	if ev.Op == invalidation.OpReload {
		n := c.evict.EvictCoverage(ev.Coverage)
		c.ms.apply.WithLabelValues("evict").Add(float64(n))
	} else if c.evict.Evict(ev.Coverage, ev.GranuleID) {
		c.ms.apply.WithLabelValues("evict").Inc()
	}

	if c.gens != nil {
		gen, err := c.gens.BumpGeneration(ctx, ev.Coverage)
		if err != nil {
			obs.IncKafkaConsumerError("redis_incr")
			return fmt.Errorf("bump generation: %w", err)
		}
		c.ms.apply.WithLabelValues("generation").Inc()
		c.logger.Debug("coverage generation bumped", "coverage", ev.Coverage, "generation", gen)
	}
	return nil
}
