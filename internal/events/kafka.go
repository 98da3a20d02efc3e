package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink publishes notifications as JSON messages keyed by coverage.
// Events are queued and dropped when the queue is full.
type KafkaSink struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
	now     func() time.Time
}

func NewKafkaSink(brokers []string, topic string, queueSize int, logger *slog.Logger) (*KafkaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return NewKafkaSinkWithProducer(prod, topic, queueSize, logger), nil
}

func NewKafkaSinkWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *KafkaSink {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	k := &KafkaSink{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
		now:     time.Now,
	}

	go func() {
		defer close(k.stopped)
		for ev := range k.events {
			b, err := json.Marshal(ev)
			if err != nil {
				k.logger.Error("events: marshal", "err", err)
				continue
			}
			k.prod.Input() <- &sarama.ProducerMessage{
				Topic: k.topic,
				Key:   sarama.StringEncoder(ev.Coverage),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range k.prod.Errors() {
			if err != nil {
				k.logger.Warn("events: producer error", "err", err)
			}
		}
	}()
	return k
}

func (k *KafkaSink) publish(ev Event) {
	ev.TS = k.now().UTC()
	select {
	case k.events <- ev:
	default:
		// queue full, drop
	}
}

func (k *KafkaSink) GranuleLoaded(_ context.Context, g Granule, level int) {
	k.publish(Event{Kind: KindGranuleLoaded, Coverage: g.Coverage, Granule: &g, Level: level})
}

func (k *KafkaSink) GranuleFailed(_ context.Context, g Granule, err error) {
	ev := Event{Kind: KindGranuleFailed, Coverage: g.Coverage, Granule: &g}
	if err != nil {
		ev.Error = err.Error()
	}
	k.publish(ev)
}

func (k *KafkaSink) RequestCompleted(_ context.Context, s Summary) {
	k.publish(Event{
		Kind: KindRequestCompleted, Coverage: s.Coverage,
		Granules: s.Granules, Failures: s.Failures, Path: s.Path, Took: s.Took,
	})
}

// Close drains the queue and closes the producer.
func (k *KafkaSink) Close() error {
	close(k.events)
	<-k.stopped
	if err := k.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
