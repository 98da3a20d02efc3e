package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
)

type Config struct {
	Enabled             bool
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

// FromAppConfig derives the consumer settings from the service config.
func FromAppConfig(c config.InvalidationCfg) Config {
	return Config{
		Enabled:             c.Enabled && c.Driver == "kafka",
		Brokers:             config.SplitCSV(c.Brokers),
		Topic:               c.Topic,
		GroupID:             c.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
	}
}
