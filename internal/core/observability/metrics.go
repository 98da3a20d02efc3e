package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	scenarioLabel atomic.Value
	enabled       atomic.Bool
)

func init() {
	scenarioLabel.Store("direct")
	enabled.Store(true)
	register(prometheus.DefaultRegisterer)
	prometheus.DefaultRegisterer.MustRegister(buildInfo)
}

func SetScenario(s string) {
	if s == "" {
		s = "direct"
	}
	scenarioLabel.Store(s)
}

func getScenario() string {
	if v := scenarioLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "direct"
}

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "scenario"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "scenario"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls (catalog, redis, kafka) in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"upstream", "scenario"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Mosaic response cache results by outcome.",
		},
		[]string{"outcome", "scenario"},
	)

	cacheAdmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_admissions_total",
			Help: "Cache fill admission decisions.",
		},
		[]string{"decision"},
	)

	hotKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_hot_keys",
			Help: "Request keys currently tracked for admission.",
		},
	)

	redisOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of redis operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op", "result"},
	)

	granuleLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mosaic_granule_loads_total",
			Help: "Granule loads by outcome (loaded, skipped, failed).",
		},
		[]string{"coverage", "outcome"},
	)

	mosaicRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mosaic_requests_total",
			Help: "Mosaic requests by composition path.",
		},
		[]string{"coverage", "path", "scenario"},
	)

	mosaicDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mosaic_duration_seconds",
			Help:    "End to end mosaic read duration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"coverage"},
	)

	mosaicGranules = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mosaic_granules",
			Help:    "Granules matched per mosaic request.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"coverage"},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka invalidation consumer errors by kind.",
		},
		[]string{"kind", "scenario"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granule_invalidations_total",
			Help: "Processed granule invalidation events.",
		},
		[]string{"op", "result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		cacheResults, cacheAdmissions, hotKeys, redisOpDuration, granuleLoads, mosaicRequests, mosaicDuration,
		mosaicGranules, kafkaConsumerErrors, invalidations,
	}
}

func register(reg prometheus.Registerer) {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

// Init registers the collectors on reg in addition to the default registry
// and turns observation on or off. Build info stays on the default registry;
// metrics.Provider carries its own.
func Init(reg prometheus.Registerer, enable bool) {
	if reg != nil {
		register(reg)
	}
	enabled.Store(enable)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	s := getScenario()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, s).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, s).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	upstreamLatencySeconds.WithLabelValues(upstream, getScenario()).Observe(durationSeconds)
}

func IncCacheHit() {
	if enabled.Load() {
		cacheResults.WithLabelValues("hit", getScenario()).Inc()
	}
}

func IncCacheMiss() {
	if enabled.Load() {
		cacheResults.WithLabelValues("miss", getScenario()).Inc()
	}
}

func IncCacheError() {
	if enabled.Load() {
		cacheResults.WithLabelValues("error", getScenario()).Inc()
	}
}

func ObserveAdmission(admitted bool, tracked int) {
	if !enabled.Load() {
		return
	}
	d := "reject"
	if admitted {
		d = "admit"
	}
	cacheAdmissions.WithLabelValues(d).Inc()
	hotKeys.Set(float64(tracked))
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	redisOpDuration.WithLabelValues(op, result).Observe(durationSeconds)
}

// ObserveGranules records the outcome counts of one batch of granule loads.
func ObserveGranules(coverage string, loaded, skipped, failed int) {
	if !enabled.Load() {
		return
	}
	granuleLoads.WithLabelValues(coverage, "loaded").Add(float64(loaded))
	granuleLoads.WithLabelValues(coverage, "skipped").Add(float64(skipped))
	granuleLoads.WithLabelValues(coverage, "failed").Add(float64(failed))
}

func ObserveMosaic(coverage, path string, granules int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	mosaicRequests.WithLabelValues(coverage, path, getScenario()).Inc()
	mosaicDuration.WithLabelValues(coverage).Observe(durationSeconds)
	mosaicGranules.WithLabelValues(coverage).Observe(float64(granules))
}

func IncKafkaConsumerError(kind string) {
	if enabled.Load() {
		kafkaConsumerErrors.WithLabelValues(kind, getScenario()).Inc()
	}
}

func ObserveInvalidation(op string, err error) {
	if !enabled.Load() {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidations.WithLabelValues(op, result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
