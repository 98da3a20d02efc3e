package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/granule-mosaic/internal/cache/redisstore"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/health"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/observability"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/server"
	"github.com/mohammed-shakir/granule-mosaic/internal/coverage"
	"github.com/mohammed-shakir/granule-mosaic/internal/granule"
	"github.com/mohammed-shakir/granule-mosaic/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/granule-mosaic/internal/logger"
	"github.com/mohammed-shakir/granule-mosaic/internal/metrics"
	"github.com/mohammed-shakir/granule-mosaic/internal/scenarios"
	_ "github.com/mohammed-shakir/granule-mosaic/internal/scenarios/cache"
	_ "github.com/mohammed-shakir/granule-mosaic/internal/scenarios/direct"
	"github.com/mohammed-shakir/granule-mosaic/internal/source"
	"github.com/mohammed-shakir/granule-mosaic/internal/source/filesource"

	"github.com/prometheus/client_golang/prometheus"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	// overriding scenario via flag
	scenarioFlag := flag.String("scenario", "", "scenario name")
	coverageFlag := flag.String("coverages", "", "coverage file")
	flag.Parse()

	cfg := config.FromEnv()
	if *scenarioFlag != "" {
		cfg.Scenario = strings.TrimSpace(*scenarioFlag)
	}
	if *coverageFlag != "" {
		cfg.CoverageFile = *coverageFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Scenario:  cfg.Scenario,
		Component: "mosaic",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var reg prometheus.Registerer
	var metricsHandler http.Handler
	if os.Getenv("METRICS_ENABLED") == "true" {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    os.Getenv("METRICS_ADDR"),
			Path:    "/metrics",
			Build: metrics.BuildInfo{
				Version:   os.Getenv("BUILD_VERSION"),
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		reg = p.Registerer()
		metricsHandler = p.Handler()
		observability.Init(reg, true)
		p.Serve(ctx, appLog)
	} else {
		observability.Init(nil, false)
	}
	observability.SetScenario(cfg.Scenario)
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting mosaic server",
		"addr", cfg.Addr,
		"version", Version,
		"scenario", cfg.Scenario,
		"catalog", cfg.CatalogDriver,
		"coverages", cfg.CoverageFile)

	covs, err := config.LoadCoverages(cfg.CoverageFile)
	if err != nil {
		appLog.Error("load coverages failed", "err", err)
		return 1
	}

	cats, err := openCatalog(ctx, cfg, covs)
	if err != nil {
		appLog.Error("catalog setup failed", "err", err)
		return 1
	}
	defer cats.close()

	files, err := filesource.New(cfg.FileRoot, cfg.DecodeCacheSize)
	if err != nil {
		appLog.Error("file source setup failed", "err", err)
		return 1
	}

	sink, closeSink, err := eventSink(cfg, appLog)
	if err != nil {
		appLog.Error("event sink setup failed", "err", err)
		return 1
	}
	defer closeSink()

	reader, err := coverage.NewReader(cats.catalog, source.NewRegistry(files), coverage.Options{
		MaxGranules:         cfg.MaxGranules,
		Workers:             cfg.MaxWorkers,
		DescriptorCacheSize: cfg.DescriptorCacheSize,
		Granule:             granule.Options{Tolerance: cfg.GeometryTolerance},
		Sink:                sink,
		Logger:              appLog,
	})
	if err != nil {
		appLog.Error("reader setup failed", "err", err)
		return 1
	}
	for _, c := range covs {
		if err := reader.AddCoverage(c); err != nil {
			appLog.Error("coverage rejected", "coverage", c.Name, "err", err)
			return 1
		}
	}

	deps := scenarios.Deps{Reader: reader}
	opts := kafkaconsumer.Options{Logger: appLog, Zerolog: &zl, Register: reg, Catalog: cats.writer}
	if cfg.Scenario == "cache" {
		store, err := redisstore.New(ctx, cfg.RedisAddr, redisstore.WithPoolSize(cfg.RedisPoolSize))
		if err != nil {
			appLog.Error("redis setup failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = store.Close() }()
		deps.Store = store
		opts.Generations = store
	}

	handler, err := scenarios.New(cfg.Scenario, cfg, appLog, deps)
	if err != nil {
		appLog.Error("scenario setup failed", "err", err)
		return 1
	}

	consumer := kafkaconsumer.New(kafkaconsumer.FromAppConfig(cfg.Invalidation), reader, opts)
	if err := consumer.Start(ctx); err != nil {
		appLog.Error("invalidation consumer failed to start", "err", err)
		return 1
	}
	defer consumer.Stop()

	var ready health.ReadinessReporter
	if cfg.Invalidation.Enabled {
		ready = consumer
	}

	if err := server.Run(ctx, cfg, appLog, server.Deps{
		Coverages: reader,
		Mosaic:    handler,
		Ready:     ready,
		Metrics:   metricsHandler,
	}); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
