// Command loadgen drives zipf distributed mosaic requests at a running
// server and writes per-request samples and a run summary.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL        string
	Coverage       string
	Extent         string
	Width, Height  int
	Format         string
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	BBoxCount      int
	OutputPrefix   string
	RequestTimeout time.Duration
	WindowFile     string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "target", "http://localhost:8090", "Mosaic server base URL")
	flag.StringVar(&cfg.Coverage, "coverage", "ortho", "Coverage name")
	flag.StringVar(&cfg.Extent, "extent", "11,55,24,66", "Request extent minx,miny,maxx,maxy")
	flag.IntVar(&cfg.Width, "width", 512, "Output width")
	flag.IntVar(&cfg.Height, "height", 512, "Output height")
	flag.StringVar(&cfg.Format, "format", "image/png", "Output format")
	flag.IntVar(&cfg.Concurrency, "concurrency", 16, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.BBoxCount, "bboxes", 128, "Distinct windows in pool")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/mosaic", "Output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 30*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.WindowFile, "windows", "", "Optional CSV (minx,miny,maxx,maxy) of windows")
	flag.Parse()
	return cfg
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	Cache     string
	Path      string
	ErrorMsg  string
	BoxIndex  int
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	SuccessCount  int64     `json:"success"`
	ErrorCount    int64     `json:"errors"`
	CacheHits     int64     `json:"cache_hits"`
	HitRatio      float64   `json:"hit_ratio"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	BBoxes        int       `json:"bboxes"`
	Coverage      string    `json:"coverage"`
	Format        string    `json:"format"`
}

type aggregate struct {
	total, success, errors, hits int64
	latMs                        []float64
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := fmt.Sprintf("%s_%s", cfg.OutputPrefix, time.Now().UTC().Format("20060102_150405Z"))

	seed := time.Now().UnixNano()
	r := rand.New(rand.NewSource(seed))

	var boxes []BBox
	if cfg.WindowFile != "" {
		w, err := loadWindowsCSV(cfg.WindowFile)
		if err != nil {
			log.Printf("WARN: windows from %q: %v; falling back to synthetic windows", cfg.WindowFile, err)
		} else if len(w) > cfg.BBoxCount {
			boxes = w[:cfg.BBoxCount]
		} else {
			boxes = w
		}
	}
	if len(boxes) == 0 {
		extent, err := parseExtent(cfg.Extent)
		if err != nil {
			log.Fatalf("extent: %v", err)
		}
		boxes = makeBBoxes(extent, cfg.BBoxCount, r)
	}
	if len(boxes) == 0 {
		log.Fatalf("no windows generated")
	}
	imax := uint64(len(boxes)) - 1

	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/coverages/" + url.PathEscape(cfg.Coverage) + "/mosaic"

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Printf("open csv: %v", err)
		return
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	samples := make(chan sample, 4096)
	results := make(chan aggregate, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "status", "cache", "path", "error", "bbox_idx"})
		var agg aggregate
		for s := range samples {
			agg.total++
			if s.ErrorMsg == "" {
				agg.success++
				agg.latMs = append(agg.latMs, float64(s.Latency.Microseconds())/1000.0)
				if s.Cache == "HIT" {
					agg.hits++
				}
			} else {
				agg.errors++
			}
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				fmt.Sprintf("%d", s.Status),
				s.Cache,
				s.Path,
				s.ErrorMsg,
				fmt.Sprintf("%d", s.BoxIndex),
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		results <- agg
	}()

	start := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d zipf(s=%.2f,v=%.2f) windows=%d",
		endpoint, cfg.Duration, cfg.Concurrency, cfg.ZipfS, cfg.ZipfV, len(boxes))

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for workerID := range cfg.Concurrency {
		go func(id int) {
			defer wg.Done()
			zipf := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, imax)
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				idx := int(zipf.Uint64())
				s := fire(ctx, httpClient, endpoint, cfg, boxes[idx])
				s.BoxIndex = idx
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samples)
	}()

	agg := <-results
	end := time.Now()
	elapsed := end.Sub(start).Seconds()

	sort.Float64s(agg.latMs)
	out := summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		CacheHits:     agg.hits,
		ThroughputRPS: float64(agg.total) / elapsed,
		P50Ms:         percentile(agg.latMs, 50),
		P95Ms:         percentile(agg.latMs, 95),
		P99Ms:         percentile(agg.latMs, 99),
		Concurrency:   cfg.Concurrency,
		BBoxes:        len(boxes),
		Coverage:      cfg.Coverage,
		Format:        cfg.Format,
	}
	if agg.success > 0 {
		out.HitRatio = float64(agg.hits) / float64(agg.success)
	}
	if math.IsNaN(out.P50Ms) {
		out.P50Ms, out.P95Ms, out.P99Ms = 0, 0, 0
	}

	if f, err := os.Create(filepath.Clean(jsonPath)); err == nil {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		_ = f.Close()
	}

	log.Printf("done: total=%d succ=%d err=%d hit=%.2f thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		out.TotalRequests, out.SuccessCount, out.ErrorCount, out.HitRatio, out.ThroughputRPS, out.P50Ms, out.P95Ms, out.P99Ms)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
}

func fire(ctx context.Context, c *http.Client, endpoint string, cfg Config, box BBox) sample {
	q := url.Values{}
	q.Set("bbox", box.String())
	q.Set("width", fmt.Sprint(cfg.Width))
	q.Set("height", fmt.Sprint(cfg.Height))
	q.Set("format", cfg.Format)

	s := sample{Timestamp: time.Now()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	resp, err := c.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	s.Status = resp.StatusCode
	s.Cache = resp.Header.Get("X-Cache")
	s.Path = resp.Header.Get("X-Mosaic-Path")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
	}
	return s
}
