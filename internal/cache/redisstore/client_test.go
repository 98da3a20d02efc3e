package redisstore

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mohammed-shakir/granule-mosaic/internal/cache/keys"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/observability"
	"github.com/mohammed-shakir/granule-mosaic/internal/metrics"
)

func newMini(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr(), WithPoolSize(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

// a PNG sized body with the signature up front
func pngBody(n int) []byte {
	b := bytes.Repeat([]byte{0xAB}, n)
	copy(b, "\x89PNG\r\n\x1a\n")
	return b
}

func TestSetGet_RoundTripsBinaryResponses(t *testing.T) {
	rc, _ := newMini(t)
	ctx := context.Background()

	body := pngBody(256 << 10)
	key := keys.Key("dem", 0, "png", "bbox=0,0,10,10,EPSG:4326;size=256x256")
	if err := rc.Set(ctx, key, body, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := rc.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("body mismatch: %d bytes back, want %d", len(got), len(body))
	}

	if _, ok, err := rc.Get(ctx, keys.Key("dem", 0, "jpeg", "bbox=0,0,10,10,EPSG:4326;size=256x256")); ok || err != nil {
		t.Fatalf("other format must miss: ok=%v err=%v", ok, err)
	}
}

func TestGet_ExpiresWithCoverageTTL(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	key := keys.Key("ortho", 0, "jpeg", "size=64x64")
	if err := rc.Set(ctx, key, pngBody(64), 30*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL(key); ttl != 30*time.Second {
		t.Fatalf("ttl=%v", ttl)
	}

	mr.FastForward(31 * time.Second)
	if _, ok, err := rc.Get(ctx, key); ok || err != nil {
		t.Fatalf("expired key: ok=%v err=%v", ok, err)
	}
}

func TestGenerations_RetireEarlierKeysPerCoverage(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if g, err := rc.Generation(ctx, "dem"); g != 0 || err != nil {
		t.Fatalf("fresh generation=%d err=%v", g, err)
	}
	old := keys.Key("dem", 0, "png", "size=8x8")
	_ = rc.Set(ctx, old, pngBody(16), time.Minute)

	for want := int64(1); want <= 2; want++ {
		if g, err := rc.BumpGeneration(ctx, "dem"); g != want || err != nil {
			t.Fatalf("bump=%d err=%v want %d", g, err, want)
		}
	}
	if v, _ := mr.Get(keys.GenerationKey("dem")); v != "2" {
		t.Fatalf("counter=%q", v)
	}
	if g, _ := rc.Generation(ctx, "ortho"); g != 0 {
		t.Fatalf("other coverage moved to %d", g)
	}

	g, _ := rc.Generation(ctx, "dem")
	if cur := keys.Key("dem", g, "png", "size=8x8"); cur == old {
		t.Fatal("bumped generation must change the response key")
	} else if _, ok, _ := rc.Get(ctx, cur); ok {
		t.Fatal("new generation must start empty")
	}
}

func TestCanceledContext(t *testing.T) {
	rc, _ := newMini(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatal("Set: expected error")
	}
	if _, _, err := rc.Get(ctx, "k"); err == nil {
		t.Fatal("Get: expected error")
	}
	if _, err := rc.Generation(ctx, "dem"); err == nil {
		t.Fatal("Generation: expected error")
	}
	if _, err := rc.BumpGeneration(ctx, "dem"); err == nil {
		t.Fatal("BumpGeneration: expected error")
	}
}

func TestNew_OptionsAndEmptyAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty address")
	}

	ro := &redis.Options{PoolSize: 64, ReadTimeout: time.Second, WriteTimeout: time.Second}
	WithPoolSize(8)(ro)
	WithOpTimeout(200 * time.Millisecond)(ro)
	if ro.PoolSize != 8 || ro.ReadTimeout != 200*time.Millisecond || ro.WriteTimeout != 200*time.Millisecond {
		t.Fatalf("options not applied: %+v", ro)
	}
	WithPoolSize(0)(ro)
	WithOpTimeout(0)(ro)
	if ro.PoolSize != 8 || ro.ReadTimeout != 200*time.Millisecond {
		t.Fatal("zero values must keep defaults")
	}
}

func TestOperationsAreMeasured(t *testing.T) {
	p := metrics.Init(metrics.Config{})
	observability.Init(p.Registerer(), true)
	observability.SetScenario("cache")
	t.Cleanup(func() { observability.SetScenario("") })

	rc, _ := newMini(t)
	ctx := context.Background()
	_ = rc.Set(ctx, "m1", []byte("x"), time.Minute)
	_, _, _ = rc.Get(ctx, "m1")
	_, _, _ = rc.Get(ctx, "absent")
	_, _ = rc.BumpGeneration(ctx, "dem")
	_, _ = rc.Generation(ctx, "dem")

	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	for _, op := range []string{"ping", "set", "get", "incr", "generation"} {
		s := `redis_operation_duration_seconds_count{op="` + op + `",result="ok"}`
		if !strings.Contains(body, s) {
			t.Fatalf("missing %q; got:\n%s", s, body)
		}
	}
}
