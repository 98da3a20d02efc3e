package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/granule-mosaic/internal/cache/keys"
	"github.com/mohammed-shakir/granule-mosaic/internal/cache/redisstore"
	"github.com/mohammed-shakir/granule-mosaic/internal/catalog/memcatalog"
	"github.com/mohammed-shakir/granule-mosaic/internal/core/config"
	"github.com/mohammed-shakir/granule-mosaic/internal/invalidation"
)

type fakeEvictor struct {
	mu       sync.Mutex
	granules []string
	reloads  []string
}

func (f *fakeEvictor) Evict(cov, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.granules = append(f.granules, cov+"/"+id)
	return true
}

func (f *fakeEvictor) EvictCoverage(cov string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads = append(f.reloads, cov)
	return 3
}

type fakeGens struct {
	failFirst atomic.Bool
	bumps     atomic.Int64
}

func (f *fakeGens) Generation(context.Context, string) (int64, error) { return f.bumps.Load(), nil }
func (f *fakeGens) BumpGeneration(context.Context, string) (int64, error) {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return 0, errors.New("boom")
	}
	return f.bumps.Add(1), nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
	claims map[string][]int32
}

func (s *sess) Claims() map[string][]int32 { return s.claims }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "granule-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(ev invalidation.Event) []byte {
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	b, _ := json.Marshal(ev)
	return b
}

func deleteEvent(id string) []byte {
	return eventBytes(invalidation.Event{Op: invalidation.OpDelete, Coverage: "dem", GranuleID: id})
}

func newConsumerForTest(ev Evictor, opts Options) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "granule-changes", GroupID: "g"}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Register = prometheus.NewRegistry()
	return New(cfg, ev, opts)
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fe := &fakeEvictor{}
	fg := &fakeGens{}
	c := newConsumerForTest(fe, Options{Generations: fg})

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "granule-changes", Partition: 0, Offset: 10, Value: deleteEvent("a")}
	ch <- &sarama.ConsumerMessage{Topic: "granule-changes", Partition: 0, Offset: 11, Value: deleteEvent("b")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	if len(fe.granules) != 2 || fe.granules[0] != "dem/a" || fe.granules[1] != "dem/b" {
		t.Fatalf("evicted=%v", fe.granules)
	}
	if fg.bumps.Load() != 2 {
		t.Fatalf("bumps=%d want 2", fg.bumps.Load())
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fe := &fakeEvictor{}
	fg := &fakeGens{}
	fg.failFirst.Store(true)
	c := newConsumerForTest(fe, Options{Generations: fg})
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Topic: "granule-changes", Partition: 0, Offset: 5,
		Value: eventBytes(invalidation.Event{Op: invalidation.OpDelete, Coverage: "dem", GranuleID: "a", Seq: 9})}
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
	if fg.bumps.Load() != 1 {
		t.Fatalf("bumps=%d want 1", fg.bumps.Load())
	}
}

func TestProcessOne_FailureStopsClaimBeforeMark(t *testing.T) {
	fg := &fakeGens{}
	fg.failFirst.Store(true)
	c := newConsumerForTest(&fakeEvictor{}, Options{Generations: fg})

	s := &sess{ctx: context.Background()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Topic: "t", Offset: 1, Value: deleteEvent("a")}
	ch <- &sarama.ConsumerMessage{Topic: "t", Offset: 2, Value: deleteEvent("b")}
	close(ch)
	if err := (&groupHandler{process: c.ProcessOne}).ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatal("expected claim error")
	}
	if len(s.marked) != 0 {
		t.Fatalf("nothing should be marked, got %v", s.marked)
	}
}

func TestProcessOne_InvalidMessagesAreSkipped(t *testing.T) {
	fe := &fakeEvictor{}
	c := newConsumerForTest(fe, Options{})
	for _, v := range [][]byte{
		[]byte("{not json"),
		eventBytes(invalidation.Event{Op: "upsert", Coverage: "dem", GranuleID: "a"}),
	} {
		if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: v}); err != nil {
			t.Fatalf("invalid message should be skipped, got %v", err)
		}
	}
	if len(fe.granules) != 0 {
		t.Fatalf("invalid messages must not evict: %v", fe.granules)
	}
}

func TestProcessOne_StaleSequenceSkipped(t *testing.T) {
	fe := &fakeEvictor{}
	c := newConsumerForTest(fe, Options{})
	ctx := context.Background()
	for _, seq := range []uint64{3, 3, 2, 4} {
		v := eventBytes(invalidation.Event{Op: invalidation.OpUpdate, Coverage: "dem", GranuleID: "a", Seq: seq})
		if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: v}); err != nil {
			t.Fatalf("seq %d: %v", seq, err)
		}
	}
	if len(fe.granules) != 2 {
		t.Fatalf("expected seq 3 and 4 applied, evictions=%v", fe.granules)
	}
}

func TestProcessOne_ReloadEvictsCoverage(t *testing.T) {
	fe := &fakeEvictor{}
	c := newConsumerForTest(fe, Options{})
	v := eventBytes(invalidation.Event{Op: invalidation.OpReload, Coverage: "dem"})
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: v}); err != nil {
		t.Fatal(err)
	}
	if len(fe.reloads) != 1 || fe.reloads[0] != "dem" || len(fe.granules) != 0 {
		t.Fatalf("reloads=%v granules=%v", fe.reloads, fe.granules)
	}
}

func TestProcessOne_CatalogAndRedisGeneration(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore.New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	cat := memcatalog.New()
	cov := config.Coverage{Name: "dem", TypeName: "dem_tiles", Resolution: [2]float64{1, 1}}
	if err := cat.Load(cov); err != nil {
		t.Fatal(err)
	}
	c := newConsumerForTest(&fakeEvictor{}, Options{
		Generations: rc,
		Catalog:     MemoryCatalog{Catalog: cat, TypeNames: map[string]string{"dem": "dem_tiles"}},
	})
	ctx := context.Background()

	ins := eventBytes(invalidation.Event{Op: invalidation.OpInsert, Coverage: "dem", GranuleID: "n1",
		Granule: &config.Granule{Location: "n1.tif", BBox: [4]float64{0, 0, 1, 1}}})
	if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: ins}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got, _ := mr.Get(keys.GenerationKey("dem")); got != "1" {
		t.Fatalf("generation=%q want 1", got)
	}
	if !cat.Remove("dem_tiles", "n1") {
		t.Fatal("inserted granule missing from catalog")
	}

	if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: deleteEvent("n1")}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if g, _ := rc.Generation(ctx, "dem"); g != 2 {
		t.Fatalf("generation=%d want 2", g)
	}
}

func TestReadiness_TracksAssignment(t *testing.T) {
	c := newConsumerForTest(&fakeEvictor{}, Options{})
	if ready, _ := c.Readiness(); ready {
		t.Fatal("not ready before assignment")
	}
	h := &groupHandler{setup: c.onAssign, cleanup: c.onRevoke}
	s := &sess{ctx: context.Background(), claims: map[string][]int32{"granule-changes": {2, 0}}}
	_ = h.Setup(s)
	ready, parts := c.Readiness()
	if !ready || len(parts) != 2 || parts[0] != 0 || parts[1] != 2 {
		t.Fatalf("ready=%v parts=%v", ready, parts)
	}
	_ = h.Cleanup(s)
	if ready, _ := c.Readiness(); ready {
		t.Fatal("not ready after revoke")
	}
}

func TestStart_DisabledIsNoop(t *testing.T) {
	c := newConsumerForTest(&fakeEvictor{}, Options{})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Stop()
}
