package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/flowerbed/internal/bloom"
	"github.com/nidhogg/flowerbed/internal/evolution"
	"github.com/nidhogg/flowerbed/internal/flower"
	"github.com/nidhogg/flowerbed/internal/memory"
	"github.com/nidhogg/flowerbed/internal/provider"
	"github.com/nidhogg/flowerbed/internal/store"
	"go.uber.org/zap"
)

type fakeKeeper struct {
	mu      sync.Mutex
	flowers map[string]*flower.Flower
	calls   []string
}

func newFakeKeeper(fs ...*flower.Flower) *fakeKeeper {
	k := &fakeKeeper{flowers: make(map[string]*flower.Flower)}
	for _, f := range fs {
		k.flowers[f.ID] = f
	}
	return k
}

func (k *fakeKeeper) record(call string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, call)
}

func (k *fakeKeeper) get(id string) (*flower.Flower, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	f, ok := k.flowers[id]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, flower.ErrFlowerNotFound)
	}
	return f, nil
}

func (k *fakeKeeper) RewriteFlowerMemory(_ context.Context, id string, fn func(flower.Memory) flower.Memory) (flower.Memory, error) {
	k.record("rewrite:" + id)
	f, err := k.get(id)
	if err != nil {
		return flower.Memory{}, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	f.Memory = fn(f.Memory.Clone())
	return f.Memory.Clone(), nil
}

func (k *fakeKeeper) EvolveFlower(_ context.Context, id, trigger string) (*flower.Flower, error) {
	k.record("evolve:" + id + ":" + trigger)
	f, err := k.get(id)
	if err != nil {
		return nil, err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	f.Metadata.EvolutionHistory = append(f.Metadata.EvolutionHistory, flower.EvolutionRecord{
		Trigger: trigger,
		Changes: flower.Changes{Mood: true},
	})
	return f.Clone(), nil
}

func (k *fakeKeeper) Archive(_ context.Context, id, reason string) (*flower.Flower, error) {
	k.record("archive:" + id + ":" + reason)
	f, err := k.get(id)
	if err != nil {
		return nil, err
	}
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	k.mu.Lock()
	defer k.mu.Unlock()
	f.Metadata.Archived = true
	f.Metadata.ArchivedAt = &now
	return f.Clone(), nil
}

func flowerWithLongTerm(id string, n int) *flower.Flower {
	f := &flower.Flower{ID: id}
	for i := 0; i < n; i++ {
		f.Memory.LongTerm = append(f.Memory.LongTerm, flower.Fragment{
			Content:    fmt.Sprintf("memory %d", i),
			Importance: 0.75,
		})
	}
	return f
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindConsolidation, KindEvolution, KindArchival} {
		got, err := ParseKind(string(k))
		if err != nil || got != k {
			t.Fatalf("ParseKind(%s) = %s, %v", k, got, err)
		}
	}
	if _, err := ParseKind("metrics-aggregation"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestProcessConsolidation(t *testing.T) {
	k := newFakeKeeper(flowerWithLongTerm("f1", 12))
	opts := memory.ConsolidateOptions{LongTermCap: 10, BatchSize: 3, DigestMaxLen: 80}
	p := NewProcessor(k, opts, 2, zap.NewNop())

	res := p.Process(context.Background(), &Job{ID: "j1", Kind: KindConsolidation, FlowerID: "f1"})
	if res.Status != StatusDone {
		t.Fatalf("status %s: %s", res.Status, res.Error)
	}
	if res.MemorySize > 10 {
		t.Fatalf("memory size %d, want <= 10", res.MemorySize)
	}
	if got := len(k.flowers["f1"].Memory.LongTerm); got != res.MemorySize {
		t.Fatalf("stored long-term %d, result %d", got, res.MemorySize)
	}
	if len(k.calls) != 1 || k.calls[0] != "rewrite:f1" {
		t.Fatalf("got calls %v, want one rewrite", k.calls)
	}
}

func TestProcessConsolidationKeepsSessionFragments(t *testing.T) {
	logger := zap.NewNop()
	router := provider.NewRouter(logger)
	router.Register(provider.NewEchoProvider("echo", "gpt-4"))
	st := memory.NewStore(store.NewInMemory(), memory.DefaultPolicy(), logger)
	engine := bloom.NewEngine(st, router, evolution.NewEngine(logger),
		bloom.Options{FlowerLocking: bloom.LockPerFlower}, logger)
	ctx := context.Background()

	f, err := engine.Seed(ctx, flower.Config{Type: "rose"})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := engine.UpdateFlowerMemory(ctx, f.ID, flowerWithLongTerm(f.ID, 12).Memory); err != nil {
		t.Fatalf("update: %v", err)
	}
	s, err := engine.Bloom(ctx, f.ID)
	if err != nil {
		t.Fatalf("bloom: %v", err)
	}
	if _, err := engine.Tend(ctx, s.ID, "good morning"); err != nil {
		t.Fatalf("tend: %v", err)
	}

	opts := memory.ConsolidateOptions{LongTermCap: 10, BatchSize: 3, DigestMaxLen: 80}
	p := NewProcessor(engine, opts, 1, logger)
	res := p.Process(ctx, &Job{ID: "j1", Kind: KindConsolidation, FlowerID: f.ID})
	if res.Status != StatusDone {
		t.Fatalf("status %s: %s", res.Status, res.Error)
	}

	if _, err := engine.Tend(ctx, s.ID, "good evening"); err != nil {
		t.Fatalf("tend: %v", err)
	}
	stored, err := engine.GetFlower(ctx, f.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := len(stored.Memory.ShortTerm); got != 2 {
		t.Fatalf("stored short-term %d, want 2", got)
	}
	if got := len(stored.Memory.LongTerm); got != res.MemorySize {
		t.Fatalf("stored long-term %d, want the consolidated %d", got, res.MemorySize)
	}
	if got := len(s.Flower().Memory.LongTerm); got != res.MemorySize {
		t.Fatalf("session long-term %d, want the consolidated %d", got, res.MemorySize)
	}
}

func TestProcessEvolution(t *testing.T) {
	k := newFakeKeeper(&flower.Flower{ID: "f1"})
	p := NewProcessor(k, memory.DefaultConsolidateOptions(), 1, zap.NewNop())

	res := p.Process(context.Background(), &Job{ID: "j2", Kind: KindEvolution, FlowerID: "f1"})
	if res.Status != StatusDone {
		t.Fatalf("status %s: %s", res.Status, res.Error)
	}
	if res.Changes == nil || !res.Changes.Mood {
		t.Fatalf("changes %+v", res.Changes)
	}
	if k.calls[0] != "evolve:f1:flower-evolution" {
		t.Fatalf("got call %q", k.calls[0])
	}
}

func TestProcessArchival(t *testing.T) {
	k := newFakeKeeper(&flower.Flower{ID: "f1"})
	p := NewProcessor(k, memory.DefaultConsolidateOptions(), 1, zap.NewNop())

	res := p.Process(context.Background(), &Job{ID: "j3", Kind: KindArchival, FlowerID: "f1", Reason: "idle"})
	if res.Status != StatusDone || res.ArchivedAt == nil {
		t.Fatalf("got %+v", res)
	}
	if k.calls[0] != "archive:f1:idle" {
		t.Fatalf("got call %q", k.calls[0])
	}
}

func TestProcessMissingFlower(t *testing.T) {
	p := NewProcessor(newFakeKeeper(), memory.DefaultConsolidateOptions(), 1, zap.NewNop())
	res := p.Process(context.Background(), &Job{ID: "j4", Kind: KindConsolidation, FlowerID: "ghost"})
	if res.Status != StatusFailed || res.Error == "" {
		t.Fatalf("got %+v", res)
	}
	if len(p.Running()) != 0 {
		t.Fatal("job still marked running")
	}
}

func TestRunDrainsLocalQueue(t *testing.T) {
	var flowers []*flower.Flower
	for i := 0; i < 5; i++ {
		flowers = append(flowers, &flower.Flower{ID: fmt.Sprintf("f%d", i)})
	}
	k := newFakeKeeper(flowers...)
	p := NewProcessor(k, memory.DefaultConsolidateOptions(), 2, zap.NewNop())
	q := NewLocal(10)

	ctx, cancel := context.WithCancel(context.Background())
	for _, f := range flowers {
		if err := q.Enqueue(ctx, &Job{Kind: KindEvolution, FlowerID: f.ID, Trigger: "t"}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, q.Consume(ctx, "w1")) }()

	deadline := time.After(2 * time.Second)
	for {
		k.mu.Lock()
		n := len(k.calls)
		k.mu.Unlock()
		if n == len(flowers) && q.Len() == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("processed %d of %d jobs", n, len(flowers))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestLocalEnqueueAssignsID(t *testing.T) {
	q := NewLocal(1)
	job := &Job{Kind: KindArchival, FlowerID: "f"}
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if job.ID == "" || job.EnqueuedAt.IsZero() {
		t.Fatalf("job not stamped: %+v", job)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Enqueue(ctx, &Job{Kind: KindArchival}); err == nil {
		t.Fatal("expected error enqueuing into a full queue with a cancelled context")
	}
}
