//go:build integration

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/flowerbed/internal/flower"
)

// startPostgres starts a PostgreSQL testcontainer and returns a migrated backend.
func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("flwr_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}
	pg, err := NewPostgres(ctx, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pg.Close)

	if err := pg.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pg
}

// startRedis starts a Redis testcontainer and returns its URL.
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	return "redis://" + endpoint
}

func TestPostgres(t *testing.T) {
	pg := startPostgres(t)
	exerciseBackend(t, pg)

	ctx := context.Background()
	live, archived := testFlower("live_000001"), testFlower("gone_000002")
	archived.Metadata.Archived = true
	for _, f := range []*flower.Flower{live, archived} {
		if err := pg.Save(ctx, f); err != nil {
			t.Fatalf("save %s: %v", f.ID, err)
		}
	}
	ids, err := pg.ListIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 || ids[0] != live.ID {
		t.Fatalf("got %v, want only %s", ids, live.ID)
	}
}

func TestPostgresInteractions(t *testing.T) {
	pg := startPostgres(t)
	ctx := context.Background()
	f := testFlower("logged_000001")
	if err := pg.Save(ctx, f); err != nil {
		t.Fatalf("save: %v", err)
	}

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, input := range []string{"hello", "how are you?"} {
		after := f.State
		after.EnergyLevel -= 0.1 * float64(i+1)
		l := &flower.InteractionLog{
			ID:             fmt.Sprintf("log-%d", i),
			FlowerID:       f.ID,
			SessionID:      "s1",
			Input:          input,
			Response:       "I hear you: " + input,
			Model:          "gpt-4",
			TokensUsed:     10 + i,
			ResponseTimeMS: 5,
			StateBefore:    f.State,
			StateAfter:     after,
			Timestamp:      at.Add(time.Duration(i) * time.Minute),
		}
		if err := pg.LogInteraction(ctx, l); err != nil {
			t.Fatalf("log %d: %v", i, err)
		}
	}

	logs, err := pg.Interactions(ctx, f.ID, 1)
	if err != nil {
		t.Fatalf("interactions: %v", err)
	}
	if len(logs) != 1 || logs[0].Input != "how are you?" || logs[0].TokensUsed != 11 {
		t.Fatalf("got %+v, want the newest log only", logs)
	}
	if logs[0].StateBefore.CurrentMood != f.State.CurrentMood || logs[0].StateAfter.EnergyLevel >= f.State.EnergyLevel {
		t.Fatalf("states not round-tripped: %+v", logs[0])
	}

	if err := pg.Delete(ctx, f.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if logs, _ := pg.Interactions(ctx, f.ID, 0); len(logs) != 0 {
		t.Fatalf("got %d logs after delete, want 0", len(logs))
	}
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, startRedis(t))
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	next := NewInMemory()
	cache := NewCache(next, rdb, time.Minute, zap.NewNop())
	exerciseBackend(t, cache)

	f := testFlower("cached_000001")
	if err := cache.Save(ctx, f); err != nil {
		t.Fatalf("save: %v", err)
	}
	if n, _ := rdb.Exists(ctx, cachePrefix+f.ID).Result(); n != 1 {
		t.Fatalf("document not written through to the cache")
	}

	// the cache serves reads even if the backing store lost the record
	if err := next.Delete(ctx, f.ID); err != nil {
		t.Fatalf("delete from backend: %v", err)
	}
	got, err := cache.Load(ctx, f.ID)
	if err != nil {
		t.Fatalf("cached load: %v", err)
	}
	if got.ID != f.ID {
		t.Fatalf("got %s, want %s", got.ID, f.ID)
	}

	// a corrupt entry falls back to the backend
	if err := rdb.Set(ctx, cachePrefix+f.ID, "{broken", time.Minute).Err(); err != nil {
		t.Fatalf("corrupt cache: %v", err)
	}
	if _, err := cache.Load(ctx, f.ID); !errors.Is(err, flower.ErrFlowerNotFound) {
		t.Fatalf("got %v, want ErrFlowerNotFound from the backend", err)
	}
}
