package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nidhogg/flowerbed/internal/bloom"
	"github.com/nidhogg/flowerbed/internal/config"
	"github.com/nidhogg/flowerbed/internal/events"
	"github.com/nidhogg/flowerbed/internal/evolution"
	"github.com/nidhogg/flowerbed/internal/heartbeat"
	"github.com/nidhogg/flowerbed/internal/memory"
	"github.com/nidhogg/flowerbed/internal/provider"
	"github.com/nidhogg/flowerbed/internal/queue"
	"github.com/nidhogg/flowerbed/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app is the wired set of components behind every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	rdb       *redis.Client
	engine    *bloom.Engine
	hub       *events.Hub
	jobs      queue.Queue
	processor *queue.Processor
	heartbeat *heartbeat.Heartbeat
	pg        *store.Postgres
	closers   []func()
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	var zc zap.Config
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	needRedis := cfg.Storage.Cache.Enabled || cfg.Events.Redis || (cfg.Queue.Enabled && cfg.Queue.Driver == "redis")
	if needRedis {
		rdb, err := store.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		a.closers = append(a.closers, func() { rdb.Close() })
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		p, err := provider.New(provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
		}, logger)
		if err != nil {
			logger.Warn("skipping provider", zap.String("id", pc.ID), zap.Error(err))
			continue
		}
		router.Register(p)
	}

	a.hub = events.NewHub(cfg.Events.History, logger)
	if cfg.Events.Redis {
		a.hub.Register(events.NewRedisSink(a.rdb))
	}

	mc := cfg.Memory
	policy := memory.DefaultPolicy()
	policy.ShortTermLimit = mc.ShortTermLimit
	policy.RetainAfterTrim = mc.RetainAfterTrim
	policy.PromoteMax = mc.PromoteMax
	policy.PromoteThreshold = mc.PromoteThreshold
	policy.EpisodeThreshold = mc.EpisodeThreshold

	opts := bloom.Options{
		PersistOnBloom: cfg.Engine.PersistOnBloom,
		FlowerLocking:  bloom.ParseLockMode(cfg.Engine.FlowerLocking),
		ContextWindow:  cfg.Engine.ContextWindow,
		Publisher:      a.hub,
	}
	if a.pg != nil {
		opts.Interactions = a.pg
	}
	a.engine = bloom.NewEngine(
		memory.NewStore(backend, policy, logger),
		router,
		evolution.NewEngine(logger),
		opts,
		logger,
	)

	if cfg.Queue.Enabled {
		if err := a.openQueue(ctx); err != nil {
			a.Close()
			return nil, err
		}
		consolidate := memory.DefaultConsolidateOptions()
		consolidate.LongTermCap = mc.LongTermCap
		consolidate.BatchSize = mc.ConsolidateBatch
		a.processor = queue.NewProcessor(a.engine, consolidate, cfg.Queue.Workers, logger)

		if cfg.Queue.HeartbeatSeconds > 0 {
			list := a.engine.ActiveFlowers
			if a.pg != nil {
				list = a.pg.ListIDs
			}
			a.heartbeat = heartbeat.New(time.Duration(cfg.Queue.HeartbeatSeconds)*time.Second, a.jobs, list, logger)
		}
	}
	return a, nil
}

func (a *app) openBackend(ctx context.Context) (memory.Backend, error) {
	sc := a.cfg.Storage
	var backend memory.Backend

	switch sc.Driver {
	case "postgres":
		pg, err := store.NewPostgres(ctx, sc.Postgres.DSN, a.logger)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx, sc.Postgres.MigrationsDir); err != nil {
			pg.Close()
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		a.pg = pg
		backend = pg
	case "sqlite":
		db, err := store.OpenSQLite(sc.SQLite.Path, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		backend = db
	case "memory":
		backend = store.NewInMemory()
	default:
		fs, err := store.NewFile(sc.Dir, a.logger)
		if err != nil {
			return nil, err
		}
		backend = fs
	}

	if sc.Cache.Enabled {
		backend = store.NewCache(backend, a.rdb, time.Duration(sc.Cache.TTLSeconds)*time.Second, a.logger)
	}
	a.logger.Info("storage ready",
		zap.String("driver", sc.Driver), zap.Bool("cache", sc.Cache.Enabled))
	return backend, nil
}

func (a *app) openQueue(ctx context.Context) error {
	qc := a.cfg.Queue
	if qc.Driver != "redis" {
		a.jobs = queue.NewLocal(0)
		return nil
	}
	bus := queue.NewBus(a.rdb, a.logger)
	if qc.Stream != "" && qc.Group != "" {
		bus = bus.WithStream(qc.Stream, qc.Group)
	}
	if err := bus.EnsureGroup(ctx); err != nil {
		return err
	}
	a.jobs = bus
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
