package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Storage   StorageConfig    `json:"storage"`
	Redis     RedisConfig      `json:"redis"`
	Engine    EngineConfig     `json:"engine"`
	Memory    MemoryConfig     `json:"memory"`
	Queue     QueueConfig      `json:"queue"`
	Events    EventsConfig     `json:"events"`
}

type ServerConfig struct {
	Port        int      `json:"port"`
	LogLevel    string   `json:"log_level"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

type ProviderConfig struct {
	ID             string            `json:"id"`
	Type           string            `json:"type"` // openai|anthropic|echo
	Name           string            `json:"name"`
	Endpoint       string            `json:"endpoint"`
	APIKey         string            `json:"api_key"`
	Models         []string          `json:"models,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

type StorageConfig struct {
	Driver   string         `json:"driver"` // file|postgres|sqlite|memory
	Dir      string         `json:"dir"`
	Postgres PostgresConfig `json:"postgres"`
	SQLite   SQLiteConfig   `json:"sqlite"`
	Cache    CacheConfig    `json:"cache"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type SQLiteConfig struct {
	Path string `json:"path"`
}

type CacheConfig struct {
	Enabled    bool `json:"enabled"`
	TTLSeconds int  `json:"ttl_seconds"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type EngineConfig struct {
	PersistOnBloom bool   `json:"persist_on_bloom"`
	FlowerLocking  string `json:"flower_locking"` // none|per-flower
	ContextWindow  int    `json:"context_window"`
}

type MemoryConfig struct {
	ShortTermLimit   int     `json:"short_term_limit"`
	RetainAfterTrim  int     `json:"retain_after_trim"`
	PromoteMax       int     `json:"promote_max"`
	PromoteThreshold float64 `json:"promote_threshold"`
	EpisodeThreshold float64 `json:"episode_threshold"`
	LongTermCap      int     `json:"long_term_cap"`
	ConsolidateBatch int     `json:"consolidate_batch"`
}

type QueueConfig struct {
	Enabled  bool   `json:"enabled"`
	Driver   string `json:"driver"` // redis|local
	Workers  int    `json:"workers"`
	Consumer string `json:"consumer"`
	Stream   string `json:"stream"`
	Group    string `json:"group"`
	// HeartbeatSeconds schedules consolidation for active flowers; 0 disables it.
	HeartbeatSeconds int `json:"heartbeat_seconds"`
}

type EventsConfig struct {
	History int  `json:"history"`
	Redis   bool `json:"redis"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file, substitutes environment variable
// references, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw config JSON the same way Load does.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3210
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if len(c.Providers) == 0 {
		c.Providers = []ProviderConfig{{ID: "echo", Type: "echo", Name: "Echo", Models: []string{"gpt-4", "claude-3"}}}
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data/flowers"
	}
	if c.Storage.Postgres.MigrationsDir == "" {
		c.Storage.Postgres.MigrationsDir = "migrations"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = "data/flowers.db"
	}
	if c.Storage.Cache.TTLSeconds == 0 {
		c.Storage.Cache.TTLSeconds = 600
	}

	if c.Engine.FlowerLocking == "" {
		c.Engine.FlowerLocking = "none"
	}
	if c.Engine.ContextWindow == 0 {
		c.Engine.ContextWindow = 10
	}

	m := &c.Memory
	if m.ShortTermLimit == 0 {
		m.ShortTermLimit = 10
	}
	if m.RetainAfterTrim == 0 {
		m.RetainAfterTrim = 8
	}
	if m.PromoteMax == 0 {
		m.PromoteMax = 2
	}
	if m.PromoteThreshold == 0 {
		m.PromoteThreshold = 0.7
	}
	if m.EpisodeThreshold == 0 {
		m.EpisodeThreshold = 0.8
	}
	if m.LongTermCap == 0 {
		m.LongTermCap = 50
	}
	if m.ConsolidateBatch == 0 {
		m.ConsolidateBatch = 5
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "local"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.Consumer == "" {
		host, _ := os.Hostname()
		c.Queue.Consumer = "flwr-" + host
	}
	if c.Events.History == 0 {
		c.Events.History = 100
	}
}

// Validate reports every problem in the config at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level %q unknown", c.Server.LogLevel))
	}

	seen := make(map[string]bool)
	for i, p := range c.Providers {
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("providers[%d].id is required", i))
		} else if seen[p.ID] {
			errs = append(errs, fmt.Errorf("providers[%d].id %q duplicated", i, p.ID))
		}
		seen[p.ID] = true
		switch p.Type {
		case "openai", "anthropic", "echo":
		default:
			errs = append(errs, fmt.Errorf("providers[%d].type %q unknown", i, p.Type))
		}
	}

	needRedis := c.Storage.Cache.Enabled || c.Events.Redis || (c.Queue.Enabled && c.Queue.Driver == "redis")
	switch c.Storage.Driver {
	case "file", "sqlite", "memory":
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q unknown", c.Storage.Driver))
	}
	if needRedis && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required when the cache, redis events or the redis queue are enabled"))
	}

	switch c.Engine.FlowerLocking {
	case "none", "per-flower":
	default:
		errs = append(errs, fmt.Errorf("engine.flower_locking %q unknown", c.Engine.FlowerLocking))
	}
	if c.Engine.ContextWindow < 0 {
		errs = append(errs, errors.New("engine.context_window must not be negative"))
	}

	m := c.Memory
	if m.RetainAfterTrim > m.ShortTermLimit {
		errs = append(errs, errors.New("memory.retain_after_trim exceeds memory.short_term_limit"))
	}
	for name, v := range map[string]float64{
		"memory.promote_threshold": m.PromoteThreshold,
		"memory.episode_threshold": m.EpisodeThreshold,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s %g outside [0,1]", name, v))
		}
	}

	switch c.Queue.Driver {
	case "local", "redis":
	default:
		errs = append(errs, fmt.Errorf("queue.driver %q unknown", c.Queue.Driver))
	}
	if c.Queue.Workers < 0 {
		errs = append(errs, errors.New("queue.workers must not be negative"))
	}
	if c.Queue.HeartbeatSeconds < 0 {
		errs = append(errs, errors.New("queue.heartbeat_seconds must not be negative"))
	}

	return errors.Join(errs...)
}
