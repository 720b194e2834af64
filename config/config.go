// Package config loads the kgassist configuration from a YAML file,
// KGASSIST_ environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hupe1980/kgassist/core"
	"github.com/hupe1980/kgassist/executor"
	"github.com/hupe1980/kgassist/logging"
	"github.com/hupe1980/kgassist/memory"
	"github.com/hupe1980/kgassist/orchestrator"
	"github.com/hupe1980/kgassist/router"
)

// EnvPrefix prefixes environment overrides, e.g. KGASSIST_SERVER_ADDR.
const EnvPrefix = "KGASSIST"

// Config holds the complete application configuration.
type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Orchestrator    OrchestratorConfig    `mapstructure:"orchestrator"`
	Executor        ExecutorConfig        `mapstructure:"executor"`
	Memory          MemoryConfig          `mapstructure:"memory"`
	Providers       []core.ProviderConfig `mapstructure:"providers"`
	DefaultProvider string                `mapstructure:"default_provider"`
	Routing         RoutingConfig         `mapstructure:"routing"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Redis           RedisConfig           `mapstructure:"redis"`
	Logging         LoggingConfig         `mapstructure:"logging"`
	Refresh         RefreshConfig         `mapstructure:"refresh"`

	// File is the configuration file Load read, empty when none was found.
	File string `mapstructure:"-"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// OrchestratorConfig holds per-turn limits.
type OrchestratorConfig struct {
	MaxRounds          int           `mapstructure:"max_rounds"`
	MemoryBudget       int           `mapstructure:"memory_budget"`
	HistoryTurns       int           `mapstructure:"history_turns"`
	ClassifyTimeout    time.Duration `mapstructure:"classify_timeout"`
	MaxConcurrentTurns int           `mapstructure:"max_concurrent_turns"`
}

// ExecutorConfig holds tool execution settings.
type ExecutorConfig struct {
	PoolSize    int           `mapstructure:"pool_size"`
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// RetryConfig mirrors executor.RetryPolicy.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	Multiplier     float64       `mapstructure:"multiplier"`
}

// MemoryConfig selects the budget counter and per-dimension candidate limits.
type MemoryConfig struct {
	Counter  string         `mapstructure:"counter"` // chars or tiktoken
	Encoding string         `mapstructure:"encoding"`
	Limits   map[string]int `mapstructure:"limits"`
}

// RoutingConfig holds inline rules and an optional rules file. File rules are
// appended after inline rules.
type RoutingConfig struct {
	Rules     []router.Rule `mapstructure:"rules"`
	RulesFile string        `mapstructure:"rules_file"`
}

// DatabaseConfig selects the persistence backend. An empty driver keeps
// sessions and memory in process.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres or empty
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables the Redis invocation ledger when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"`
}

// LoggingConfig selects the log backend.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	Backend string `mapstructure:"backend"`
}

// RefreshConfig schedules provider catalogue reloads. An empty schedule
// disables reloading.
type RefreshConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// DefaultConfig returns a configuration that runs fully in process with the
// mock provider.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			MaxRounds:          orchestrator.DefaultConfig.MaxRounds,
			MemoryBudget:       orchestrator.DefaultConfig.MemoryBudget,
			HistoryTurns:       orchestrator.DefaultConfig.HistoryTurns,
			ClassifyTimeout:    15 * time.Second,
			MaxConcurrentTurns: orchestrator.DefaultConfig.MaxConcurrentTurns,
		},
		Executor: ExecutorConfig{
			PoolSize:    executor.DefaultConfig.PoolSize,
			ToolTimeout: executor.DefaultConfig.DefaultTimeout,
			Retry: RetryConfig{
				MaxAttempts:    executor.DefaultRetryPolicy.MaxAttempts,
				InitialBackoff: executor.DefaultRetryPolicy.InitialBackoff,
				MaxBackoff:     executor.DefaultRetryPolicy.MaxBackoff,
				Multiplier:     executor.DefaultRetryPolicy.Multiplier,
			},
		},
		Memory: MemoryConfig{Counter: "chars", Encoding: "cl100k_base"},
		Providers: []core.ProviderConfig{
			{Name: "mock", Kind: "mock", Capabilities: []core.Capability{core.CapabilityText}},
		},
		DefaultProvider: "mock",
		Database:        DatabaseConfig{},
		Redis:           RedisConfig{TTL: time.Hour, Prefix: "kgassist:ledger:"},
		Logging:         LoggingConfig{Level: "info", Format: "json", Backend: "slog"},
	}
}

// Load reads path (optional) and applies KGASSIST_ environment overrides on
// top of the defaults. Without a path, ./kgassist.yaml is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kgassist")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kgassist")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	// Lists replace the defaults rather than merging with them.
	cfg.Providers = nil
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultConfig().Providers
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("orchestrator.max_rounds", d.Orchestrator.MaxRounds)
	v.SetDefault("orchestrator.memory_budget", d.Orchestrator.MemoryBudget)
	v.SetDefault("orchestrator.history_turns", d.Orchestrator.HistoryTurns)
	v.SetDefault("orchestrator.classify_timeout", d.Orchestrator.ClassifyTimeout)
	v.SetDefault("orchestrator.max_concurrent_turns", d.Orchestrator.MaxConcurrentTurns)
	v.SetDefault("executor.pool_size", d.Executor.PoolSize)
	v.SetDefault("executor.tool_timeout", d.Executor.ToolTimeout)
	v.SetDefault("executor.retry.max_attempts", d.Executor.Retry.MaxAttempts)
	v.SetDefault("executor.retry.initial_backoff", d.Executor.Retry.InitialBackoff)
	v.SetDefault("executor.retry.max_backoff", d.Executor.Retry.MaxBackoff)
	v.SetDefault("executor.retry.multiplier", d.Executor.Retry.Multiplier)
	v.SetDefault("memory.counter", d.Memory.Counter)
	v.SetDefault("memory.encoding", d.Memory.Encoding)
	v.SetDefault("default_provider", d.DefaultProvider)
	v.SetDefault("routing.rules_file", "")
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.backend", d.Logging.Backend)
	v.SetDefault("refresh.schedule", d.Refresh.Schedule)
}

// Validate checks the configuration. Provider and rule consistency is
// checked again whenever the router is built.
func (c *Config) Validate() error {
	var errs []error
	if err := c.OrchestratorConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Executor.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("executor pool size must be positive, got %d", c.Executor.PoolSize))
	}
	if c.Executor.ToolTimeout <= 0 {
		errs = append(errs, fmt.Errorf("executor tool timeout must be positive, got %s", c.Executor.ToolTimeout))
	}
	switch c.Memory.Counter {
	case "", "chars", "tiktoken":
	default:
		errs = append(errs, fmt.Errorf("unknown memory counter %q (must be chars or tiktoken)", c.Memory.Counter))
	}
	for dim := range c.Memory.Limits {
		if !core.Dimension(dim).Valid() {
			errs = append(errs, fmt.Errorf("memory limits: unknown dimension %q", dim))
		}
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	names := map[string]bool{}
	for _, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, errors.New("provider without name"))
			continue
		}
		if names[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate provider %q", p.Name))
		}
		names[p.Name] = true
	}
	if c.DefaultProvider != "" && !names[c.DefaultProvider] {
		errs = append(errs, fmt.Errorf("default provider %q is not configured", c.DefaultProvider))
	}
	return errors.Join(errs...)
}

// OrchestratorConfig converts the orchestrator section.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxRounds:          c.Orchestrator.MaxRounds,
		MemoryBudget:       c.Orchestrator.MemoryBudget,
		HistoryTurns:       c.Orchestrator.HistoryTurns,
		MaxConcurrentTurns: c.Orchestrator.MaxConcurrentTurns,
		Capability:         core.CapabilityText,
	}
}

// ExecutorConfig converts the executor section.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		PoolSize:       c.Executor.PoolSize,
		DefaultTimeout: c.Executor.ToolTimeout,
		Retry: executor.RetryPolicy{
			MaxAttempts:    c.Executor.Retry.MaxAttempts,
			InitialBackoff: c.Executor.Retry.InitialBackoff,
			MaxBackoff:     c.Executor.Retry.MaxBackoff,
			Multiplier:     c.Executor.Retry.Multiplier,
		},
	}
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	out := logging.DefaultConfig()
	out.Level = level
	if c.Logging.Format != "" {
		out.Format = c.Logging.Format
	}
	if c.Logging.Backend != "" {
		out.Backend = c.Logging.Backend
	}
	return out, nil
}

// MemoryLimits converts the per-dimension limits.
func (c *Config) MemoryLimits() map[core.Dimension]int {
	out := make(map[core.Dimension]int, len(c.Memory.Limits))
	for dim, n := range c.Memory.Limits {
		out[core.Dimension(dim)] = n
	}
	return out
}

// MemoryCounter builds the configured budget counter.
func (c *Config) MemoryCounter() (memory.Counter, error) {
	if c.Memory.Counter == "tiktoken" {
		return memory.NewTiktokenCounter(c.Memory.Encoding)
	}
	return memory.CharCounter{}, nil
}

// RoutingRules returns the inline rules followed by the rules file, if any.
func (c *Config) RoutingRules() ([]router.Rule, error) {
	rules := append([]router.Rule(nil), c.Routing.Rules...)
	if c.Routing.RulesFile == "" {
		return rules, nil
	}
	fileRules, err := router.LoadRules(c.Routing.RulesFile)
	if err != nil {
		return nil, err
	}
	return append(rules, fileRules...), nil
}
