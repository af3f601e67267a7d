// Package config loads turnkit configuration from YAML files and TURNKIT_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Battle    BattleConfig    `mapstructure:"battle"`
	Spectator SpectatorConfig `mapstructure:"spectator"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Store     StoreConfig     `mapstructure:"store"`
	Pool      PoolConfig      `mapstructure:"pool"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
}

// SchedulerConfig controls the host tick loop.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// BattleConfig parameterizes the demo duel.
type BattleConfig struct {
	TurnDelay time.Duration `mapstructure:"turn_delay"`
	MaxTurns  int           `mapstructure:"max_turns"`
	PlayerHP  int           `mapstructure:"player_hp"`
	EnemyHP   int           `mapstructure:"enemy_hp"`
	Seed      int64         `mapstructure:"seed"`
	Rounds    int           `mapstructure:"rounds"`
}

// SpectatorConfig controls the websocket spectator feed and metrics endpoint.
type SpectatorConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	SendBuffer int    `mapstructure:"send_buffer"`
	// HistoryLimit caps the finished battles sent to a spectator on connect.
	HistoryLimit int `mapstructure:"history_limit"`
}

// GRPCConfig controls the gRPC health server.
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// MetricsConfig controls Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// StoreConfig selects the battle history backend.
type StoreConfig struct {
	Driver  string        `mapstructure:"driver"` // none, sqlite, postgres
	DSN     string        `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// PoolConfig sizes object pools.
type PoolConfig struct {
	DefaultCapacity int `mapstructure:"default_capacity"`
	MaxSize         int `mapstructure:"max_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("scheduler.tick_interval", 50*time.Millisecond)

	v.SetDefault("battle.turn_delay", 500*time.Millisecond)
	v.SetDefault("battle.max_turns", 40)
	v.SetDefault("battle.player_hp", 30)
	v.SetDefault("battle.enemy_hp", 30)
	v.SetDefault("battle.seed", 0)
	v.SetDefault("battle.rounds", 1)

	v.SetDefault("spectator.enabled", true)
	v.SetDefault("spectator.address", ":8090")
	v.SetDefault("spectator.send_buffer", 256)
	v.SetDefault("spectator.history_limit", 10)

	v.SetDefault("grpc.enabled", false)
	v.SetDefault("grpc.address", ":9090")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("store.driver", "none")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.timeout", 2*time.Second)

	v.SetDefault("pool.default_capacity", 10)
	v.SetDefault("pool.max_size", 100)
}

// New returns a viper instance with defaults and environment binding applied.
// path may be empty, in which case only defaults and environment are used.
func New(path string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TURNKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// Load reads the configuration at path and returns it with the viper instance
// it was decoded from, so callers can watch the file. An empty path yields
// defaults overridden by the environment. When optional is set a missing file
// is treated the same way.
func Load(path string, optional bool) (*Config, *viper.Viper, error) {
	v := New(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil && !(optional && isNotFound(err)) {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// Decode builds and validates a Config from an already loaded viper instance.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Decode(New(""))
	if err != nil {
		panic(fmt.Sprintf("config: invalid defaults: %v", err))
	}
	return cfg
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format))
	}
	if c.Scheduler.TickInterval <= 0 {
		errs = append(errs, errors.New("scheduler.tick_interval must be positive"))
	}
	if c.Battle.TurnDelay < 0 {
		errs = append(errs, errors.New("battle.turn_delay must not be negative"))
	}
	if c.Battle.MaxTurns <= 0 {
		errs = append(errs, errors.New("battle.max_turns must be positive"))
	}
	if c.Battle.PlayerHP <= 0 || c.Battle.EnemyHP <= 0 {
		errs = append(errs, errors.New("battle hit points must be positive"))
	}
	if c.Battle.Rounds < 0 {
		errs = append(errs, errors.New("battle.rounds must not be negative"))
	}
	switch c.Store.Driver {
	case "none", "":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unsupported value %q", c.Store.Driver))
	}
	if c.Pool.MaxSize <= 0 {
		errs = append(errs, errors.New("pool.max_size must be positive"))
	}
	if c.Pool.DefaultCapacity < 0 || c.Pool.DefaultCapacity > c.Pool.MaxSize {
		errs = append(errs, errors.New("pool.default_capacity must be between 0 and pool.max_size"))
	}
	if c.Spectator.SendBuffer <= 0 {
		errs = append(errs, errors.New("spectator.send_buffer must be positive"))
	}
	if c.Spectator.HistoryLimit < 0 {
		errs = append(errs, errors.New("spectator.history_limit must not be negative"))
	}

	return errors.Join(errs...)
}
