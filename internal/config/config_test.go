package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 50*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, 40, cfg.Battle.MaxTurns)
	assert.Equal(t, "none", cfg.Store.Driver)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
scheduler:
  tick_interval: 10ms
battle:
  turn_delay: 0s
  max_turns: 8
  player_hp: 12
  enemy_hp: 9
  seed: 42
  rounds: 3
store:
  driver: sqlite
  dsn: ":memory:"
`)

	cfg, v, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, path, v.ConfigFileUsed())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 10*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, time.Duration(0), cfg.Battle.TurnDelay)
	assert.Equal(t, 8, cfg.Battle.MaxTurns)
	assert.Equal(t, int64(42), cfg.Battle.Seed)
	assert.Equal(t, 3, cfg.Battle.Rounds)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	// untouched sections keep defaults
	assert.Equal(t, ":8090", cfg.Spectator.Address)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TURNKIT_LOGGING_LEVEL", "warn")
	t.Setenv("TURNKIT_BATTLE_MAX_TURNS", "5")

	cfg, _, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 5, cfg.Battle.MaxTurns)
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	_, _, err := Load(path, false)
	require.Error(t, err, "an explicit config file must exist")

	cfg, v, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	require.NotNil(t, v)
}

func TestLoadInvalidFile(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: trace\n")
	_, _, err := Load(path, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestLoadedViperDecodesReloads(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	_, v, err := Load(path, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: error\n"), 0o600))
	require.NoError(t, v.ReadInConfig())
	cfg, err := Decode(v)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: "logging.level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
		{name: "zero tick", mutate: func(c *Config) { c.Scheduler.TickInterval = 0 }, wantErr: "tick_interval"},
		{name: "zero max turns", mutate: func(c *Config) { c.Battle.MaxTurns = 0 }, wantErr: "max_turns"},
		{name: "dead player", mutate: func(c *Config) { c.Battle.PlayerHP = 0 }, wantErr: "hit points"},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Store.Driver = "sqlite" }, wantErr: "store.dsn"},
		{name: "unknown driver", mutate: func(c *Config) { c.Store.Driver = "mongo" }, wantErr: "store.driver"},
		{name: "negative history limit", mutate: func(c *Config) { c.Spectator.HistoryLimit = -1 }, wantErr: "history_limit"},
		{name: "pool capacity above max", mutate: func(c *Config) { c.Pool.DefaultCapacity = 500 }, wantErr: "default_capacity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
