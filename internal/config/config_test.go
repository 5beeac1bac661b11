package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable applyEnv reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "LOG_FORMAT", "SESSION_STATUS", "EXECUTION_MODE",
		"PRICE_PROVIDER", "REDIS_URL", "STORE_PATH", "GEMINI_MODEL", "API_KEY",
		"GEMINI_API_KEY", "DATABASE_URL", "STORE_DRIVER", "FUTURES_BALANCE",
		"RISK_PERCENT", "AUTO_CONFIRM", "MONITOR_INTERVAL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout, "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Account.FuturesBalance.Equal(decimal.RequireFromString("2500.50")))
	assert.True(t, cfg.Account.RiskPercent.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, "VALID", cfg.Account.SessionStatus)
	assert.Equal(t, 50, cfg.Engine.AuditRetention)
	assert.True(t, cfg.Engine.AutoConfirm)
	assert.Equal(t, "MANUAL", cfg.Engine.ExecutionMode)
	assert.True(t, cfg.Engine.KillSwitchPnL.Equal(decimal.NewFromInt(-1)))
	assert.Equal(t, 3*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 4, cfg.Monitor.Concurrency)
	assert.Equal(t, "static", cfg.PriceFeed.Provider)
	require.Len(t, cfg.PriceFeed.StaticPrices, 2)
	assert.True(t, cfg.PriceFeed.StaticPrices["ETHUSDT"].Equal(decimal.RequireFromString("3500.25")))
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 500, cfg.Interpreter.MaxInputLen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval)
	assert.True(t, cfg.Engine.CeilingMultiplier.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 100, cfg.Engine.AuditRetention)
	assert.True(t, cfg.Engine.KillSwitchPnL.Equal(decimal.NewFromInt(-1)))
	assert.Equal(t, "file", cfg.Store.Driver)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://localhost/signals")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("RISK_PERCENT", "0.5")
	t.Setenv("MONITOR_INTERVAL", "250ms")
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/signals", cfg.Store.DatabaseURL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.PriceFeed.RedisURL)
	assert.True(t, cfg.Account.RiskPercent.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.Interval)
	assert.Equal(t, "k", cfg.Interpreter.APIKey)

	t.Setenv("STORE_DRIVER", "memory")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver, "explicit driver wins over DATABASE_URL")
}

func TestEnvOverrideParseErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("RISK_PERCENT", "lots")
	_, err := Load("")
	assert.ErrorContains(t, err, "RISK_PERCENT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"risk too high", func(c *Config) { c.Account.RiskPercent = decimal.NewFromInt(11) }, "risk_percent"},
		{"risk zero", func(c *Config) { c.Account.RiskPercent = decimal.Zero }, "risk_percent"},
		{"negative balance", func(c *Config) { c.Account.FuturesBalance = decimal.NewFromInt(-5) }, "futures_balance"},
		{"zero interval", func(c *Config) { c.Monitor.Interval = 0 }, "monitor.interval"},
		{"bad provider", func(c *Config) { c.PriceFeed.Provider = "coingecko" }, "pricefeed.provider"},
		{"postgres without url", func(c *Config) { c.Store.Driver = "postgres" }, "database_url"},
		{"bad session", func(c *Config) { c.Account.SessionStatus = "MAYBE" }, "session_status"},
		{"bad mode", func(c *Config) { c.Engine.ExecutionMode = "AUTO" }, "execution_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account:\n  risk_percent: 25\n"), 0o644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "risk_percent")
}
