// Package config exposes the typed service configuration loaded from YAML,
// an optional .env file, and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Server configures the HTTP listener.
type Server struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Log selects the process log level and output format (json|console).
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Account is the initial risk profile used until one is persisted.
type Account struct {
	FuturesBalance decimal.Decimal `yaml:"futures_balance"`
	RiskPercent    decimal.Decimal `yaml:"risk_percent"`
	SessionStatus  string          `yaml:"session_status"`
}

// Engine tunes the lifecycle engine.
type Engine struct {
	CeilingMultiplier decimal.Decimal `yaml:"ceiling_multiplier"`
	AuditRetention    int             `yaml:"audit_retention"`
	AutoConfirm       bool            `yaml:"auto_confirm"`
	ExecutionMode     string          `yaml:"execution_mode"`
	KillSwitchPnL     decimal.Decimal `yaml:"kill_switch_pnl"`
}

// Monitor tunes the market monitor.
type Monitor struct {
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
}

// PriceFeed picks and tunes the price source. RedisURL enables the
// read-through cache in front of it.
type PriceFeed struct {
	Provider     string                     `yaml:"provider"`
	BaseURL      string                     `yaml:"base_url"`
	StreamURL    string                     `yaml:"stream_url"`
	Timeout      time.Duration              `yaml:"timeout"`
	MaxAge       time.Duration              `yaml:"max_age"`
	CacheTTL     time.Duration              `yaml:"cache_ttl"`
	RedisURL     string                     `yaml:"redis_url"`
	StaticPrices map[string]decimal.Decimal `yaml:"static_prices"`
}

// Store picks the persistence backend (memory|file|postgres).
type Store struct {
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	DatabaseURL string `yaml:"database_url"`
}

// Interpreter configures the language model behind text interpretation. An
// empty APIKey selects the rule-based parser.
type Interpreter struct {
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	MaxInputLen int           `yaml:"max_input_len"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Config collects every configuration leaf.
type Config struct {
	Server      Server      `yaml:"server"`
	Log         Log         `yaml:"log"`
	Account     Account     `yaml:"account"`
	Engine      Engine      `yaml:"engine"`
	Monitor     Monitor     `yaml:"monitor"`
	PriceFeed   PriceFeed   `yaml:"pricefeed"`
	Store       Store       `yaml:"store"`
	Interpreter Interpreter `yaml:"interpreter"`
}

// Default returns a configuration that runs locally with no external
// services.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Log: Log{Level: "info", Format: "json"},
		Account: Account{
			FuturesBalance: decimal.NewFromInt(1000),
			RiskPercent:    decimal.NewFromInt(1),
			SessionStatus:  "UNSET",
		},
		Engine: Engine{
			CeilingMultiplier: decimal.NewFromInt(20),
			AuditRetention:    100,
			ExecutionMode:     "ASSISTED",
			KillSwitchPnL:     decimal.NewFromInt(-1),
		},
		Monitor: Monitor{Interval: 5 * time.Second, Concurrency: 8},
		PriceFeed: PriceFeed{
			Provider: "binance",
			Timeout:  5 * time.Second,
			MaxAge:   30 * time.Second,
			CacheTTL: 2 * time.Second,
		},
		Store:       Store{Driver: "file", Path: "data/state.json"},
		Interpreter: Interpreter{MaxInputLen: 2000, Timeout: 20 * time.Second},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then a .env file in the working directory, then the
// environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	}

	// Best effort; a missing .env is normal.
	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from the environment.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString("PORT", &c.Server.Port)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)
	setString("SESSION_STATUS", &c.Account.SessionStatus)
	setString("EXECUTION_MODE", &c.Engine.ExecutionMode)
	setString("PRICE_PROVIDER", &c.PriceFeed.Provider)
	setString("REDIS_URL", &c.PriceFeed.RedisURL)
	setString("STORE_PATH", &c.Store.Path)
	setString("GEMINI_MODEL", &c.Interpreter.Model)
	setString("API_KEY", &c.Interpreter.APIKey)
	setString("GEMINI_API_KEY", &c.Interpreter.APIKey)

	// DATABASE_URL selects Postgres unless a driver is forced.
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DatabaseURL = v
		c.Store.Driver = "postgres"
	}
	setString("STORE_DRIVER", &c.Store.Driver)

	if v := os.Getenv("FUTURES_BALANCE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("FUTURES_BALANCE: %w", err)
		}
		c.Account.FuturesBalance = d
	}
	if v := os.Getenv("RISK_PERCENT"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("RISK_PERCENT: %w", err)
		}
		c.Account.RiskPercent = d
	}
	if v := os.Getenv("AUTO_CONFIRM"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTO_CONFIRM: %w", err)
		}
		c.Engine.AutoConfirm = b
	}
	if v := os.Getenv("MONITOR_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MONITOR_INTERVAL: %w", err)
		}
		c.Monitor.Interval = d
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Account.FuturesBalance.IsNegative() {
		errs = append(errs, errors.New("account.futures_balance must not be negative"))
	}
	if !c.Account.RiskPercent.IsPositive() || c.Account.RiskPercent.GreaterThan(decimal.NewFromInt(10)) {
		errs = append(errs, errors.New("account.risk_percent must be in (0, 10]"))
	}
	switch strings.ToUpper(c.Account.SessionStatus) {
	case "UNSET", "VALID", "EXPIRED":
	default:
		errs = append(errs, fmt.Errorf("account.session_status %q is not UNSET, VALID or EXPIRED", c.Account.SessionStatus))
	}
	if !c.Engine.CeilingMultiplier.IsPositive() {
		errs = append(errs, errors.New("engine.ceiling_multiplier must be positive"))
	}
	switch strings.ToUpper(c.Engine.ExecutionMode) {
	case "MANUAL", "ASSISTED":
	default:
		errs = append(errs, fmt.Errorf("engine.execution_mode %q is not MANUAL or ASSISTED", c.Engine.ExecutionMode))
	}
	if c.Monitor.Interval <= 0 {
		errs = append(errs, errors.New("monitor.interval must be positive"))
	}
	switch c.PriceFeed.Provider {
	case "binance", "binance_ws", "static", "simulated":
	default:
		errs = append(errs, fmt.Errorf("pricefeed.provider %q is not binance, binance_ws, static or simulated", c.PriceFeed.Provider))
	}
	switch c.Store.Driver {
	case "memory":
	case "file":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file driver"))
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, errors.New("store.database_url is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not memory, file or postgres", c.Store.Driver))
	}
	return errors.Join(errs...)
}
