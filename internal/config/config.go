package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// maxGatewayTimeout bounds every exchange call regardless of configuration
const maxGatewayTimeout = 10 * time.Second

type ExchangeConfig struct {
	KeyName       string
	PrivateKey    string
	BaseURL       string
	Host          string
	QuoteCurrency string
	Timeout       time.Duration
}

type ReasoningConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type TradingConfig struct {
	ConfidenceThreshold float64
	Notional            decimal.Decimal
	AutoStart           bool
}

type IntervalConfig struct {
	Market    time.Duration
	Portfolio time.Duration
	Decision  time.Duration
}

// Config is the resolved process configuration
type Config struct {
	Env         string
	Debug       bool
	Port        string
	LogFile     string
	DatabaseDSN string

	Exchange  ExchangeConfig
	Reasoning ReasoningConfig
	Trading   TradingConfig
	Intervals IntervalConfig
}

// fileConfig is the optional YAML layer; durations are Go duration strings
type fileConfig struct {
	Env         string `yaml:"env"`
	Debug       *bool  `yaml:"debug"`
	Port        string `yaml:"port"`
	LogFile     string `yaml:"log_file"`
	DatabaseDSN string `yaml:"database_dsn"`
	Exchange    struct {
		KeyName       string `yaml:"key_name"`
		PrivateKey    string `yaml:"private_key"`
		BaseURL       string `yaml:"base_url"`
		Host          string `yaml:"host"`
		QuoteCurrency string `yaml:"quote_currency"`
		Timeout       string `yaml:"timeout"`
	} `yaml:"exchange"`
	Reasoning struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"reasoning"`
	Trading struct {
		ConfidenceThreshold *float64 `yaml:"confidence_threshold"`
		Notional            string   `yaml:"notional"`
		AutoStart           *bool    `yaml:"auto_start"`
	} `yaml:"trading"`
	Intervals struct {
		Market    string `yaml:"market"`
		Portfolio string `yaml:"portfolio"`
		Decision  string `yaml:"decision"`
	} `yaml:"intervals"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Env:  "development",
		Port: "3001",
		Exchange: ExchangeConfig{
			BaseURL:       "https://api.coinbase.com",
			Host:          "api.coinbase.com",
			QuoteCurrency: "USDT",
			Timeout:       maxGatewayTimeout,
		},
		Reasoning: ReasoningConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-3-pro-preview",
			Timeout: 45 * time.Second,
		},
		Trading: TradingConfig{
			ConfidenceThreshold: 80,
			Notional:            decimal.NewFromInt(100),
		},
		Intervals: IntervalConfig{
			Market:    3 * time.Second,
			Portfolio: 10 * time.Second,
			Decision:  60 * time.Second,
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and the environment (with .env loaded first), in that order.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using process environment")
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.Env, f.Env)
	setString(&c.Port, f.Port)
	setString(&c.LogFile, f.LogFile)
	setString(&c.DatabaseDSN, f.DatabaseDSN)
	if f.Debug != nil {
		c.Debug = *f.Debug
	}

	setString(&c.Exchange.KeyName, f.Exchange.KeyName)
	setString(&c.Exchange.PrivateKey, f.Exchange.PrivateKey)
	setString(&c.Exchange.BaseURL, f.Exchange.BaseURL)
	setString(&c.Exchange.Host, f.Exchange.Host)
	setString(&c.Exchange.QuoteCurrency, f.Exchange.QuoteCurrency)
	setString(&c.Reasoning.APIKey, f.Reasoning.APIKey)
	setString(&c.Reasoning.BaseURL, f.Reasoning.BaseURL)
	setString(&c.Reasoning.Model, f.Reasoning.Model)

	if f.Trading.ConfidenceThreshold != nil {
		c.Trading.ConfidenceThreshold = *f.Trading.ConfidenceThreshold
	}
	if f.Trading.AutoStart != nil {
		c.Trading.AutoStart = *f.Trading.AutoStart
	}
	if f.Trading.Notional != "" {
		n, err := decimal.NewFromString(f.Trading.Notional)
		if err != nil {
			return fmt.Errorf("trading.notional: %w", err)
		}
		c.Trading.Notional = n
	}

	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"exchange.timeout", f.Exchange.Timeout, &c.Exchange.Timeout},
		{"reasoning.timeout", f.Reasoning.Timeout, &c.Reasoning.Timeout},
		{"intervals.market", f.Intervals.Market, &c.Intervals.Market},
		{"intervals.portfolio", f.Intervals.Portfolio, &c.Intervals.Portfolio},
		{"intervals.decision", f.Intervals.Decision, &c.Intervals.Decision},
	}
	for _, d := range durations {
		if err := setDuration(d.field, d.raw); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.Env, getenv("ENV"))
	setString(&c.Port, getenv("PORT"))
	setString(&c.LogFile, getenv("LOG_FILE"))
	setString(&c.DatabaseDSN, getenv("DATABASE_DSN"))

	setString(&c.Exchange.KeyName, getenv("COINBASE_KEY_NAME"))
	setString(&c.Exchange.PrivateKey, getenv("COINBASE_PRIVATE_KEY"))
	setString(&c.Exchange.BaseURL, getenv("EXCHANGE_BASE_URL"))
	setString(&c.Exchange.Host, getenv("EXCHANGE_HOST"))
	setString(&c.Exchange.QuoteCurrency, getenv("QUOTE_CURRENCY"))

	setString(&c.Reasoning.APIKey, getenv("API_KEY"))
	setString(&c.Reasoning.APIKey, getenv("GEMINI_API_KEY"))
	setString(&c.Reasoning.BaseURL, getenv("REASONING_BASE_URL"))
	setString(&c.Reasoning.Model, getenv("REASONING_MODEL"))

	for _, b := range []struct {
		key   string
		field *bool
	}{
		{"DEBUG", &c.Debug},
		{"AUTO_START", &c.Trading.AutoStart},
	} {
		if raw := getenv(b.key); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", b.key, err)
			}
			*b.field = v
		}
	}

	if raw := getenv("CONFIDENCE_THRESHOLD"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("CONFIDENCE_THRESHOLD: %w", err)
		}
		c.Trading.ConfidenceThreshold = v
	}
	if raw := getenv("TRADE_NOTIONAL"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("TRADE_NOTIONAL: %w", err)
		}
		c.Trading.Notional = v
	}

	for _, d := range []struct {
		key   string
		field *time.Duration
	}{
		{"GATEWAY_TIMEOUT", &c.Exchange.Timeout},
		{"REASONING_TIMEOUT", &c.Reasoning.Timeout},
		{"MARKET_INTERVAL", &c.Intervals.Market},
		{"PORTFOLIO_INTERVAL", &c.Intervals.Portfolio},
		{"DECISION_INTERVAL", &c.Intervals.Decision},
	} {
		if err := setDuration(d.field, getenv(d.key)); err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
	}
	return nil
}

// normalize unescapes the PEM key and clamps the gateway timeout
func (c *Config) normalize() {
	c.Exchange.PrivateKey = strings.ReplaceAll(c.Exchange.PrivateKey, `\n`, "\n")
	c.Exchange.QuoteCurrency = strings.ToUpper(c.Exchange.QuoteCurrency)
	if c.Exchange.Timeout <= 0 || c.Exchange.Timeout > maxGatewayTimeout {
		c.Exchange.Timeout = maxGatewayTimeout
	}
}

// Validate checks the risk parameters and intervals. Missing exchange
// credentials are allowed; signing is simply disabled.
func (c *Config) Validate() error {
	var errs []error
	if t := c.Trading.ConfidenceThreshold; math.IsNaN(t) || t < 0 || t > 100 {
		errs = append(errs, fmt.Errorf("confidence threshold %v outside [0,100]", c.Trading.ConfidenceThreshold))
	}
	if !c.Trading.Notional.IsPositive() {
		errs = append(errs, fmt.Errorf("trade notional must be positive, got %s", c.Trading.Notional))
	}
	if c.Intervals.Market <= 0 || c.Intervals.Portfolio <= 0 || c.Intervals.Decision <= 0 {
		errs = append(errs, errors.New("intervals must be positive"))
	}
	if c.Reasoning.Timeout <= 0 {
		errs = append(errs, errors.New("reasoning timeout must be positive"))
	}
	if c.Exchange.QuoteCurrency == "" {
		errs = append(errs, errors.New("quote currency is required"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ExchangeConfigured reports whether both credential fields are present
func (c *Config) ExchangeConfigured() bool {
	return c.Exchange.KeyName != "" && c.Exchange.PrivateKey != ""
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
