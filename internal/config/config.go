// Package config provides configuration management for the market data agent.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Batch Collection Constants
const (
	// defaultSettleDelay is used when market_data.settle_delay is unset
	defaultSettleDelay = 750 * time.Millisecond
	// minSettleDelay and maxSettleDelay bound the configurable quiet window
	minSettleDelay = 250 * time.Millisecond
	maxSettleDelay = 3 * time.Second
	// defaultHardTimeout caps a batch collection regardless of tick activity
	defaultHardTimeout = 8 * time.Second
	// defaultBurstSize is the number of snapshot subscriptions opened per burst
	defaultBurstSize = 10
	// defaultBurstDelay spaces consecutive subscription bursts
	defaultBurstDelay = 250 * time.Millisecond
)

// Request Timeout Constants
const (
	// defaultQuoteTimeout is used when market_data.quote_timeout is unset
	defaultQuoteTimeout = 3 * time.Second
	// defaultResolveTimeout is used when market_data.resolve_timeout is unset
	defaultResolveTimeout = 10 * time.Second
	// defaultChainTimeout is used when market_data.chain_timeout is unset
	defaultChainTimeout = 15 * time.Second
)

// Cache Freshness Constants
const (
	// defaultGreeksTTL is used when market_data.greeks_ttl is unset
	defaultGreeksTTL = 30 * time.Second
	// defaultChainTTL is used when market_data.chain_ttl is unset
	defaultChainTTL = 5 * time.Minute
)

// Preload Constants
const (
	// defaultPreloadInterval is used when preload.interval is unset
	defaultPreloadInterval = 30 * time.Second
	// defaultExpirationCount is how many upcoming expirations each cycle warms
	defaultExpirationCount = 2
	// defaultStrikeRadius is how many strikes to warm on each side of spot
	defaultStrikeRadius = 10
)

// Order Constants
const (
	// defaultTickSize is used when orders.tick_size is unset
	defaultTickSize = 0.01
	// defaultTIF is used when orders.tif is unset
	defaultTIF = "DAY"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	MarketData  MarketDataConfig  `yaml:"market_data"`
	Preload     PreloadConfig     `yaml:"preload"`
	Orders      OrdersConfig      `yaml:"orders"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// GatewayConfig defines the trading gateway session settings.
type GatewayConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID int    `yaml:"client_id"`
}

// MarketDataConfig defines batch collection and cache freshness parameters.
// Durations are Go duration strings, e.g. "750ms" or "5m".
type MarketDataConfig struct {
	SettleDelay    string `yaml:"settle_delay"`
	HardTimeout    string `yaml:"hard_timeout"`
	QuoteTimeout   string `yaml:"quote_timeout"`
	ResolveTimeout string `yaml:"resolve_timeout"`
	ChainTimeout   string `yaml:"chain_timeout"`
	GreeksTTL      string `yaml:"greeks_ttl"`
	ChainTTL       string `yaml:"chain_ttl"`
	BurstSize      int    `yaml:"burst_size"`
	BurstDelay     string `yaml:"burst_delay"`
}

// PreloadConfig defines the background cache warming schedule.
type PreloadConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Interval        string   `yaml:"interval"`
	Watchlist       []string `yaml:"watchlist"`
	ExpirationCount int      `yaml:"expiration_count"`
	StrikeRadius    int      `yaml:"strike_radius"`
}

// OrdersConfig defines combo order placement parameters.
type OrdersConfig struct {
	TickSize float64 `yaml:"tick_size"`
	TIF      string  `yaml:"tif"` // DAY | GTC
}

// StorageConfig defines storage settings for the contract identifier cache.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DashboardConfig defines the operational HTTP endpoint settings.
type DashboardConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Validate config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Gateway validation
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535")
	}
	if c.Gateway.ClientID < 0 {
		return fmt.Errorf("gateway.client_id must be >= 0")
	}

	// Fill zero values before the checks below
	c.normalize()

	// Market data validation: every duration must parse once normalized
	durations := map[string]string{
		"market_data.settle_delay":    c.MarketData.SettleDelay,
		"market_data.hard_timeout":    c.MarketData.HardTimeout,
		"market_data.quote_timeout":   c.MarketData.QuoteTimeout,
		"market_data.resolve_timeout": c.MarketData.ResolveTimeout,
		"market_data.chain_timeout":   c.MarketData.ChainTimeout,
		"market_data.greeks_ttl":      c.MarketData.GreeksTTL,
		"market_data.chain_ttl":       c.MarketData.ChainTTL,
		"market_data.burst_delay":     c.MarketData.BurstDelay,
		"preload.interval":            c.Preload.Interval,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s invalid: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}
	if c.MarketData.BurstSize <= 0 || c.MarketData.BurstSize > 100 {
		return fmt.Errorf("market_data.burst_size must be between 1 and 100")
	}
	if c.GetSettleDelay() >= c.GetHardTimeout() {
		return fmt.Errorf("market_data.settle_delay (%s) must be < market_data.hard_timeout (%s)",
			c.GetSettleDelay(), c.GetHardTimeout())
	}

	// Preload validation
	if c.Preload.Enabled && len(c.Preload.Watchlist) == 0 {
		return fmt.Errorf("preload.watchlist is required when preload is enabled")
	}
	for _, symbol := range c.Preload.Watchlist {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("preload.watchlist contains an empty symbol")
		}
	}
	if c.Preload.ExpirationCount <= 0 {
		return fmt.Errorf("preload.expiration_count must be > 0")
	}
	if c.Preload.StrikeRadius <= 0 {
		return fmt.Errorf("preload.strike_radius must be > 0")
	}

	// Order validation
	if c.Orders.TickSize <= 0 {
		return fmt.Errorf("orders.tick_size must be > 0")
	}
	if c.Orders.TIF != "DAY" && c.Orders.TIF != "GTC" {
		return fmt.Errorf("orders.tif must be 'DAY' or 'GTC'")
	}

	// Dashboard validation
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	return nil
}

// IsPaperTrading returns true if the agent is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// GetSettleDelay returns the batch quiet window, clamped to its allowed range.
func (c *Config) GetSettleDelay() time.Duration {
	d, err := time.ParseDuration(c.MarketData.SettleDelay)
	if err != nil {
		return defaultSettleDelay
	}
	if d < minSettleDelay {
		return minSettleDelay
	}
	if d > maxSettleDelay {
		return maxSettleDelay
	}
	return d
}

// GetHardTimeout returns the upper bound on a single batch collection.
func (c *Config) GetHardTimeout() time.Duration {
	return c.duration(c.MarketData.HardTimeout, defaultHardTimeout)
}

// GetQuoteTimeout returns the deadline for a single stock snapshot.
func (c *Config) GetQuoteTimeout() time.Duration {
	return c.duration(c.MarketData.QuoteTimeout, defaultQuoteTimeout)
}

// GetResolveTimeout returns the deadline for a contract detail lookup.
func (c *Config) GetResolveTimeout() time.Duration {
	return c.duration(c.MarketData.ResolveTimeout, defaultResolveTimeout)
}

// GetChainTimeout returns the deadline for an option chain parameter fetch.
func (c *Config) GetChainTimeout() time.Duration {
	return c.duration(c.MarketData.ChainTimeout, defaultChainTimeout)
}

// GetGreeksTTL returns how long cached option quotes count as fresh.
func (c *Config) GetGreeksTTL() time.Duration {
	return c.duration(c.MarketData.GreeksTTL, defaultGreeksTTL)
}

// GetChainTTL returns how long cached chain parameters count as fresh.
func (c *Config) GetChainTTL() time.Duration {
	return c.duration(c.MarketData.ChainTTL, defaultChainTTL)
}

// GetBurstDelay returns the pause between subscription bursts.
func (c *Config) GetBurstDelay() time.Duration {
	return c.duration(c.MarketData.BurstDelay, defaultBurstDelay)
}

// GetPreloadInterval returns the cadence of background cache warming.
func (c *Config) GetPreloadInterval() time.Duration {
	return c.duration(c.Preload.Interval, defaultPreloadInterval)
}

func (c *Config) duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// normalize sets default values for unset fields.
func (c *Config) normalize() {
	if c.MarketData.SettleDelay == "" {
		c.MarketData.SettleDelay = defaultSettleDelay.String()
	}
	if c.MarketData.HardTimeout == "" {
		c.MarketData.HardTimeout = defaultHardTimeout.String()
	}
	if c.MarketData.QuoteTimeout == "" {
		c.MarketData.QuoteTimeout = defaultQuoteTimeout.String()
	}
	if c.MarketData.ResolveTimeout == "" {
		c.MarketData.ResolveTimeout = defaultResolveTimeout.String()
	}
	if c.MarketData.ChainTimeout == "" {
		c.MarketData.ChainTimeout = defaultChainTimeout.String()
	}
	if c.MarketData.GreeksTTL == "" {
		c.MarketData.GreeksTTL = defaultGreeksTTL.String()
	}
	if c.MarketData.ChainTTL == "" {
		c.MarketData.ChainTTL = defaultChainTTL.String()
	}
	if c.MarketData.BurstSize == 0 {
		c.MarketData.BurstSize = defaultBurstSize
	}
	if c.MarketData.BurstDelay == "" {
		c.MarketData.BurstDelay = defaultBurstDelay.String()
	}
	if c.Preload.Interval == "" {
		c.Preload.Interval = defaultPreloadInterval.String()
	}
	if c.Preload.ExpirationCount == 0 {
		c.Preload.ExpirationCount = defaultExpirationCount
	}
	if c.Preload.StrikeRadius == 0 {
		c.Preload.StrikeRadius = defaultStrikeRadius
	}
	if c.Orders.TickSize == 0 {
		c.Orders.TickSize = defaultTickSize
	}
	if c.Orders.TIF == "" {
		c.Orders.TIF = defaultTIF
	}
}
