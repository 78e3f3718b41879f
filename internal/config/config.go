// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"position_trader/internal/core"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig                 `yaml:"app"`
	Exchanges   map[string]ExchangeConfig `yaml:"exchanges"`
	Positions   []PositionConfig          `yaml:"positions"`
	Execution   ExecutionConfig           `yaml:"execution"`
	Manager     ManagerConfig             `yaml:"manager"`
	Stream      StreamConfig              `yaml:"stream"`
	Strategy    StrategyConfig            `yaml:"strategy"`
	System      SystemConfig              `yaml:"system"`
	Concurrency ConcurrencyConfig         `yaml:"concurrency"`
	Telemetry   TelemetryConfig           `yaml:"telemetry"`
	Server      ServerConfig              `yaml:"server"`
	Journal     JournalConfig             `yaml:"journal"`
	Alerts      AlertsConfig              `yaml:"alerts"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	ServiceName string `yaml:"service_name"`
	Exchange    string `yaml:"exchange"` // coinbase or mock
}

// ExchangeConfig contains exchange credentials and endpoints
type ExchangeConfig struct {
	APIKey       Secret  `yaml:"api_key"`
	SecretKey    Secret  `yaml:"secret_key"` // base64 encoded
	Passphrase   Secret  `yaml:"passphrase"`
	ProfileID    string  `yaml:"profile_id"`
	BaseURL      string  `yaml:"base_url"`
	WebsocketURL string  `yaml:"websocket_url"`
	RateLimit    float64 `yaml:"rate_limit"` // signed REST requests per second
	RateBurst    int     `yaml:"rate_burst"`
}

// PositionConfig is the per-instrument trading configuration as written in YAML.
// Amounts are strings so they parse exactly into decimals.
type PositionConfig struct {
	ProductID string `yaml:"product_id"`
	Max       int    `yaml:"max"`
	Funds     string `yaml:"funds"`
	Fee       string `yaml:"fee"`
	Sell      string `yaml:"sell"`
	Strategy  string `yaml:"strategy"`
}

// ExecutionConfig tunes the order poll loop
type ExecutionConfig struct {
	MaxRetries  int `yaml:"max_retries"`
	BaseDelayMs int `yaml:"base_delay_ms"`
	MaxDelayMs  int `yaml:"max_delay_ms"`
}

// ManagerConfig tunes the admission loop
type ManagerConfig struct {
	IntervalSeconds          int `yaml:"interval_seconds"`
	OrderBookIntervalSeconds int `yaml:"order_book_interval_seconds"`
}

// StreamConfig tunes the tick client
type StreamConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds"`
	StalenessSeconds     int `yaml:"staleness_seconds"`
	ReconnectWaitSeconds int `yaml:"reconnect_wait_seconds"`
	SubscriberBuffer     int `yaml:"subscriber_buffer"`
}

// StrategyConfig holds strategy parameters
type StrategyConfig struct {
	DayRange DayRangeConfig `yaml:"day_range"`
}

// DayRangeConfig divides the 24h band into BandDivisor slices; the outer slice
// on each side is refused.
type DayRangeConfig struct {
	BandDivisor int `yaml:"band_divisor"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	PositionPoolSize   int `yaml:"position_pool_size"`
	PositionPoolBuffer int `yaml:"position_pool_buffer"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	StdoutTraces  bool `yaml:"stdout_traces"`
}

// ServerConfig contains REST API settings
type ServerConfig struct {
	Port           int        `yaml:"port"`
	AllowedOrigins []string   `yaml:"allowed_origins"`
	APIKeys        []Secret   `yaml:"api_keys"`
	RateLimit      int        `yaml:"rate_limit"` // requests per second per key
	Live           LiveConfig `yaml:"live"`
}

// LiveConfig bounds the WebSocket stream of ticks and transitions
type LiveConfig struct {
	MaxConnections int     `yaml:"max_connections"`
	RateLimit      float64 `yaml:"rate_limit"` // connections per second per IP
	RateBurst      int     `yaml:"rate_burst"`
	Production     bool    `yaml:"production"`
}

// JournalConfig enables the sqlite transition journal when Path is set
type JournalConfig struct {
	Path string `yaml:"path"`
}

// AlertsConfig enables a channel when its credentials are set
type AlertsConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadDotEnv loads KEY=value pairs from path into the environment.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills zero values with the documented defaults
func (c *Config) ApplyDefaults() {
	if c.App.ServiceName == "" {
		c.App.ServiceName = "position_trader"
	}
	if c.App.Exchange == "" {
		c.App.Exchange = "coinbase"
	}
	if c.Execution.MaxRetries == 0 {
		c.Execution.MaxRetries = 5
	}
	if c.Execution.BaseDelayMs == 0 {
		c.Execution.BaseDelayMs = 100
	}
	if c.Execution.MaxDelayMs == 0 {
		c.Execution.MaxDelayMs = 2000
	}
	if c.Manager.IntervalSeconds == 0 {
		c.Manager.IntervalSeconds = 60
	}
	if c.Manager.OrderBookIntervalSeconds == 0 {
		c.Manager.OrderBookIntervalSeconds = 60
	}
	if c.Stream.CheckIntervalSeconds == 0 {
		c.Stream.CheckIntervalSeconds = 10
	}
	if c.Stream.StalenessSeconds == 0 {
		c.Stream.StalenessSeconds = 60
	}
	if c.Stream.ReconnectWaitSeconds == 0 {
		c.Stream.ReconnectWaitSeconds = 1
	}
	if c.Stream.SubscriberBuffer == 0 {
		c.Stream.SubscriberBuffer = 10
	}
	if c.Strategy.DayRange.BandDivisor == 0 {
		c.Strategy.DayRange.BandDivisor = 4
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Concurrency.PositionPoolSize == 0 {
		c.Concurrency.PositionPoolSize = 10
	}
	if c.Concurrency.PositionPoolBuffer == 0 {
		c.Concurrency.PositionPoolBuffer = 100
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
	for name, ex := range c.Exchanges {
		if ex.RateLimit == 0 {
			ex.RateLimit = 5
		}
		if ex.RateBurst == 0 {
			ex.RateBurst = 10
		}
		c.Exchanges[name] = ex
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	for _, check := range []func() error{
		c.validateAppConfig,
		c.validateExchanges,
		c.validatePositions,
		c.validateExecutionConfig,
		c.validateStreamConfig,
		c.validateSystemConfig,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateAppConfig() error {
	validExchanges := []string{"coinbase", "mock"}
	if !contains(validExchanges, c.App.Exchange) {
		return ValidationError{
			Field:   "app.exchange",
			Value:   c.App.Exchange,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		}
	}
	if c.App.Exchange == "mock" {
		return nil
	}
	if _, exists := c.Exchanges[c.App.Exchange]; !exists {
		return ValidationError{
			Field:   "app.exchange",
			Value:   c.App.Exchange,
			Message: "exchange configuration not found in exchanges section",
		}
	}
	return nil
}

func (c *Config) validateExchanges() error {
	for name, exchange := range c.Exchanges {
		if name != c.App.Exchange {
			continue
		}
		if exchange.APIKey == "" {
			return ValidationError{Field: fmt.Sprintf("exchanges.%s.api_key", name), Message: "API key is required"}
		}
		if exchange.SecretKey == "" {
			return ValidationError{Field: fmt.Sprintf("exchanges.%s.secret_key", name), Message: "secret key is required"}
		}
		if exchange.BaseURL == "" {
			return ValidationError{Field: fmt.Sprintf("exchanges.%s.base_url", name), Message: "REST url is required"}
		}
		if exchange.WebsocketURL == "" {
			return ValidationError{Field: fmt.Sprintf("exchanges.%s.websocket_url", name), Message: "websocket url is required"}
		}
	}
	return nil
}

func (c *Config) validatePositions() error {
	if len(c.Positions) == 0 {
		return ValidationError{Field: "positions", Message: "at least one position must be configured"}
	}

	seen := make(map[string]bool)
	for i, p := range c.Positions {
		field := fmt.Sprintf("positions[%d]", i)
		if p.ProductID == "" {
			return ValidationError{Field: field + ".product_id", Message: "product id is required"}
		}
		if seen[p.ProductID] {
			return ValidationError{Field: field + ".product_id", Value: p.ProductID, Message: "duplicate product"}
		}
		seen[p.ProductID] = true

		if p.Max < 1 {
			return ValidationError{Field: field + ".max", Value: p.Max, Message: "must be at least 1"}
		}
		if p.Strategy == "" {
			return ValidationError{Field: field + ".strategy", Message: "strategy is required"}
		}
		if _, err := p.ToCore(); err != nil {
			return ValidationError{Field: field, Value: p.ProductID, Message: err.Error()}
		}
	}
	return nil
}

func (c *Config) validateExecutionConfig() error {
	if c.Execution.MaxRetries < 0 {
		return ValidationError{Field: "execution.max_retries", Value: c.Execution.MaxRetries, Message: "must not be negative"}
	}
	if c.Execution.MaxDelayMs < c.Execution.BaseDelayMs {
		return ValidationError{Field: "execution.max_delay_ms", Value: c.Execution.MaxDelayMs, Message: "must be >= base_delay_ms"}
	}
	return nil
}

func (c *Config) validateStreamConfig() error {
	if c.Stream.StalenessSeconds < c.Stream.CheckIntervalSeconds {
		return ValidationError{
			Field:   "stream.staleness_seconds",
			Value:   c.Stream.StalenessSeconds,
			Message: "must be >= check_interval_seconds",
		}
	}
	if c.Strategy.DayRange.BandDivisor < 3 {
		return ValidationError{
			Field:   "strategy.day_range.band_divisor",
			Value:   c.Strategy.DayRange.BandDivisor,
			Message: "must be at least 3 to leave a middle band",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// ToCore parses the decimal amounts into a core.PositionConfig
func (p PositionConfig) ToCore() (core.PositionConfig, error) {
	funds, err := decimal.NewFromString(p.Funds)
	if err != nil || !funds.IsPositive() {
		return core.PositionConfig{}, fmt.Errorf("funds must be a positive decimal, got %q", p.Funds)
	}
	fee, err := decimal.NewFromString(p.Fee)
	if err != nil || fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return core.PositionConfig{}, fmt.Errorf("fee must be a decimal in [0, 1), got %q", p.Fee)
	}
	sell, err := decimal.NewFromString(p.Sell)
	if err != nil || !sell.IsPositive() || sell.GreaterThan(decimal.NewFromInt(1)) {
		return core.PositionConfig{}, fmt.Errorf("sell must be a decimal in (0, 1], got %q", p.Sell)
	}
	return core.PositionConfig{
		ProductID: p.ProductID,
		Max:       p.Max,
		Funds:     funds,
		FeeRate:   fee,
		Sell:      sell,
		Strategy:  p.Strategy,
	}, nil
}

// PositionConfigs returns the parsed per-instrument configuration in file order
func (c *Config) PositionConfigs() ([]core.PositionConfig, error) {
	out := make([]core.PositionConfig, 0, len(c.Positions))
	for _, p := range c.Positions {
		pc, err := p.ToCore()
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", p.ProductID, err)
		}
		out = append(out, pc)
	}
	return out, nil
}

// ProductIDs lists the configured instruments
func (c *Config) ProductIDs() []string {
	ids := make([]string, 0, len(c.Positions))
	for _, p := range c.Positions {
		ids = append(ids, p.ProductID)
	}
	return ids
}

// GetCurrentExchangeConfig returns the configuration for the selected exchange
func (c *Config) GetCurrentExchangeConfig() (*ExchangeConfig, error) {
	exchange, exists := c.Exchanges[c.App.Exchange]
	if !exists {
		return nil, fmt.Errorf("exchange configuration not found for: %s", c.App.Exchange)
	}
	return &exchange, nil
}

func (e ExecutionConfig) BaseDelay() time.Duration {
	return time.Duration(e.BaseDelayMs) * time.Millisecond
}

func (e ExecutionConfig) MaxDelay() time.Duration {
	return time.Duration(e.MaxDelayMs) * time.Millisecond
}

func (m ManagerConfig) Interval() time.Duration {
	return time.Duration(m.IntervalSeconds) * time.Second
}

func (m ManagerConfig) OrderBookInterval() time.Duration {
	return time.Duration(m.OrderBookIntervalSeconds) * time.Second
}

func (s StreamConfig) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

func (s StreamConfig) Staleness() time.Duration {
	return time.Duration(s.StalenessSeconds) * time.Second
}

func (s StreamConfig) ReconnectWait() time.Duration {
	return time.Duration(s.ReconnectWaitSeconds) * time.Second
}

// String returns the configuration as YAML with credentials masked
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchanges = make(map[string]ExchangeConfig, len(c.Exchanges))
	for name, exchange := range c.Exchanges {
		exchange.APIKey = Secret(maskString(string(exchange.APIKey)))
		configCopy.Exchanges[name] = exchange
	}

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	return strings.Repeat("*", len(s))
}

// DefaultConfig returns a configuration for tests and the mock exchange
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{Exchange: "mock"},
		Exchanges: map[string]ExchangeConfig{
			"coinbase": {
				APIKey:       "test_api_key",
				SecretKey:    "dGVzdF9zZWNyZXQ=",
				Passphrase:   "test_passphrase",
				BaseURL:      "https://api-public.sandbox.exchange.coinbase.com",
				WebsocketURL: "wss://ws-feed-public.sandbox.exchange.coinbase.com",
			},
		},
		Positions: []PositionConfig{
			{ProductID: "BTC-USD", Max: 1, Funds: "10", Fee: "0.005", Sell: "0.99", Strategy: "alwaysOpen"},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}
