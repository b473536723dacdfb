package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Polymarket   PolymarketConfig   `mapstructure:"polymarket"`
	ToolProvider ToolProviderConfig `mapstructure:"tool_provider"`
	Reasoning    ReasoningConfig    `mapstructure:"reasoning"`
	Trading      TradingConfig      `mapstructure:"trading"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// PolymarketConfig holds Polymarket API configuration
type PolymarketConfig struct {
	GammaAPIURL  string        `mapstructure:"gamma_api_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxMarkets   int           `mapstructure:"max_markets"`
	MinLiquidity float64       `mapstructure:"min_liquidity"`
}

// ToolProviderConfig holds the market data tool server configuration
type ToolProviderConfig struct {
	Name           string        `mapstructure:"name"`
	Endpoint       string        `mapstructure:"endpoint"`
	APIKey         string        `mapstructure:"api_key"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	EnableCache    bool          `mapstructure:"enable_cache"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// ReasoningConfig holds the LLM backend configuration
type ReasoningConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// TradingConfig holds the execution gating configuration
type TradingConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	MaxTradeAmount      float64 `mapstructure:"max_trade_amount"`
	ExecutionEnabled    bool    `mapstructure:"execution_enabled"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds storage and persistence configuration
type StorageConfig struct {
	DBPath             string `mapstructure:"db_path"`
	MaxRecommendations int    `mapstructure:"max_recommendations"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("POLYAGENT")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Polymarket defaults
	v.SetDefault("polymarket.gamma_api_url", "https://gamma-api.polymarket.com")
	v.SetDefault("polymarket.timeout", "30s")
	v.SetDefault("polymarket.max_markets", 5)
	v.SetDefault("polymarket.min_liquidity", 1000.0)

	// Tool provider defaults
	v.SetDefault("tool_provider.name", "polymarket-tools")
	v.SetDefault("tool_provider.connect_timeout", "30s")
	v.SetDefault("tool_provider.enable_cache", true)
	v.SetDefault("tool_provider.cache_ttl", "5m")
	v.SetDefault("tool_provider.max_retries", 2)
	v.SetDefault("tool_provider.retry_delay_base", "1s")

	// Reasoning defaults
	v.SetDefault("reasoning.base_url", "https://api.openai.com/v1")
	v.SetDefault("reasoning.model", "gpt-4o")
	v.SetDefault("reasoning.temperature", 0.2)
	v.SetDefault("reasoning.max_tokens", 2048)
	v.SetDefault("reasoning.timeout", "120s")
	v.SetDefault("reasoning.max_retries", 2)

	// Trading defaults
	v.SetDefault("trading.confidence_threshold", 0.6)
	v.SetDefault("trading.max_trade_amount", 100.0)
	v.SetDefault("trading.execution_enabled", false)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/polyagent.db")
	v.SetDefault("storage.max_recommendations", 1000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Polymarket config
	if c.Polymarket.GammaAPIURL == "" {
		return fmt.Errorf("polymarket.gamma_api_url is required")
	}
	if c.Polymarket.MaxMarkets < 1 {
		return fmt.Errorf("polymarket.max_markets must be at least 1")
	}
	if c.Polymarket.MinLiquidity < 0 {
		return fmt.Errorf("polymarket.min_liquidity must not be negative")
	}

	// Validate tool provider config
	if c.ToolProvider.Endpoint == "" {
		return fmt.Errorf("tool_provider.endpoint is required")
	}
	if c.ToolProvider.MaxRetries < 0 {
		return fmt.Errorf("tool_provider.max_retries must not be negative")
	}
	if c.ToolProvider.EnableCache && c.ToolProvider.CacheTTL < 1*time.Second {
		return fmt.Errorf("tool_provider.cache_ttl must be at least 1 second when caching is enabled")
	}

	// Validate reasoning config
	if c.Reasoning.BaseURL == "" {
		return fmt.Errorf("reasoning.base_url is required")
	}
	if c.Reasoning.Model == "" {
		return fmt.Errorf("reasoning.model is required")
	}
	if c.Reasoning.Temperature < 0.0 || c.Reasoning.Temperature > 2.0 {
		return fmt.Errorf("reasoning.temperature must be between 0.0 and 2.0")
	}
	if c.Reasoning.MaxTokens < 1 {
		return fmt.Errorf("reasoning.max_tokens must be at least 1")
	}

	// Validate trading config
	if c.Trading.ConfidenceThreshold < 0.0 || c.Trading.ConfidenceThreshold > 1.0 {
		return fmt.Errorf("trading.confidence_threshold must be between 0.0 and 1.0")
	}
	if c.Trading.MaxTradeAmount <= 0.0 {
		return fmt.Errorf("trading.max_trade_amount must be positive")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if c.Storage.MaxRecommendations < 0 {
		return fmt.Errorf("storage.max_recommendations must not be negative")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
