package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Yahoo    YahooConfig    `mapstructure:"yahoo"`
	Watcher  WatcherConfig  `mapstructure:"watcher"`
	Locale   LocaleConfig   `mapstructure:"locale"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TelegramConfig holds bot transport configuration
type TelegramConfig struct {
	BotToken     string  `mapstructure:"bot_token"`
	AdminUserIDs []int64 `mapstructure:"admin_user_ids"`
	MasterChatID int64   `mapstructure:"master_chat_id"`
	Enabled      bool    `mapstructure:"enabled"`
}

// YahooConfig holds market data provider configuration
type YahooConfig struct {
	QueryAPIURL    string        `mapstructure:"query_api_url"`
	SearchAPIURL   string        `mapstructure:"search_api_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// WatcherConfig holds rise/fall notification behavior configuration
type WatcherConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	RiseThreshold float64       `mapstructure:"rise_threshold"` // percent, positive
	FallThreshold float64       `mapstructure:"fall_threshold"` // percent, negative
	SymbolLimit   int           `mapstructure:"symbol_limit"`
}

// LocaleConfig holds the currency and timezone all prices are reported in
type LocaleConfig struct {
	Currency string `mapstructure:"currency"`
	Timezone string `mapstructure:"timezone"`
}

// StorageConfig holds chat store persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	v.SetEnvPrefix("STONKS_BOT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.enabled", true)

	v.SetDefault("yahoo.query_api_url", "https://query1.finance.yahoo.com")
	v.SetDefault("yahoo.search_api_url", "https://query2.finance.yahoo.com")
	v.SetDefault("yahoo.timeout", "30s")
	v.SetDefault("yahoo.max_retries", 3)
	v.SetDefault("yahoo.retry_delay_base", "1s")

	v.SetDefault("watcher.interval", "5m")
	v.SetDefault("watcher.rise_threshold", 5.0)
	v.SetDefault("watcher.fall_threshold", -5.0)
	v.SetDefault("watcher.symbol_limit", 25)

	v.SetDefault("locale.currency", "EUR")
	v.SetDefault("locale.timezone", "Europe/Berlin")

	v.SetDefault("storage.db_path", "./data/stonksbot.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.MasterChatID == 0 {
			return fmt.Errorf("telegram.master_chat_id is required when telegram is enabled")
		}
	}

	if c.Yahoo.QueryAPIURL == "" {
		return fmt.Errorf("yahoo.query_api_url is required")
	}
	if c.Yahoo.SearchAPIURL == "" {
		return fmt.Errorf("yahoo.search_api_url is required")
	}
	if c.Yahoo.Timeout < 1*time.Second {
		return fmt.Errorf("yahoo.timeout must be at least 1 second")
	}
	if c.Yahoo.MaxRetries < 1 {
		return fmt.Errorf("yahoo.max_retries must be at least 1")
	}

	if c.Watcher.Interval < 1*time.Minute {
		return fmt.Errorf("watcher.interval must be at least 1 minute")
	}
	if c.Watcher.RiseThreshold <= 0 {
		return fmt.Errorf("watcher.rise_threshold must be positive")
	}
	if c.Watcher.FallThreshold >= 0 {
		return fmt.Errorf("watcher.fall_threshold must be negative")
	}
	if c.Watcher.SymbolLimit < 1 {
		return fmt.Errorf("watcher.symbol_limit must be at least 1")
	}

	if c.Locale.Currency == "" {
		return fmt.Errorf("locale.currency is required")
	}
	if _, err := time.LoadLocation(c.Locale.Timezone); err != nil {
		return fmt.Errorf("locale.timezone is invalid: %w", err)
	}

	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

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

// Location resolves the configured timezone. Falls back to the system
// location if the name no longer resolves after Validate has passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Locale.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
