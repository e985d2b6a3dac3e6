// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Node    NodeConfig    `mapstructure:"node"`
	Tracker TrackerConfig `mapstructure:"tracker"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Sink    SinkConfig    `mapstructure:"sink"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// NodeConfig contains blockchain node connection configuration
type NodeConfig struct {
	NodeURL        string        `mapstructure:"node_url"`
	NetworkID      int           `mapstructure:"network_id"`
	BackupNodes    []string      `mapstructure:"backup_nodes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// TrackerConfig contains event tracking configuration
type TrackerConfig struct {
	Events []EventConfig `mapstructure:"events"`
}

// EventConfig declares one tracked event in configuration
type EventConfig struct {
	Name               string            `mapstructure:"name"`
	Contract           string            `mapstructure:"contract"`
	ABI                string            `mapstructure:"abi"`
	ABIFile            string            `mapstructure:"abi_file"`
	Params             map[string]string `mapstructure:"params"`
	FromBlock          *uint64           `mapstructure:"from_block"`
	BackfillBlockCount uint64            `mapstructure:"backfill_block_count"`
}

// FetchConfig contains historical fetch retry configuration. MaxAttempts 0
// keeps the never-give-up behavior suited to nodes whose recent blocks are
// not yet queryable.
type FetchConfig struct {
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	RetryMultiplier float64       `mapstructure:"retry_multiplier"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
}

// SinkConfig contains optional delivered-event persistence configuration
type SinkConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Type             string `mapstructure:"type"` // sqlite, postgres
	ConnectionString string `mapstructure:"connection_string"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	// Set environment variable prefix
	viper.SetEnvPrefix("EVM_TRACKER")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if nodeURL := os.Getenv("EVM_NODE_URL"); nodeURL != "" {
		config.Node.NodeURL = nodeURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Sink.ConnectionString = dbURL
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "evm-event-tracker")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)

	// Node defaults (websocket endpoint required for live subscriptions)
	viper.SetDefault("node.node_url", "ws://localhost:8546")
	viper.SetDefault("node.network_id", 1)
	viper.SetDefault("node.request_timeout", "30s")
	viper.SetDefault("node.retry_attempts", 3)
	viper.SetDefault("node.retry_delay", "5s")

	// Fetch defaults mirror a node that has not yet indexed recent blocks:
	// fixed 1s interval, retry forever.
	viper.SetDefault("fetch.retry_interval", "1s")
	viper.SetDefault("fetch.retry_multiplier", 1)
	viper.SetDefault("fetch.retry_max_delay", "0")
	viper.SetDefault("fetch.max_attempts", 0)

	// Sink defaults
	viper.SetDefault("sink.enabled", false)
	viper.SetDefault("sink.type", "sqlite")
	viper.SetDefault("sink.connection_string", "./data/events.db")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Node.NodeURL == "" {
		return fmt.Errorf("node URL is required")
	}
	if c.Fetch.RetryInterval <= 0 {
		return fmt.Errorf("fetch retry interval must be positive")
	}
	if c.Sink.Enabled && c.Sink.ConnectionString == "" {
		return fmt.Errorf("sink connection string is required when the sink is enabled")
	}
	for i, event := range c.Tracker.Events {
		if event.Name == "" {
			return fmt.Errorf("tracker.events[%d]: name is required", i)
		}
		if event.Contract == "" {
			return fmt.Errorf("tracker.events[%d]: contract is required", i)
		}
		if event.ABI == "" && event.ABIFile == "" {
			return fmt.Errorf("tracker.events[%d]: abi or abi_file is required", i)
		}
	}
	return nil
}
