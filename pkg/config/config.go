package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Sandbox struct {
		MaxSteps       int           `yaml:"max_steps"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxOutputBytes int           `yaml:"max_output_bytes"`
	} `yaml:"sandbox"`
	Audit struct {
		Enabled      bool          `yaml:"enabled"`
		Backend      string        `yaml:"backend"`
		Table        string        `yaml:"table"`
		Topic        string        `yaml:"topic"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"audit"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		Source         string        `yaml:"source"` // "websocket" | "kafka"
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		Channels       []string      `yaml:"channels"`
		Topic          string        `yaml:"topic"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		BufferSize     int           `yaml:"buffer_size"`
		MaxRPS         int           `yaml:"max_rps"`
	} `yaml:"feed"`
	Cache struct {
		ValidateTTL time.Duration `yaml:"validate_ttl"`
		Redis       struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
		} `yaml:"redis"`
	} `yaml:"cache"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Validate required fields
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables
	if v := os.Getenv("FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("FEED_CHANNELS"); v != "" {
		c.Feed.Channels = strings.Split(v, ",")
	}
	if v := os.Getenv("AUDIT_BACKEND"); v != "" {
		c.Audit.Backend = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("AUDIT_TOPIC"); v != "" {
		c.Audit.Topic = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Audit.Enabled {
		if c.Audit.Backend != "kafka" && c.Audit.Backend != "clickhouse" {
			return fmt.Errorf("audit.backend must be 'kafka' or 'clickhouse', got '%s'", c.Audit.Backend)
		}
		if c.Audit.Backend == "kafka" && c.Audit.Topic == "" {
			return fmt.Errorf("audit.topic is required for the kafka backend")
		}
		if c.Audit.Backend == "clickhouse" && c.Audit.Table == "" {
			return fmt.Errorf("audit.table is required for the clickhouse backend")
		}
	}
	if c.Feed.Enabled {
		switch c.Feed.Source {
		case "websocket":
			if c.Feed.WebSocketURL == "" {
				return fmt.Errorf("feed.websocket_url is required")
			}
		case "kafka":
			if c.Feed.Topic == "" {
				return fmt.Errorf("feed.topic is required for the kafka source")
			}
		default:
			return fmt.Errorf("feed.source must be 'websocket' or 'kafka', got '%s'", c.Feed.Source)
		}
	}
	return nil
}
