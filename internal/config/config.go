package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/septivank/station-observation-ingestor/internal/partition"
	"gopkg.in/yaml.v3"
)

// Checkpoint backends
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Bus backends
const (
	BusAMQP = "amqp"
	BusMQTT = "mqtt"
)

// Config holds all application configuration
type Config struct {
	ServiceName string           `yaml:"service_name"`
	LogLevel    string           `yaml:"log_level"`
	Noaa        NoaaConfig       `yaml:"noaa"`
	Checkpoint  CheckpointConfig `yaml:"checkpoint"`
	Database    DatabaseConfig   `yaml:"database"`
	Bus         BusConfig        `yaml:"bus"`
	RabbitMQ    RabbitMQConfig   `yaml:"rabbitmq"`
	MQTT        MQTTConfig       `yaml:"mqtt"`
	Scheduler   SchedulerConfig  `yaml:"scheduler"`
	Processor   ProcessorConfig  `yaml:"processor"`
	Directory   DirectoryConfig  `yaml:"directory"`
}

// NoaaConfig holds weather.gov client settings
type NoaaConfig struct {
	BaseURL           string   `yaml:"base_url"`
	UserAgent         string   `yaml:"user_agent"`
	Timeout           Duration `yaml:"timeout"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	MaxConnsPerHost   int      `yaml:"max_conns_per_host"`
}

// CheckpointConfig selects where station cursors live
type CheckpointConfig struct {
	Backend      string `yaml:"backend"`
	PartitionKey string `yaml:"partition_key"`
	SQLitePath   string `yaml:"sqlite_path"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// BusConfig selects the message bus observations are published to
type BusConfig struct {
	Backend         string `yaml:"backend"`
	MaxMessageBytes int    `yaml:"max_message_bytes"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange settings
type RabbitMQConfig struct {
	URL            string   `yaml:"url"`
	Exchange       string   `yaml:"exchange"`
	RoutingKey     string   `yaml:"routing_key"`
	ConfirmTimeout Duration `yaml:"confirm_timeout"`
}

// MQTTConfig holds MQTT broker settings
type MQTTConfig struct {
	Broker         string   `yaml:"broker"`
	Port           int      `yaml:"port"`
	ClientID       string   `yaml:"client_id"`
	Topic          string   `yaml:"topic"`
	PublishTimeout Duration `yaml:"publish_timeout"`
}

// SchedulerConfig holds pass pacing settings
type SchedulerConfig struct {
	Concurrency      int      `yaml:"concurrency"`
	MinPassInterval  Duration `yaml:"min_pass_interval"`
	ThrottleCooldown Duration `yaml:"throttle_cooldown"`
	RefreshInterval  Duration `yaml:"refresh_interval"`
}

// ProcessorConfig holds per-station polling settings
type ProcessorConfig struct {
	LookBack     Duration `yaml:"look_back"`
	SleepCeiling Duration `yaml:"sleep_ceiling"`
	PullAttempts int      `yaml:"pull_attempts"`
	PullDelay    Duration `yaml:"pull_delay"`
	PullJitter   Duration `yaml:"pull_jitter"`
}

// DirectoryConfig holds roster refresh settings
type DirectoryConfig struct {
	Attempts   int      `yaml:"attempts"`
	RetryDelay Duration `yaml:"retry_delay"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		ServiceName: "station-observation-ingestor",
		LogLevel:    "info",
		Noaa: NoaaConfig{
			BaseURL:           "https://api.weather.gov",
			UserAgent:         "station-observation-ingestor",
			Timeout:           Duration(60 * time.Second),
			RequestsPerSecond: 5,
			Burst:             5,
			MaxConnsPerHost:   3,
		},
		Checkpoint: CheckpointConfig{
			Backend:      BackendPostgres,
			PartitionKey: "observations",
			SQLitePath:   "checkpoints.db",
		},
		Database: DatabaseConfig{
			MaxConns: 4,
		},
		Bus: BusConfig{
			Backend:         BusAMQP,
			MaxMessageBytes: partition.DefaultMaxMessageSize,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:       "weather.observations.exchange",
			RoutingKey:     "weather.observations.batch",
			ConfirmTimeout: Duration(30 * time.Second),
		},
		MQTT: MQTTConfig{
			Port:           1883,
			ClientID:       "station-observation-ingestor",
			Topic:          "weather/observations",
			PublishTimeout: Duration(10 * time.Second),
		},
		Scheduler: SchedulerConfig{
			Concurrency:      3,
			MinPassInterval:  Duration(5 * time.Minute),
			ThrottleCooldown: Duration(30 * time.Minute),
			RefreshInterval:  Duration(7 * 24 * time.Hour),
		},
		Processor: ProcessorConfig{
			LookBack:     Duration(24 * time.Hour),
			SleepCeiling: Duration(20 * time.Minute),
			PullAttempts: 3,
			PullDelay:    Duration(2 * time.Second),
			PullJitter:   Duration(3 * time.Second),
		},
		Directory: DirectoryConfig{
			Attempts:   -1,
			RetryDelay: Duration(5 * time.Second),
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// INGESTOR_CONFIG_FILE and finally environment variables.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("INGESTOR_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Noaa.BaseURL = getEnv("NOAA_BASE_URL", c.Noaa.BaseURL)
	c.Noaa.UserAgent = getEnv("NOAA_USER_AGENT", c.Noaa.UserAgent)
	c.Noaa.Timeout = getEnvAsDuration("NOAA_TIMEOUT", c.Noaa.Timeout)
	c.Noaa.RequestsPerSecond = getEnvAsFloat("NOAA_REQUESTS_PER_SECOND", c.Noaa.RequestsPerSecond)
	c.Noaa.Burst = getEnvAsInt("NOAA_BURST", c.Noaa.Burst)
	c.Noaa.MaxConnsPerHost = getEnvAsInt("NOAA_MAX_CONNS_PER_HOST", c.Noaa.MaxConnsPerHost)

	c.Checkpoint.Backend = getEnv("CHECKPOINT_BACKEND", c.Checkpoint.Backend)
	c.Checkpoint.PartitionKey = getEnv("CHECKPOINT_PARTITION_KEY", c.Checkpoint.PartitionKey)
	c.Checkpoint.SQLitePath = getEnv("CHECKPOINT_SQLITE_PATH", c.Checkpoint.SQLitePath)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = getEnvAsInt("DATABASE_MAX_CONNS", c.Database.MaxConns)

	c.Bus.Backend = getEnv("BUS_BACKEND", c.Bus.Backend)
	c.Bus.MaxMessageBytes = getEnvAsInt("BUS_MAX_MESSAGE_BYTES", c.Bus.MaxMessageBytes)

	c.RabbitMQ.URL = getEnv("RABBITMQ_URL", c.RabbitMQ.URL)
	c.RabbitMQ.Exchange = getEnv("RABBITMQ_EXCHANGE", c.RabbitMQ.Exchange)
	c.RabbitMQ.RoutingKey = getEnv("RABBITMQ_ROUTING_KEY", c.RabbitMQ.RoutingKey)
	c.RabbitMQ.ConfirmTimeout = getEnvAsDuration("RABBITMQ_CONFIRM_TIMEOUT", c.RabbitMQ.ConfirmTimeout)

	c.MQTT.Broker = getEnv("MQTT_BROKER", c.MQTT.Broker)
	c.MQTT.Port = getEnvAsInt("MQTT_PORT", c.MQTT.Port)
	c.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", c.MQTT.ClientID)
	c.MQTT.Topic = getEnv("MQTT_TOPIC", c.MQTT.Topic)
	c.MQTT.PublishTimeout = getEnvAsDuration("MQTT_PUBLISH_TIMEOUT", c.MQTT.PublishTimeout)

	c.Scheduler.Concurrency = getEnvAsInt("SCHEDULER_CONCURRENCY", c.Scheduler.Concurrency)
	c.Scheduler.MinPassInterval = getEnvAsDuration("SCHEDULER_MIN_PASS_INTERVAL", c.Scheduler.MinPassInterval)
	c.Scheduler.ThrottleCooldown = getEnvAsDuration("SCHEDULER_THROTTLE_COOLDOWN", c.Scheduler.ThrottleCooldown)
	c.Scheduler.RefreshInterval = getEnvAsDuration("SCHEDULER_REFRESH_INTERVAL", c.Scheduler.RefreshInterval)

	c.Processor.LookBack = getEnvAsDuration("PROCESSOR_LOOK_BACK", c.Processor.LookBack)
	c.Processor.SleepCeiling = getEnvAsDuration("PROCESSOR_SLEEP_CEILING", c.Processor.SleepCeiling)
	c.Processor.PullAttempts = getEnvAsInt("PROCESSOR_PULL_ATTEMPTS", c.Processor.PullAttempts)
	c.Processor.PullDelay = getEnvAsDuration("PROCESSOR_PULL_DELAY", c.Processor.PullDelay)
	c.Processor.PullJitter = getEnvAsDuration("PROCESSOR_PULL_JITTER", c.Processor.PullJitter)

	c.Directory.Attempts = getEnvAsInt("DIRECTORY_ATTEMPTS", c.Directory.Attempts)
	c.Directory.RetryDelay = getEnvAsDuration("DIRECTORY_RETRY_DELAY", c.Directory.RetryDelay)
}

// Validate checks settings that every command depends on. Connection URLs are
// checked by RequireCheckpoint and RequireBus, since not every command opens
// both.
func (c *Config) Validate() error {
	switch c.Checkpoint.Backend {
	case BackendPostgres, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("CHECKPOINT_BACKEND must be one of postgres, sqlite, memory, got %q", c.Checkpoint.Backend)
	}
	if c.Checkpoint.PartitionKey == "" {
		return fmt.Errorf("CHECKPOINT_PARTITION_KEY must not be empty")
	}

	switch c.Bus.Backend {
	case BusAMQP, BusMQTT:
	default:
		return fmt.Errorf("BUS_BACKEND must be one of amqp, mqtt, got %q", c.Bus.Backend)
	}
	if c.Bus.MaxMessageBytes <= 0 {
		return fmt.Errorf("BUS_MAX_MESSAGE_BYTES must be positive, got %d", c.Bus.MaxMessageBytes)
	}

	if c.Noaa.BaseURL == "" {
		return fmt.Errorf("NOAA_BASE_URL must not be empty")
	}
	if c.Scheduler.Concurrency < 1 {
		return fmt.Errorf("SCHEDULER_CONCURRENCY must be at least 1, got %d", c.Scheduler.Concurrency)
	}
	if c.Scheduler.MinPassInterval.Duration() <= 0 {
		return fmt.Errorf("SCHEDULER_MIN_PASS_INTERVAL must be positive")
	}
	if c.Processor.PullAttempts == 0 || c.Processor.PullAttempts < -1 {
		return fmt.Errorf("PROCESSOR_PULL_ATTEMPTS must be positive or -1, got %d", c.Processor.PullAttempts)
	}
	if c.Directory.Attempts == 0 || c.Directory.Attempts < -1 {
		return fmt.Errorf("DIRECTORY_ATTEMPTS must be positive or -1, got %d", c.Directory.Attempts)
	}

	return nil
}

// RequireCheckpoint checks the settings of the selected checkpoint backend
func (c *Config) RequireCheckpoint() error {
	switch c.Checkpoint.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required but not set in environment variables")
		}
	case BackendSQLite:
		if c.Checkpoint.SQLitePath == "" {
			return fmt.Errorf("CHECKPOINT_SQLITE_PATH is required for the sqlite backend")
		}
	}
	return nil
}

// RequireBus checks the settings of the selected bus backend
func (c *Config) RequireBus() error {
	switch c.Bus.Backend {
	case BusAMQP:
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
		}
	case BusMQTT:
		if c.MQTT.Broker == "" {
			return fmt.Errorf("MQTT_BROKER is required but not set in environment variables")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue Duration) Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return Duration(value)
}
