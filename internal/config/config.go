package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Anomaly  AnomalyConfig  `mapstructure:"anomaly"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
	Environment  string `mapstructure:"environment"`
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers        string `mapstructure:"brokers"`
	ConsumerGroup  string `mapstructure:"consumer_group"`
	SecurityEnable bool   `mapstructure:"security_enable"`
	SecurityUser   string `mapstructure:"security_user"`
	SecurityPass   string `mapstructure:"security_pass"`
}

// JWTConfig holds JWT authentication configuration
type JWTConfig struct {
	Secret          string `mapstructure:"secret"`
	ExpirationHours int    `mapstructure:"expiration_hours"`
}

// IngestConfig holds ingestion gateway configuration
type IngestConfig struct {
	// DeviceKeyHashes maps device source identifiers to bcrypt hashes of
	// their API keys. Devices authenticate with the plain key; the user
	// behind a reading is identified by the payload.
	DeviceKeyHashes map[string]string `mapstructure:"device_key_hashes"`
	// RatePerSecond bounds how many readings a single device may submit.
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	RateBurst     int     `mapstructure:"rate_burst"`
}

// AnomalyConfig holds statistical anomaly detector configuration
type AnomalyConfig struct {
	WindowSize    int     `mapstructure:"window_size"`
	MinSamples    int     `mapstructure:"min_samples"`
	SigmaFactor   float64 `mapstructure:"sigma_factor"`
	RetryAttempts int     `mapstructure:"retry_attempts"`
	RetryBaseMS   int     `mapstructure:"retry_base_ms"`
}

// DispatchConfig holds notification dispatcher configuration
type DispatchConfig struct {
	Workers       int `mapstructure:"workers"`
	QueueSize     int `mapstructure:"queue_size"`
	SendTimeoutMS int `mapstructure:"send_timeout_ms"`
	RetryDelayMS  int `mapstructure:"retry_delay_ms"`
}

// NotifyConfig holds outbound channel gateway configuration. Email and
// SMS go through external HTTP gateways; push rides the live feed hub.
type NotifyConfig struct {
	EmailGatewayURL string `mapstructure:"email_gateway_url"`
	SMSGatewayURL   string `mapstructure:"sms_gateway_url"`
}

// SyncConfig holds client sync adapter defaults
type SyncConfig struct {
	PollIntervalMS  int `mapstructure:"poll_interval_ms"`
	MaxPollFailures int `mapstructure:"max_poll_failures"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// LoadConfig loads the application configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	// Set default configuration file path if not provided
	if configPath == "" {
		configPath = "./config"
	}

	// Initialize Viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	// Set environment variable prefix for overrides
	v.SetEnvPrefix("PULSEGUARD")

	// Set environment variable separator for nested structs
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read configuration from file
	if err := v.ReadInConfig(); err != nil {
		// If the configuration file is not found, that's fine, we'll use defaults and env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
	}

	// Set up environment variable binding
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Unmarshal configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults sets default values for the configuration
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 15)  // seconds
	v.SetDefault("server.write_timeout", 15) // seconds
	v.SetDefault("server.idle_timeout", 60)  // seconds
	v.SetDefault("server.environment", "development")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "pulseguard")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timezone", "UTC")

	// Kafka defaults
	v.SetDefault("kafka.brokers", "kafka:9092")
	v.SetDefault("kafka.consumer_group", "pulseguard")
	v.SetDefault("kafka.security_enable", false)

	// JWT defaults
	v.SetDefault("jwt.expiration_hours", 24)

	// Ingest defaults
	v.SetDefault("ingest.rate_per_second", 10.0)
	v.SetDefault("ingest.rate_burst", 20)

	// Anomaly detector defaults
	v.SetDefault("anomaly.window_size", 20)
	v.SetDefault("anomaly.min_samples", 10)
	v.SetDefault("anomaly.sigma_factor", 2.0)
	v.SetDefault("anomaly.retry_attempts", 5)
	v.SetDefault("anomaly.retry_base_ms", 500)

	// Dispatcher defaults
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 256)
	v.SetDefault("dispatch.send_timeout_ms", 5000)
	v.SetDefault("dispatch.retry_delay_ms", 1000)

	// Sync adapter defaults
	v.SetDefault("sync.poll_interval_ms", 5000)
	v.SetDefault("sync.max_poll_failures", 10)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// Validate JWT secret is set
	if config.JWT.Secret == "" {
		// In development mode, set a default secret
		if config.Server.Environment == "development" {
			config.JWT.Secret = "development-jwt-secret-key-change-in-production"
		} else {
			return fmt.Errorf("JWT secret is required in non-development environments")
		}
	}

	// Validate database password is set
	if config.Database.Password == "" {
		// Check if it's available in environment variable
		dbPassword := os.Getenv("PULSEGUARD_DATABASE_PASSWORD")
		if dbPassword == "" {
			if config.Server.Environment != "development" {
				return fmt.Errorf("database password is required in non-development environments")
			}
		} else {
			config.Database.Password = dbPassword
		}
	}

	if config.Anomaly.MinSamples < 2 {
		return fmt.Errorf("anomaly.min_samples must be at least 2")
	}
	if config.Anomaly.WindowSize < config.Anomaly.MinSamples {
		return fmt.Errorf("anomaly.window_size must be >= anomaly.min_samples")
	}
	if config.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be at least 1")
	}

	return nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.TimeZone)
}

// SendTimeout returns the outbound transport timeout as a duration
func (c *DispatchConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMS) * time.Millisecond
}

// RetryDelay returns the per-contact retry delay as a duration
func (c *DispatchConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMS) * time.Millisecond
}

// PollInterval returns the fallback poll interval as a duration
func (c *SyncConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// IsProduction returns true if the environment is production
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment returns true if the environment is development
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsTest returns true if the environment is test
func (c *ServerConfig) IsTest() bool {
	return c.Environment == "test"
}
