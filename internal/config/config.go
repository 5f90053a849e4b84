package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the orchestrator.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Sender    SenderConfig    `yaml:"sender"`
	Email     EmailConfig     `yaml:"email"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	SendTime  SendTimeConfig  `yaml:"send_time"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_mins"`
}

// RedisConfig holds Redis settings. Redis is optional; when disabled the
// orchestrator falls back to PostgreSQL advisory locks and skips caching.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// SchedulerConfig holds sweep loop settings.
type SchedulerConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	ClaimBatchSize       int `yaml:"claim_batch_size"`
	StaleClaimMinutes    int `yaml:"stale_claim_minutes"`
	DependencyTTLHours   int `yaml:"dependency_ttl_hours"`
}

// SweepInterval returns the sweep interval as a duration.
func (c SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// StaleClaimAge returns how long a claim may be held before it is considered
// abandoned.
func (c SchedulerConfig) StaleClaimAge() time.Duration {
	return time.Duration(c.StaleClaimMinutes) * time.Minute
}

// DependencyTTL returns how long a pending execution may wait for its
// required dependencies.
func (c SchedulerConfig) DependencyTTL() time.Duration {
	return time.Duration(c.DependencyTTLHours) * time.Hour
}

// SenderConfig holds the send executor's pool and retry settings.
type SenderConfig struct {
	NumWorkers         int `yaml:"num_workers"`
	DefaultMaxRetries  int `yaml:"default_max_retries"`
	BackoffBaseSeconds int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds  int `yaml:"backoff_cap_seconds"`
}

// BackoffBase returns the first-retry delay.
func (c SenderConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffCap returns the maximum retry delay.
func (c SenderConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSeconds) * time.Second
}

// EmailConfig holds the email channel provider settings (AWS SES).
type EmailConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// WhatsAppConfig holds the WhatsApp provider HTTP API settings.
type WhatsAppConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration.
func (c WhatsAppConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SendTimeConfig holds optimizer settings.
type SendTimeConfig struct {
	ClickWeight     float64 `yaml:"click_weight"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	DefaultTopN     int     `yaml:"default_top_n"`
	HorizonHours    int     `yaml:"horizon_hours"`
}

// CacheTTL returns the ranked-window cache TTL.
func (c SendTimeConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Horizon returns the optimizer's look-ahead horizon.
func (c SendTimeConfig) Horizon() time.Duration {
	return time.Duration(c.HorizonHours) * time.Hour
}

// Load reads and parses the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 5
	}
	if cfg.Scheduler.SweepIntervalSeconds == 0 {
		cfg.Scheduler.SweepIntervalSeconds = 60
	}
	if cfg.Scheduler.ClaimBatchSize == 0 {
		cfg.Scheduler.ClaimBatchSize = 100
	}
	if cfg.Scheduler.StaleClaimMinutes == 0 {
		cfg.Scheduler.StaleClaimMinutes = 5
	}
	if cfg.Scheduler.DependencyTTLHours == 0 {
		cfg.Scheduler.DependencyTTLHours = 72
	}
	if cfg.Sender.NumWorkers == 0 {
		cfg.Sender.NumWorkers = 10
	}
	if cfg.Sender.DefaultMaxRetries == 0 {
		cfg.Sender.DefaultMaxRetries = 3
	}
	if cfg.Sender.BackoffBaseSeconds == 0 {
		cfg.Sender.BackoffBaseSeconds = 60
	}
	if cfg.Sender.BackoffCapSeconds == 0 {
		cfg.Sender.BackoffCapSeconds = 3600
	}
	if cfg.Email.Region == "" {
		cfg.Email.Region = "us-east-1"
	}
	if cfg.WhatsApp.TimeoutSeconds == 0 {
		cfg.WhatsApp.TimeoutSeconds = 30
	}
	if cfg.SendTime.ClickWeight == 0 {
		cfg.SendTime.ClickWeight = 2.0
	}
	if cfg.SendTime.CacheTTLSeconds == 0 {
		cfg.SendTime.CacheTTLSeconds = 300
	}
	if cfg.SendTime.DefaultTopN == 0 {
		cfg.SendTime.DefaultTopN = 5
	}
	if cfg.SendTime.HorizonHours == 0 {
		cfg.SendTime.HorizonHours = 24
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// No config file: start from defaults, env fills the rest.
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Email.AccessKey = v
		cfg.Email.Enabled = true
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Email.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Email.Region = v
	}
	if v := os.Getenv("WHATSAPP_BASE_URL"); v != "" {
		cfg.WhatsApp.BaseURL = v
		cfg.WhatsApp.Enabled = true
	}
	if v := os.Getenv("WHATSAPP_API_KEY"); v != "" {
		cfg.WhatsApp.APIKey = v
	}
	if v := os.Getenv("SWEEP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.SweepIntervalSeconds = n
		}
	}

	return cfg, nil
}
