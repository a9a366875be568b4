// Package config assembles server settings from defaults, an optional YAML
// file and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Directory seeds the in-memory
// caregiver directory and is ignored when a database is configured.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Auth      AuthConfig     `yaml:"auth"`
	Log       LogConfig      `yaml:"log"`
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	Kafka     KafkaConfig    `yaml:"kafka"`
	Push      PushConfig     `yaml:"push"`
	Alerts    AlertConfig    `yaml:"alerts"`
	History   HistoryConfig  `yaml:"history"`
	Directory []SeedPatient  `yaml:"directory"`
}

// SeedPatient is a patient and their linked caregivers for running without a
// database.
type SeedPatient struct {
	ID         string          `yaml:"id"`
	Username   string          `yaml:"username"`
	FirstName  string          `yaml:"first_name"`
	LastName   string          `yaml:"last_name"`
	Caregivers []SeedCaregiver `yaml:"caregivers"`
}

type SeedCaregiver struct {
	ID        string `yaml:"id"`
	Username  string `yaml:"username"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
	PushToken string `yaml:"push_token"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
	Issuer        string `yaml:"issuer"`
	Audience      string `yaml:"audience"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig selects Postgres storage. An empty URL keeps everything in
// memory.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// RedisConfig backs the alert dispatch guard. An empty URL falls back to the
// in-process guard.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// KafkaConfig enables the alert event stream when Brokers is non-empty.
// DeliveryTimeout bounds how long a record may wait for broker acks, retries
// included.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers"`
	ClientID          string        `yaml:"client_id"`
	AlertTopic        string        `yaml:"alert_topic"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	EnsureTopic       bool          `yaml:"ensure_topic"`
	DeliveryTimeout   time.Duration `yaml:"delivery_timeout"`
}

type PushConfig struct {
	Endpoint        string        `yaml:"endpoint"`
	AccessToken     string        `yaml:"access_token"`
	Timeout         time.Duration `yaml:"timeout"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	Burst           int           `yaml:"burst"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type AlertConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	Concurrency int           `yaml:"concurrency"`
	GuardTTL    time.Duration `yaml:"guard_ttl"`
}

type HistoryConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

const (
	DefaultAddr                 = ":8080"
	DefaultPushEndpoint         = "https://exp.host/--/api/v2/push/send"
	DefaultAlertTopic           = "safezone.alerts.zone-exit"
	DefaultKafkaDeliveryTimeout = 10 * time.Second
	devSigningKey               = "dev-secret-key-change-in-production"
)

var (
	errAddrRequired       = errors.New("server address must be provided")
	errSigningKeyRequired = errors.New("jwt signing key must be provided")
	errPushEndpoint       = errors.New("push endpoint must be provided")
)

// Default returns a configuration that runs fully in memory.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			RequestTimeout:  15 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Auth: AuthConfig{JWTSigningKey: devSigningKey, Issuer: "safezone"},
		Log:  LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: KafkaConfig{
			ClientID:          "safezone",
			AlertTopic:        DefaultAlertTopic,
			Partitions:        3,
			ReplicationFactor: 1,
			EnsureTopic:       true,
			DeliveryTimeout:   DefaultKafkaDeliveryTimeout,
		},
		Push: PushConfig{
			Endpoint:        DefaultPushEndpoint,
			Timeout:         5 * time.Second,
			RatePerSecond:   50,
			Burst:           10,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Alerts: AlertConfig{
			MaxAttempts: 3,
			BaseBackoff: 500 * time.Millisecond,
			MaxBackoff:  10 * time.Second,
			Concurrency: 8,
			GuardTTL:    24 * time.Hour,
		},
		History: HistoryConfig{DefaultLimit: 100, MaxLimit: 500},
	}
}

// Load reads path on top of the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		contents, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv is Load without a file.
func FromEnv() (*Config, error) {
	return Load("")
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SAFEZONE_ADDR", &cfg.Server.Addr)
	str("JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	str("JWT_ISSUER", &cfg.Auth.Issuer)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_URL", &cfg.Redis.URL)
	str("KAFKA_ALERT_TOPIC", &cfg.Kafka.AlertTopic)
	str("EXPO_PUSH_URL", &cfg.Push.Endpoint)
	str("EXPO_ACCESS_TOKEN", &cfg.Push.AccessToken)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("ALERT_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse ALERT_MAX_ATTEMPTS: %w", err)
		}
		cfg.Alerts.MaxAttempts = n
	}
	if v, ok := lookup("PUSH_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse PUSH_TIMEOUT: %w", err)
		}
		cfg.Push.Timeout = d
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errAddrRequired
	}
	if c.Auth.JWTSigningKey == "" {
		return errSigningKeyRequired
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Push.Endpoint == "" {
		return errPushEndpoint
	}
	if c.Push.Timeout <= 0 {
		return fmt.Errorf("push timeout must be positive, got %s", c.Push.Timeout)
	}
	if c.Alerts.MaxAttempts < 1 {
		return fmt.Errorf("alert max attempts must be at least 1, got %d", c.Alerts.MaxAttempts)
	}
	if c.Alerts.Concurrency < 1 {
		return fmt.Errorf("alert concurrency must be at least 1, got %d", c.Alerts.Concurrency)
	}
	if c.History.DefaultLimit < 1 || c.History.MaxLimit < c.History.DefaultLimit {
		return fmt.Errorf("invalid history limits: default %d, max %d", c.History.DefaultLimit, c.History.MaxLimit)
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.AlertTopic == "" {
		return errors.New("kafka alert topic must be provided when brokers are set")
	}
	return nil
}

// UsesDevSigningKey reports whether the built-in development key is in use.
func (c *Config) UsesDevSigningKey() bool {
	return c.Auth.JWTSigningKey == devSigningKey
}
