// Package config loads pairbridge's runtime configuration with the
// precedence defaults < environment < file, layered through
// DefaultConfig/LoadFromEnv/LoadFromFile/LoadConfigWithPrecedence.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration, one section per subsystem.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Redis     RedisConfig     `yaml:"redis"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Auth      AuthConfig      `yaml:"auth"`
	Timing    TimingConfig    `yaml:"timing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig configures the default JWT-based AuthClient in
// pkg/collaborators.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"PAIRBRIDGE_JWT_SECRET"`
}

// HTTPConfig controls the admin/health HTTP surface (internal/api).
type HTTPConfig struct {
	Host         string        `yaml:"host" env:"PAIRBRIDGE_HTTP_HOST"`
	Port         int           `yaml:"port" env:"PAIRBRIDGE_HTTP_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"PAIRBRIDGE_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"PAIRBRIDGE_HTTP_WRITE_TIMEOUT"`
}

// WebSocketConfig controls the socket surface (internal/connsup).
type WebSocketConfig struct {
	PingInterval time.Duration `yaml:"ping_interval" env:"PAIRBRIDGE_WS_PING_INTERVAL"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"PAIRBRIDGE_WS_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"PAIRBRIDGE_WS_WRITE_TIMEOUT"`
	WriteBuffer  int           `yaml:"write_buffer" env:"PAIRBRIDGE_WS_WRITE_BUFFER"`
}

// RedisConfig addresses the Shared Store's backing Redis instance.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"PAIRBRIDGE_REDIS_ADDR"`
	Password string `yaml:"password" env:"PAIRBRIDGE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"PAIRBRIDGE_REDIS_DB"`
}

// SQLiteConfig addresses the pkg/collaborators default repositories.
type SQLiteConfig struct {
	Path    string        `yaml:"path" env:"PAIRBRIDGE_SQLITE_PATH"`
	Timeout time.Duration `yaml:"timeout" env:"PAIRBRIDGE_SQLITE_TIMEOUT"`
}

// TimingConfig is the full set of durations and intervals the matching
// and session lifecycle depend on.
type TimingConfig struct {
	QueueTimeout         time.Duration `yaml:"queue_timeout" env:"PAIRBRIDGE_QUEUE_TIMEOUT"`
	MatchInterval        time.Duration `yaml:"match_interval" env:"PAIRBRIDGE_MATCH_INTERVAL"`
	QueueCleanupInterval time.Duration `yaml:"queue_cleanup_interval" env:"PAIRBRIDGE_QUEUE_CLEANUP_INTERVAL"`
	SessionTTL           time.Duration `yaml:"session_ttl" env:"PAIRBRIDGE_SESSION_TTL"`
	MaxSessionDuration   time.Duration `yaml:"max_session_duration" env:"PAIRBRIDGE_MAX_SESSION_DURATION"`
	InstanceTTL          time.Duration `yaml:"instance_ttl" env:"PAIRBRIDGE_INSTANCE_TTL"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" env:"PAIRBRIDGE_HEARTBEAT_INTERVAL"`
	PairLockTTL          time.Duration `yaml:"pair_lock_ttl" env:"PAIRBRIDGE_PAIR_LOCK_TTL"`
	SessionLockTTL       time.Duration `yaml:"session_lock_ttl" env:"PAIRBRIDGE_SESSION_LOCK_TTL"`
	SessionCleanupTick   time.Duration `yaml:"session_cleanup_tick" env:"PAIRBRIDGE_SESSION_CLEANUP_TICK"`
}

// RateLimitConfig backs internal/ratelimit's three token buckets.
type RateLimitConfig struct {
	ConnectPerMinutePerIP int           `yaml:"connect_per_minute_per_ip" env:"PAIRBRIDGE_RATE_CONNECT"`
	MessagesPerSecond     int           `yaml:"messages_per_second" env:"PAIRBRIDGE_RATE_WS_MSG"`
	QueueJoinBurst        int           `yaml:"queue_join_burst" env:"PAIRBRIDGE_RATE_QUEUE_JOIN"`
	QueueJoinWindow       time.Duration `yaml:"queue_join_window" env:"PAIRBRIDGE_RATE_QUEUE_JOIN_WINDOW"`
}

// DefaultConfig returns the documented production defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			WriteBuffer:  100,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
			DB:   0,
		},
		SQLite: SQLiteConfig{
			Path:    "./pairbridge.db",
			Timeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: "dev-secret-change-me",
		},
		Timing: TimingConfig{
			QueueTimeout:         60 * time.Second,
			MatchInterval:        2 * time.Second,
			QueueCleanupInterval: 10 * time.Second,
			SessionTTL:           2 * time.Hour,
			MaxSessionDuration:   time.Hour,
			InstanceTTL:          30 * time.Second,
			HeartbeatInterval:    10 * time.Second,
			PairLockTTL:          5 * time.Second,
			SessionLockTTL:       3 * time.Second,
			SessionCleanupTick:   5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			ConnectPerMinutePerIP: 10,
			MessagesPerSecond:     20,
			QueueJoinBurst:        3,
			QueueJoinWindow:       5 * time.Second,
		},
	}
}

// Validate rejects configurations that would misbehave at runtime rather
// than fail loudly at startup.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket timeouts must be positive")
	}
	if c.WebSocket.WriteBuffer <= 0 {
		return fmt.Errorf("websocket write buffer must be positive")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr cannot be empty")
	}
	if c.SQLite.Path == "" {
		return fmt.Errorf("sqlite path cannot be empty")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt secret cannot be empty")
	}
	if c.Timing.SessionTTL <= 0 || c.Timing.MaxSessionDuration <= 0 || c.Timing.InstanceTTL <= 0 {
		return fmt.Errorf("timing TTLs must be positive")
	}
	if c.RateLimit.MessagesPerSecond <= 0 {
		return fmt.Errorf("rate limit messages per second must be positive")
	}
	return nil
}

// LoadFromEnv returns defaults overridden by any PAIRBRIDGE_* environment
// variable present, using caarlos0/env's struct-tag parsing.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	return cfg, nil
}

// LoadFromFile reads a YAML (or JSON, which is a YAML subset) config file
// on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfigWithPrecedence implements file > environment > defaults.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			data, readErr := os.ReadFile(path)
			if readErr != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, readErr)
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}
