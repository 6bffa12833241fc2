// Package config defines the top-level configuration for the race daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RACEBOT_* environment variables.
type Config struct {
	Backend  BackendConfig  `toml:"backend"`
	Player   PlayerConfig   `toml:"player"`
	Realtime RealtimeConfig `toml:"realtime"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Bets     BetsConfig     `toml:"bets"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PlayerConfig identifies the wallet the daemon acts for. Authorization is
// done by the wallet itself; only the public key is needed here.
type PlayerConfig struct {
	Pubkey   string `toml:"pubkey"`
	Username string `toml:"username"`
}

// RealtimeConfig tunes the realtime session and its reconnect policy.
type RealtimeConfig struct {
	HandshakeTimeout duration `toml:"handshake_timeout"`
	MaxAttempts      int      `toml:"max_attempts"`
	BaseDelay        duration `toml:"base_delay"`
	MaxDelay         duration `toml:"max_delay"`
	SettleDelay      duration `toml:"settle_delay"`
	HealthInterval   duration `toml:"health_interval"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr            string `toml:"addr"`
	Password        string `toml:"password"`
	DB              int    `toml:"db"`
	PoolSize        int    `toml:"pool_size"`
	MaxRetries      int    `toml:"max_retries"`
	TLSEnabled      bool   `toml:"tls_enabled"`
	CacheTTLMinutes int    `toml:"cache_ttl_minutes"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// BetsConfig throttles bet placement and guards payout claims.
type BetsConfig struct {
	MaxPlacesPerWindow int      `toml:"max_places_per_window"`
	PlaceWindow        duration `toml:"place_window"`
	ClaimLockTTL       duration `toml:"claim_lock_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`

	// WriteLimitPerMinute caps POST requests per client IP. Zero disables it.
	WriteLimitPerMinute int `toml:"write_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Backend: BackendConfig{
			Environment:  EnvDevelopment,
			RealtimePath: "/ws",
		},
		Realtime: RealtimeConfig{
			HandshakeTimeout: duration{15 * time.Second},
			MaxAttempts:      3,
			BaseDelay:        duration{3 * time.Second},
			MaxDelay:         duration{10 * time.Second},
			SettleDelay:      duration{time.Second},
			HealthInterval:   duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "racebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			PoolSize:        20,
			MaxRetries:      3,
			CacheTTLMinutes: 60,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "racebot-archive",
			ForcePathStyle: true,
			Prefix:         "races",
		},
		Bets: BetsConfig{
			MaxPlacesPerWindow: 3,
			PlaceWindow:        duration{10 * time.Second},
			ClaimLockTTL:       duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:                8080,
			CORSOrigins:         []string{"http://localhost:3000", "http://localhost:8081"},
			WriteLimitPerMinute: 30,
		},
		Notify: NotifyConfig{
			Events: []string{"race_settled", "bet_won", "payout_claimed", "realtime_down"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"watch":  true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: watch, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Backend
	if _, err := c.Backend.ResolveBaseURL(); err != nil {
		errs = append(errs, "backend: "+err.Error())
	} else if _, err := c.Backend.ResolveRealtimeURL(); err != nil {
		errs = append(errs, "backend: "+err.Error())
	}

	// Player: the watcher needs a wallet to follow bets for.
	if strings.ToLower(c.Mode) != "server" && strings.TrimSpace(c.Player.Pubkey) == "" {
		errs = append(errs, "player: pubkey must be set for mode "+c.Mode)
	}

	// Realtime
	if c.Realtime.MaxAttempts < 0 {
		errs = append(errs, "realtime: max_attempts must be >= 0")
	}
	if c.Realtime.BaseDelay.Duration <= 0 {
		errs = append(errs, "realtime: base_delay must be > 0")
	}
	if c.Realtime.MaxDelay.Duration < c.Realtime.BaseDelay.Duration {
		errs = append(errs, "realtime: max_delay must be >= base_delay")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Bets
	if c.Bets.MaxPlacesPerWindow < 1 {
		errs = append(errs, "bets: max_places_per_window must be >= 1")
	}
	if c.Bets.ClaimLockTTL.Duration <= 0 {
		errs = append(errs, "bets: claim_lock_ttl must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
