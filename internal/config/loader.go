package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RACEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RACEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty).
func applyEnvOverrides(cfg *Config) {
	// ── Backend ──
	setStr(&cfg.Backend.Environment, "RACEBOT_BACKEND_ENVIRONMENT")
	setStr(&cfg.Backend.Environment, "RACEBOT_ENV") // short alias
	setStr(&cfg.Backend.BaseURL, "RACEBOT_BACKEND_BASE_URL")
	setStr(&cfg.Backend.RealtimePath, "RACEBOT_BACKEND_REALTIME_PATH")

	// ── Player ──
	setStr(&cfg.Player.Pubkey, "RACEBOT_PLAYER_PUBKEY")
	setStr(&cfg.Player.Username, "RACEBOT_PLAYER_USERNAME")

	// ── Realtime ──
	setDuration(&cfg.Realtime.HandshakeTimeout, "RACEBOT_REALTIME_HANDSHAKE_TIMEOUT")
	setInt(&cfg.Realtime.MaxAttempts, "RACEBOT_REALTIME_MAX_ATTEMPTS")
	setDuration(&cfg.Realtime.BaseDelay, "RACEBOT_REALTIME_BASE_DELAY")
	setDuration(&cfg.Realtime.MaxDelay, "RACEBOT_REALTIME_MAX_DELAY")
	setDuration(&cfg.Realtime.SettleDelay, "RACEBOT_REALTIME_SETTLE_DELAY")
	setDuration(&cfg.Realtime.HealthInterval, "RACEBOT_REALTIME_HEALTH_INTERVAL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "RACEBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "RACEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "RACEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RACEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RACEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RACEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RACEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RACEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RACEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RACEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RACEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RACEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RACEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RACEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RACEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RACEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RACEBOT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.CacheTTLMinutes, "RACEBOT_REDIS_CACHE_TTL_MINUTES")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RACEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RACEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RACEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "RACEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RACEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RACEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RACEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RACEBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "RACEBOT_S3_PREFIX")

	// ── Bets ──
	setInt(&cfg.Bets.MaxPlacesPerWindow, "RACEBOT_BETS_MAX_PLACES_PER_WINDOW")
	setDuration(&cfg.Bets.PlaceWindow, "RACEBOT_BETS_PLACE_WINDOW")
	setDuration(&cfg.Bets.ClaimLockTTL, "RACEBOT_BETS_CLAIM_LOCK_TTL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RACEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RACEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "RACEBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "RACEBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.WriteLimitPerMinute, "RACEBOT_SERVER_WRITE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RACEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RACEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RACEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RACEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RACEBOT_MODE")
	setStr(&cfg.LogLevel, "RACEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
