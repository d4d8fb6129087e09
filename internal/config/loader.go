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
// built-in defaults, applies CALLPOOL_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CALLPOOL_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Oracle ──
	setStr(&cfg.Oracle.Owner, "CALLPOOL_ORACLE_OWNER")
	setStr(&cfg.Oracle.Operator, "CALLPOOL_ORACLE_OPERATOR")
	setStringSlice(&cfg.Oracle.EmergencyAdmins, "CALLPOOL_ORACLE_EMERGENCY_ADMINS")
	setStringSlice(&cfg.Oracle.Assets, "CALLPOOL_ORACLE_ASSETS")
	setUint64(&cfg.Oracle.Revision, "CALLPOOL_ORACLE_REVISION")

	// ── Premium / pool ──
	setStr(&cfg.Premium.MeshPath, "CALLPOOL_PREMIUM_MESH_PATH")
	setStr(&cfg.Pool.MinimumPremiumWei, "CALLPOOL_POOL_MINIMUM_PREMIUM_WEI")
	setStr(&cfg.Pool.MinimumStrikeWei, "CALLPOOL_POOL_MINIMUM_STRIKE_WEI")
	setUint64(&cfg.Pool.ReserveBps, "CALLPOOL_POOL_RESERVE_BPS")

	// ── Registry ──
	setStr(&cfg.Registry.Address, "CALLPOOL_REGISTRY_ADDRESS")
	setStr(&cfg.Registry.Owner, "CALLPOOL_REGISTRY_OWNER")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "CALLPOOL_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "CALLPOOL_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "CALLPOOL_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "CALLPOOL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CALLPOOL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CALLPOOL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CALLPOOL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CALLPOOL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CALLPOOL_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CALLPOOL_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CALLPOOL_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CALLPOOL_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CALLPOOL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CALLPOOL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CALLPOOL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CALLPOOL_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CALLPOOL_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CALLPOOL_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CALLPOOL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "CALLPOOL_REDIS_KEY_PREFIX")
	setInt64(&cfg.Redis.StreamMaxLen, "CALLPOOL_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CALLPOOL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CALLPOOL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CALLPOOL_S3_REGION")
	setStr(&cfg.S3.Bucket, "CALLPOOL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CALLPOOL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CALLPOOL_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CALLPOOL_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CALLPOOL_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "CALLPOOL_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "CALLPOOL_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "CALLPOOL_ARCHIVE_RETENTION_DAYS")
	setBool(&cfg.Archive.Prune, "CALLPOOL_ARCHIVE_PRUNE")

	// ── Server ──
	setInt(&cfg.Server.Port, "CALLPOOL_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CALLPOOL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CALLPOOL_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CALLPOOL_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CALLPOOL_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SignatureSkew, "CALLPOOL_SERVER_SIGNATURE_SKEW")
	setInt64(&cfg.Server.ChainID, "CALLPOOL_SERVER_CHAIN_ID")
	setStr(&cfg.Server.Treasury, "CALLPOOL_SERVER_TREASURY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CALLPOOL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CALLPOOL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CALLPOOL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CALLPOOL_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CALLPOOL_MODE")
	setStr(&cfg.LogLevel, "CALLPOOL_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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
