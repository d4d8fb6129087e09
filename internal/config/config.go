// Package config defines the top-level configuration of the call pool
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CALLPOOL_* environment variables.
type Config struct {
	Oracle      OracleConfig       `toml:"oracle"`
	Premium     PremiumConfig      `toml:"premium"`
	Pool        PoolConfig         `toml:"pool"`
	Registry    RegistryConfig     `toml:"registry"`
	Collections []CollectionConfig `toml:"collections"`
	Postgres    PostgresConfig     `toml:"postgres"`
	Redis       RedisConfig        `toml:"redis"`
	S3          S3Config           `toml:"s3"`
	Archive     ArchiveConfig      `toml:"archive"`
	Server      ServerConfig       `toml:"server"`
	Notify      NotifyConfig       `toml:"notify"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
}

// OracleConfig holds the price oracle's roles and initial asset list.
type OracleConfig struct {
	// Owner administers roles and the asset list.
	Owner string `toml:"owner"`
	// Operator is the only account allowed to post prices.
	Operator string `toml:"operator"`
	// EmergencyAdmins may pause and unpause price updates.
	EmergencyAdmins []string `toml:"emergency_admins"`
	// Assets are registered at startup, in order.
	Assets []string `toml:"assets"`
	// Revision is the implementation revision; bumping it allows one more
	// Initialize against persisted state.
	Revision uint64 `toml:"revision"`
}

// PremiumConfig points at the premium mesh. An empty path selects the
// built-in mesh.
type PremiumConfig struct {
	MeshPath string `toml:"mesh_path"`
}

// PoolConfig holds the protocol constants shared by every pool.
type PoolConfig struct {
	// StrikeGaps are strike premiums over spot in basis points, ascending.
	StrikeGaps []uint64 `toml:"strike_gaps"`
	// Durations are the option lifetimes on offer, ascending.
	Durations []duration `toml:"durations"`

	// MinimumPremiumWei is the smallest premium a depositor may demand.
	MinimumPremiumWei string `toml:"minimum_premium_wei"`
	// MinimumStrikeWei is the floor under every strike price.
	MinimumStrikeWei string `toml:"minimum_strike_wei"`

	// ReserveBps is the protocol's share of each premium.
	ReserveBps uint64 `toml:"reserve_bps"`
	// VolMultiplier scales oracle vol into the premium curve's units.
	VolMultiplier uint64 `toml:"vol_multiplier"`

	// DefaultStrikeGapIdx and DefaultDurationIdx seed the preferences of
	// a deposit that does not set its own.
	DefaultStrikeGapIdx uint8 `toml:"default_strike_gap_idx"`
	DefaultDurationIdx  uint8 `toml:"default_duration_idx"`
}

// RegistryConfig identifies the pool registry.
type RegistryConfig struct {
	// Address seeds the derived pool addresses.
	Address string `toml:"address"`
	// Owner creates pools and administers them.
	Owner string `toml:"owner"`
}

// CollectionConfig declares a collection whose pool is created at startup.
type CollectionConfig struct {
	Address string `toml:"address"`
	Name    string `toml:"name"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	// Enabled switches events, audit, payouts and credits from memory to
	// PostgreSQL.
	Enabled bool `toml:"enabled"`
	// DSN overrides the individual connection fields when set.
	DSN      string `toml:"dsn"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Database string `toml:"database"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	SSLMode  string `toml:"ssl_mode"`

	PoolMaxConns int `toml:"pool_max_conns"`
	PoolMinConns int `toml:"pool_min_conns"`

	// RunMigrations applies the embedded schema at startup.
	RunMigrations bool `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// Enabled moves oracle state, locks, rate limits, replay protection
	// and the event bus into Redis.
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// KeyPrefix namespaces every key, so deployments can share a server.
	KeyPrefix string `toml:"key_prefix"`
	// StreamMaxLen bounds the event replay stream.
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled bool `toml:"enabled"`
	// Endpoint is empty for AWS, or the URL of a compatible store.
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	// UseSSL applies when Endpoint has no scheme.
	UseSSL bool `toml:"use_ssl"`
	// ForcePathStyle is needed by MinIO and most self-hosted stores.
	ForcePathStyle bool `toml:"force_path_style"`
}

// ArchiveConfig controls the event archiver.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// Cron is a five-field schedule in UTC.
	Cron string `toml:"cron"`
	// RetentionDays is how old an event must be before it is archived.
	RetentionDays int `toml:"retention_days"`
	// Prune deletes archived events from the event store.
	Prune bool `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "72h", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "72h" or "30s".
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
	Port int `toml:"port"`
	// CORSOrigins lists allowed browser origins; empty or "*" allows any.
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required on every route but /api/health.
	APIKey string `toml:"api_key"`
	// RateLimit is the number of requests per RateWindow per caller; zero
	// disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// SignatureSkew is how far a signed request's timestamp may drift from
	// the server clock. Repeats are refused for twice this long.
	SignatureSkew duration `toml:"signature_skew"`
	// ChainID is the EIP-712 domain chain id callers sign against.
	ChainID int64 `toml:"chain_id"`
	// Treasury settles payouts and confirms the inbound ETH that backs
	// attached value.
	Treasury string `toml:"treasury"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	// TelegramToken and TelegramChatID enable the Telegram sender when
	// both are set.
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
	// DiscordWebhookURL enables the Discord sender.
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// Events filters what is sent by event kind; empty sends everything.
	Events []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in callpool.example.toml.
func Defaults() Config {
	day := 24 * time.Hour
	return Config{
		Pool: PoolConfig{
			StrikeGaps:          []uint64{0, 1000, 2000, 3000, 5000, 10000},
			Durations:           []duration{{3 * day}, {7 * day}, {14 * day}, {28 * day}},
			MinimumPremiumWei:   "100000000000000",
			MinimumStrikeWei:    "100000000000000000",
			ReserveBps:          1000,
			VolMultiplier:       10,
			DefaultStrikeGapIdx: 1,
			DefaultDurationIdx:  3,
		},
		Oracle: OracleConfig{
			Revision: 1,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "nftcall",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "callpool",
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "callpool-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:     120,
			RateWindow:    duration{time.Minute},
			SignatureSkew: duration{5 * time.Minute},
			ChainID:       1,
		},
		Notify: NotifyConfig{
			Events: []string{"open_call", "exercise_call", "paused", "unpaused"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"server":  true,
	"archive": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Roles
	checkAddr := func(name, v string, required bool) {
		if v == "" {
			if required {
				errs = append(errs, name+" must be set")
			}
			return
		}
		if !common.IsHexAddress(v) || common.HexToAddress(v) == (common.Address{}) {
			errs = append(errs, fmt.Sprintf("%s: invalid address %q", name, v))
		}
	}
	checkAddr("oracle: owner", c.Oracle.Owner, true)
	checkAddr("oracle: operator", c.Oracle.Operator, true)
	for _, a := range c.Oracle.EmergencyAdmins {
		checkAddr("oracle: emergency_admins", a, true)
	}
	for _, a := range c.Oracle.Assets {
		checkAddr("oracle: assets", a, true)
	}
	if c.Oracle.Revision == 0 {
		errs = append(errs, "oracle: revision must be >= 1")
	}
	checkAddr("registry: address", c.Registry.Address, true)
	checkAddr("registry: owner", c.Registry.Owner, true)
	checkAddr("server: treasury", c.Server.Treasury, false)

	seen := make(map[common.Address]bool)
	for i, col := range c.Collections {
		checkAddr(fmt.Sprintf("collections[%d]: address", i), col.Address, true)
		addr := common.HexToAddress(col.Address)
		if seen[addr] {
			errs = append(errs, fmt.Sprintf("collections[%d]: duplicate address %s", i, col.Address))
		}
		seen[addr] = true
	}

	// Pool parameters
	if err := c.Pool.validate(); err != nil {
		errs = append(errs, err.Error())
	}

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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	if c.Archive.Enabled || strings.EqualFold(c.Mode, "archive") {
		if strings.TrimSpace(c.Archive.Cron) == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be positive when rate_limit is set")
	}
	if c.Server.SignatureSkew.Duration <= 0 {
		errs = append(errs, "server: signature_skew must be positive")
	}
	if c.Server.ChainID <= 0 {
		errs = append(errs, "server: chain_id must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validate checks the amount fields and table indexes. Table ordering is
// checked again when the pool parameters are built.
func (p PoolConfig) validate() error {
	for _, f := range []struct{ name, value string }{
		{"minimum_premium_wei", p.MinimumPremiumWei},
		{"minimum_strike_wei", p.MinimumStrikeWei},
	} {
		if _, err := domain.ParseAmount(f.value); err != nil {
			return fmt.Errorf("pool: %s: %w", f.name, err)
		}
	}
	if p.ReserveBps > 10_000 {
		return fmt.Errorf("pool: reserve_bps %d exceeds 10000", p.ReserveBps)
	}
	if p.VolMultiplier == 0 {
		return fmt.Errorf("pool: vol_multiplier must be > 0")
	}
	if int(p.DefaultStrikeGapIdx) >= len(p.StrikeGaps) || int(p.DefaultDurationIdx) >= len(p.Durations) {
		return fmt.Errorf("pool: default indexes out of range")
	}
	return nil
}

// DurationList returns the configured option durations.
func (p PoolConfig) DurationList() []time.Duration {
	out := make([]time.Duration, len(p.Durations))
	for i, d := range p.Durations {
		out[i] = d.Duration
	}
	return out
}
