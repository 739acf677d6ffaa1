// Package config centralizes process-wide configuration (§6's
// configuration table), loaded once at startup the way the teacher's
// internal/database/postgres.go and redis.go loaded theirs: viper.SetDefault
// plus viper.BindEnv per setting, read into a typed struct. This
// repository's internal/database/redis.go reads its settings from Config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration surface of §6: store connection,
// shared auth secret, outbox dispatch target and timeout, the chaos
// hook's failure probability, and the optional in-process cron trigger.
type Config struct {
	DatabaseURL  string
	DatabaseName string

	// Pool* tunes the *sql.DB connection pool the way the teacher's
	// internal/database/postgres.go's GetConfig does.
	PoolMaxOpenConns    int
	PoolMaxIdleConns    int
	PoolConnMaxLifetime time.Duration

	APIKey string

	OutboxTargetURL  string
	OutboxTargetPath string
	OutboxTargetHost string
	OutboxTimeout    time.Duration

	ChaosProbability float64

	// SystemOverdraftAccounts is the SYSTEM_OVERDRAFT set shared between
	// the journal poster's balance guard and its post-apply sweep
	// (§4.4). Defaults to {ESCROW_POOL} per §4.4.
	SystemOverdraftAccounts []string

	CronEnabled  bool
	CronInterval time.Duration

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	HTTPPort string
}

// Load reads configuration from environment variables (and any bound
// config file viper has already been pointed at), falling back to the
// defaults below. It never fails: a missing APIKey is a runtime
// Misconfigured error on first protected request, not a startup error,
// mirroring the teacher's "continue without Redis" tolerance in
// InitRedis.
func Load() *Config {
	viper.SetDefault("database.url", "")
	viper.SetDefault("database.name", "ledger")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.BindEnv("database.url", "DATABASE_URL")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	viper.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	viper.BindEnv("database.conn_max_lifetime", "DATABASE_CONN_MAX_LIFETIME")

	viper.SetDefault("auth.api_key", "")
	viper.BindEnv("auth.api_key", "LEDGER_API_KEY")

	viper.SetDefault("outbox.target_url", "")
	viper.SetDefault("outbox.target_path", "/webhooks/ledger-events")
	viper.SetDefault("outbox.target_host", "http://localhost:4000")
	viper.SetDefault("outbox.timeout_ms", 5000)
	viper.BindEnv("outbox.target_url", "OUTBOX_TARGET_URL")
	viper.BindEnv("outbox.target_path", "OUTBOX_TARGET_PATH")
	viper.BindEnv("outbox.target_host", "OUTBOX_TARGET_HOST")
	viper.BindEnv("outbox.timeout_ms", "OUTBOX_TIMEOUT_MS")

	viper.SetDefault("chaos.probability", 0.0)
	viper.BindEnv("chaos.probability", "CHAOS_PROBABILITY")

	viper.SetDefault("ledger.system_overdraft_accounts", "ESCROW_POOL")
	viper.BindEnv("ledger.system_overdraft_accounts", "SYSTEM_OVERDRAFT_ACCOUNTS")

	viper.SetDefault("cron.enabled", false)
	viper.SetDefault("cron.interval_ms", 30000)
	viper.BindEnv("cron.enabled", "OUTBOX_CRON_ENABLED")
	viper.BindEnv("cron.interval_ms", "OUTBOX_CRON_INTERVAL_MS")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.SetDefault("http.port", "8080")
	viper.BindEnv("http.port", "HTTP_PORT")

	return &Config{
		DatabaseURL:             viper.GetString("database.url"),
		DatabaseName:            viper.GetString("database.name"),
		PoolMaxOpenConns:        viper.GetInt("database.max_open_conns"),
		PoolMaxIdleConns:        viper.GetInt("database.max_idle_conns"),
		PoolConnMaxLifetime:     viper.GetDuration("database.conn_max_lifetime"),
		APIKey:                  viper.GetString("auth.api_key"),
		OutboxTargetURL:         viper.GetString("outbox.target_url"),
		OutboxTargetPath:        viper.GetString("outbox.target_path"),
		OutboxTargetHost:        viper.GetString("outbox.target_host"),
		OutboxTimeout:           time.Duration(viper.GetInt("outbox.timeout_ms")) * time.Millisecond,
		ChaosProbability:        viper.GetFloat64("chaos.probability"),
		SystemOverdraftAccounts: splitAccounts(viper.GetString("ledger.system_overdraft_accounts")),
		CronEnabled:             viper.GetBool("cron.enabled"),
		CronInterval:            time.Duration(viper.GetInt("cron.interval_ms")) * time.Millisecond,
		RedisHost:               viper.GetString("redis.host"),
		RedisPort:               viper.GetString("redis.port"),
		RedisPassword:           viper.GetString("redis.password"),
		RedisDB:                 viper.GetInt("redis.db"),
		HTTPPort:                viper.GetString("http.port"),
	}
}

func splitAccounts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// IsSystemOverdraft reports whether accountID is exempt from the
// non-negative-balance guard (§4.4, §3 Account invariant).
func (c *Config) IsSystemOverdraft(accountID string) bool {
	for _, id := range c.SystemOverdraftAccounts {
		if id == accountID {
			return true
		}
	}
	return false
}

// DSN builds a lib/pq connection string, preferring an explicit
// DatabaseURL (the "DB URI" row of §6) and otherwise assembling one from
// its parts the way the teacher's DBConfig does.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		viper.GetString("database.host"), viper.GetString("database.port"),
		viper.GetString("database.user"), viper.GetString("database.password"),
		c.DatabaseName, viper.GetString("database.ssl_mode"))
}

// RedisAddr mirrors InitRedis's host:port join.
func (c *Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
