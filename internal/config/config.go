package config

import (
	"time"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Events    EventsConfig    `yaml:"events"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Changeset ChangesetConfig `yaml:"changeset"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"SERVER_PORT"             env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"                env-required:"true"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"5"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"       env:"AUTH_JWT_SECRET"       env-required:"true"`
	JWTIssuer      string        `yaml:"jwt_issuer"       env:"AUTH_JWT_ISSUER"       env-default:"groundwork"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl" env:"AUTH_ACCESS_TOKEN_TTL" env-default:"15m"`
}

// EventsConfig selects and configures the event bus.
// Driver "memory" keeps events in-process; "redis" publishes via pub/sub so
// multiple instances see changeset finalizations.
type EventsConfig struct {
	Driver        string `yaml:"driver"         env:"EVENTS_DRIVER"         env-default:"memory"`
	RedisAddr     string `yaml:"redis_addr"     env:"EVENTS_REDIS_ADDR"     env-default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" env:"EVENTS_REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db"       env:"EVENTS_REDIS_DB"       env-default:"0"`
	ChannelPrefix string `yaml:"channel_prefix" env:"EVENTS_CHANNEL_PREFIX" env-default:"groundwork"`
}

// JanitorConfig drives the scheduled maintenance job.
type JanitorConfig struct {
	Schedule               string `yaml:"schedule"                 env:"JANITOR_SCHEDULE"                 env-default:"0 3 * * *"`
	VersionRetentionDays   int    `yaml:"version_retention_days"   env:"JANITOR_VERSION_RETENTION_DAYS"   env-default:"365"`
	ChangesetRetentionDays int    `yaml:"changeset_retention_days" env:"JANITOR_CHANGESET_RETENTION_DAYS" env-default:"90"`
}

// ChangesetConfig tunes the staged-edit engine.
type ChangesetConfig struct {
	MaxEntitiesPerChangeset int `yaml:"max_entities_per_changeset" env:"CHANGESET_MAX_ENTITIES" env-default:"500"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
	Path    string `yaml:"path"    env:"METRICS_PATH"    env-default:"/metrics"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}
