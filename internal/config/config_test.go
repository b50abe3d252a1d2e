package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validEnv sets the minimum required env vars for a valid config.
func validEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_DSN", "postgres://u:p@localhost:5432/testdb")
	t.Setenv("AUTH_JWT_SECRET", "this-is-a-very-long-jwt-secret-for-testing-32+")
}

func writeYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

const validYAML = `
server:
  host: "127.0.0.1"
  port: 9090
  read_timeout: "5s"
  write_timeout: "15s"

database:
  dsn: "postgres://u:p@localhost:5432/testdb"
  max_conns: 10
  min_conns: 2

auth:
  jwt_secret: "this-is-a-very-long-jwt-secret-for-testing-32+"
  access_token_ttl: "30m"

events:
  driver: "memory"

janitor:
  schedule: "0 4 * * *"
  version_retention_days: 180
  changeset_retention_days: 30

log:
  level: "debug"
  format: "text"
`

func TestLoad_ValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, validYAML)
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("server.host = %q", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("server.port = %d", cfg.Server.Port)
	}
	if cfg.Database.MaxConns != 10 {
		t.Errorf("database.max_conns = %d", cfg.Database.MaxConns)
	}
	if cfg.Auth.AccessTokenTTL != 30*time.Minute {
		t.Errorf("auth.access_token_ttl = %v", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Janitor.VersionRetentionDays != 180 {
		t.Errorf("janitor.version_retention_days = %d", cfg.Janitor.VersionRetentionDays)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("log.format = %q", cfg.Log.Format)
	}
}

func TestLoad_EnvOnly_Defaults(t *testing.T) {
	validEnv(t)
	t.Setenv("CONFIG_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default server.port = %d", cfg.Server.Port)
	}
	if cfg.Events.Driver != "memory" {
		t.Errorf("default events.driver = %q", cfg.Events.Driver)
	}
	if cfg.Changeset.MaxEntitiesPerChangeset != 500 {
		t.Errorf("default changeset.max_entities_per_changeset = %d", cfg.Changeset.MaxEntitiesPerChangeset)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics should default to enabled")
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeYAML(t, dir, validYAML)
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_PORT", "7070")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env should override yaml, got port %d", cfg.Server.Port)
	}
}

func TestLoad_MissingDSN(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "this-is-a-very-long-jwt-secret-for-testing-32+")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("CONFIG_PATH", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_DSN")
	}
}

func TestValidate_ShortJWTSecret(t *testing.T) {
	validEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "short")
	t.Setenv("CONFIG_PATH", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for short jwt secret")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error should mention jwt_secret: %v", err)
	}
}

func TestValidate_BadEventsDriver(t *testing.T) {
	validEnv(t)
	t.Setenv("EVENTS_DRIVER", "kafka")
	t.Setenv("CONFIG_PATH", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown events driver")
	}
}

func TestValidate_RedisDriverRequiresAddr(t *testing.T) {
	validEnv(t)
	t.Setenv("EVENTS_DRIVER", "redis")
	t.Setenv("EVENTS_REDIS_ADDR", "")
	t.Setenv("CONFIG_PATH", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for redis driver without addr")
	}
}
