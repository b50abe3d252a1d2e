package config

import (
	"fmt"
)

// Validate performs business-rule validation on the loaded configuration.
// It must be called after loading; Load calls it automatically.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters (got %d)", len(c.Auth.JWTSecret))
	}

	switch c.Events.Driver {
	case "memory":
	case "redis":
		if c.Events.RedisAddr == "" {
			return fmt.Errorf("events.redis_addr is required when events.driver is redis")
		}
	default:
		return fmt.Errorf("events.driver must be memory or redis (got %q)", c.Events.Driver)
	}

	if c.Janitor.VersionRetentionDays <= 0 {
		return fmt.Errorf("janitor.version_retention_days must be > 0 (got %d)", c.Janitor.VersionRetentionDays)
	}
	if c.Janitor.ChangesetRetentionDays <= 0 {
		return fmt.Errorf("janitor.changeset_retention_days must be > 0 (got %d)", c.Janitor.ChangesetRetentionDays)
	}
	if c.Changeset.MaxEntitiesPerChangeset <= 0 {
		return fmt.Errorf("changeset.max_entities_per_changeset must be > 0 (got %d)", c.Changeset.MaxEntitiesPerChangeset)
	}

	return nil
}
