package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// BaseEntity is the identity node for any domain object. All business
// attributes live in separate AttributeVersion rows, never on the node itself.
type BaseEntity struct {
	ID          uuid.UUID
	Type        EntityType
	Labels      []string
	CreatedBy   uuid.UUID
	Sensitivity *Sensitivity
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// IsDeleted reports whether the entity has been soft-deleted.
func (e *BaseEntity) IsDeleted() bool { return e.DeletedAt != nil }

// AttributeVersion is one immutable write of a single attribute value.
// For scalar attributes at most one version per (entity, key) is active
// outside changeset overlays; list attributes keep one active version per
// element. Superseded versions are deactivated, never removed, which doubles
// as a lightweight history log.
type AttributeVersion struct {
	ID            uuid.UUID
	EntityID      uuid.UUID
	Key           string
	Value         json.RawMessage
	IsList        bool
	Active        bool
	ChangesetID   *uuid.UUID
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// Edge is a directed, versioned relationship between two entities.
// Edges created under a changeset start inactive and are flipped active
// on approval.
type Edge struct {
	ID            uuid.UUID
	FromID        uuid.UUID
	ToID          uuid.UUID
	Kind          string
	Active        bool
	ChangesetID   *uuid.UUID
	CreatedAt     time.Time
	DeactivatedAt *time.Time
}

// MetaProperties are always readable regardless of grants or sensitivity
// redaction: they identify the entity without exposing business data.
var MetaProperties = map[string]bool{
	"id":        true,
	"type":      true,
	"createdAt": true,
}
