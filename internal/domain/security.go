package domain

import (
	"time"

	"github.com/google/uuid"
)

// SecurityGroup is a named grantor of permissions to its member users.
// Groups are created alongside an entity or reused from a broader scope
// (org-level public groups).
type SecurityGroup struct {
	ID        uuid.UUID
	EntityID  *uuid.UUID // owning entity; nil for org/global scope groups
	Kind      SecurityGroupKind
	Name      string
	CreatedAt time.Time
}

// Permission is a (property, flags) grant tied to a group and a subject
// entity. Permissions are written once at entity creation and never mutated
// directly by end users.
type Permission struct {
	GroupID  uuid.UUID
	EntityID uuid.UUID
	Property string
	Read     bool
	Edit     bool
	Admin    bool
}

// PermissionFlags is the full capability triple carried by a permission row.
// Admin gates destructive operations (delete, group management).
type PermissionFlags struct {
	Read  bool
	Edit  bool
	Admin bool
}

// PropertyGrant is the per-property capability pair the resolver works with.
type PropertyGrant struct {
	Read bool
	Edit bool
}

// GrantSet maps property names to their resolved capability pair.
type GrantSet map[string]PropertyGrant

// Merge ORs another grant set into this one. Any granting path wins.
func (g GrantSet) Merge(other GrantSet) {
	for prop, grant := range other {
		cur := g[prop]
		cur.Read = cur.Read || grant.Read
		cur.Edit = cur.Edit || grant.Edit
		g[prop] = cur
	}
}

// Clone returns an independent copy of the grant set.
func (g GrantSet) Clone() GrantSet {
	out := make(GrantSet, len(g))
	for prop, grant := range g {
		out[prop] = grant
	}
	return out
}
