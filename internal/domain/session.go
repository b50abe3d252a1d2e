package domain

import (
	"github.com/google/uuid"
)

// ScopedRole is a role held only within a specific resource, e.g. project
// membership.
type ScopedRole struct {
	Role     Role
	ScopeID  uuid.UUID
	ScopeTyp EntityType
}

// Session is the request-scoped identity: who is calling, which roles apply,
// and, when editing inside a changeset, which overlay reads and writes go to.
// Sessions are never persisted; they are rebuilt per request from credentials.
type Session struct {
	UserID      uuid.UUID
	Roles       []Role
	ScopedRoles []ScopedRole
	Changeset   *uuid.UUID
	Anonymous   bool
}

// EffectiveRoles returns global roles plus scoped roles applicable to the
// given resource id. Scoped roles outside the resource do not apply.
func (s Session) EffectiveRoles(scopeID uuid.UUID) []Role {
	roles := make([]Role, 0, len(s.Roles)+len(s.ScopedRoles))
	roles = append(roles, s.Roles...)
	for _, sr := range s.ScopedRoles {
		if sr.ScopeID == scopeID {
			roles = append(roles, sr.Role)
		}
	}
	return roles
}

// AllRoles returns every role the session holds, global and scoped alike.
// Used for instance-independent checks (powers, sensitivity ceilings).
func (s Session) AllRoles() []Role {
	roles := make([]Role, 0, len(s.Roles)+len(s.ScopedRoles))
	roles = append(roles, s.Roles...)
	for _, sr := range s.ScopedRoles {
		roles = append(roles, sr.Role)
	}
	return roles
}
