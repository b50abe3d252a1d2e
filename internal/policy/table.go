// Package policy holds the static role policy table: which powers each role
// carries and which properties it may read or write per entity type. The
// table is built once at startup and never mutated afterwards, so it is safe
// to share across requests without locking.
package policy

import (
	"github.com/google/uuid"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
)

// Definition is the full policy entry for one role.
type Definition struct {
	Powers         map[domain.Power]bool
	Grants         map[domain.EntityType]domain.GrantSet
	MaxSensitivity domain.Sensitivity
}

// Table resolves sessions against the static role definitions.
type Table struct {
	roles map[domain.Role]Definition
}

// HasPower reports whether any of the session's roles (global or scoped)
// carries the given power.
func (t *Table) HasPower(session domain.Session, power domain.Power) bool {
	for _, role := range session.AllRoles() {
		if def, ok := t.roles[role]; ok && def.Powers[power] {
			return true
		}
	}
	return false
}

// GrantsFor unions the per-property grants of every role the session holds
// for the given entity. Scoped roles apply only when scopeID matches their
// scope. A role that does not mention the entity type grants nothing for it.
func (t *Table) GrantsFor(session domain.Session, entityType domain.EntityType, scopeID uuid.UUID) domain.GrantSet {
	merged := make(domain.GrantSet)
	for _, role := range session.EffectiveRoles(scopeID) {
		def, ok := t.roles[role]
		if !ok {
			continue
		}
		if grants, ok := def.Grants[entityType]; ok {
			merged.Merge(grants)
		}
	}
	return merged
}

// GrantShape returns the union of grants for a plain role list, independent
// of any instance. Used for default permission shapes at creation time and
// for the resolver's role-grant cache.
func (t *Table) GrantShape(roles []domain.Role, entityType domain.EntityType) domain.GrantSet {
	merged := make(domain.GrantSet)
	for _, role := range roles {
		def, ok := t.roles[role]
		if !ok {
			continue
		}
		if grants, ok := def.Grants[entityType]; ok {
			merged.Merge(grants)
		}
	}
	return merged
}

// CeilingFor returns the highest sensitivity any of the roles may read.
// A session with no known roles gets the lowest ceiling (fail closed).
func (t *Table) CeilingFor(roles []domain.Role) domain.Sensitivity {
	ceiling := domain.SensitivityLow
	for _, role := range roles {
		if def, ok := t.roles[role]; ok && def.MaxSensitivity.AtLeast(ceiling) {
			ceiling = def.MaxSensitivity
		}
	}
	return ceiling
}

// Roles returns the set of roles the table defines.
func (t *Table) Roles() []domain.Role {
	out := make([]domain.Role, 0, len(t.roles))
	for role := range t.roles {
		out = append(out, role)
	}
	return out
}

// ---------------------------------------------------------------------------
// Grant construction helpers (used by the static data in roles.go)
// ---------------------------------------------------------------------------

func readWrite(props ...string) domain.GrantSet {
	g := make(domain.GrantSet, len(props))
	for _, p := range props {
		g[p] = domain.PropertyGrant{Read: true, Edit: true}
	}
	return g
}

func readOnly(props ...string) domain.GrantSet {
	g := make(domain.GrantSet, len(props))
	for _, p := range props {
		g[p] = domain.PropertyGrant{Read: true}
	}
	return g
}

func powers(ps ...domain.Power) map[domain.Power]bool {
	m := make(map[domain.Power]bool, len(ps))
	for _, p := range ps {
		m[p] = true
	}
	return m
}
