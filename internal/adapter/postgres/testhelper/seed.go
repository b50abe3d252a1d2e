package testhelper

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
)

// uniqueSuffix returns a short unique string for generating non-conflicting test data.
func uniqueSuffix() string {
	return uuid.New().String()[:8]
}

// SeedEntity inserts a base entity of the given type and returns it.
// No properties or security groups are attached.
func SeedEntity(t *testing.T, pool *pgxpool.Pool, entityType domain.EntityType, createdBy uuid.UUID) domain.BaseEntity {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	e := domain.BaseEntity{
		ID:        uuid.New(),
		Type:      entityType,
		Labels:    entityType.Labels(),
		CreatedBy: createdBy,
		CreatedAt: now,
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO base_entities (id, type, labels, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.ID, string(e.Type), e.Labels, e.CreatedBy, e.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedEntity insert: %v", err)
	}
	return e
}

// SeedProperty inserts an active canonical scalar version for an entity and
// returns it. value is marshaled to JSON.
func SeedProperty(t *testing.T, pool *pgxpool.Pool, entityID uuid.UUID, key string, value any) domain.AttributeVersion {
	t.Helper()
	ctx := context.Background()

	raw, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("testhelper: SeedProperty marshal: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	v := domain.AttributeVersion{
		ID:        uuid.New(),
		EntityID:  entityID,
		Key:       key,
		Value:     raw,
		Active:    true,
		CreatedAt: now,
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO properties (id, entity_id, key, value, is_list, active, created_at)
		 VALUES ($1, $2, $3, $4, FALSE, TRUE, $5)`,
		v.ID, v.EntityID, v.Key, v.Value, v.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedProperty insert: %v", err)
	}
	return v
}

// SeedGroup inserts a security group attached to an entity and returns it.
func SeedGroup(t *testing.T, pool *pgxpool.Pool, entityID uuid.UUID, kind domain.SecurityGroupKind) domain.SecurityGroup {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	g := domain.SecurityGroup{
		ID:        uuid.New(),
		EntityID:  &entityID,
		Kind:      kind,
		Name:      string(kind) + "-" + uniqueSuffix(),
		CreatedAt: now,
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO security_groups (id, entity_id, kind, name, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.EntityID, string(g.Kind), g.Name, g.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedGroup insert: %v", err)
	}
	return g
}

// SeedEdge inserts an active edge between two entities.
func SeedEdge(t *testing.T, pool *pgxpool.Pool, fromID, toID uuid.UUID, kind string) domain.Edge {
	t.Helper()
	ctx := context.Background()

	e := domain.Edge{
		ID:        uuid.New(),
		FromID:    fromID,
		ToID:      toID,
		Kind:      kind,
		Active:    true,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	_, err := pool.Exec(ctx,
		`INSERT INTO edges (id, from_id, to_id, kind, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.FromID, e.ToID, e.Kind, e.Active, e.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedEdge insert: %v", err)
	}
	return e
}

// SeedMembership adds a user to a group.
func SeedMembership(t *testing.T, pool *pgxpool.Pool, groupID, userID uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		groupID, userID,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedMembership insert: %v", err)
	}
}

// SeedPermission writes a permission row for a group on one property.
func SeedPermission(t *testing.T, pool *pgxpool.Pool, groupID, entityID uuid.UUID, property string, flags domain.PermissionFlags) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx,
		`INSERT INTO group_permissions (group_id, entity_id, property, can_read, can_edit, can_admin)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (group_id, entity_id, property)
		 DO UPDATE SET can_read = EXCLUDED.can_read, can_edit = EXCLUDED.can_edit, can_admin = EXCLUDED.can_admin`,
		groupID, entityID, property, flags.Read, flags.Edit, flags.Admin,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedPermission insert: %v", err)
	}
}

// SeedSecuredEntity seeds an entity with one group of the given kind, the
// user as a member, and read/edit grants on the given properties. Returns
// the entity and the group.
func SeedSecuredEntity(t *testing.T, pool *pgxpool.Pool, entityType domain.EntityType, userID uuid.UUID, kind domain.SecurityGroupKind, properties ...string) (domain.BaseEntity, domain.SecurityGroup) {
	t.Helper()

	e := SeedEntity(t, pool, entityType, userID)
	g := SeedGroup(t, pool, e.ID, kind)
	SeedMembership(t, pool, g.ID, userID)

	flags := domain.PermissionFlags{
		Read:  kind.CanRead(),
		Edit:  kind.CanEdit(),
		Admin: kind.CanAdmin(),
	}
	for _, p := range properties {
		SeedPermission(t, pool, g.ID, e.ID, p, flags)
	}
	return e, g
}

// SeedChangeset inserts a pending changeset and returns it.
func SeedChangeset(t *testing.T, pool *pgxpool.Pool, createdBy uuid.UUID) domain.Changeset {
	t.Helper()
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	cs := domain.Changeset{
		ID:        uuid.New(),
		Status:    domain.ChangesetPending,
		CreatedBy: createdBy,
		CreatedAt: now,
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO changesets (id, status, created_by, created_at)
		 VALUES ($1, $2, $3, $4)`,
		cs.ID, string(cs.Status), cs.CreatedBy, cs.CreatedAt,
	)
	if err != nil {
		t.Fatalf("testhelper: SeedChangeset insert: %v", err)
	}
	return cs
}
