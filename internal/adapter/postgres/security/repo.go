// Package security implements persistence for security groups, their
// memberships, and the property-level permission rows they carry.
package security

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/tgreenfield/groundwork-backend/internal/adapter/postgres"
	"github.com/tgreenfield/groundwork-backend/internal/domain"
	"github.com/tgreenfield/groundwork-backend/internal/metrics"
)

var qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Repo provides security group persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new security repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// CreateGroup inserts a security group.
func (r *Repo) CreateGroup(ctx context.Context, g *domain.SecurityGroup) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("create_group").Inc()

	sql, args, err := qb.Insert("security_groups").
		Columns("id", "entity_id", "kind", "name", "created_at").
		Values(g.ID, g.EntityID, string(g.Kind), g.Name, g.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create group: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "security group", g.ID.String())
	}
	return nil
}

// GroupsForEntity returns the groups attached to an entity.
func (r *Repo) GroupsForEntity(ctx context.Context, entityID uuid.UUID) ([]domain.SecurityGroup, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("groups_for_entity").Inc()

	sql, args, err := qb.Select("id", "entity_id", "kind", "name", "created_at").
		From("security_groups").
		Where(sq.Eq{"entity_id": entityID}).
		OrderBy("kind").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build groups query: %w", err)
	}

	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.SecurityGroup
	for rows.Next() {
		var (
			g    domain.SecurityGroup
			kind string
		)
		if err := rows.Scan(&g.ID, &g.EntityID, &kind, &g.Name, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.Kind = domain.SecurityGroupKind(kind)
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// AddMember adds a user to a group. Adding an existing member is a no-op.
func (r *Repo) AddMember(ctx context.Context, groupID, userID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("add_member").Inc()

	const sql = `
		INSERT INTO group_members (group_id, user_id, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING`
	if _, err := querier.Exec(ctx, sql, groupID, userID, time.Now().UTC()); err != nil {
		return mapError(err, "group member", userID.String())
	}
	return nil
}

// RemoveMember removes a user from a group. Removing a non-member is a no-op.
func (r *Repo) RemoveMember(ctx context.Context, groupID, userID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("remove_member").Inc()

	sql, args, err := qb.Delete("group_members").
		Where(sq.Eq{"group_id": groupID, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build remove member: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "group member", userID.String())
	}
	return nil
}

// Grant writes one permission row. Re-granting the same (group, entity,
// property) replaces the flags, keeping group setup idempotent.
func (r *Repo) Grant(ctx context.Context, p *domain.Permission) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("grant").Inc()

	const sql = `
		INSERT INTO group_permissions (group_id, entity_id, property, can_read, can_edit, can_admin)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (group_id, entity_id, property)
		DO UPDATE SET can_read = EXCLUDED.can_read, can_edit = EXCLUDED.can_edit, can_admin = EXCLUDED.can_admin`
	if _, err := querier.Exec(ctx, sql, p.GroupID, p.EntityID, p.Property, p.Read, p.Edit, p.Admin); err != nil {
		return mapError(err, "permission", p.Property)
	}
	return nil
}

// GrantAll writes permission rows for many properties at once using a
// batch, one statement per property.
func (r *Repo) GrantAll(ctx context.Context, groupID, entityID uuid.UUID, grants map[string]domain.PermissionFlags) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("grant_all").Inc()

	if len(grants) == 0 {
		return nil
	}

	const sql = `
		INSERT INTO group_permissions (group_id, entity_id, property, can_read, can_edit, can_admin)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (group_id, entity_id, property)
		DO UPDATE SET can_read = EXCLUDED.can_read, can_edit = EXCLUDED.can_edit, can_admin = EXCLUDED.can_admin`

	batch := &pgx.Batch{}
	for property, flags := range grants {
		batch.Queue(sql, groupID, entityID, property, flags.Read, flags.Edit, flags.Admin)
	}

	results := querier.SendBatch(ctx, batch)
	defer results.Close()
	for range grants {
		if _, err := results.Exec(); err != nil {
			return mapError(err, "permission", entityID.String())
		}
	}
	return nil
}

// PermissionsFor resolves the effective membership-based grants a user holds
// on one entity. Flags are ORed across every group the user belongs to, any
// PUBLIC group attached to the entity, and any ORG_PUBLIC group when the
// user shares the entity's owning organization.
func (r *Repo) PermissionsFor(ctx context.Context, userID, entityID uuid.UUID) (map[string]domain.PermissionFlags, error) {
	all, err := r.PermissionsForBatch(ctx, userID, []uuid.UUID{entityID})
	if err != nil {
		return nil, err
	}
	return all[entityID], nil
}

// PermissionsForBatch is PermissionsFor across many entities in one round
// trip, used by the batch read path.
func (r *Repo) PermissionsForBatch(ctx context.Context, userID uuid.UUID, entityIDs []uuid.UUID) (map[uuid.UUID]map[string]domain.PermissionFlags, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("permissions_batch").Inc()

	result := make(map[uuid.UUID]map[string]domain.PermissionFlags, len(entityIDs))
	if len(entityIDs) == 0 {
		return result, nil
	}

	// ORG_PUBLIC resolves through the graph: the group grants when the user
	// entity and the secured entity both carry an active in_organization
	// edge to the same organization.
	const sql = `
		SELECT gp.entity_id, gp.property,
		       bool_or(gp.can_read), bool_or(gp.can_edit), bool_or(gp.can_admin)
		FROM group_permissions gp
		JOIN security_groups sg ON sg.id = gp.group_id
		LEFT JOIN group_members gm ON gm.group_id = sg.id AND gm.user_id = $1
		WHERE gp.entity_id = ANY($2)
		  AND (
		      gm.user_id IS NOT NULL
		      OR sg.kind = 'PUBLIC'
		      OR (sg.kind = 'ORG_PUBLIC' AND EXISTS (
		          SELECT 1
		          FROM edges eo
		          JOIN edges uo
		            ON uo.to_id = eo.to_id
		           AND uo.kind = 'in_organization'
		           AND uo.active
		           AND uo.from_id = $1
		          WHERE eo.from_id = gp.entity_id
		            AND eo.kind = 'in_organization'
		            AND eo.active
		      ))
		  )
		GROUP BY gp.entity_id, gp.property`

	rows, err := querier.Query(ctx, sql, userID, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entityID uuid.UUID
			property string
			flags    domain.PermissionFlags
		)
		if err := rows.Scan(&entityID, &property, &flags.Read, &flags.Edit, &flags.Admin); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		if result[entityID] == nil {
			result[entityID] = make(map[string]domain.PermissionFlags)
		}
		result[entityID][property] = flags
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}
	return result, nil
}

// DeleteForEntity removes the groups and permission rows of an entity.
// Membership rows go with the groups via cascade. Used by hard delete only.
func (r *Repo) DeleteForEntity(ctx context.Context, entityID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("delete_security").Inc()

	if _, err := querier.Exec(ctx, `DELETE FROM group_permissions WHERE entity_id = $1`, entityID); err != nil {
		return mapError(err, "permission", entityID.String())
	}
	if _, err := querier.Exec(ctx, `DELETE FROM security_groups WHERE entity_id = $1`, entityID); err != nil {
		return mapError(err, "security group", entityID.String())
	}
	return nil
}

// mapError converts pgx/pgconn errors into domain errors.
func mapError(err error, entity, id string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s %s: %w", entity, id, domain.ErrAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
		case "23514": // check_violation
			return fmt.Errorf("%s %s: %w", entity, id, domain.ErrValidation)
		}
	}

	return fmt.Errorf("%s %s: %w", entity, id, err)
}
