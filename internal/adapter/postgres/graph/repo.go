// Package graph implements node and edge primitives over PostgreSQL.
// Every base entity is a row in base_entities; relationships are rows in
// edges. Pattern queries are built with squirrel rather than ad hoc SQL
// strings so filters stay type-checked at the boundary.
package graph

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

// Repo provides base-entity and edge persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new graph repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// ---------------------------------------------------------------------------
// Entities
// ---------------------------------------------------------------------------

// CreateEntity inserts a new base entity node.
func (r *Repo) CreateEntity(ctx context.Context, e *domain.BaseEntity) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("create_entity").Inc()

	var sensitivity *string
	if e.Sensitivity != nil {
		s := string(*e.Sensitivity)
		sensitivity = &s
	}

	sql, args, err := qb.Insert("base_entities").
		Columns("id", "type", "labels", "created_by", "sensitivity", "created_at").
		Values(e.ID, string(e.Type), e.Labels, e.CreatedBy, sensitivity, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create entity: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "entity", e.ID)
	}
	return nil
}

// GetEntity returns a base entity by id. Soft-deleted entities map to
// domain.ErrNotFound.
func (r *Repo) GetEntity(ctx context.Context, id uuid.UUID) (*domain.BaseEntity, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("get_entity").Inc()

	sql, args, err := qb.Select("id", "type", "labels", "created_by", "sensitivity", "created_at", "deleted_at").
		From("base_entities").
		Where(sq.Eq{"id": id}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get entity: %w", err)
	}

	var (
		e           domain.BaseEntity
		typ         string
		sensitivity *string
	)
	err = querier.QueryRow(ctx, sql, args...).
		Scan(&e.ID, &typ, &e.Labels, &e.CreatedBy, &sensitivity, &e.CreatedAt, &e.DeletedAt)
	if err != nil {
		return nil, mapError(err, "entity", id)
	}

	entityType, ok := domain.ParseEntityType(typ)
	if !ok {
		return nil, fmt.Errorf("entity %s: unknown type %q: %w", id, typ, domain.ErrInternal)
	}
	e.Type = entityType

	if sensitivity != nil {
		s := domain.Sensitivity(*sensitivity)
		e.Sensitivity = &s
	}

	return &e, nil
}

// GetEntities returns base entities by id in one round trip. Missing or
// soft-deleted ids are simply absent from the result map.
func (r *Repo) GetEntities(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.BaseEntity, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("get_entities").Inc()

	result := make(map[uuid.UUID]*domain.BaseEntity, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	sql, args, err := qb.Select("id", "type", "labels", "created_by", "sensitivity", "created_at", "deleted_at").
		From("base_entities").
		Where(sq.Eq{"id": ids}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get entities: %w", err)
	}

	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query entities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e           domain.BaseEntity
			typ         string
			sensitivity *string
		)
		if err := rows.Scan(&e.ID, &typ, &e.Labels, &e.CreatedBy, &sensitivity, &e.CreatedAt, &e.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		entityType, ok := domain.ParseEntityType(typ)
		if !ok {
			return nil, fmt.Errorf("entity %s: unknown type %q: %w", e.ID, typ, domain.ErrInternal)
		}
		e.Type = entityType
		if sensitivity != nil {
			s := domain.Sensitivity(*sensitivity)
			e.Sensitivity = &s
		}
		result[e.ID] = &e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return result, nil
}

// EntityExists reports whether an entity exists and is not soft-deleted.
func (r *Repo) EntityExists(ctx context.Context, id uuid.UUID) (bool, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("entity_exists").Inc()

	sql, args, err := qb.Select("1").
		From("base_entities").
		Where(sq.Eq{"id": id}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build entity exists: %w", err)
	}

	var one int
	err = querier.QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("entity exists: %w", err)
	}
	return true, nil
}

// UpdateSensitivity mirrors the sensitivity property onto the node so the
// resolver can apply the ceiling without reading properties first.
func (r *Repo) UpdateSensitivity(ctx context.Context, id uuid.UUID, s domain.Sensitivity) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("update_sensitivity").Inc()

	sql, args, err := qb.Update("base_entities").
		Set("sensitivity", string(s)).
		Where(sq.Eq{"id": id}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build update sensitivity: %w", err)
	}

	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, "entity", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SoftDeleteEntity marks an entity deleted without removing the node,
// preserving referential history.
func (r *Repo) SoftDeleteEntity(ctx context.Context, id uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("soft_delete_entity").Inc()

	sql, args, err := qb.Update("base_entities").
		Set("deleted_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		Where("deleted_at IS NULL").
		ToSql()
	if err != nil {
		return fmt.Errorf("build soft delete: %w", err)
	}

	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, "entity", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// HardDeleteEntity removes an entity and its attached subgraph (properties,
// edges, permissions, changeset links). Used only when tearing down entities
// created inside a rejected changeset.
func (r *Repo) HardDeleteEntity(ctx context.Context, id uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("hard_delete_entity").Inc()

	statements := []string{
		`DELETE FROM properties WHERE entity_id = $1`,
		`DELETE FROM edges WHERE from_id = $1 OR to_id = $1`,
		`DELETE FROM group_permissions WHERE entity_id = $1`,
		`DELETE FROM security_groups WHERE entity_id = $1`,
		`DELETE FROM changeset_entities WHERE entity_id = $1`,
		`DELETE FROM base_entities WHERE id = $1`,
	}
	for _, stmt := range statements {
		if _, err := querier.Exec(ctx, stmt, id); err != nil {
			return mapError(err, "entity", id)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Edges
// ---------------------------------------------------------------------------

// CreateEdge inserts a relationship edge. Edges created under a changeset
// start inactive; they are flipped active when the changeset is approved.
func (r *Repo) CreateEdge(ctx context.Context, e *domain.Edge) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("create_edge").Inc()

	sql, args, err := qb.Insert("edges").
		Columns("id", "from_id", "to_id", "kind", "active", "changeset_id", "created_at").
		Values(e.ID, e.FromID, e.ToID, e.Kind, e.Active, e.ChangesetID, e.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create edge: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "edge", e.ID)
	}
	return nil
}

// Edges returns active edges leaving an entity, optionally filtered by kind.
// When changesetID is set, pending edges of that changeset are included.
func (r *Repo) Edges(ctx context.Context, fromID uuid.UUID, kind string, changesetID *uuid.UUID) ([]domain.Edge, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("edges").Inc()

	builder := qb.Select("id", "from_id", "to_id", "kind", "active", "changeset_id", "created_at", "deactivated_at").
		From("edges").
		Where(sq.Eq{"from_id": fromID})
	if kind != "" {
		builder = builder.Where(sq.Eq{"kind": kind})
	}
	if changesetID != nil {
		builder = builder.Where(sq.Or{
			sq.And{sq.Eq{"active": true}, sq.Eq{"changeset_id": nil}},
			sq.Eq{"changeset_id": *changesetID},
		})
	} else {
		builder = builder.Where(sq.Eq{"active": true}).Where(sq.Eq{"changeset_id": nil})
	}

	sql, args, err := builder.OrderBy("created_at").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build edges query: %w", err)
	}

	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var result []domain.Edge
	for rows.Next() {
		var e domain.Edge
		if err := rows.Scan(&e.ID, &e.FromID, &e.ToID, &e.Kind, &e.Active, &e.ChangesetID, &e.CreatedAt, &e.DeactivatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}

	if result == nil {
		result = []domain.Edge{}
	}
	return result, nil
}

// DeactivateEdgesForEntity deactivates every active edge touching an entity.
// Used by soft delete.
func (r *Repo) DeactivateEdgesForEntity(ctx context.Context, entityID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("deactivate_edges").Inc()

	sql, args, err := qb.Update("edges").
		Set("active", false).
		Set("deactivated_at", time.Now().UTC()).
		Where(sq.Or{sq.Eq{"from_id": entityID}, sq.Eq{"to_id": entityID}}).
		Where(sq.Eq{"active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build deactivate edges: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "edge", entityID)
	}
	return nil
}

// PromoteEdges flips pending edges of a changeset touching an entity to
// active and clears the changeset link.
func (r *Repo) PromoteEdges(ctx context.Context, changesetID, entityID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("promote_edges").Inc()

	sql, args, err := qb.Update("edges").
		Set("active", true).
		Set("changeset_id", nil).
		Where(sq.Eq{"changeset_id": changesetID}).
		Where(sq.Or{sq.Eq{"from_id": entityID}, sq.Eq{"to_id": entityID}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build promote edges: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "edge", entityID)
	}
	return nil
}

// DiscardEdges deactivates pending edges of a changeset touching an entity.
// Canonical active edges are untouched.
func (r *Repo) DiscardEdges(ctx context.Context, changesetID, entityID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("discard_edges").Inc()

	sql, args, err := qb.Update("edges").
		Set("active", false).
		Set("deactivated_at", time.Now().UTC()).
		Where(sq.Eq{"changeset_id": changesetID}).
		Where(sq.Or{sq.Eq{"from_id": entityID}, sq.Eq{"to_id": entityID}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build discard edges: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "edge", entityID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Error mapping
// ---------------------------------------------------------------------------

// mapError converts pgx/pgconn errors into domain errors.
func mapError(err error, entity string, id uuid.UUID) error {
	if err == nil {
		return nil
	}

	// context errors pass through as-is
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}

	// pgx.ErrNoRows -> domain.ErrNotFound
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, domain.ErrNotFound)
	}

	// PgError codes
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

	// Everything else: wrap with context
	return fmt.Errorf("%s %s: %w", entity, id, err)
}
