// Package changeset implements persistence for changesets and the set of
// entities each one touches.
package changeset

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

// Repo provides changeset persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new changeset repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Create inserts a new pending changeset.
func (r *Repo) Create(ctx context.Context, cs *domain.Changeset) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("create_changeset").Inc()

	sql, args, err := qb.Insert("changesets").
		Columns("id", "status", "created_by", "created_at").
		Values(cs.ID, string(cs.Status), cs.CreatedBy, cs.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build create changeset: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, cs.ID)
	}
	return nil
}

// Get returns a changeset by id.
func (r *Repo) Get(ctx context.Context, id uuid.UUID) (*domain.Changeset, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("get_changeset").Inc()

	sql, args, err := qb.Select("id", "status", "created_by", "created_at", "finalized_at").
		From("changesets").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get changeset: %w", err)
	}

	var (
		cs     domain.Changeset
		status string
	)
	err = querier.QueryRow(ctx, sql, args...).
		Scan(&cs.ID, &status, &cs.CreatedBy, &cs.CreatedAt, &cs.FinalizedAt)
	if err != nil {
		return nil, mapError(err, id)
	}
	cs.Status = domain.ChangesetStatus(status)
	return &cs, nil
}

// Finalize flips a pending changeset into a terminal status. The update is
// guarded on status='PENDING' so two concurrent finalizations cannot both
// win; the loser gets domain.ErrConflict.
func (r *Repo) Finalize(ctx context.Context, id uuid.UUID, status domain.ChangesetStatus) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("finalize_changeset").Inc()

	sql, args, err := qb.Update("changesets").
		Set("status", string(status)).
		Set("finalized_at", time.Now().UTC()).
		Where(sq.Eq{"id": id, "status": string(domain.ChangesetPending)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build finalize: %w", err)
	}

	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, id)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already finalized. Disambiguate for the caller.
		cs, getErr := r.Get(ctx, id)
		if getErr != nil {
			return getErr
		}
		if cs.Status == status {
			// Re-drive of the same decision; treat as done.
			return nil
		}
		return fmt.Errorf("changeset %s already %s: %w", id, cs.Status, domain.ErrConflict)
	}
	return nil
}

// LinkEntity records that a changeset touches an entity. Linking twice keeps
// the strongest flags so a created-in-changeset entity never loses its
// teardown marker.
func (r *Repo) LinkEntity(ctx context.Context, link *domain.ChangesetEntity) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("link_entity").Inc()

	const sql = `
		INSERT INTO changeset_entities (changeset_id, entity_id, created_in_changeset, delete_on_reject)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (changeset_id, entity_id)
		DO UPDATE SET
		    created_in_changeset = changeset_entities.created_in_changeset OR EXCLUDED.created_in_changeset,
		    delete_on_reject     = changeset_entities.delete_on_reject OR EXCLUDED.delete_on_reject`
	if _, err := querier.Exec(ctx, sql, link.ChangesetID, link.EntityID, link.CreatedInChangeset, link.DeleteOnReject); err != nil {
		return mapError(err, link.ChangesetID)
	}
	return nil
}

// Entities returns the links of a changeset in insertion-stable order.
func (r *Repo) Entities(ctx context.Context, changesetID uuid.UUID) ([]domain.ChangesetEntity, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("changeset_entities").Inc()

	sql, args, err := qb.Select("changeset_id", "entity_id", "created_in_changeset", "delete_on_reject").
		From("changeset_entities").
		Where(sq.Eq{"changeset_id": changesetID}).
		OrderBy("entity_id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build entities query: %w", err)
	}

	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query changeset entities: %w", err)
	}
	defer rows.Close()

	var links []domain.ChangesetEntity
	for rows.Next() {
		var l domain.ChangesetEntity
		if err := rows.Scan(&l.ChangesetID, &l.EntityID, &l.CreatedInChangeset, &l.DeleteOnReject); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

// CountEntities returns how many entities a changeset touches, for the
// per-changeset size cap.
func (r *Repo) CountEntities(ctx context.Context, changesetID uuid.UUID) (int, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	sql, args, err := qb.Select("COUNT(*)").
		From("changeset_entities").
		Where(sq.Eq{"changeset_id": changesetID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int
	if err := querier.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, mapError(err, changesetID)
	}
	return count, nil
}

// PurgeFinalizedBefore removes finalized changesets and their links older
// than the cutoff, returning how many changesets went away.
func (r *Repo) PurgeFinalizedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	const purgeLinks = `
		DELETE FROM changeset_entities
		WHERE changeset_id IN (
		    SELECT id FROM changesets
		    WHERE status <> 'PENDING' AND finalized_at < $1
		)`
	if _, err := querier.Exec(ctx, purgeLinks, cutoff); err != nil {
		return 0, fmt.Errorf("purge changeset links: %w", err)
	}

	const purge = `
		DELETE FROM changesets
		WHERE status <> 'PENDING' AND finalized_at < $1`
	tag, err := querier.Exec(ctx, purge, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge changesets: %w", err)
	}
	metrics.JanitorPurged.WithLabelValues("changesets").Add(float64(tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// mapError converts pgx/pgconn errors into domain errors.
func mapError(err error, id uuid.UUID) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("changeset %s: %w", id, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("changeset %s: %w", id, domain.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("changeset %s: %w", id, domain.ErrAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("changeset %s: %w", id, domain.ErrNotFound)
		case "23514": // check_violation
			return fmt.Errorf("changeset %s: %w", id, domain.ErrValidation)
		}
	}

	return fmt.Errorf("changeset %s: %w", id, err)
}
