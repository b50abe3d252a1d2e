// Package property implements the versioned attribute store. Writes never
// update a value in place: each write inserts a new version row and
// deactivates the prior one, so every attribute carries its own history.
package property

import (
	"context"
	"encoding/json"
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

// Repo provides versioned attribute persistence backed by PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new property repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// SetOptions control how a write lands.
type SetOptions struct {
	// ChangesetID, when set, makes the write a pending overlay version that
	// does not touch the canonical active version.
	ChangesetID *uuid.UUID
	// ExpectedPrior, when set, makes the write compare-and-set: it succeeds
	// only if the given version is still the active one. A stale prior
	// yields domain.ErrConflict.
	ExpectedPrior *uuid.UUID
	// IsList marks the attribute as list-valued. List writes append an
	// element version instead of superseding the previous one.
	IsList bool
}

// Set writes a new version of an attribute and returns it. For scalar
// canonical writes the previous active version is deactivated in the same
// transaction-scoped querier; callers run Set inside RunInTx.
func (r *Repo) Set(ctx context.Context, entityID uuid.UUID, key string, value json.RawMessage, opts SetOptions) (*domain.AttributeVersion, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	now := time.Now().UTC()
	version := &domain.AttributeVersion{
		ID:          uuid.New(),
		EntityID:    entityID,
		Key:         key,
		Value:       value,
		IsList:      opts.IsList,
		Active:      opts.ChangesetID == nil,
		ChangesetID: opts.ChangesetID,
		CreatedAt:   now,
	}

	// Scalar writes supersede the prior version of their slot first: the
	// canonical active version for canonical writes, the earlier staged
	// version for changeset writes. Promotion would otherwise activate two
	// rows for one key and trip the partial unique index.
	if !opts.IsList {
		if opts.ChangesetID == nil {
			if err := r.deactivatePrior(ctx, querier, entityID, key, opts.ExpectedPrior, now); err != nil {
				return nil, err
			}
		} else if err := r.deactivatePriorOverlay(ctx, querier, entityID, key, *opts.ChangesetID, now); err != nil {
			return nil, err
		}
	}

	sql, args, err := qb.Insert("properties").
		Columns("id", "entity_id", "key", "value", "is_list", "active", "changeset_id", "created_at").
		Values(version.ID, version.EntityID, version.Key, version.Value, version.IsList, version.Active, version.ChangesetID, version.CreatedAt).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build set property: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return nil, mapError(err, "property", key)
	}

	switch {
	case opts.ChangesetID != nil:
		metrics.PropertyWrites.WithLabelValues("overlay").Inc()
	case opts.IsList:
		metrics.PropertyWrites.WithLabelValues("list").Inc()
	default:
		metrics.PropertyWrites.WithLabelValues("scalar").Inc()
	}

	return version, nil
}

// deactivatePrior retires the active canonical version of a scalar key.
// With expectedPrior set the update is a compare-and-set: zero rows means
// the expected version is gone and the caller lost the race.
func (r *Repo) deactivatePrior(ctx context.Context, querier postgres.Querier, entityID uuid.UUID, key string, expectedPrior *uuid.UUID, now time.Time) error {
	builder := qb.Update("properties").
		Set("active", false).
		Set("deactivated_at", now).
		Where(sq.Eq{"entity_id": entityID, "key": key, "active": true}).
		Where("changeset_id IS NULL").
		Where("NOT is_list")
	if expectedPrior != nil {
		builder = builder.Where(sq.Eq{"id": *expectedPrior})
	}

	sql, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build deactivate prior: %w", err)
	}

	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, "property", key)
	}
	if expectedPrior != nil && tag.RowsAffected() == 0 {
		metrics.CASConflicts.Inc()
		return fmt.Errorf("property %q: stale version %s: %w", key, *expectedPrior, domain.ErrConflict)
	}
	return nil
}

// deactivatePriorOverlay retires an earlier staged version of a scalar key
// within the same changeset, keeping at most one live overlay row per
// (entity, key, changeset).
func (r *Repo) deactivatePriorOverlay(ctx context.Context, querier postgres.Querier, entityID uuid.UUID, key string, changesetID uuid.UUID, now time.Time) error {
	sql, args, err := qb.Update("properties").
		Set("deactivated_at", now).
		Where(sq.Eq{"entity_id": entityID, "key": key, "changeset_id": changesetID}).
		Where("deactivated_at IS NULL").
		Where("NOT is_list").
		ToSql()
	if err != nil {
		return fmt.Errorf("build deactivate prior overlay: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "property", key)
	}
	return nil
}

// Read returns the visible version of a scalar attribute. With a changeset
// id the pending overlay version wins over the canonical one.
func (r *Repo) Read(ctx context.Context, entityID uuid.UUID, key string, changesetID *uuid.UUID) (*domain.AttributeVersion, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	builder := qb.Select("id", "entity_id", "key", "value", "is_list", "active", "changeset_id", "created_at", "deactivated_at").
		From("properties").
		Where(sq.Eq{"entity_id": entityID, "key": key})
	if changesetID != nil {
		// Overlay rows sort before canonical rows.
		builder = builder.Where(sq.Or{
			sq.And{sq.Eq{"active": true}, sq.Eq{"changeset_id": nil}},
			sq.And{sq.Eq{"changeset_id": *changesetID}, sq.Eq{"deactivated_at": nil}},
		}).OrderBy("changeset_id NULLS LAST", "created_at DESC")
	} else {
		builder = builder.Where(sq.Eq{"active": true}).Where(sq.Eq{"changeset_id": nil})
	}

	sql, args, err := builder.Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build read property: %w", err)
	}

	var v domain.AttributeVersion
	err = querier.QueryRow(ctx, sql, args...).
		Scan(&v.ID, &v.EntityID, &v.Key, &v.Value, &v.IsList, &v.Active, &v.ChangesetID, &v.CreatedAt, &v.DeactivatedAt)
	if err != nil {
		return nil, mapError(err, "property", key)
	}
	return &v, nil
}

// ReadAll returns all visible attribute versions of an entity, overlay
// versions replacing their canonical counterparts when changesetID is set.
// List attributes contribute every active element version.
func (r *Repo) ReadAll(ctx context.Context, entityID uuid.UUID, changesetID *uuid.UUID) ([]domain.AttributeVersion, error) {
	all, err := r.ReadAllBatch(ctx, []uuid.UUID{entityID}, changesetID)
	if err != nil {
		return nil, err
	}
	return all[entityID], nil
}

// ReadAllBatch is ReadAll for many entities in one round trip, used by the
// batch read path.
func (r *Repo) ReadAllBatch(ctx context.Context, entityIDs []uuid.UUID, changesetID *uuid.UUID) (map[uuid.UUID][]domain.AttributeVersion, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("read_properties_batch").Inc()

	result := make(map[uuid.UUID][]domain.AttributeVersion, len(entityIDs))
	if len(entityIDs) == 0 {
		return result, nil
	}

	builder := qb.Select("id", "entity_id", "key", "value", "is_list", "active", "changeset_id", "created_at", "deactivated_at").
		From("properties").
		Where(sq.Eq{"entity_id": entityIDs})
	if changesetID != nil {
		builder = builder.Where(sq.Or{
			sq.And{sq.Eq{"active": true}, sq.Eq{"changeset_id": nil}},
			sq.And{sq.Eq{"changeset_id": *changesetID}, sq.Eq{"deactivated_at": nil}},
		})
	} else {
		builder = builder.Where(sq.Eq{"active": true}).Where(sq.Eq{"changeset_id": nil})
	}

	sql, args, err := builder.OrderBy("entity_id", "key", "created_at").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build read all: %w", err)
	}

	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query properties: %w", err)
	}
	defer rows.Close()

	// scalar overlay versions shadow canonical ones per (entity, key)
	type slot struct{ index int }
	shadow := make(map[[2]string]slot)

	for rows.Next() {
		var v domain.AttributeVersion
		if err := rows.Scan(&v.ID, &v.EntityID, &v.Key, &v.Value, &v.IsList, &v.Active, &v.ChangesetID, &v.CreatedAt, &v.DeactivatedAt); err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}

		if changesetID != nil && !v.IsList {
			key := [2]string{v.EntityID.String(), v.Key}
			if prev, ok := shadow[key]; ok {
				// Later row for the same scalar slot. Overlay rows win.
				if v.ChangesetID != nil {
					result[v.EntityID][prev.index] = v
				}
				continue
			}
			shadow[key] = slot{index: len(result[v.EntityID])}
		}

		result[v.EntityID] = append(result[v.EntityID], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate properties: %w", err)
	}
	return result, nil
}

// History returns all versions of one attribute, newest first.
func (r *Repo) History(ctx context.Context, entityID uuid.UUID, key string) ([]domain.AttributeVersion, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	metrics.GraphQueries.WithLabelValues("property_history").Inc()

	sql, args, err := qb.Select("id", "entity_id", "key", "value", "is_list", "active", "changeset_id", "created_at", "deactivated_at").
		From("properties").
		Where(sq.Eq{"entity_id": entityID, "key": key}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history: %w", err)
	}

	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var versions []domain.AttributeVersion
	for rows.Next() {
		var v domain.AttributeVersion
		if err := rows.Scan(&v.ID, &v.EntityID, &v.Key, &v.Value, &v.IsList, &v.Active, &v.ChangesetID, &v.CreatedAt, &v.DeactivatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return versions, nil
}

// Deactivate retires one version by id, used to remove a single list
// element.
func (r *Repo) Deactivate(ctx context.Context, versionID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	sql, args, err := qb.Update("properties").
		Set("active", false).
		Set("deactivated_at", time.Now().UTC()).
		Where(sq.Eq{"id": versionID, "active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build deactivate: %w", err)
	}

	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return mapError(err, "property version", versionID.String())
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("property version %s: %w", versionID, domain.ErrNotFound)
	}
	return nil
}

// DeactivateAll retires every active canonical version of an entity. Used
// by soft delete.
func (r *Repo) DeactivateAll(ctx context.Context, entityID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	sql, args, err := qb.Update("properties").
		Set("active", false).
		Set("deactivated_at", time.Now().UTC()).
		Where(sq.Eq{"entity_id": entityID, "active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build deactivate all: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "property", entityID.String())
	}
	return nil
}

// PromoteForEntity makes the pending overlay versions of a changeset the
// canonical ones for a single entity: canonical scalar versions that have
// a live overlay counterpart are deactivated, then the live overlay rows
// become active canonical rows. Overlay rows superseded within the
// changeset turn into plain historical versions. Runs inside the
// per-entity finalize transaction and is idempotent against re-drives.
func (r *Repo) PromoteForEntity(ctx context.Context, changesetID, entityID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)
	now := time.Now().UTC()

	const retire = `
		UPDATE properties p
		SET active = FALSE, deactivated_at = $3
		WHERE p.entity_id = $2
		  AND p.active
		  AND p.changeset_id IS NULL
		  AND NOT p.is_list
		  AND EXISTS (
		      SELECT 1 FROM properties o
		      WHERE o.entity_id = p.entity_id
		        AND o.key = p.key
		        AND o.changeset_id = $1
		        AND o.deactivated_at IS NULL
		  )`
	if _, err := querier.Exec(ctx, retire, changesetID, entityID, now); err != nil {
		return mapError(err, "changeset", changesetID.String())
	}

	const promote = `
		UPDATE properties
		SET active = (deactivated_at IS NULL), changeset_id = NULL
		WHERE changeset_id = $1 AND entity_id = $2`
	if _, err := querier.Exec(ctx, promote, changesetID, entityID); err != nil {
		return mapError(err, "changeset", changesetID.String())
	}
	return nil
}

// DiscardForEntity retires the pending overlay versions of a rejected
// changeset for one entity. Canonical versions are untouched. The changeset
// link is cleared so the retention purge can claim the rows once the
// changeset itself is gone. Idempotent.
func (r *Repo) DiscardForEntity(ctx context.Context, changesetID, entityID uuid.UUID) error {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	sql, args, err := qb.Update("properties").
		Set("active", false).
		Set("changeset_id", nil).
		Set("deactivated_at", sq.Expr("COALESCE(deactivated_at, ?)", time.Now().UTC())).
		Where(sq.Eq{"changeset_id": changesetID, "entity_id": entityID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build discard: %w", err)
	}

	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		return mapError(err, "changeset", changesetID.String())
	}
	return nil
}

// PurgeDeactivatedBefore removes superseded versions older than the cutoff
// and returns how many rows went away. Active versions and pending overlay
// versions are never purged.
func (r *Repo) PurgeDeactivatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	querier := postgres.QuerierFromCtx(ctx, r.pool)

	sql, args, err := qb.Delete("properties").
		Where("NOT active").
		Where("changeset_id IS NULL").
		Where(sq.Lt{"deactivated_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge: %w", err)
	}

	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("purge properties: %w", err)
	}
	metrics.JanitorPurged.WithLabelValues("properties").Add(float64(tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// mapError converts pgx/pgconn errors into domain errors.
func mapError(err error, entity, key string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %q: %w", entity, key, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", entity, key, domain.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation: two concurrent scalar activations
			return fmt.Errorf("%s %q: %w", entity, key, domain.ErrConflict)
		case "23503": // foreign_key_violation: entity vanished
			return fmt.Errorf("%s %q: %w", entity, key, domain.ErrNotFound)
		case "23514": // check_violation
			return fmt.Errorf("%s %q: %w", entity, key, domain.ErrValidation)
		}
	}

	return fmt.Errorf("%s %q: %w", entity, key, err)
}
