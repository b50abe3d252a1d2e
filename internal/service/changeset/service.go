// Package changeset implements the staged-edit overlay: opening changesets,
// and finalizing them by promoting or discarding the staged versions per
// entity. Staging itself happens through the lifecycle service with the
// session's changeset set.
package changeset

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
	"github.com/tgreenfield/groundwork-backend/internal/event"
	"github.com/tgreenfield/groundwork-backend/internal/metrics"
	"github.com/tgreenfield/groundwork-backend/internal/policy"
)

type changesetRepo interface {
	Create(ctx context.Context, cs *domain.Changeset) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Changeset, error)
	Finalize(ctx context.Context, id uuid.UUID, status domain.ChangesetStatus) error
	Entities(ctx context.Context, changesetID uuid.UUID) ([]domain.ChangesetEntity, error)
}

type propertyRepo interface {
	PromoteForEntity(ctx context.Context, changesetID, entityID uuid.UUID) error
	DiscardForEntity(ctx context.Context, changesetID, entityID uuid.UUID) error
}

type graphRepo interface {
	PromoteEdges(ctx context.Context, changesetID, entityID uuid.UUID) error
	DiscardEdges(ctx context.Context, changesetID, entityID uuid.UUID) error
	HardDeleteEntity(ctx context.Context, id uuid.UUID) error
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Service manages changeset state transitions.
type Service struct {
	log        *slog.Logger
	changesets changesetRepo
	properties propertyRepo
	graph      graphRepo
	policies   *policy.Table
	tx         txManager
	bus        bus
}

// NewService creates a changeset service.
func NewService(
	log *slog.Logger,
	changesets changesetRepo,
	properties propertyRepo,
	graph graphRepo,
	policies *policy.Table,
	tx txManager,
	bus bus,
) *Service {
	return &Service{
		log:        log.With("service", "changeset"),
		changesets: changesets,
		properties: properties,
		graph:      graph,
		policies:   policies,
		tx:         tx,
		bus:        bus,
	}
}

// Open creates a new pending changeset owned by the session's user.
func (s *Service) Open(ctx context.Context, session domain.Session) (*domain.Changeset, error) {
	if session.Anonymous {
		return nil, fmt.Errorf("open changeset: %w", domain.ErrUnauthorized)
	}
	if !s.policies.HasPower(session, domain.PowerCreateChangeset) {
		return nil, fmt.Errorf("open changeset requires %s: %w", domain.PowerCreateChangeset, domain.ErrForbidden)
	}

	cs := &domain.Changeset{
		ID:        uuid.New(),
		Status:    domain.ChangesetPending,
		CreatedBy: session.UserID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.changesets.Create(ctx, cs); err != nil {
		return nil, fmt.Errorf("open changeset: %w", err)
	}

	s.log.InfoContext(ctx, "changeset opened", "changeset_id", cs.ID, "user_id", session.UserID)
	return cs, nil
}

// Get returns a changeset by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Changeset, error) {
	return s.changesets.Get(ctx, id)
}

// Finalize drives a pending changeset to a terminal status. Approval promotes
// every staged version and edge to canonical; rejection discards them and
// tears down entities that only exist because of the changeset.
//
// Each entity is handled in its own transaction and both promotion and
// discard are idempotent, so a finalize that fails halfway leaves the
// changeset pending and a retry re-drives the remaining entities. Finalizing
// an already-finalized changeset with the same status is a no-op; with a
// different status it is a conflict.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, status domain.ChangesetStatus) error {
	if !status.IsTerminal() {
		return domain.NewValidationError("status", "finalize status must be APPROVED or REJECTED")
	}

	start := time.Now()
	defer func() { metrics.FinalizeDuration.Observe(time.Since(start).Seconds()) }()

	cs, err := s.changesets.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("finalize changeset %s: %w", id, err)
	}
	if cs.Status.IsTerminal() {
		if cs.Status == status {
			return nil
		}
		return fmt.Errorf("changeset %s already %s: %w", id, cs.Status, domain.ErrConflict)
	}

	links, err := s.changesets.Entities(ctx, id)
	if err != nil {
		return fmt.Errorf("finalize changeset %s: %w", id, err)
	}

	for _, link := range links {
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			if status == domain.ChangesetApproved {
				return s.promoteEntity(ctx, id, link.EntityID)
			}
			return s.discardEntity(ctx, id, link)
		})
		if err != nil {
			metrics.ChangesetFinalizations.WithLabelValues(string(status), "error").Inc()
			return fmt.Errorf("finalize changeset %s entity %s: %w", id, link.EntityID, err)
		}
	}

	if err := s.changesets.Finalize(ctx, id, status); err != nil {
		metrics.ChangesetFinalizations.WithLabelValues(string(status), "error").Inc()
		return fmt.Errorf("finalize changeset %s: %w", id, err)
	}
	metrics.ChangesetFinalizations.WithLabelValues(string(status), "ok").Inc()

	s.log.InfoContext(ctx, "changeset finalized",
		"changeset_id", id, "status", status, "entities", len(links))
	s.publishFinalized(ctx, id, status)
	return nil
}

// promoteEntity makes the staged state of one entity canonical.
func (s *Service) promoteEntity(ctx context.Context, changesetID, entityID uuid.UUID) error {
	if err := s.properties.PromoteForEntity(ctx, changesetID, entityID); err != nil {
		return err
	}
	return s.graph.PromoteEdges(ctx, changesetID, entityID)
}

// discardEntity drops the staged state of one entity. Entities that only
// exist because of the changeset are removed entirely.
func (s *Service) discardEntity(ctx context.Context, changesetID uuid.UUID, link domain.ChangesetEntity) error {
	if err := s.properties.DiscardForEntity(ctx, changesetID, link.EntityID); err != nil {
		return err
	}
	if err := s.graph.DiscardEdges(ctx, changesetID, link.EntityID); err != nil {
		return err
	}
	if link.DeleteOnReject {
		return s.graph.HardDeleteEntity(ctx, link.EntityID)
	}
	return nil
}

// Subscribe wires the service to the event bus so finalization can be driven
// asynchronously. The handler re-enters Finalize, which is a no-op for
// changesets already in the requested terminal state, so consuming our own
// published event converges instead of looping.
func (s *Service) Subscribe(b event.Bus) {
	b.Subscribe(event.TopicChangesetFinalized, func(ctx context.Context, payload []byte) error {
		var ev domain.FinalizedEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return fmt.Errorf("decode finalized event: %w", err)
		}
		return s.Finalize(ctx, ev.ChangesetID, ev.Status)
	})
}

func (s *Service) publishFinalized(ctx context.Context, id uuid.UUID, status domain.ChangesetStatus) {
	payload, err := json.Marshal(domain.FinalizedEvent{ChangesetID: id, Status: status})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, event.TopicChangesetFinalized, payload); err != nil {
		s.log.WarnContext(ctx, "event publish failed", "topic", event.TopicChangesetFinalized, "error", err)
	}
}
