package changeset

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
	"github.com/tgreenfield/groundwork-backend/internal/event"
	"github.com/tgreenfield/groundwork-backend/internal/policy"
)

type changesetRepoFake struct {
	changesets map[uuid.UUID]*domain.Changeset
	links      map[uuid.UUID][]domain.ChangesetEntity
	finalized  []domain.ChangesetStatus
}

func newChangesetRepoFake() *changesetRepoFake {
	return &changesetRepoFake{
		changesets: make(map[uuid.UUID]*domain.Changeset),
		links:      make(map[uuid.UUID][]domain.ChangesetEntity),
	}
}

func (f *changesetRepoFake) Create(_ context.Context, cs *domain.Changeset) error {
	f.changesets[cs.ID] = cs
	return nil
}

func (f *changesetRepoFake) Get(_ context.Context, id uuid.UUID) (*domain.Changeset, error) {
	if cs, ok := f.changesets[id]; ok {
		return cs, nil
	}
	return nil, domain.ErrNotFound
}

func (f *changesetRepoFake) Finalize(_ context.Context, id uuid.UUID, status domain.ChangesetStatus) error {
	cs, ok := f.changesets[id]
	if !ok {
		return domain.ErrNotFound
	}
	if cs.Status.IsTerminal() {
		if cs.Status == status {
			return nil
		}
		return domain.ErrConflict
	}
	cs.Status = status
	f.finalized = append(f.finalized, status)
	return nil
}

func (f *changesetRepoFake) Entities(_ context.Context, id uuid.UUID) ([]domain.ChangesetEntity, error) {
	return f.links[id], nil
}

type propertyRepoFake struct {
	promoted  []uuid.UUID
	discarded []uuid.UUID
	failOn    uuid.UUID
}

func (f *propertyRepoFake) PromoteForEntity(_ context.Context, _ uuid.UUID, entityID uuid.UUID) error {
	if entityID == f.failOn {
		return errors.New("promote boom")
	}
	f.promoted = append(f.promoted, entityID)
	return nil
}

func (f *propertyRepoFake) DiscardForEntity(_ context.Context, _ uuid.UUID, entityID uuid.UUID) error {
	if entityID == f.failOn {
		return errors.New("discard boom")
	}
	f.discarded = append(f.discarded, entityID)
	return nil
}

type graphRepoFake struct {
	promoted    []uuid.UUID
	discarded   []uuid.UUID
	hardDeleted []uuid.UUID
}

func (f *graphRepoFake) PromoteEdges(_ context.Context, _ uuid.UUID, entityID uuid.UUID) error {
	f.promoted = append(f.promoted, entityID)
	return nil
}

func (f *graphRepoFake) DiscardEdges(_ context.Context, _ uuid.UUID, entityID uuid.UUID) error {
	f.discarded = append(f.discarded, entityID)
	return nil
}

func (f *graphRepoFake) HardDeleteEntity(_ context.Context, id uuid.UUID) error {
	f.hardDeleted = append(f.hardDeleted, id)
	return nil
}

type txFake struct{}

func (txFake) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type busFake struct {
	published []string
	payloads  [][]byte
}

func (f *busFake) Publish(_ context.Context, topic string, payload []byte) error {
	f.published = append(f.published, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fixtures struct {
	changesets *changesetRepoFake
	properties *propertyRepoFake
	graph      *graphRepoFake
	bus        *busFake
	svc        *Service
}

func newFixtures() *fixtures {
	f := &fixtures{
		changesets: newChangesetRepoFake(),
		properties: &propertyRepoFake{},
		graph:      &graphRepoFake{},
		bus:        &busFake{},
	}
	f.svc = NewService(
		slog.New(slog.DiscardHandler),
		f.changesets, f.properties, f.graph,
		policy.Default(), txFake{}, f.bus,
	)
	return f
}

func (f *fixtures) seedPending(links ...domain.ChangesetEntity) uuid.UUID {
	id := uuid.New()
	f.changesets.changesets[id] = &domain.Changeset{ID: id, Status: domain.ChangesetPending}
	f.changesets.links[id] = links
	return id
}

func managerSession() domain.Session {
	return domain.Session{UserID: uuid.New(), Roles: []domain.Role{domain.RoleProjectManager}}
}

func TestOpen_Success(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	session := managerSession()

	cs, err := f.svc.Open(context.Background(), session)
	require.NoError(t, err)
	assert.Equal(t, domain.ChangesetPending, cs.Status)
	assert.Equal(t, session.UserID, cs.CreatedBy)
	assert.Contains(t, f.changesets.changesets, cs.ID)
}

func TestOpen_WithoutPower(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	session := domain.Session{UserID: uuid.New(), Roles: []domain.Role{domain.RoleIntern}}

	_, err := f.svc.Open(context.Background(), session)
	require.ErrorIs(t, err, domain.ErrForbidden)
}

func TestOpen_Anonymous(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	_, err := f.svc.Open(context.Background(), domain.Session{Anonymous: true})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestFinalize_ApprovePromotesEveryEntity(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	e1, e2 := uuid.New(), uuid.New()
	id := f.seedPending(
		domain.ChangesetEntity{EntityID: e1},
		domain.ChangesetEntity{EntityID: e2, CreatedInChangeset: true, DeleteOnReject: true},
	)

	require.NoError(t, f.svc.Finalize(context.Background(), id, domain.ChangesetApproved))

	assert.ElementsMatch(t, []uuid.UUID{e1, e2}, f.properties.promoted)
	assert.ElementsMatch(t, []uuid.UUID{e1, e2}, f.graph.promoted)
	assert.Empty(t, f.graph.hardDeleted, "approval keeps created entities")
	assert.Equal(t, domain.ChangesetApproved, f.changesets.changesets[id].Status)
	assert.Equal(t, []string{event.TopicChangesetFinalized}, f.bus.published)
}

func TestFinalize_RejectDiscardsAndTearsDownCreated(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	existing, created := uuid.New(), uuid.New()
	id := f.seedPending(
		domain.ChangesetEntity{EntityID: existing},
		domain.ChangesetEntity{EntityID: created, CreatedInChangeset: true, DeleteOnReject: true},
	)

	require.NoError(t, f.svc.Finalize(context.Background(), id, domain.ChangesetRejected))

	assert.ElementsMatch(t, []uuid.UUID{existing, created}, f.properties.discarded)
	assert.Equal(t, []uuid.UUID{created}, f.graph.hardDeleted,
		"only entities born in the changeset are removed")
	assert.Equal(t, domain.ChangesetRejected, f.changesets.changesets[id].Status)
}

func TestFinalize_NonTerminalStatus(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	id := f.seedPending()

	err := f.svc.Finalize(context.Background(), id, domain.ChangesetPending)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestFinalize_NotFound(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	err := f.svc.Finalize(context.Background(), uuid.New(), domain.ChangesetApproved)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFinalize_RedriveSameStatusIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	id := f.seedPending(domain.ChangesetEntity{EntityID: uuid.New()})

	require.NoError(t, f.svc.Finalize(context.Background(), id, domain.ChangesetApproved))
	promoted := len(f.properties.promoted)
	published := len(f.bus.published)

	require.NoError(t, f.svc.Finalize(context.Background(), id, domain.ChangesetApproved))
	assert.Equal(t, promoted, len(f.properties.promoted), "no second promotion")
	assert.Equal(t, published, len(f.bus.published), "no second event")
}

func TestFinalize_ConflictingDecision(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	id := f.seedPending()
	require.NoError(t, f.svc.Finalize(context.Background(), id, domain.ChangesetApproved))

	err := f.svc.Finalize(context.Background(), id, domain.ChangesetRejected)
	require.ErrorIs(t, err, domain.ErrConflict)
}

func TestFinalize_PartialFailureKeepsPending(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	ok, bad := uuid.New(), uuid.New()
	id := f.seedPending(
		domain.ChangesetEntity{EntityID: ok},
		domain.ChangesetEntity{EntityID: bad},
	)
	f.properties.failOn = bad

	err := f.svc.Finalize(context.Background(), id, domain.ChangesetApproved)
	require.Error(t, err)
	assert.Equal(t, domain.ChangesetPending, f.changesets.changesets[id].Status,
		"status transition only after every entity lands")
	assert.Empty(t, f.bus.published)

	// Retry after the fault clears re-drives the remaining work.
	f.properties.failOn = uuid.Nil
	require.NoError(t, f.svc.Finalize(context.Background(), id, domain.ChangesetApproved))
	assert.Equal(t, domain.ChangesetApproved, f.changesets.changesets[id].Status)
}

func TestSubscribe_DrivesFinalizeFromBus(t *testing.T) {
	t.Parallel()

	f := newFixtures()
	entityID := uuid.New()
	id := f.seedPending(domain.ChangesetEntity{EntityID: entityID})

	memBus := event.NewMemoryBus(slog.New(slog.DiscardHandler))
	f.svc.Subscribe(memBus)

	payload := []byte(`{"changeset_id":"` + id.String() + `","status":"APPROVED"}`)
	require.NoError(t, memBus.Publish(context.Background(), event.TopicChangesetFinalized, payload))

	assert.Equal(t, domain.ChangesetApproved, f.changesets.changesets[id].Status)
	assert.Equal(t, []uuid.UUID{entityID}, f.properties.promoted)
}
