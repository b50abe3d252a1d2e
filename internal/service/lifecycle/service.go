// Package lifecycle implements entity creation, secured reads, property
// updates, and deletion. All writes run inside a transaction; reads go
// through the resolver so nothing leaves unfiltered.
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres/property"
	"github.com/tgreenfield/groundwork-backend/internal/domain"
	"github.com/tgreenfield/groundwork-backend/internal/event"
	"github.com/tgreenfield/groundwork-backend/internal/policy"
)

// EdgeKindOrganization links an entity to its owning organization.
const EdgeKindOrganization = "in_organization"

type graphRepo interface {
	CreateEntity(ctx context.Context, e *domain.BaseEntity) error
	GetEntity(ctx context.Context, id uuid.UUID) (*domain.BaseEntity, error)
	EntityExists(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateSensitivity(ctx context.Context, id uuid.UUID, s domain.Sensitivity) error
	SoftDeleteEntity(ctx context.Context, id uuid.UUID) error
	CreateEdge(ctx context.Context, e *domain.Edge) error
	DeactivateEdgesForEntity(ctx context.Context, entityID uuid.UUID) error
}

type propertyRepo interface {
	Set(ctx context.Context, entityID uuid.UUID, key string, value json.RawMessage, opts property.SetOptions) (*domain.AttributeVersion, error)
	ReadAll(ctx context.Context, entityID uuid.UUID, changesetID *uuid.UUID) ([]domain.AttributeVersion, error)
	Deactivate(ctx context.Context, versionID uuid.UUID) error
	DeactivateAll(ctx context.Context, entityID uuid.UUID) error
}

type securityRepo interface {
	CreateGroup(ctx context.Context, g *domain.SecurityGroup) error
	AddMember(ctx context.Context, groupID, userID uuid.UUID) error
	GrantAll(ctx context.Context, groupID, entityID uuid.UUID, grants map[string]domain.PermissionFlags) error
	DeleteForEntity(ctx context.Context, entityID uuid.UUID) error
}

type changesetRepo interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Changeset, error)
	LinkEntity(ctx context.Context, link *domain.ChangesetEntity) error
	CountEntities(ctx context.Context, changesetID uuid.UUID) (int, error)
}

type viewResolver interface {
	Resolve(ctx context.Context, session domain.Session, entityID uuid.UUID) (*domain.SecuredEntity, error)
	ResolveBatch(ctx context.Context, session domain.Session, entityIDs []uuid.UUID) (map[uuid.UUID]*domain.SecuredEntity, error)
	AdminFor(ctx context.Context, session domain.Session, entityID uuid.UUID) (bool, error)
}

type txManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Service orchestrates entity lifecycle operations.
type Service struct {
	log        *slog.Logger
	graph      graphRepo
	properties propertyRepo
	security   securityRepo
	changesets changesetRepo
	resolver   viewResolver
	policies   *policy.Table
	tx         txManager
	bus        bus

	maxChangesetEntities int
}

// NewService creates a lifecycle service. maxChangesetEntities caps how many
// entities one changeset may touch.
func NewService(
	log *slog.Logger,
	graph graphRepo,
	properties propertyRepo,
	security securityRepo,
	changesets changesetRepo,
	resolver viewResolver,
	policies *policy.Table,
	tx txManager,
	bus bus,
	maxChangesetEntities int,
) *Service {
	return &Service{
		log:                  log.With("service", "lifecycle"),
		graph:                graph,
		properties:           properties,
		security:             security,
		changesets:           changesets,
		resolver:             resolver,
		policies:             policies,
		tx:                   tx,
		bus:                  bus,
		maxChangesetEntities: maxChangesetEntities,
	}
}

// creationPower maps entity types to the power required to create them.
func creationPower(t domain.EntityType) (domain.Power, bool) {
	switch t {
	case domain.EntityTypeProject:
		return domain.PowerCreateProject, true
	case domain.EntityTypeBudget, domain.EntityTypeBudgetRecord:
		return domain.PowerCreateBudget, true
	case domain.EntityTypePartnership:
		return domain.PowerCreatePartnership, true
	case domain.EntityTypeLanguageEngagement, domain.EntityTypeInternshipEngagement:
		return domain.PowerCreateEngagement, true
	case domain.EntityTypeOrganization:
		return domain.PowerCreateOrganization, true
	case domain.EntityTypeLanguage:
		return domain.PowerCreateLanguage, true
	case domain.EntityTypeUser:
		return domain.PowerCreateUser, true
	}
	return "", false
}

// Create allocates a new entity with its security groups, initial properties
// and permission rows, all in one transaction. Under a changeset the entity
// is registered for teardown on reject.
func (s *Service) Create(ctx context.Context, session domain.Session, entityType domain.EntityType, attrs map[string]json.RawMessage) (*domain.SecuredEntity, error) {
	if session.Anonymous {
		return nil, fmt.Errorf("create %s: %w", entityType, domain.ErrUnauthorized)
	}

	power, ok := creationPower(entityType)
	if !ok {
		return nil, domain.NewValidationError("type", fmt.Sprintf("cannot create entities of type %s", entityType))
	}
	if !s.policies.HasPower(session, power) {
		return nil, fmt.Errorf("create %s requires %s: %w", entityType, power, domain.ErrForbidden)
	}

	known := make(map[string]bool)
	for _, p := range policy.PropertiesFor(entityType) {
		known[p] = true
	}
	for key := range attrs {
		if !known[key] {
			return nil, domain.NewValidationError(key, "unknown property for "+string(entityType))
		}
	}

	entity := &domain.BaseEntity{
		ID:        uuid.New(),
		Type:      entityType,
		Labels:    entityType.Labels(),
		CreatedBy: session.UserID,
		CreatedAt: time.Now().UTC(),
	}
	if raw, ok := attrs["sensitivity"]; ok {
		var levelStr string
		if err := json.Unmarshal(raw, &levelStr); err != nil || !domain.Sensitivity(levelStr).IsValid() {
			return nil, domain.NewValidationError("sensitivity", "must be one of LOW, MEDIUM, HIGH")
		}
		level := domain.Sensitivity(levelStr)
		entity.Sensitivity = &level
	}

	if session.Changeset != nil {
		if err := s.requireOpenChangeset(ctx, *session.Changeset); err != nil {
			return nil, err
		}
	}

	// List attributes arrive as whole arrays and are stored one version per
	// element.
	scalars := make(map[string]json.RawMessage, len(attrs))
	lists := make(map[string][]json.RawMessage)
	for key, value := range attrs {
		if !policy.ListProperties[key] {
			scalars[key] = value
			continue
		}
		elems, err := listElements(key, value)
		if err != nil {
			return nil, err
		}
		lists[key] = elems
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.graph.CreateEntity(ctx, entity); err != nil {
			return err
		}
		if err := s.createSecurity(ctx, entity, session.UserID); err != nil {
			return err
		}
		for key, value := range scalars {
			_, err := s.properties.Set(ctx, entity.ID, key, value, property.SetOptions{
				ChangesetID: session.Changeset,
			})
			if err != nil {
				return err
			}
		}
		for key, elems := range lists {
			for _, elem := range elems {
				_, err := s.properties.Set(ctx, entity.ID, key, elem, property.SetOptions{
					ChangesetID: session.Changeset,
					IsList:      true,
				})
				if err != nil {
					return err
				}
			}
		}
		if err := s.wireOrganization(ctx, entity, attrs, session.Changeset); err != nil {
			return err
		}
		if session.Changeset != nil {
			if err := s.linkChangeset(ctx, *session.Changeset, entity.ID, true); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", entityType, err)
	}

	s.log.InfoContext(ctx, "entity created",
		"entity_id", entity.ID, "type", entityType, "user_id", session.UserID)
	s.publish(ctx, event.TopicEntityCreated, entity.ID)

	return s.resolver.Resolve(ctx, session, entity.ID)
}

// createSecurity attaches the default groups, makes the creator a member of
// the admin group, and writes each group's permission rows.
func (s *Service) createSecurity(ctx context.Context, entity *domain.BaseEntity, creatorID uuid.UUID) error {
	props := policy.PropertiesFor(entity.Type)
	now := time.Now().UTC()

	for _, kind := range policy.DefaultGroupKinds {
		group := &domain.SecurityGroup{
			ID:        uuid.New(),
			EntityID:  &entity.ID,
			Kind:      kind,
			Name:      fmt.Sprintf("%s %s", entity.Type, kind),
			CreatedAt: now,
		}
		if err := s.security.CreateGroup(ctx, group); err != nil {
			return err
		}
		if kind == domain.GroupKindAdmin {
			if err := s.security.AddMember(ctx, group.ID, creatorID); err != nil {
				return err
			}
		}

		flags := domain.PermissionFlags{
			Read:  kind.CanRead(),
			Edit:  kind.CanEdit(),
			Admin: kind.CanAdmin(),
		}
		grants := make(map[string]domain.PermissionFlags, len(props))
		for _, p := range props {
			grants[p] = flags
		}
		if err := s.security.GrantAll(ctx, group.ID, entity.ID, grants); err != nil {
			return err
		}
	}
	return nil
}

// wireOrganization links the entity to its owning organization when the
// organizationId attribute is present, and attaches an org-public read
// group so members of the organization can see it.
func (s *Service) wireOrganization(ctx context.Context, entity *domain.BaseEntity, attrs map[string]json.RawMessage, changesetID *uuid.UUID) error {
	raw, ok := attrs["organizationId"]
	if !ok {
		return nil
	}
	var orgStr string
	if err := json.Unmarshal(raw, &orgStr); err != nil {
		return domain.NewValidationError("organizationId", "must be a UUID string")
	}
	orgID, err := uuid.Parse(orgStr)
	if err != nil {
		return domain.NewValidationError("organizationId", "must be a UUID string")
	}

	edge := &domain.Edge{
		ID:          uuid.New(),
		FromID:      entity.ID,
		ToID:        orgID,
		Kind:        EdgeKindOrganization,
		Active:      changesetID == nil,
		ChangesetID: changesetID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.graph.CreateEdge(ctx, edge); err != nil {
		return err
	}

	group := &domain.SecurityGroup{
		ID:        uuid.New(),
		EntityID:  &entity.ID,
		Kind:      domain.GroupKindOrgPublic,
		Name:      fmt.Sprintf("%s ORG_PUBLIC", entity.Type),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.security.CreateGroup(ctx, group); err != nil {
		return err
	}

	grants := make(map[string]domain.PermissionFlags)
	for _, p := range policy.PropertiesFor(entity.Type) {
		grants[p] = domain.PermissionFlags{Read: true}
	}
	return s.security.GrantAll(ctx, group.ID, entity.ID, grants)
}

// ReadOne returns the secured view of an entity. Missing entities yield
// ErrNotFound even when the caller could not have read anything.
func (s *Service) ReadOne(ctx context.Context, session domain.Session, id uuid.UUID) (*domain.SecuredEntity, error) {
	exists, err := s.graph.EntityExists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	if !exists {
		return nil, fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}
	return s.resolver.Resolve(ctx, session, id)
}

// ReadMany returns secured views for the given ids. Missing ids are absent
// from the result rather than erroring the whole batch.
func (s *Service) ReadMany(ctx context.Context, session domain.Session, ids []uuid.UUID) (map[uuid.UUID]*domain.SecuredEntity, error) {
	return s.resolver.ResolveBatch(ctx, session, ids)
}

// Update writes changed properties. Unchanged values are skipped; the first
// changed property the caller may not edit aborts the whole update before
// anything is written. Canonical scalar writes carry a compare-and-set
// against the version the caller saw. List values are diffed element-wise:
// removed elements are deactivated, new ones get their own version.
func (s *Service) Update(ctx context.Context, session domain.Session, id uuid.UUID, changes map[string]json.RawMessage) (*domain.SecuredEntity, error) {
	entity, err := s.graph.GetEntity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}

	if session.Changeset != nil {
		if err := s.requireOpenChangeset(ctx, *session.Changeset); err != nil {
			return nil, err
		}
	}

	view, err := s.resolver.Resolve(ctx, session, id)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}

	current, err := s.properties.ReadAll(ctx, id, session.Changeset)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	prior := make(map[string]*domain.AttributeVersion, len(current))
	priorLists := make(map[string][]domain.AttributeVersion)
	for i := range current {
		v := &current[i]
		if v.IsList {
			priorLists[v.Key] = append(priorLists[v.Key], *v)
			continue
		}
		prior[v.Key] = v
	}

	// Drop no-ops first, then check grants, so writing the value a property
	// already has never trips authorization.
	changed := make(map[string]json.RawMessage, len(changes))
	listChanged := make(map[string]listDiff, len(changes))
	for key, value := range changes {
		if policy.ListProperties[key] {
			desired, err := listElements(key, value)
			if err != nil {
				return nil, err
			}
			diff := diffListElements(priorLists[key], desired)
			if len(diff.add) == 0 && len(diff.remove) == 0 {
				continue
			}
			if session.Changeset != nil && len(diff.remove) > 0 {
				return nil, domain.NewValidationError(key, "cannot remove list elements inside a changeset")
			}
			listChanged[key] = diff
			continue
		}
		if p, ok := prior[key]; ok && jsonEqual(p.Value, value) {
			continue
		}
		changed[key] = value
	}
	if len(changed) == 0 && len(listChanged) == 0 {
		return view, nil
	}

	for key := range changed {
		if !canEditProperty(view, key) {
			return nil, &domain.PermissionError{Property: key, Action: "edit"}
		}
	}
	for key := range listChanged {
		if !canEditProperty(view, key) {
			return nil, &domain.PermissionError{Property: key, Action: "edit"}
		}
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		for key, value := range changed {
			opts := property.SetOptions{ChangesetID: session.Changeset}
			if session.Changeset == nil {
				if p, ok := prior[key]; ok {
					opts.ExpectedPrior = &p.ID
				}
			}
			if _, err := s.properties.Set(ctx, id, key, value, opts); err != nil {
				return err
			}

			// Mirror canonical sensitivity changes onto the node.
			if key == "sensitivity" && session.Changeset == nil {
				var level string
				if err := json.Unmarshal(value, &level); err != nil || !domain.Sensitivity(level).IsValid() {
					return domain.NewValidationError("sensitivity", "must be one of LOW, MEDIUM, HIGH")
				}
				if err := s.graph.UpdateSensitivity(ctx, id, domain.Sensitivity(level)); err != nil {
					return err
				}
			}
		}
		for key, diff := range listChanged {
			for _, versionID := range diff.remove {
				if err := s.properties.Deactivate(ctx, versionID); err != nil {
					return err
				}
			}
			for _, elem := range diff.add {
				_, err := s.properties.Set(ctx, id, key, elem, property.SetOptions{
					ChangesetID: session.Changeset,
					IsList:      true,
				})
				if err != nil {
					return err
				}
			}
		}
		if session.Changeset != nil {
			return s.linkChangeset(ctx, *session.Changeset, id, false)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}

	s.log.InfoContext(ctx, "entity updated",
		"entity_id", id, "type", entity.Type, "properties", len(changed)+len(listChanged), "user_id", session.UserID)
	s.publish(ctx, event.TopicEntityUpdated, id)

	return s.resolver.Resolve(ctx, session, id)
}

// Delete soft-deletes an entity: properties and edges are deactivated, the
// permission graph removed, and the node marked deleted. Requires admin on
// the entity.
func (s *Service) Delete(ctx context.Context, session domain.Session, id uuid.UUID) error {
	exists, err := s.graph.EntityExists(ctx, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("entity %s: %w", id, domain.ErrNotFound)
	}

	admin, err := s.resolver.AdminFor(ctx, session, id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if !admin {
		return fmt.Errorf("delete %s requires admin: %w", id, domain.ErrForbidden)
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.properties.DeactivateAll(ctx, id); err != nil {
			return err
		}
		if err := s.graph.DeactivateEdgesForEntity(ctx, id); err != nil {
			return err
		}
		if err := s.security.DeleteForEntity(ctx, id); err != nil {
			return err
		}
		return s.graph.SoftDeleteEntity(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	s.log.InfoContext(ctx, "entity deleted", "entity_id", id, "user_id", session.UserID)
	s.publish(ctx, event.TopicEntityDeleted, id)
	return nil
}

// requireOpenChangeset verifies the changeset exists and is still pending.
func (s *Service) requireOpenChangeset(ctx context.Context, changesetID uuid.UUID) error {
	cs, err := s.changesets.Get(ctx, changesetID)
	if err != nil {
		return fmt.Errorf("changeset %s: %w", changesetID, err)
	}
	if !cs.IsOpen() {
		return fmt.Errorf("changeset %s is %s: %w", changesetID, cs.Status, domain.ErrConflict)
	}
	return nil
}

// linkChangeset registers the entity with the changeset, enforcing the
// per-changeset entity cap.
func (s *Service) linkChangeset(ctx context.Context, changesetID, entityID uuid.UUID, created bool) error {
	count, err := s.changesets.CountEntities(ctx, changesetID)
	if err != nil {
		return err
	}
	if count >= s.maxChangesetEntities {
		return domain.NewValidationError("changeset", fmt.Sprintf("changeset exceeds %d entities", s.maxChangesetEntities))
	}
	return s.changesets.LinkEntity(ctx, &domain.ChangesetEntity{
		ChangesetID:        changesetID,
		EntityID:           entityID,
		CreatedInChangeset: created,
		DeleteOnReject:     created,
	})
}

func (s *Service) publish(ctx context.Context, topic string, entityID uuid.UUID) {
	payload, err := json.Marshal(struct {
		EntityID uuid.UUID `json:"entity_id"`
	}{EntityID: entityID})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		s.log.WarnContext(ctx, "event publish failed", "topic", topic, "error", err)
	}
}

func jsonEqual(a, b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b))
}

func canEditProperty(view *domain.SecuredEntity, key string) bool {
	if list, ok := view.Lists[key]; ok {
		return list.CanEdit
	}
	return view.Attribute(key).CanEdit
}

// listElements parses a list attribute value into its elements.
func listElements(key string, value json.RawMessage) ([]json.RawMessage, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(value, &elems); err != nil {
		return nil, domain.NewValidationError(key, "must be a JSON array")
	}
	return elems, nil
}

// listDiff is the element-wise difference between the stored list and the
// desired one.
type listDiff struct {
	add    []json.RawMessage
	remove []uuid.UUID
}

// diffListElements matches desired elements against stored element versions
// by value. Leftover stored versions are removals, leftover desired
// elements are additions. Duplicate elements match one-for-one.
func diffListElements(prior []domain.AttributeVersion, desired []json.RawMessage) listDiff {
	remaining := make(map[string][]uuid.UUID, len(prior))
	for _, v := range prior {
		k := string(bytes.TrimSpace(v.Value))
		remaining[k] = append(remaining[k], v.ID)
	}

	var diff listDiff
	for _, elem := range desired {
		k := string(bytes.TrimSpace(elem))
		if ids := remaining[k]; len(ids) > 0 {
			remaining[k] = ids[1:]
			continue
		}
		diff.add = append(diff.add, elem)
	}
	for _, ids := range remaining {
		diff.remove = append(diff.remove, ids...)
	}
	return diff
}
