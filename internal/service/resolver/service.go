// Package resolver computes the secured view of entities: which properties
// the caller may read or edit, with values withheld where grants or the
// sensitivity ceiling say no.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
	"github.com/tgreenfield/groundwork-backend/internal/metrics"
	"github.com/tgreenfield/groundwork-backend/internal/policy"
)

// grantShapeCacheSize bounds the role-shape cache. Shapes are a pure function
// of the static policy table, so entries never go stale.
const grantShapeCacheSize = 256

type entityReader interface {
	GetEntity(ctx context.Context, id uuid.UUID) (*domain.BaseEntity, error)
	GetEntities(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.BaseEntity, error)
}

type propertyReader interface {
	ReadAllBatch(ctx context.Context, entityIDs []uuid.UUID, changesetID *uuid.UUID) (map[uuid.UUID][]domain.AttributeVersion, error)
}

type permissionReader interface {
	PermissionsForBatch(ctx context.Context, userID uuid.UUID, entityIDs []uuid.UUID) (map[uuid.UUID]map[string]domain.PermissionFlags, error)
}

// Service resolves entities into their secured per-caller view.
type Service struct {
	log         *slog.Logger
	entities    entityReader
	properties  propertyReader
	permissions permissionReader
	policies    *policy.Table
	shapes      *lru.Cache[string, domain.GrantSet]
}

// NewService creates a resolver service.
func NewService(log *slog.Logger, entities entityReader, properties propertyReader, permissions permissionReader, policies *policy.Table) *Service {
	shapes, _ := lru.New[string, domain.GrantSet](grantShapeCacheSize)
	return &Service{
		log:         log.With("service", "resolver"),
		entities:    entities,
		properties:  properties,
		permissions: permissions,
		policies:    policies,
		shapes:      shapes,
	}
}

// Resolve returns the secured view of one entity. A missing or soft-deleted
// entity yields domain.ErrNotFound regardless of the caller's grants.
func (s *Service) Resolve(ctx context.Context, session domain.Session, entityID uuid.UUID) (*domain.SecuredEntity, error) {
	views, err := s.ResolveBatch(ctx, session, []uuid.UUID{entityID})
	if err != nil {
		return nil, err
	}
	view, ok := views[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", entityID, domain.ErrNotFound)
	}
	return view, nil
}

// ResolveBatch resolves many entities in three round trips total. Ids that
// do not exist are absent from the result.
func (s *Service) ResolveBatch(ctx context.Context, session domain.Session, entityIDs []uuid.UUID) (map[uuid.UUID]*domain.SecuredEntity, error) {
	entities, err := s.entities.GetEntities(ctx, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}

	present := make([]uuid.UUID, 0, len(entities))
	for id := range entities {
		present = append(present, id)
	}

	props, err := s.properties.ReadAllBatch(ctx, present, session.Changeset)
	if err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}

	perms, err := s.permissions.PermissionsForBatch(ctx, session.UserID, present)
	if err != nil {
		return nil, fmt.Errorf("load permissions: %w", err)
	}

	result := make(map[uuid.UUID]*domain.SecuredEntity, len(entities))
	for id, entity := range entities {
		grants := s.grantsFor(session, entity, perms[id])

		// Scoped roles raise the ceiling only inside their own scope.
		ceiling := s.policies.CeilingFor(session.EffectiveRoles(entity.ID))
		redacted := entity.Sensitivity != nil && !ceiling.AtLeast(*entity.Sensitivity)
		if redacted {
			metrics.AccessDenied.WithLabelValues("read").Inc()
		}

		result[id] = buildView(entity, props[id], grants, redacted)
	}
	return result, nil
}

// AdminFor reports whether the session may perform destructive operations
// on the entity: either it holds the Administrator role in scope for the
// entity or a group grants the admin flag on any property of the entity.
func (s *Service) AdminFor(ctx context.Context, session domain.Session, entityID uuid.UUID) (bool, error) {
	for _, role := range session.EffectiveRoles(entityID) {
		if role == domain.RoleAdministrator {
			return true, nil
		}
	}

	perms, err := s.permissions.PermissionsForBatch(ctx, session.UserID, []uuid.UUID{entityID})
	if err != nil {
		return false, fmt.Errorf("load permissions: %w", err)
	}
	for _, flags := range perms[entityID] {
		if flags.Admin {
			return true, nil
		}
	}
	return false, nil
}

// grantsFor unions role-derived grants with membership-derived grants.
// Any granting path suffices.
func (s *Service) grantsFor(session domain.Session, entity *domain.BaseEntity, groupPerms map[string]domain.PermissionFlags) domain.GrantSet {
	merged := s.roleShape(session, entity).Clone()
	for property, flags := range groupPerms {
		g := merged[property]
		g.Read = g.Read || flags.Read
		g.Edit = g.Edit || flags.Edit
		merged[property] = g
	}
	return merged
}

// roleShape returns the grant set derived from the session's roles for the
// entity's type. Sessions without scoped roles on this entity hit the LRU
// cache; scoped roles bypass it since the shape depends on the instance.
func (s *Service) roleShape(session domain.Session, entity *domain.BaseEntity) domain.GrantSet {
	effective := session.EffectiveRoles(entity.ID)
	if len(effective) != len(session.Roles) {
		return s.policies.GrantShape(effective, entity.Type)
	}

	key := shapeKey(session.Roles, entity.Type)
	if shape, ok := s.shapes.Get(key); ok {
		return shape
	}
	shape := s.policies.GrantShape(session.Roles, entity.Type)
	s.shapes.Add(key, shape)
	return shape
}

func shapeKey(roles []domain.Role, entityType domain.EntityType) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	sort.Strings(names)
	return string(entityType) + "|" + strings.Join(names, ",")
}

// buildView assembles the secured DTO. Meta properties stay readable even
// under sensitivity redaction; everything else needs a read grant.
func buildView(entity *domain.BaseEntity, versions []domain.AttributeVersion, grants domain.GrantSet, redacted bool) *domain.SecuredEntity {
	view := &domain.SecuredEntity{
		ID:         entity.ID,
		Type:       entity.Type,
		CreatedAt:  entity.CreatedAt,
		Attributes: make(map[string]domain.SecuredAttribute),
		Lists:      make(map[string]domain.SecuredList),
	}

	for _, v := range versions {
		grant := grants[v.Key]
		canRead := grant.Read || domain.MetaProperties[v.Key]
		canEdit := grant.Edit
		if redacted && !domain.MetaProperties[v.Key] {
			canRead = false
			canEdit = false
		}

		if v.IsList {
			list := view.Lists[v.Key]
			list.CanRead = canRead
			list.CanEdit = canEdit
			if canRead {
				list.Values = append(list.Values, v.Value)
			}
			view.Lists[v.Key] = list
			continue
		}

		attr := domain.SecuredAttribute{CanRead: canRead, CanEdit: canEdit}
		if canRead {
			attr.Value = v.Value
		}
		view.Attributes[v.Key] = attr
	}

	// Grants for properties never written still surface edit capability, so
	// callers can distinguish "unset but writable" from "denied".
	for property, grant := range grants {
		if _, ok := view.Attributes[property]; ok {
			continue
		}
		if _, ok := view.Lists[property]; ok {
			continue
		}
		if redacted {
			continue
		}
		view.Attributes[property] = domain.SecuredAttribute{CanRead: grant.Read, CanEdit: grant.Edit}
	}

	return view
}
