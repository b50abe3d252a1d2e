package security_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres/security"
	"github.com/tgreenfield/groundwork-backend/internal/adapter/postgres/testhelper"
	"github.com/tgreenfield/groundwork-backend/internal/domain"
)

func newRepo(t *testing.T) (*security.Repo, *pgxpool.Pool) {
	t.Helper()
	pool := testhelper.SetupTestDB(t)
	return security.New(pool), pool
}

// ---------------------------------------------------------------------------
// Groups and membership
// ---------------------------------------------------------------------------

func TestRepo_CreateGroup_AndList(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	entity := testhelper.SeedEntity(t, pool, domain.EntityTypeProject, uuid.New())

	for _, kind := range []domain.SecurityGroupKind{domain.GroupKindAdmin, domain.GroupKindWriter, domain.GroupKindReader} {
		g := domain.SecurityGroup{
			ID:        uuid.New(),
			EntityID:  &entity.ID,
			Kind:      kind,
			Name:      string(entity.Type) + " " + string(kind),
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.CreateGroup(ctx, &g); err != nil {
			t.Fatalf("CreateGroup(%s): %v", kind, err)
		}
	}

	groups, err := repo.GroupsForEntity(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GroupsForEntity: %v", err)
	}
	if len(groups) != 3 {
		t.Fatalf("group count: got %d, want 3", len(groups))
	}
}

func TestRepo_AddMember_Idempotent(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	entity := testhelper.SeedEntity(t, pool, domain.EntityTypeProject, uuid.New())
	group := testhelper.SeedGroup(t, pool, entity.ID, domain.GroupKindReader)
	userID := uuid.New()

	if err := repo.AddMember(ctx, group.ID, userID); err != nil {
		t.Fatalf("AddMember[1]: %v", err)
	}
	if err := repo.AddMember(ctx, group.ID, userID); err != nil {
		t.Fatalf("AddMember[2]: expected no-op, got %v", err)
	}
}

func TestRepo_RemoveMember_DropsAccess(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	userID := uuid.New()
	entity, group := testhelper.SeedSecuredEntity(t, pool, domain.EntityTypeProject, userID, domain.GroupKindReader, "name")

	perms, err := repo.PermissionsFor(ctx, userID, entity.ID)
	if err != nil {
		t.Fatalf("PermissionsFor: %v", err)
	}
	if !perms["name"].Read {
		t.Fatal("expected read grant before removal")
	}

	if err := repo.RemoveMember(ctx, group.ID, userID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	perms, err = repo.PermissionsFor(ctx, userID, entity.ID)
	if err != nil {
		t.Fatalf("PermissionsFor after removal: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("expected no grants after removal, got %v", perms)
	}
}

// ---------------------------------------------------------------------------
// Grants
// ---------------------------------------------------------------------------

func TestRepo_Grant_ReplacesFlags(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	userID := uuid.New()
	entity, group := testhelper.SeedSecuredEntity(t, pool, domain.EntityTypeProject, userID, domain.GroupKindReader)

	p := &domain.Permission{GroupID: group.ID, EntityID: entity.ID, Property: "name", Read: true}
	if err := repo.Grant(ctx, p); err != nil {
		t.Fatalf("Grant[1]: %v", err)
	}

	// Re-granting the same slot with stronger flags replaces, not duplicates.
	p.Edit = true
	if err := repo.Grant(ctx, p); err != nil {
		t.Fatalf("Grant[2]: %v", err)
	}

	perms, err := repo.PermissionsFor(ctx, userID, entity.ID)
	if err != nil {
		t.Fatalf("PermissionsFor: %v", err)
	}
	got := perms["name"]
	if !got.Read || !got.Edit {
		t.Errorf("flags after regrant: got %+v, want read+edit", got)
	}
}

func TestRepo_PermissionsFor_UnionAcrossGroups(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	userID := uuid.New()
	entity := testhelper.SeedEntity(t, pool, domain.EntityTypeProject, userID)

	reader := testhelper.SeedGroup(t, pool, entity.ID, domain.GroupKindReader)
	testhelper.SeedMembership(t, pool, reader.ID, userID)
	testhelper.SeedPermission(t, pool, reader.ID, entity.ID, "budget", domain.PermissionFlags{Read: true})

	writer := testhelper.SeedGroup(t, pool, entity.ID, domain.GroupKindWriter)
	testhelper.SeedMembership(t, pool, writer.ID, userID)
	testhelper.SeedPermission(t, pool, writer.ID, entity.ID, "budget", domain.PermissionFlags{Edit: true})

	perms, err := repo.PermissionsFor(ctx, userID, entity.ID)
	if err != nil {
		t.Fatalf("PermissionsFor: %v", err)
	}
	got := perms["budget"]
	if !got.Read || !got.Edit {
		t.Errorf("union across groups: got %+v, want read+edit", got)
	}
	if got.Admin {
		t.Error("admin flag granted by no group")
	}
}

func TestRepo_PermissionsFor_PublicGroupReachesAnonymous(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	entity := testhelper.SeedEntity(t, pool, domain.EntityTypeProject, uuid.New())
	public := testhelper.SeedGroup(t, pool, entity.ID, domain.GroupKindPublic)
	testhelper.SeedPermission(t, pool, public.ID, entity.ID, "name", domain.PermissionFlags{Read: true})

	// uuid.Nil stands in for the anonymous caller: no memberships anywhere.
	perms, err := repo.PermissionsFor(ctx, uuid.Nil, entity.ID)
	if err != nil {
		t.Fatalf("PermissionsFor: %v", err)
	}
	if !perms["name"].Read {
		t.Error("PUBLIC group grant should reach non-members")
	}
	if perms["name"].Edit {
		t.Error("PUBLIC group granted more than seeded")
	}
}

func TestRepo_PermissionsFor_OrgPublicReachesOrgMembers(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	org := testhelper.SeedEntity(t, pool, domain.EntityTypeOrganization, uuid.New())
	member := testhelper.SeedEntity(t, pool, domain.EntityTypeUser, uuid.New())
	testhelper.SeedEdge(t, pool, member.ID, org.ID, "in_organization")

	// The project belongs to the org and carries an ORG_PUBLIC read group,
	// but the member belongs to none of the project's groups.
	project := testhelper.SeedEntity(t, pool, domain.EntityTypeProject, uuid.New())
	testhelper.SeedEdge(t, pool, project.ID, org.ID, "in_organization")
	orgGroup := testhelper.SeedGroup(t, pool, project.ID, domain.GroupKindOrgPublic)
	testhelper.SeedPermission(t, pool, orgGroup.ID, project.ID, "name", domain.PermissionFlags{Read: true})

	perms, err := repo.PermissionsFor(ctx, member.ID, project.ID)
	if err != nil {
		t.Fatalf("PermissionsFor: %v", err)
	}
	if !perms["name"].Read {
		t.Error("ORG_PUBLIC grant should reach members of the owning organization")
	}
	if perms["name"].Edit {
		t.Error("ORG_PUBLIC grant carries more than seeded")
	}

	// A user outside the organization gets nothing through ORG_PUBLIC.
	outsider := testhelper.SeedEntity(t, pool, domain.EntityTypeUser, uuid.New())
	perms, err = repo.PermissionsFor(ctx, outsider.ID, project.ID)
	if err != nil {
		t.Fatalf("PermissionsFor outsider: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("outsider gained grants through ORG_PUBLIC: %v", perms)
	}
}

func TestRepo_PermissionsForBatch_GroupsByEntity(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	userID := uuid.New()
	first, _ := testhelper.SeedSecuredEntity(t, pool, domain.EntityTypeProject, userID, domain.GroupKindWriter, "name")
	second, _ := testhelper.SeedSecuredEntity(t, pool, domain.EntityTypeLanguage, userID, domain.GroupKindReader, "displayName")

	perms, err := repo.PermissionsForBatch(ctx, userID, []uuid.UUID{first.ID, second.ID})
	if err != nil {
		t.Fatalf("PermissionsForBatch: %v", err)
	}
	if !perms[first.ID]["name"].Edit {
		t.Error("writer grant missing on first entity")
	}
	if perms[second.ID]["displayName"].Edit {
		t.Error("reader grant should not carry edit")
	}
	if !perms[second.ID]["displayName"].Read {
		t.Error("reader grant missing on second entity")
	}
}

// ---------------------------------------------------------------------------
// DeleteForEntity
// ---------------------------------------------------------------------------

func TestRepo_DeleteForEntity(t *testing.T) {
	t.Parallel()
	repo, pool := newRepo(t)
	ctx := context.Background()

	userID := uuid.New()
	entity, _ := testhelper.SeedSecuredEntity(t, pool, domain.EntityTypeProject, userID, domain.GroupKindAdmin, "name")

	if err := repo.DeleteForEntity(ctx, entity.ID); err != nil {
		t.Fatalf("DeleteForEntity: %v", err)
	}

	groups, err := repo.GroupsForEntity(ctx, entity.ID)
	if err != nil {
		t.Fatalf("GroupsForEntity: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("groups after delete: got %d, want 0", len(groups))
	}

	perms, err := repo.PermissionsFor(ctx, userID, entity.ID)
	if err != nil {
		t.Fatalf("PermissionsFor: %v", err)
	}
	if len(perms) != 0 {
		t.Errorf("permissions after delete: got %v, want none", perms)
	}
}
