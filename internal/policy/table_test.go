package policy

import (
	"testing"

	"github.com/google/uuid"

	"github.com/tgreenfield/groundwork-backend/internal/domain"
)

func TestHasPower_AdministratorHasAll(t *testing.T) {
	t.Parallel()

	table := Default()
	session := domain.Session{UserID: uuid.New(), Roles: []domain.Role{domain.RoleAdministrator}}

	all := []domain.Power{
		domain.PowerCreateProject, domain.PowerCreateBudget,
		domain.PowerCreatePartnership, domain.PowerCreateEngagement,
		domain.PowerCreateOrganization, domain.PowerCreateLanguage,
		domain.PowerCreateUser, domain.PowerCreateChangeset,
		domain.PowerGrantPower,
	}
	for _, p := range all {
		if !table.HasPower(session, p) {
			t.Errorf("administrator should hold power %s", p)
		}
	}
}

func TestHasPower_InternHasNone(t *testing.T) {
	t.Parallel()

	table := Default()
	session := domain.Session{UserID: uuid.New(), Roles: []domain.Role{domain.RoleIntern}}

	if table.HasPower(session, domain.PowerCreateProject) {
		t.Error("intern should not be able to create projects")
	}
	if table.HasPower(session, domain.PowerCreateChangeset) {
		t.Error("intern should not be able to open changesets")
	}
}

func TestHasPower_ScopedRoleCounts(t *testing.T) {
	t.Parallel()

	table := Default()
	session := domain.Session{
		UserID: uuid.New(),
		ScopedRoles: []domain.ScopedRole{
			{Role: domain.RoleProjectManager, ScopeID: uuid.New(), ScopeTyp: domain.EntityTypeProject},
		},
	}

	// Powers are instance-independent: a scoped role still carries them.
	if !table.HasPower(session, domain.PowerCreateBudget) {
		t.Error("scoped project manager should hold CreateBudget power")
	}
}

func TestGrantsFor_UnionAcrossRoles(t *testing.T) {
	t.Parallel()

	table := Default()
	session := domain.Session{
		UserID: uuid.New(),
		Roles:  []domain.Role{domain.RoleTranslator, domain.RoleFinancialAnalyst},
	}

	grants := table.GrantsFor(session, domain.EntityTypeProject, uuid.Nil)

	// Translator grants read on name/status; analyst adds mouStart read.
	if !grants["name"].Read {
		t.Error("expected read on project name")
	}
	if !grants["mouStart"].Read {
		t.Error("expected read on project mouStart via analyst role")
	}
	if grants["name"].Edit {
		t.Error("neither role may edit project name")
	}
}

func TestGrantsFor_DefaultDeny(t *testing.T) {
	t.Parallel()

	table := Default()
	session := domain.Session{UserID: uuid.New(), Roles: []domain.Role{domain.RoleTranslator}}

	// Translator's grants never mention budgets.
	grants := table.GrantsFor(session, domain.EntityTypeBudget, uuid.Nil)
	if len(grants) != 0 {
		t.Fatalf("expected empty grant set, got %d entries", len(grants))
	}
}

func TestGrantsFor_ScopedRoleOnlyInScope(t *testing.T) {
	t.Parallel()

	table := Default()
	projectID := uuid.New()
	otherID := uuid.New()
	session := domain.Session{
		UserID: uuid.New(),
		ScopedRoles: []domain.ScopedRole{
			{Role: domain.RoleProjectManager, ScopeID: projectID, ScopeTyp: domain.EntityTypeProject},
		},
	}

	inScope := table.GrantsFor(session, domain.EntityTypeProject, projectID)
	if !inScope["status"].Edit {
		t.Error("scoped manager should edit status inside the scope")
	}

	outOfScope := table.GrantsFor(session, domain.EntityTypeProject, otherID)
	if len(outOfScope) != 0 {
		t.Error("scoped role must not grant anything outside its scope")
	}
}

func TestGrantsFor_Monotonic(t *testing.T) {
	t.Parallel()

	table := Default()
	base := domain.Session{UserID: uuid.New(), Roles: []domain.Role{domain.RoleIntern}}
	wider := domain.Session{UserID: base.UserID, Roles: []domain.Role{domain.RoleIntern, domain.RoleProjectManager}}

	before := table.GrantsFor(base, domain.EntityTypeProject, uuid.Nil)
	after := table.GrantsFor(wider, domain.EntityTypeProject, uuid.Nil)

	for prop, grant := range before {
		got := after[prop]
		if grant.Read && !got.Read {
			t.Errorf("adding a role dropped read on %s", prop)
		}
		if grant.Edit && !got.Edit {
			t.Errorf("adding a role dropped edit on %s", prop)
		}
	}
}

func TestCeilingFor(t *testing.T) {
	t.Parallel()

	table := Default()

	cases := []struct {
		name  string
		roles []domain.Role
		want  domain.Sensitivity
	}{
		{"no roles fails closed", nil, domain.SensitivityLow},
		{"intern is low", []domain.Role{domain.RoleIntern}, domain.SensitivityLow},
		{"manager is medium", []domain.Role{domain.RoleProjectManager}, domain.SensitivityMedium},
		{"admin is high", []domain.Role{domain.RoleAdministrator}, domain.SensitivityHigh},
		{"max wins", []domain.Role{domain.RoleIntern, domain.RoleRegionalDirector}, domain.SensitivityHigh},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := table.CeilingFor(tc.roles); got != tc.want {
				t.Errorf("CeilingFor(%v) = %s, want %s", tc.roles, got, tc.want)
			}
		})
	}
}

func TestPropertiesFor_CoversAllTypes(t *testing.T) {
	t.Parallel()

	types := []domain.EntityType{
		domain.EntityTypeProject, domain.EntityTypeBudget, domain.EntityTypeBudgetRecord,
		domain.EntityTypeOrganization, domain.EntityTypePartnership, domain.EntityTypeLanguage,
		domain.EntityTypeLanguageEngagement, domain.EntityTypeInternshipEngagement,
		domain.EntityTypeUser,
	}
	for _, typ := range types {
		if len(PropertiesFor(typ)) == 0 {
			t.Errorf("no properties defined for %s", typ)
		}
	}
}
