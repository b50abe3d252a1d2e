package domain

// EntityType identifies the kind of a base entity. It is a closed set:
// mapping a string to a type happens only through ParseEntityType.
type EntityType string

const (
	EntityTypeProject              EntityType = "PROJECT"
	EntityTypeBudget               EntityType = "BUDGET"
	EntityTypeBudgetRecord         EntityType = "BUDGET_RECORD"
	EntityTypeOrganization         EntityType = "ORGANIZATION"
	EntityTypePartnership          EntityType = "PARTNERSHIP"
	EntityTypeLanguage             EntityType = "LANGUAGE"
	EntityTypeLanguageEngagement   EntityType = "LANGUAGE_ENGAGEMENT"
	EntityTypeInternshipEngagement EntityType = "INTERNSHIP_ENGAGEMENT"
	EntityTypeUser                 EntityType = "USER"
	EntityTypeChangeset            EntityType = "CHANGESET"
)

func (t EntityType) String() string { return string(t) }

func (t EntityType) IsValid() bool {
	switch t {
	case EntityTypeProject, EntityTypeBudget, EntityTypeBudgetRecord,
		EntityTypeOrganization, EntityTypePartnership, EntityTypeLanguage,
		EntityTypeLanguageEngagement, EntityTypeInternshipEngagement,
		EntityTypeUser, EntityTypeChangeset:
		return true
	}
	return false
}

// Labels returns the polymorphic label chain stored on the entity node.
// Engagement variants share the "engagement" label so pattern queries can
// match either the concrete type or the shared supertype.
func (t EntityType) Labels() []string {
	switch t {
	case EntityTypeLanguageEngagement:
		return []string{"engagement", "language_engagement"}
	case EntityTypeInternshipEngagement:
		return []string{"engagement", "internship_engagement"}
	default:
		return []string{toSnake(string(t))}
	}
}

// IsEngagement reports whether the type is one of the engagement variants.
func (t EntityType) IsEngagement() bool {
	return t == EntityTypeLanguageEngagement || t == EntityTypeInternshipEngagement
}

// ParseEntityType maps a stored type string back to the closed set.
func ParseEntityType(s string) (EntityType, bool) {
	t := EntityType(s)
	return t, t.IsValid()
}

func toSnake(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// SecurityGroupKind determines the permission bundle a group grants.
type SecurityGroupKind string

const (
	GroupKindAdmin     SecurityGroupKind = "ADMIN"      // read + edit + admin
	GroupKindWriter    SecurityGroupKind = "WRITER"     // read + edit
	GroupKindReader    SecurityGroupKind = "READER"     // read only
	GroupKindPublic    SecurityGroupKind = "PUBLIC"     // unauthenticated read
	GroupKindOrgPublic SecurityGroupKind = "ORG_PUBLIC" // read within owning org
)

func (k SecurityGroupKind) String() string { return string(k) }

func (k SecurityGroupKind) IsValid() bool {
	switch k {
	case GroupKindAdmin, GroupKindWriter, GroupKindReader, GroupKindPublic, GroupKindOrgPublic:
		return true
	}
	return false
}

// CanRead reports whether the kind carries the read flag.
func (k SecurityGroupKind) CanRead() bool { return k.IsValid() }

// CanEdit reports whether the kind carries the edit flag.
func (k SecurityGroupKind) CanEdit() bool {
	return k == GroupKindAdmin || k == GroupKindWriter
}

// CanAdmin reports whether the kind carries the admin flag.
func (k SecurityGroupKind) CanAdmin() bool { return k == GroupKindAdmin }

// ChangesetStatus is the state of a staged-edit bundle.
// Pending is the only non-terminal state.
type ChangesetStatus string

const (
	ChangesetPending  ChangesetStatus = "PENDING"
	ChangesetApproved ChangesetStatus = "APPROVED"
	ChangesetRejected ChangesetStatus = "REJECTED"
)

func (s ChangesetStatus) String() string { return string(s) }

func (s ChangesetStatus) IsValid() bool {
	switch s {
	case ChangesetPending, ChangesetApproved, ChangesetRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s ChangesetStatus) IsTerminal() bool {
	return s == ChangesetApproved || s == ChangesetRejected
}

// Sensitivity is the confidentiality level carried by an entity.
// A session whose ceiling is below the entity's level reads redacted data.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "LOW"
	SensitivityMedium Sensitivity = "MEDIUM"
	SensitivityHigh   Sensitivity = "HIGH"
)

func (s Sensitivity) String() string { return string(s) }

func (s Sensitivity) IsValid() bool {
	switch s {
	case SensitivityLow, SensitivityMedium, SensitivityHigh:
		return true
	}
	return false
}

// rank orders sensitivity levels for ceiling comparison.
func (s Sensitivity) rank() int {
	switch s {
	case SensitivityLow:
		return 1
	case SensitivityMedium:
		return 2
	case SensitivityHigh:
		return 3
	}
	return 0
}

// AtLeast reports whether s covers (is >=) the given level.
func (s Sensitivity) AtLeast(other Sensitivity) bool {
	return s.rank() >= other.rank()
}

// Role is a named bundle of powers and property grants defined in the
// static policy table. Roles may be held globally or scoped to a resource.
type Role string

const (
	RoleAdministrator           Role = "ADMINISTRATOR"
	RoleProjectManager          Role = "PROJECT_MANAGER"
	RoleRegionalDirector        Role = "REGIONAL_DIRECTOR"
	RoleFieldOperationsDirector Role = "FIELD_OPERATIONS_DIRECTOR"
	RoleFinancialAnalyst        Role = "FINANCIAL_ANALYST"
	RoleConsultant              Role = "CONSULTANT"
	RoleTranslator              Role = "TRANSLATOR"
	RoleIntern                  Role = "INTERN"
	RoleLiaison                 Role = "LIAISON"
)

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool {
	switch r {
	case RoleAdministrator, RoleProjectManager, RoleRegionalDirector,
		RoleFieldOperationsDirector, RoleFinancialAnalyst, RoleConsultant,
		RoleTranslator, RoleIntern, RoleLiaison:
		return true
	}
	return false
}

// Power is a coarse-grained capability independent of any specific instance.
type Power string

const (
	PowerCreateProject      Power = "CREATE_PROJECT"
	PowerCreateBudget       Power = "CREATE_BUDGET"
	PowerCreatePartnership  Power = "CREATE_PARTNERSHIP"
	PowerCreateEngagement   Power = "CREATE_ENGAGEMENT"
	PowerCreateOrganization Power = "CREATE_ORGANIZATION"
	PowerCreateLanguage     Power = "CREATE_LANGUAGE"
	PowerCreateUser         Power = "CREATE_USER"
	PowerCreateChangeset    Power = "CREATE_CHANGESET"
	PowerGrantPower         Power = "GRANT_POWER"
)

func (p Power) String() string { return string(p) }
