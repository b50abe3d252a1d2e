package policy

import (
	"github.com/tgreenfield/groundwork-backend/internal/domain"
)

// Property name groups per entity type. A property missing from a role's
// grant set is neither readable nor editable for that role (default deny).
var (
	projectProps = []string{
		"name", "status", "step", "departmentId", "location",
		"mouStart", "mouEnd", "estimatedSubmission", "sensitivity", "tags",
	}
	budgetProps       = []string{"status", "universalTemplate", "totalAmount"}
	budgetRecordProps = []string{"fiscalYear", "amount", "organizationId"}
	orgProps          = []string{"name", "address", "website"}
	partnershipProps  = []string{
		"agreementStatus", "mouStatus", "mouStart", "mouEnd",
		"types", "financialReportingType", "organizationId",
	}
	languageProps = []string{
		"name", "displayName", "ethnologueCode", "population",
		"registryOfDialectsCode", "sensitivity",
	}
	engagementProps = []string{
		"status", "completeDate", "disbursementCompleteDate",
		"startDateOverride", "endDateOverride", "paratextRegistryId", "tags",
	}
	userProps = []string{
		"email", "realFirstName", "realLastName", "displayFirstName",
		"displayLastName", "phone", "timezone", "about", "roles",
	}
)

// DefaultGroupKinds is the set of security groups created for every new
// entity. Org-public groups are attached separately when the entity has an
// owning organization.
var DefaultGroupKinds = []domain.SecurityGroupKind{
	domain.GroupKindAdmin,
	domain.GroupKindWriter,
	domain.GroupKindReader,
}

// Default builds the process-wide policy table. The returned table is
// immutable; callers share a single instance.
func Default() *Table {
	allTypes := map[domain.EntityType][]string{
		domain.EntityTypeProject:              projectProps,
		domain.EntityTypeBudget:               budgetProps,
		domain.EntityTypeBudgetRecord:         budgetRecordProps,
		domain.EntityTypeOrganization:         orgProps,
		domain.EntityTypePartnership:          partnershipProps,
		domain.EntityTypeLanguage:             languageProps,
		domain.EntityTypeLanguageEngagement:   engagementProps,
		domain.EntityTypeInternshipEngagement: engagementProps,
		domain.EntityTypeUser:                 userProps,
	}

	fullAccess := make(map[domain.EntityType]domain.GrantSet, len(allTypes))
	fullRead := make(map[domain.EntityType]domain.GrantSet, len(allTypes))
	for typ, props := range allTypes {
		fullAccess[typ] = readWrite(props...)
		fullRead[typ] = readOnly(props...)
	}

	return &Table{roles: map[domain.Role]Definition{
		domain.RoleAdministrator: {
			Powers: powers(
				domain.PowerCreateProject, domain.PowerCreateBudget,
				domain.PowerCreatePartnership, domain.PowerCreateEngagement,
				domain.PowerCreateOrganization, domain.PowerCreateLanguage,
				domain.PowerCreateUser, domain.PowerCreateChangeset,
				domain.PowerGrantPower,
			),
			Grants:         fullAccess,
			MaxSensitivity: domain.SensitivityHigh,
		},

		domain.RoleProjectManager: {
			Powers: powers(
				domain.PowerCreateProject, domain.PowerCreateBudget,
				domain.PowerCreatePartnership, domain.PowerCreateEngagement,
				domain.PowerCreateChangeset,
			),
			Grants: map[domain.EntityType]domain.GrantSet{
				domain.EntityTypeProject:              readWrite(projectProps...),
				domain.EntityTypeBudget:               readWrite(budgetProps...),
				domain.EntityTypeBudgetRecord:         readWrite(budgetRecordProps...),
				domain.EntityTypePartnership:          readWrite(partnershipProps...),
				domain.EntityTypeLanguageEngagement:   readWrite(engagementProps...),
				domain.EntityTypeInternshipEngagement: readWrite(engagementProps...),
				domain.EntityTypeOrganization:         readOnly(orgProps...),
				domain.EntityTypeLanguage:             readOnly(languageProps...),
				domain.EntityTypeUser:                 readOnly("displayFirstName", "displayLastName", "email", "timezone"),
			},
			MaxSensitivity: domain.SensitivityMedium,
		},

		domain.RoleRegionalDirector: {
			Powers: powers(
				domain.PowerCreateProject, domain.PowerCreateEngagement,
				domain.PowerCreateChangeset,
			),
			Grants: map[domain.EntityType]domain.GrantSet{
				domain.EntityTypeProject:              readWrite(projectProps...),
				domain.EntityTypeBudget:               readOnly(budgetProps...),
				domain.EntityTypeBudgetRecord:         readOnly(budgetRecordProps...),
				domain.EntityTypePartnership:          readOnly(partnershipProps...),
				domain.EntityTypeLanguageEngagement:   readWrite(engagementProps...),
				domain.EntityTypeInternshipEngagement: readWrite(engagementProps...),
				domain.EntityTypeOrganization:         readOnly(orgProps...),
				domain.EntityTypeLanguage:             readOnly(languageProps...),
				domain.EntityTypeUser:                 readOnly("displayFirstName", "displayLastName", "email"),
			},
			MaxSensitivity: domain.SensitivityHigh,
		},

		domain.RoleFieldOperationsDirector: {
			Powers: powers(domain.PowerCreateProject, domain.PowerCreateChangeset),
			Grants: map[domain.EntityType]domain.GrantSet{
				domain.EntityTypeProject:              readWrite("status", "step", "mouStart", "mouEnd"),
				domain.EntityTypeBudget:               readOnly(budgetProps...),
				domain.EntityTypeLanguageEngagement:   readOnly(engagementProps...),
				domain.EntityTypeInternshipEngagement: readOnly(engagementProps...),
				domain.EntityTypeOrganization:         readOnly(orgProps...),
				domain.EntityTypeLanguage:             readOnly(languageProps...),
			},
			MaxSensitivity: domain.SensitivityHigh,
		},

		domain.RoleFinancialAnalyst: {
			Powers: powers(domain.PowerCreateBudget),
			Grants: map[domain.EntityType]domain.GrantSet{
				domain.EntityTypeBudget:       readWrite(budgetProps...),
				domain.EntityTypeBudgetRecord: readWrite(budgetRecordProps...),
				domain.EntityTypeProject:      readOnly("name", "status", "mouStart", "mouEnd", "departmentId"),
				domain.EntityTypePartnership:  readOnly("agreementStatus", "mouStatus", "financialReportingType", "organizationId"),
				domain.EntityTypeOrganization: readOnly(orgProps...),
			},
			MaxSensitivity: domain.SensitivityMedium,
		},

		domain.RoleConsultant: {
			Powers: powers(domain.PowerCreateChangeset),
			Grants: map[domain.EntityType]domain.GrantSet{
				domain.EntityTypeProject:              readOnly("name", "status", "step", "location", "mouStart", "mouEnd"),
				domain.EntityTypeLanguage:             readOnly(languageProps...),
				domain.EntityTypeLanguageEngagement:   readWrite("status", "completeDate", "paratextRegistryId"),
				domain.EntityTypeInternshipEngagement: readOnly(engagementProps...),
				domain.EntityTypeUser:                 readOnly("displayFirstName", "displayLastName"),
			},
			MaxSensitivity: domain.SensitivityMedium,
		},

		domain.RoleTranslator: {
			Powers: nil,
			Grants: map[domain.EntityType]domain.GrantSet{
				domain.EntityTypeProject:            readOnly("name", "status"),
				domain.EntityTypeLanguage:           readOnly("name", "displayName", "ethnologueCode"),
				domain.EntityTypeLanguageEngagement: readOnly("status", "startDateOverride", "endDateOverride"),
			},
			MaxSensitivity: domain.SensitivityLow,
		},

		domain.RoleIntern: {
			Powers: nil,
			Grants: map[domain.EntityType]domain.GrantSet{
				domain.EntityTypeProject:              readOnly("name", "status", "location"),
				domain.EntityTypeLanguage:             readOnly("name", "displayName"),
				domain.EntityTypeLanguageEngagement:   readOnly("status"),
				domain.EntityTypeInternshipEngagement: readOnly("status", "startDateOverride", "endDateOverride"),
			},
			MaxSensitivity: domain.SensitivityLow,
		},

		domain.RoleLiaison: {
			Powers: nil,
			Grants: map[domain.EntityType]domain.GrantSet{
				domain.EntityTypeProject:      readOnly("name", "status", "mouStart", "mouEnd"),
				domain.EntityTypeOrganization: readOnly(orgProps...),
				domain.EntityTypePartnership:  readOnly("agreementStatus", "mouStatus", "types"),
			},
			MaxSensitivity: domain.SensitivityLow,
		},
	}}
}

// PropertiesFor returns the full property list for an entity type, used at
// creation time to decide which permission rows each group receives.
func PropertiesFor(entityType domain.EntityType) []string {
	switch entityType {
	case domain.EntityTypeProject:
		return projectProps
	case domain.EntityTypeBudget:
		return budgetProps
	case domain.EntityTypeBudgetRecord:
		return budgetRecordProps
	case domain.EntityTypeOrganization:
		return orgProps
	case domain.EntityTypePartnership:
		return partnershipProps
	case domain.EntityTypeLanguage:
		return languageProps
	case domain.EntityTypeLanguageEngagement, domain.EntityTypeInternshipEngagement:
		return engagementProps
	case domain.EntityTypeUser:
		return userProps
	}
	return nil
}

// ListProperties names the attributes stored as lists (one active version
// per element) rather than scalars.
var ListProperties = map[string]bool{
	"tags":  true,
	"types": true,
	"roles": true,
}
