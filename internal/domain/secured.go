package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SecuredAttribute is one attribute as seen through the caller's grants.
// When CanRead is false the value is withheld even if it was fetched.
type SecuredAttribute struct {
	Value   json.RawMessage
	CanRead bool
	CanEdit bool
}

// SecuredList is a list attribute as seen through the caller's grants.
type SecuredList struct {
	Values  []json.RawMessage
	CanRead bool
	CanEdit bool
}

// SecuredEntity is the DTO every read operation returns: entity identity
// plus a per-property view filtered by the resolved grant set.
type SecuredEntity struct {
	ID         uuid.UUID
	Type       EntityType
	CreatedAt  time.Time
	Attributes map[string]SecuredAttribute
	Lists      map[string]SecuredList
}

// Attribute returns the secured view of a property, or a zero (unreadable,
// uneditable) view when the property was never written.
func (e *SecuredEntity) Attribute(key string) SecuredAttribute {
	if a, ok := e.Attributes[key]; ok {
		return a
	}
	return SecuredAttribute{}
}
