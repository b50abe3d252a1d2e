package domain

import (
	"time"

	"github.com/google/uuid"
)

// Changeset is a staged bundle of proposed edits against one or more target
// entities. Edits made within a changeset stay invisible to canonical reads
// until the changeset is approved.
type Changeset struct {
	ID          uuid.UUID
	Status      ChangesetStatus
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	FinalizedAt *time.Time
}

// IsOpen reports whether the changeset still accepts edits.
func (c *Changeset) IsOpen() bool { return c.Status == ChangesetPending }

// ChangesetEntity links a changeset to an entity it touches. Entities created
// inside the changeset are flagged so rejection can tear them down.
type ChangesetEntity struct {
	ChangesetID        uuid.UUID
	EntityID           uuid.UUID
	CreatedInChangeset bool
	DeleteOnReject     bool
}

// FinalizedEvent is the payload of the changeset.finalized bus event.
type FinalizedEvent struct {
	ChangesetID uuid.UUID       `json:"changeset_id"`
	Status      ChangesetStatus `json:"status"`
}
