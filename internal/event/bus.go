// Package event provides the pub/sub bus that decouples the write path from
// reactions to it. Two drivers exist: an in-process bus for single-node
// deployments and tests, and a Redis-backed bus for multi-node deployments.
package event

import "context"

// Topics published by the services.
const (
	TopicEntityCreated      = "entity.created"
	TopicEntityUpdated      = "entity.updated"
	TopicEntityDeleted      = "entity.deleted"
	TopicChangesetFinalized = "changeset.finalized"
)

// Handler consumes one published message. Returned errors are logged by the
// bus, never propagated to the publisher.
type Handler func(ctx context.Context, payload []byte) error

// Bus is the minimal pub/sub surface the services depend on.
type Bus interface {
	// Publish sends a payload to every subscriber of the topic.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe registers a handler for a topic.
	Subscribe(topic string, h Handler)
	// Close stops delivery and releases driver resources.
	Close() error
}
