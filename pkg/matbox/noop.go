package matbox

import (
	"context"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// MaterialCreated does nothing and returns nil
func (n *NoopEventSink) MaterialCreated(ctx context.Context, material *Material) error {
	return nil
}

// VersionAdded does nothing and returns nil
func (n *NoopEventSink) VersionAdded(ctx context.Context, ownerID, name string, version *Version) error {
	return nil
}

// CategoryChanged does nothing and returns nil
func (n *NoopEventSink) CategoryChanged(ctx context.Context, materialID uuid.UUID, category Category) error {
	return nil
}
