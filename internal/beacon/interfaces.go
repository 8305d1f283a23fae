package beacon

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared by the pipeline components.
var (
	// ErrNoLocation is returned by geolocation sources that have no answer.
	ErrNoLocation = errors.New("no location")
	// ErrNotFound hides every retrieval failure behind a single answer.
	ErrNotFound = errors.New("not found")
)

// RecordStore persists enriched events.
type RecordStore interface {
	Insert(ctx context.Context, evt Event) (string, error)
	QueryRecent(ctx context.Context, limit int) ([]Event, error)
}

// MessageSink delivers one rich-text (HTML) message to a fixed channel.
type MessageSink interface {
	SendMessage(ctx context.Context, text string) error
}

// OfflineGeoSource answers from a local database without I/O on the network.
type OfflineGeoSource interface {
	Lookup(address string) (*Candidate, bool)
}

// NetworkGeoSource performs a remote lookup and must honour ctx cancellation.
type NetworkGeoSource interface {
	Lookup(ctx context.Context, address string) (*Candidate, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps an admitted submission waiting for background processing.
type QueueItem struct {
	Submission Submission
	Enqueued   time.Time
}
