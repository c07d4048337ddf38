package domain

import (
	"context"
	"time"
)

// EventRepository defines durable storage for normalized events. The store
// is append-only and keyed by sequence id.
type EventRepository interface {
	// AppendEvent persists an event. Appending an already stored sequence id
	// is a no-op.
	AppendEvent(ctx context.Context, event Event) error

	// RecentEvents returns up to limit events ordered by sequence id
	// descending.
	RecentEvents(ctx context.Context, limit int) ([]Event, error)

	// EventsAfter returns up to limit events with a sequence id greater than
	// after, ordered ascending.
	EventsAfter(ctx context.Context, after uint64, limit int) ([]Event, error)

	// LatestSequenceID returns the highest stored sequence id, or 0 for an
	// empty store.
	LatestSequenceID(ctx context.Context) (uint64, error)

	// DeleteOldEvents removes events older than maxAge and any excess rows
	// beyond maxRows, keeping the most recent. A zero limit disables that
	// rule. Returns the number of rows deleted.
	DeleteOldEvents(ctx context.Context, maxAge time.Duration, maxRows int) (int64, error)

	Close() error
}
