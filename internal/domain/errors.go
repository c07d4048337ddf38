package domain

import "errors"

var (
	// ErrSchemaMismatch means a raw hub record does not match any known
	// message shape. The record is skipped.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrWriteFailed means a durable append failed. The in-memory cache was
	// still updated.
	ErrWriteFailed = errors.New("durable write failed")

	// ErrDuplicate means an event at or below the last appended sequence id
	// was offered again.
	ErrDuplicate = errors.New("duplicate sequence id")

	// ErrSubscriberUnreachable means a session could not keep up and was
	// dropped.
	ErrSubscriberUnreachable = errors.New("subscriber unreachable")

	// ErrUpstreamUnavailable means the hub link could not be established or
	// was lost. It is fatal to ingestion.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	ErrInvalidTransition = errors.New("invalid session status transition")
)
