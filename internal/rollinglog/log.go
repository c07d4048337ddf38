// Package rollinglog keeps the durable event history together with a
// bounded in-memory cache of the most recent events.
package rollinglog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

// DefaultCacheSize is the number of recent events kept in memory.
const DefaultCacheSize = 250

// Log is an append-only event log backed by a repository. Only the ingestion
// path appends; readers may call Recent and Since concurrently.
type Log struct {
	repo      domain.EventRepository
	cacheSize int
	logger    *slog.Logger

	mu sync.RWMutex
	// ring holds cached events oldest-first; start indexes the oldest entry.
	ring  []domain.Event
	start int
	warm  bool
	last  uint64
}

// Open creates a log over repo and loads the latest cacheSize persisted
// events. A read failure leaves the cache cold but the log usable.
func Open(ctx context.Context, repo domain.EventRepository, cacheSize int, logger *slog.Logger) *Log {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	l := &Log{
		repo:      repo,
		cacheSize: cacheSize,
		logger:    logger,
		ring:      make([]domain.Event, 0, cacheSize),
	}

	if last, err := repo.LatestSequenceID(ctx); err != nil {
		logger.Error("failed to read latest sequence id", "error", err)
	} else {
		l.last = last
	}

	recent, err := repo.RecentEvents(ctx, cacheSize)
	if err != nil {
		logger.Error("failed to warm event cache, starting cold", "error", err)
		return l
	}
	for i := len(recent) - 1; i >= 0; i-- {
		l.push(recent[i])
	}
	l.warm = true
	logger.Info("event cache loaded", "events", len(l.ring), "last_sequence_id", l.last)
	return l
}

// Append persists the event and then adds it to the cache. The cache is
// updated even when the repository write fails, in which case an error
// wrapping domain.ErrWriteFailed is returned. Events at or below the last
// appended sequence id return domain.ErrDuplicate and change nothing.
// Readers are not blocked while the repository write is in flight.
func (l *Log) Append(ctx context.Context, event domain.Event) error {
	if err := l.checkNext(event.SequenceID); err != nil {
		return err
	}

	writeErr := l.repo.AppendEvent(ctx, event)

	l.mu.Lock()
	if event.SequenceID <= l.last {
		last := l.last
		l.mu.Unlock()
		return fmt.Errorf("%w: sequence id %d (last %d)", domain.ErrDuplicate, event.SequenceID, last)
	}
	l.push(event)
	l.mu.Unlock()

	if writeErr != nil {
		return fmt.Errorf("%w: append event %d: %v", domain.ErrWriteFailed, event.SequenceID, writeErr)
	}
	return nil
}

func (l *Log) checkNext(seq uint64) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if seq <= l.last {
		return fmt.Errorf("%w: sequence id %d (last %d)", domain.ErrDuplicate, seq, l.last)
	}
	return nil
}

// push adds an event to the ring, evicting the oldest beyond capacity.
// Callers hold mu.
func (l *Log) push(event domain.Event) {
	if len(l.ring) < l.cacheSize {
		l.ring = append(l.ring, event)
	} else {
		l.ring[l.start] = event
		l.start = (l.start + 1) % l.cacheSize
	}
	if event.SequenceID > l.last {
		l.last = event.SequenceID
	}
}

// at returns the i-th cached event counting from the oldest. Callers hold mu.
func (l *Log) at(i int) domain.Event {
	return l.ring[(l.start+i)%len(l.ring)]
}

// Recent returns up to n cached events, newest first.
func (l *Log) Recent(n int) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n = min(n, len(l.ring))
	if n <= 0 {
		return []domain.Event{}
	}
	out := make([]domain.Event, 0, n)
	for i := len(l.ring) - 1; i >= len(l.ring)-n; i-- {
		out = append(out, l.at(i))
	}
	return out
}

// RecentPersisted reads up to n events from the repository, newest first.
func (l *Log) RecentPersisted(ctx context.Context, n int) ([]domain.Event, error) {
	events, err := l.repo.RecentEvents(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("read recent events: %w", err)
	}
	return events, nil
}

// Since returns up to limit events with a sequence id greater than after,
// oldest first. It answers from the cache when after falls inside the cached
// range and from the repository otherwise.
func (l *Log) Since(ctx context.Context, after uint64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		return []domain.Event{}, nil
	}

	l.mu.RLock()
	if len(l.ring) > 0 && l.at(0).SequenceID <= after {
		out := make([]domain.Event, 0, min(limit, len(l.ring)))
		for i := 0; i < len(l.ring) && len(out) < limit; i++ {
			if e := l.at(i); e.SequenceID > after {
				out = append(out, e)
			}
		}
		l.mu.RUnlock()
		return out, nil
	}
	l.mu.RUnlock()

	events, err := l.repo.EventsAfter(ctx, after, limit)
	if err != nil {
		return nil, fmt.Errorf("read events after %d: %w", after, err)
	}
	return events, nil
}

// Warm reports whether the cache was loaded from the repository.
func (l *Log) Warm() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.warm
}

// Len returns the number of cached events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ring)
}

// CacheSize returns the cache capacity.
func (l *Log) CacheSize() int {
	return l.cacheSize
}

// LastSequenceID returns the highest sequence id seen, persisted or cached.
func (l *Log) LastSequenceID() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.last
}
