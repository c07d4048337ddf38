package rollinglog

import (
	"context"
	"log/slog"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

// Backfill limits applied when no configuration overrides them.
const (
	DefaultBackfillMin     = 1
	DefaultBackfillMax     = 100
	DefaultBackfillRequest = 25
)

// Backfill answers history requests from newly connected clients.
type Backfill struct {
	log     *Log
	min     int
	max     int
	request int
	logger  *slog.Logger
}

// NewBackfill creates a responder over log. Non-positive bounds fall back to
// the defaults.
func NewBackfill(log *Log, minN, maxN, defaultN int, logger *slog.Logger) *Backfill {
	if minN <= 0 {
		minN = DefaultBackfillMin
	}
	if maxN < minN {
		maxN = max(minN, DefaultBackfillMax)
	}
	if defaultN <= 0 {
		defaultN = DefaultBackfillRequest
	}
	return &Backfill{
		log:     log,
		min:     minN,
		max:     maxN,
		request: max(minN, min(defaultN, maxN)),
		logger:  logger,
	}
}

// Clamp bounds a requested count. Zero or negative requests get the default.
func (b *Backfill) Clamp(n int) int {
	if n <= 0 {
		return b.request
	}
	return max(b.min, min(n, b.max))
}

// Respond returns up to Clamp(n) recent events, newest first. A warm cache
// that can hold the request answers it; otherwise the repository does, with
// the cache as fallback when storage fails.
func (b *Backfill) Respond(ctx context.Context, n int) []domain.Event {
	n = b.Clamp(n)

	if b.log.Warm() && n <= b.log.CacheSize() {
		return b.log.Recent(n)
	}

	events, err := b.log.RecentPersisted(ctx, n)
	if err != nil {
		b.logger.Warn("backfill from storage failed, serving cache", "error", err)
		return b.log.Recent(n)
	}
	return events
}

// Since returns every retained event after the given sequence id, oldest
// first. The log is read in pages of the maximum backfill size until a short
// page shows the reader has caught up.
func (b *Backfill) Since(ctx context.Context, after uint64) ([]domain.Event, error) {
	out := []domain.Event{}
	for {
		page, err := b.log.Since(ctx, after, b.max)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < b.max {
			return out, nil
		}
		after = page[len(page)-1].SequenceID
	}
}
