package domain

import (
	"context"
	"log/slog"
	"time"
)

// RetentionPolicy bounds how much history the durable store keeps.
type RetentionPolicy struct {
	Interval time.Duration
	MaxAge   time.Duration
	MaxRows  int
}

// Enabled reports whether the policy removes anything.
func (p RetentionPolicy) Enabled() bool {
	return p.MaxAge > 0 || p.MaxRows > 0
}

// StartRetentionJob runs a background loop that removes events older than
// MaxAge and caps the store at MaxRows. It runs immediately on start and then
// repeats at the policy interval. It blocks until ctx is cancelled.
func StartRetentionJob(ctx context.Context, repo EventRepository, policy RetentionPolicy, logger *slog.Logger) {
	if !policy.Enabled() {
		return
	}
	interval := policy.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	runRetention(ctx, repo, policy, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runRetention(ctx, repo, policy, logger)
		}
	}
}

func runRetention(ctx context.Context, repo EventRepository, policy RetentionPolicy, logger *slog.Logger) {
	deleted, err := repo.DeleteOldEvents(ctx, policy.MaxAge, policy.MaxRows)
	if err != nil {
		logger.Error("event retention failed", "error", err)
	} else if deleted > 0 {
		logger.Info("event retention complete", "deleted", deleted)
	}
}
