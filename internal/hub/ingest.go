package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/blackmichael/hub-notifier/internal/domain"
	"github.com/blackmichael/hub-notifier/internal/metrics"
)

// EventLog is the durable append target of the ingestion path.
type EventLog interface {
	Append(ctx context.Context, event domain.Event) error
	LastSequenceID() uint64
}

// Publisher fans an event out to live subscribers. It must not block.
type Publisher interface {
	Publish(event domain.Event)
}

// Relay mirrors events to an external message bus.
type Relay interface {
	Publish(ctx context.Context, event domain.Event) error
}

const statsInterval = 30 * time.Second

// Ingestor is the single writer of the event pipeline: it consumes the hub
// stream in arrival order, appends every decoded event to the log and then
// publishes it.
type Ingestor struct {
	log       EventLog
	publisher Publisher
	relay     Relay
	logger    *slog.Logger

	eventsReceived int64
	eventsSkipped  int64
	persistFailed  int64
}

// NewIngestor creates an ingestion pipeline. relay may be nil.
func NewIngestor(log EventLog, publisher Publisher, relay Relay, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		log:       log,
		publisher: publisher,
		relay:     relay,
		logger:    logger,
	}
}

// ResumeID is the first hub event id the next connection should ask for.
func (i *Ingestor) ResumeID() uint64 {
	if last := i.log.LastSequenceID(); last > 0 {
		return last + 1
	}
	return 0
}

// Run consumes src until ctx is cancelled or the source fails. A source
// failure is returned as is and ends ingestion; decode and persistence
// failures are logged and skipped.
func (i *Ingestor) Run(ctx context.Context, src Source) error {
	defer src.Close()

	lastStatsLog := time.Now()
	for {
		raw, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		i.eventsReceived++
		i.handle(ctx, raw)

		// Log stats every 30 seconds
		if time.Since(lastStatsLog) >= statsInterval {
			i.logger.Info("ingestion stats",
				"events_received", i.eventsReceived,
				"events_skipped", i.eventsSkipped,
				"persist_failed", i.persistFailed,
				"last_sequence_id", i.log.LastSequenceID(),
			)
			lastStatsLog = time.Now()
		}
	}
}

func (i *Ingestor) handle(ctx context.Context, raw []byte) {
	event, err := Decode(raw)
	if err != nil {
		i.eventsSkipped++
		metrics.DecodeErrors.Inc()
		i.logger.Warn("skipping undecodable hub event", "error", err, "raw", string(raw))
		return
	}

	if event.Type == domain.EventUnknown {
		i.logger.Warn("unknown message type",
			"hub_event_id", event.SequenceID,
			"message_type", event.MessageType,
			"fid", event.FID,
		)
	}

	if err := i.log.Append(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			i.logger.Debug("skipping duplicate hub event", "hub_event_id", event.SequenceID)
			return
		}
		i.persistFailed++
		metrics.PersistErrors.Inc()
		i.logger.Error("failed to persist event, continuing", "hub_event_id", event.SequenceID, "error", err)
	}

	i.publisher.Publish(event)

	if i.relay != nil {
		if err := i.relay.Publish(ctx, event); err != nil {
			metrics.RelayErrors.Inc()
			i.logger.Warn("failed to relay event", "hub_event_id", event.SequenceID, "error", err)
		}
	}

	metrics.EventsIngested.WithLabelValues(string(event.Type)).Inc()
	metrics.LastSequenceID.Set(float64(event.SequenceID))
	i.logger.Debug("ingested event",
		"hub_event_id", event.SequenceID,
		"type", event.Type,
		"description", truncate(event.Description, 100),
	)
}

// Dial opens the source matching the hub URL scheme: ws/wss for a WebSocket
// relay, http/https for the hub HTTP API.
func Dial(ctx context.Context, hubURL string, fromID uint64, timeout, pollInterval time.Duration, logger *slog.Logger) (Source, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse hub url: %v", domain.ErrUpstreamUnavailable, err)
	}
	switch u.Scheme {
	case "ws", "wss":
		return DialWebSocket(ctx, hubURL, fromID, timeout, logger)
	case "http", "https":
		return DialHTTP(ctx, hubURL, fromID, timeout, pollInterval, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported hub url scheme %q", domain.ErrUpstreamUnavailable, u.Scheme)
	}
}

// truncate returns the first n characters of s, appending "..." if truncated.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
