// Package relay mirrors normalized events onto a NATS message bus.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

// DefaultSubjectPrefix is prepended to the lowercased event type.
const DefaultSubjectPrefix = "hub.events"

// NATSRelay publishes each event as JSON to "<prefix>.<type>", for example
// hub.events.cast_add.
type NATSRelay struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSRelay connects to NATS with automatic reconnection.
func NewNATSRelay(url, prefix string, logger *slog.Logger) (*NATSRelay, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	nc, err := nats.Connect(url,
		nats.Name("hub-notifier"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSRelay{conn: nc, prefix: strings.TrimSuffix(prefix, ".")}, nil
}

// Subject returns the subject an event of type t is published on.
func (r *NATSRelay) Subject(t domain.EventType) string {
	return Subject(r.prefix, t)
}

// Subject joins prefix and the lowercased event type.
func Subject(prefix string, t domain.EventType) string {
	return prefix + "." + strings.ToLower(string(t))
}

func (r *NATSRelay) Publish(_ context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := r.conn.Publish(r.Subject(event.Type), data); err != nil {
		return fmt.Errorf("publish event %d: %w", event.SequenceID, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (r *NATSRelay) Close() error {
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

// NoopRelay discards every event. It is used when no NATS URL is configured.
type NoopRelay struct{}

func (NoopRelay) Publish(context.Context, domain.Event) error { return nil }
func (NoopRelay) Close() error                                { return nil }
