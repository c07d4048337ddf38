package hub

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/blackmichael/hub-notifier/internal/domain"
	"github.com/gorilla/websocket"
)

// Source is an ordered stream of raw hub events.
type Source interface {
	// Next blocks until the next raw event arrives. Errors other than
	// context cancellation wrap domain.ErrUpstreamUnavailable.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// wantedEventTypes is the set of hub event classes requested on subscribe.
// Only merge events are needed for the notifier.
var wantedEventTypes = []string{
	"HUB_EVENT_TYPE_MERGE_MESSAGE",
}

type subscribeRequest struct {
	EventTypes []string `json:"eventTypes"`
	FromID     uint64   `json:"fromId,omitempty"`
}

// WebSocketSource reads hub events from a WebSocket relay, one JSON event
// per frame.
type WebSocketSource struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// DialWebSocket connects to the hub relay and subscribes to merge events
// starting at fromID. The handshake and subscribe call must finish within
// timeout.
func DialWebSocket(ctx context.Context, hubURL string, fromID uint64, timeout time.Duration, logger *slog.Logger) (*WebSocketSource, error) {
	wsURL, err := buildURL(hubURL, fromID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	logger.Info("connecting to hub", "url", wsURL)

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial hub: %v", domain.ErrUpstreamUnavailable, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	req := subscribeRequest{EventTypes: wantedEventTypes, FromID: fromID}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: subscribe: %v", domain.ErrUpstreamUnavailable, err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	logger.Info("connected to hub", "from_id", fromID)
	return &WebSocketSource{conn: conn, logger: logger}, nil
}

func buildURL(hubURL string, fromID uint64) (string, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return "", fmt.Errorf("parse hub url: %w", err)
	}
	q := u.Query()
	for _, t := range wantedEventTypes {
		q.Add("event_types", t)
	}
	if fromID > 0 {
		q.Set("from_id", strconv.FormatUint(fromID, 10))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *WebSocketSource) Next(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: read message: %v", domain.ErrUpstreamUnavailable, err)
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (s *WebSocketSource) Close() error {
	return s.conn.Close()
}
