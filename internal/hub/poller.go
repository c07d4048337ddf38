package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

// HTTPSource pages hub events from the hub HTTP API (/v1/events). Only merge
// events are yielded; other classes are skipped while still advancing the
// cursor.
type HTTPSource struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	logger       *slog.Logger

	next    uint64
	pending []json.RawMessage
}

type eventsPage struct {
	Events          []json.RawMessage `json:"events"`
	NextPageEventID uint64            `json:"nextPageEventId"`
}

// eventSequenceBits is the number of low bits of a hub event id that hold
// the per-millisecond sequence; the high bits are milliseconds since the
// Farcaster epoch.
const eventSequenceBits = 12

// headEventID returns the smallest event id a hub assigns at or after t.
func headEventID(t time.Time) uint64 {
	ms := t.UnixMilli() - FarcasterEpoch*1000
	if ms <= 0 {
		return 1
	}
	return uint64(ms) << eventSequenceBits
}

// DialHTTP checks that the hub HTTP API answers /v1/info within timeout and
// returns a source that starts at fromID. A zero fromID starts at the hub's
// current head instead of its oldest retained event.
func DialHTTP(ctx context.Context, baseURL string, fromID uint64, timeout, pollInterval time.Duration, logger *slog.Logger) (*HTTPSource, error) {
	if fromID == 0 {
		fromID = headEventID(time.Now())
	}
	s := &HTTPSource{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: pollInterval,
		logger:       logger,
		next:         fromID,
	}

	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := s.get(readyCtx, "/v1/info"); err != nil {
		return nil, fmt.Errorf("%w: hub not ready: %v", domain.ErrUpstreamUnavailable, err)
	}

	logger.Info("connected to hub http api", "url", s.baseURL, "from_id", fromID)
	return s, nil
}

func (s *HTTPSource) Next(ctx context.Context) ([]byte, error) {
	for len(s.pending) == 0 {
		if err := s.fetch(ctx); err != nil {
			return nil, err
		}
		if len(s.pending) > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}

	raw := s.pending[0]
	s.pending = s.pending[1:]
	return raw, nil
}

func (s *HTTPSource) fetch(ctx context.Context) error {
	path := "/v1/events?from_event_id=" + strconv.FormatUint(s.next, 10)

	body, err := s.get(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: fetch events: %v", domain.ErrUpstreamUnavailable, err)
	}

	var page eventsPage
	if err := json.Unmarshal(body, &page); err != nil {
		return fmt.Errorf("%w: unmarshal events page: %v", domain.ErrUpstreamUnavailable, err)
	}

	for _, raw := range page.Events {
		var head struct {
			ID   uint64       `json:"id"`
			Type hubEventType `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			// Let the decoder report the malformed record.
			s.pending = append(s.pending, raw)
			continue
		}
		if head.ID >= s.next {
			s.next = head.ID + 1
		}
		if head.Type.Code != hubEventMergeMessage {
			continue
		}
		s.pending = append(s.pending, raw)
	}
	if page.NextPageEventID > s.next {
		s.next = page.NextPageEventID
	}
	return nil
}

func (s *HTTPSource) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("hub API error (status %d): %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Close releases idle keep-alive connections to the hub.
func (s *HTTPSource) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}
