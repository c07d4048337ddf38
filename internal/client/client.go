package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// ErrRetriesExhausted is returned by Run when the notifier could not be
// reached within Options.MaxRetries consecutive attempts.
var ErrRetriesExhausted = errors.New("notifier unreachable")

// Options describe a subscription to a notifier's /subscribe endpoint.
type Options struct {
	// URL is the notifier base URL (ws://, wss://, http:// or https://).
	URL string

	Types    []string
	FIDs     []uint64
	Mentions []uint64
	ReplyTo  []uint64
	All      bool

	// Backfill is the history requested on the first connection. Negative
	// leaves it to the server default; zero asks for none.
	Backfill int

	// Expr is an optional CEL predicate.
	Expr string

	MinBackoff time.Duration
	MaxBackoff time.Duration

	// MaxRetries bounds consecutive failed connection attempts. Zero retries
	// forever.
	MaxRetries int

	// OnStatus, if set, is called on every status change.
	OnStatus func(domain.SessionStatus)
}

// Handler receives events in sequence order. Returning an error ends Run.
type Handler func(domain.Event) error

// Client is a reconnecting subscriber. After a dropped connection it
// resubscribes with since set to the last delivered sequence id, so no event
// retained by the server is missed or repeated.
type Client struct {
	opts   Options
	dialer *websocket.Dialer
	logger *slog.Logger

	mu      sync.Mutex
	status  domain.SessionStatus
	lastSeq uint64
}

// New creates a client in the connecting state.
func New(opts Options, logger *slog.Logger) *Client {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = max(defaultMaxBackoff, opts.MinBackoff)
	}
	return &Client{
		opts:   opts,
		dialer: websocket.DefaultDialer,
		logger: logger,
		status: domain.StatusConnecting,
	}
}

// Status returns the current connection status.
func (c *Client) Status() domain.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastSequenceID returns the sequence id of the last delivered event.
func (c *Client) LastSequenceID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// Run connects and delivers events to handle until ctx is cancelled, the
// handler fails, or the retry budget runs out. The client is disconnected
// when Run returns.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	defer c.setStatus(domain.StatusDisconnected)

	failures := 0
	backoff := c.opts.MinBackoff
	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if c.opts.MaxRetries > 0 && failures >= c.opts.MaxRetries {
				return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
			}
			c.logger.Warn("connect failed, retrying", "attempt", failures, "backoff", backoff, "error", err)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}

		failures = 0
		backoff = c.opts.MinBackoff
		c.setStatus(domain.StatusConnected)

		err = c.consume(ctx, conn, handle)
		conn.Close()

		var handlerErr *handlerError
		switch {
		case errors.As(err, &handlerErr):
			return handlerErr.err
		case ctx.Err() != nil:
			return ctx.Err()
		}

		c.logger.Info("connection lost, reconnecting", "last_sequence_id", c.LastSequenceID(), "error", err)
		c.setStatus(domain.StatusReconnecting)
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := c.subscribeURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	c.logger.Debug("subscribed", "url", u)
	return conn, nil
}

type handlerError struct{ err error }

func (e *handlerError) Error() string { return e.err.Error() }

func (c *Client) consume(ctx context.Context, conn *websocket.Conn, handle Handler) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var event domain.Event
		if err := conn.ReadJSON(&event); err != nil {
			return fmt.Errorf("read event: %w", err)
		}

		c.mu.Lock()
		if event.SequenceID <= c.lastSeq {
			c.mu.Unlock()
			continue
		}
		c.lastSeq = event.SequenceID
		c.mu.Unlock()

		if err := handle(event); err != nil {
			return &handlerError{err: err}
		}
	}
}

// subscribeURL builds the /subscribe URL. Once an event was delivered the
// request resumes after it instead of asking for a backfill.
func (c *Client) subscribeURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse notifier url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported notifier url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/subscribe"

	q := url.Values{}
	if len(c.opts.Types) > 0 {
		q.Set("type", strings.Join(c.opts.Types, ","))
	}
	setIDs(q, "fid", c.opts.FIDs)
	setIDs(q, "mention", c.opts.Mentions)
	setIDs(q, "replyTo", c.opts.ReplyTo)
	if c.opts.All {
		q.Set("all", "true")
	}
	if c.opts.Expr != "" {
		q.Set("expr", c.opts.Expr)
	}

	if last := c.LastSequenceID(); last > 0 {
		q.Set("since", strconv.FormatUint(last, 10))
	} else if c.opts.Backfill >= 0 {
		q.Set("backfill", strconv.Itoa(c.opts.Backfill))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func setIDs(q url.Values, key string, ids []uint64) {
	if len(ids) == 0 {
		return
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(id, 10)
	}
	q.Set(key, strings.Join(parts, ","))
}

func (c *Client) setStatus(to domain.SessionStatus) {
	c.mu.Lock()
	from := c.status
	if from == to || !domain.CanTransition(from, to) {
		c.mu.Unlock()
		return
	}
	c.status = to
	c.mu.Unlock()

	c.logger.Debug("status changed", "from", from, "to", to)
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(to)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
