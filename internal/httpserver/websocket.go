package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blackmichael/hub-notifier/internal/domain"
	"github.com/blackmichael/hub-notifier/internal/fanout"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer. Clients only send control
	// frames.
	maxMessageSize = 4 * 1024
)

// Send pings to peer with this period. Must be less than pongWait.
var pingPeriod = (pongWait * 9) / 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Subscribers are not authenticated; any origin may connect.
	CheckOrigin: func(*http.Request) bool { return true },
}

// subscribeParams are the /subscribe query parameters. List parameters may
// be repeated or comma separated.
type subscribeParams struct {
	Type     []string `schema:"type"`
	FID      []string `schema:"fid"`
	Mention  []string `schema:"mention"`
	ReplyTo  []string `schema:"replyTo"`
	All      bool     `schema:"all"`
	Backfill string   `schema:"backfill"`
	Since    string   `schema:"since"`
	Expr     string   `schema:"expr"`
}

// subscription is a validated subscribe request.
type subscription struct {
	filter    domain.Filter
	predicate fanout.Predicate
	// backfill is the requested history size; -1 selects the default and 0
	// disables history.
	backfill int
	since    *uint64
}

func (s *Server) parseSubscription(query url.Values) (subscription, error) {
	var params subscribeParams
	if err := s.decoder.Decode(&params, query); err != nil {
		return subscription{}, fmt.Errorf("invalid query parameters: %w", err)
	}

	sub := subscription{backfill: -1}

	for _, v := range splitList(params.Type) {
		t, err := domain.ParseEventType(v)
		if err != nil {
			return subscription{}, err
		}
		sub.filter.Types = append(sub.filter.Types, t)
	}

	var err error
	if sub.filter.FIDs, err = parseIDs("fid", params.FID); err != nil {
		return subscription{}, err
	}
	if sub.filter.Mentions, err = parseIDs("mention", params.Mention); err != nil {
		return subscription{}, err
	}
	if sub.filter.RepliesTo, err = parseIDs("replyTo", params.ReplyTo); err != nil {
		return subscription{}, err
	}
	if params.All {
		sub.filter = domain.FilterAll()
	}

	if params.Backfill != "" {
		n, err := strconv.Atoi(params.Backfill)
		if err != nil || n < 0 {
			return subscription{}, fmt.Errorf("invalid backfill %q", params.Backfill)
		}
		sub.backfill = n
	}

	if params.Since != "" {
		seq, err := strconv.ParseUint(params.Since, 10, 64)
		if err != nil {
			return subscription{}, fmt.Errorf("invalid since %q", params.Since)
		}
		sub.since = &seq
	}

	if sub.predicate, err = fanout.CompilePredicate(params.Expr); err != nil {
		return subscription{}, fmt.Errorf("invalid expr: %w", err)
	}

	return sub, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseIDs(name string, values []string) ([]uint64, error) {
	var ids []uint64
	for _, v := range splitList(values) {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q", name, v)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// backfillFunc returns the history fetch for a subscription. History is
// narrowed to what the live filter would have delivered.
func (s *Server) backfillFunc(sub subscription) fanout.BackfillFunc {
	var fetch fanout.BackfillFunc
	switch {
	case sub.since != nil:
		fetch = func(ctx context.Context) ([]domain.Event, error) {
			return s.backfill.Since(ctx, *sub.since)
		}
	case sub.backfill == 0:
		return nil
	default:
		n := max(sub.backfill, 0)
		fetch = func(ctx context.Context) ([]domain.Event, error) {
			return s.backfill.Respond(ctx, n), nil
		}
	}

	return func(ctx context.Context) ([]domain.Event, error) {
		events, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		matched := make([]domain.Event, 0, len(events))
		for _, e := range events {
			if sub.filter.Matches(e) && sub.predicate.Eval(e) {
				matched = append(matched, e)
			}
		}
		return matched, nil
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	sub, err := s.parseSubscription(r.URL.Query())
	if err != nil {
		s.logger.Warn("rejected subscribe request", "error", err)
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := fanout.NewSession(sub.filter, s.cfg.SessionQueueSize, sub.predicate)
	defer session.Close()

	logger := s.logger.With("session_id", session.ID(), "filter", sub.filter.String())

	if err := session.Attach(ctx, s.router, s.backfillFunc(sub)); err != nil {
		logger.Error("failed to attach session", "error", err)
		s.writeClose(conn, websocket.CloseInternalServerErr, "backfill failed")
		return
	}
	logger.Info("subscriber connected", "remote_addr", r.RemoteAddr, "sessions", s.router.SessionCount())

	go s.readPump(conn, session, cancel)
	err = s.writePump(ctx, conn, session)

	switch {
	case errors.Is(err, domain.ErrSubscriberUnreachable):
		logger.Warn("subscriber dropped", "error", err)
		s.writeClose(conn, websocket.CloseTryAgainLater, "subscriber queue overflow")
	case err != nil && !errors.Is(err, fanout.ErrSessionClosed) && !errors.Is(err, context.Canceled):
		logger.Info("subscriber write failed", "error", err)
	}
	logger.Info("subscriber disconnected", "sessions", s.router.SessionCount())
}

// readPump drains client frames to process control messages. It closes the
// session as soon as the connection fails.
func (s *Server) readPump(conn *websocket.Conn, session *fanout.Session, cancel context.CancelFunc) {
	defer func() {
		session.Close()
		cancel()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read failed", "session_id", session.ID(), "error", err)
			}
			return
		}
	}
}

// writePump pushes session events to the connection as JSON text frames and
// pings the peer every pingPeriod.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, session *fanout.Session) error {
	lastPing := time.Now()
	for {
		wait := pingPeriod - time.Since(lastPing)
		if wait <= 0 {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
			lastPing = time.Now()
			continue
		}

		nextCtx, cancel := context.WithTimeout(ctx, wait)
		event, err := session.Next(nextCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return err
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			return fmt.Errorf("write event %d: %w", event.SequenceID, err)
		}
	}
}

func (s *Server) writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(writeWait))
}
