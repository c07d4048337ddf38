package fanout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/blackmichael/hub-notifier/internal/domain"
	"github.com/blackmichael/hub-notifier/internal/metrics"
)

// DefaultQueueSize bounds the live events buffered per session.
const DefaultQueueSize = 256

// ErrSessionClosed is returned by Next after Close.
var ErrSessionClosed = errors.New("session closed")

// BackfillFunc fetches the history a session replays before live events.
type BackfillFunc func(ctx context.Context) ([]domain.Event, error)

// Session is one client subscription. Live events are buffered in a bounded
// queue that the router fills and Next drains.
type Session struct {
	id        string
	filter    domain.Filter
	predicate Predicate
	queue     chan domain.Event
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	status   domain.SessionStatus
	err      error
	router   *Router
	backfill []domain.Event
	// lastSeq is the highest sequence id handed out by Next. Live events at
	// or below it overlap the backfill and are skipped.
	lastSeq uint64
}

// NewSession creates a session in the connecting state.
func NewSession(filter domain.Filter, queueSize int, predicate Predicate) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Session{
		id:        uuid.NewString(),
		filter:    filter,
		predicate: predicate,
		queue:     make(chan domain.Event, queueSize),
		done:      make(chan struct{}),
		status:    domain.StatusConnecting,
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Filter() domain.Filter { return s.filter }

// Done is closed once the session is closed or failed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the failure that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Attach registers the session with the router first and then fetches its
// backfill, so no live event published during the fetch is missed. The
// backfill is replayed oldest first before any live event.
func (s *Session) Attach(ctx context.Context, router *Router, backfill BackfillFunc) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	s.mu.Lock()
	s.router = router
	s.mu.Unlock()
	router.Subscribe(s)

	var history []domain.Event
	if backfill != nil {
		events, err := backfill(ctx)
		if err != nil {
			s.Close()
			return fmt.Errorf("fetch backfill: %w", err)
		}
		history = append(history, events...)
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].SequenceID < history[j].SequenceID
	})

	s.mu.Lock()
	if s.status == domain.StatusDisconnected {
		err := s.err
		s.mu.Unlock()
		// A concurrent Close may have unsubscribed before Subscribe ran.
		router.Unsubscribe(s)
		if err != nil {
			return err
		}
		return ErrSessionClosed
	}
	defer s.mu.Unlock()
	if err := s.transition(domain.StatusConnected); err != nil {
		return err
	}
	s.backfill = history
	if n := len(history); n > 0 {
		s.lastSeq = history[n-1].SequenceID
	}
	return nil
}

// Next returns the next event: every backfill entry first, then live events
// in publish order.
func (s *Session) Next(ctx context.Context) (domain.Event, error) {
	for {
		s.mu.Lock()
		if len(s.backfill) > 0 {
			e := s.backfill[0]
			s.backfill = s.backfill[1:]
			s.mu.Unlock()
			return e, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case <-s.done:
			if err := s.Err(); err != nil {
				return domain.Event{}, err
			}
			return domain.Event{}, ErrSessionClosed
		case e := <-s.queue:
			s.mu.Lock()
			if e.SequenceID <= s.lastSeq {
				s.mu.Unlock()
				continue
			}
			s.lastSeq = e.SequenceID
			s.mu.Unlock()
			return e, nil
		}
	}
}

// Close detaches the session from the router and moves it to
// disconnected. It is safe to call more than once.
func (s *Session) Close() {
	s.end(nil)
	if r := s.attachedRouter(); r != nil {
		r.Unsubscribe(s)
	}
}

func (s *Session) attachedRouter() *Router {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.router
}

// offer enqueues a live event without blocking. It reports false when the
// queue is full. Events offered to an ended session are dropped.
func (s *Session) offer(e domain.Event) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.queue <- e:
		metrics.Deliveries.Inc()
		return true
	default:
		return false
	}
}

// fail ends the session with err.
func (s *Session) fail(err error) {
	s.end(err)
}

func (s *Session) end(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.status = domain.StatusDisconnected
		s.mu.Unlock()
		close(s.done)
	})
}

// transition moves to the given status. Callers hold mu.
func (s *Session) transition(to domain.SessionStatus) error {
	if !domain.CanTransition(s.status, to) {
		return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, s.status, to)
	}
	s.status = to
	return nil
}
