// Package fanout routes published events to subscription sessions by topic.
package fanout

import (
	"log/slog"
	"sync"

	"github.com/blackmichael/hub-notifier/internal/domain"
	"github.com/blackmichael/hub-notifier/internal/metrics"
)

// Router maps topics to the sessions registered under them. The ingestion
// path publishes while connection handlers attach and detach sessions
// concurrently.
type Router struct {
	logger *slog.Logger

	mu       sync.RWMutex
	topics   map[domain.Topic]map[*Session]struct{}
	sessions map[*Session][]domain.Topic
}

// NewRouter creates an empty router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		logger:   logger,
		topics:   make(map[domain.Topic]map[*Session]struct{}),
		sessions: make(map[*Session][]domain.Topic),
	}
}

// Publish delivers the event to every session registered under any of its
// topics, at most once per session. It never blocks: a session whose queue
// is full is failed with domain.ErrSubscriberUnreachable and detached.
func (r *Router) Publish(event domain.Event) {
	topics := domain.Topics(event)

	var overflowed []*Session
	visited := make(map[*Session]struct{})

	r.mu.RLock()
	for _, topic := range topics {
		for s := range r.topics[topic] {
			if _, seen := visited[s]; seen {
				continue
			}
			visited[s] = struct{}{}

			if !s.predicate.Eval(event) {
				continue
			}
			if !s.offer(event) {
				overflowed = append(overflowed, s)
			}
		}
	}
	r.mu.RUnlock()

	for _, s := range overflowed {
		metrics.SessionsDropped.Inc()
		r.logger.Warn("session queue full, disconnecting subscriber",
			"session_id", s.ID(),
			"filter", s.Filter().String(),
			"hub_event_id", event.SequenceID,
		)
		s.fail(domain.ErrSubscriberUnreachable)
		go r.Unsubscribe(s)
	}
}

// Subscribe registers the session under its filter's topics and returns a
// function that removes the registration.
func (r *Router) Subscribe(s *Session) func() {
	topics := s.Filter().Topics()

	r.mu.Lock()
	if _, exists := r.sessions[s]; !exists {
		for _, topic := range topics {
			set, ok := r.topics[topic]
			if !ok {
				set = make(map[*Session]struct{})
				r.topics[topic] = set
			}
			set[s] = struct{}{}
		}
		r.sessions[s] = topics
		metrics.SessionsActive.Inc()
	}
	r.mu.Unlock()

	r.logger.Debug("session subscribed", "session_id", s.ID(), "topics", len(topics))
	return func() { r.Unsubscribe(s) }
}

// Unsubscribe removes every registration of the session. Calling it for an
// unknown or already removed session does nothing.
func (r *Router) Unsubscribe(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics, ok := r.sessions[s]
	if !ok {
		return
	}
	for _, topic := range topics {
		set := r.topics[topic]
		delete(set, s)
		if len(set) == 0 {
			delete(r.topics, topic)
		}
	}
	delete(r.sessions, s)
	metrics.SessionsActive.Dec()
}

// TopicCount returns the number of sessions registered under the topic.
func (r *Router) TopicCount(topic domain.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// SessionCount returns the number of registered sessions.
func (r *Router) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
