package fanout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

func TestNewSessionStartsConnecting(t *testing.T) {
	s := NewSession(domain.FilterAll(), 0, Predicate{})
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, domain.StatusConnecting, s.Status())
	assert.Equal(t, DefaultQueueSize, cap(s.queue))
}

func TestBackfillPrecedesLiveEvents(t *testing.T) {
	r := NewRouter(testLogger())
	s := NewSession(domain.FilterAll(), 16, Predicate{})
	defer s.Close()

	backfill := func(context.Context) ([]domain.Event, error) {
		// Live events arrive while history is being fetched.
		r.Publish(castEvent(6, 1))
		r.Publish(castEvent(7, 1))
		return []domain.Event{
			castEvent(5, 1), castEvent(4, 1), castEvent(3, 1), castEvent(2, 1), castEvent(1, 1),
		}, nil
	}
	require.NoError(t, s.Attach(context.Background(), r, backfill))
	assert.Equal(t, domain.StatusConnected, s.Status())

	var got []uint64
	for range 7 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		e, err := s.Next(ctx)
		cancel()
		require.NoError(t, err)
		got = append(got, e.SequenceID)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7}, got)
}

func TestLiveEventsOverlappingBackfillAreSkipped(t *testing.T) {
	r := NewRouter(testLogger())
	s := NewSession(domain.FilterAll(), 16, Predicate{})
	defer s.Close()

	backfill := func(context.Context) ([]domain.Event, error) {
		r.Publish(castEvent(3, 1))
		r.Publish(castEvent(4, 1))
		return []domain.Event{castEvent(2, 1), castEvent(3, 1)}, nil
	}
	require.NoError(t, s.Attach(context.Background(), r, backfill))

	got := drain(t, s)
	var ids []uint64
	for _, e := range got {
		ids = append(ids, e.SequenceID)
	}
	assert.Equal(t, []uint64{2, 3, 4}, ids)
}

func TestAttachBackfillErrorDetaches(t *testing.T) {
	r := NewRouter(testLogger())
	s := NewSession(domain.FilterAll(), 16, Predicate{})

	boom := errors.New("boom")
	err := s.Attach(context.Background(), r, func(context.Context) ([]domain.Event, error) {
		return nil, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, r.SessionCount())
	assert.Equal(t, domain.StatusDisconnected, s.Status())
}

func TestAttachAfterCloseFails(t *testing.T) {
	r := NewRouter(testLogger())
	s := NewSession(domain.FilterAll(), 16, Predicate{})
	s.Close()

	assert.ErrorIs(t, s.Attach(context.Background(), r, nil), ErrSessionClosed)
	assert.Zero(t, r.SessionCount())
}

func TestAttachRacingCloseLeavesNoRegistration(t *testing.T) {
	r := NewRouter(testLogger())
	s := NewSession(domain.FilterAll(), 16, Predicate{})

	// The session ends while attaching, after its Unsubscribe already ran.
	err := s.Attach(context.Background(), r, func(context.Context) ([]domain.Event, error) {
		s.end(nil)
		return nil, nil
	})

	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Zero(t, r.SessionCount())
	assert.Equal(t, domain.StatusDisconnected, s.Status())
}

func TestNextAfterClose(t *testing.T) {
	r := NewRouter(testLogger())
	s := NewSession(domain.FilterAll(), 16, Predicate{})
	require.NoError(t, s.Attach(context.Background(), r, nil))

	s.Close()

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	select {
	case <-s.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestNextHonorsContext(t *testing.T) {
	r := NewRouter(testLogger())
	s := NewSession(domain.FilterAll(), 16, Predicate{})
	require.NoError(t, s.Attach(context.Background(), r, nil))
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
