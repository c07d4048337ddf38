package hub

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackmichael/hub-notifier/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRelay is a hub relay that records the subscribe request and then
// writes frames.
type fakeRelay struct {
	frames  []string
	query   chan string
	request chan subscribeRequest
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	f.query <- r.URL.RawQuery
	var req subscribeRequest
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	f.request <- req

	_ = conn.WriteMessage(websocket.PingMessage, nil)
	for _, frame := range f.frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			return
		}
	}
	// Hold the connection until the client goes away.
	_, _, _ = conn.ReadMessage()
}

func startRelay(t *testing.T, frames ...string) (*fakeRelay, string) {
	t.Helper()
	relay := &fakeRelay{
		frames:  frames,
		query:   make(chan string, 1),
		request: make(chan subscribeRequest, 1),
	}
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return relay, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketSourceSubscribesAndReads(t *testing.T) {
	relay, url := startRelay(t, `{"id":1}`, `{"id":2}`)

	src, err := DialWebSocket(context.Background(), url, 40, time.Second, testLogger())
	require.NoError(t, err)
	defer src.Close()

	select {
	case q := <-relay.query:
		assert.Contains(t, q, "event_types=HUB_EVENT_TYPE_MERGE_MESSAGE")
		assert.Contains(t, q, "from_id=40")
	case <-time.After(time.Second):
		t.Fatal("relay saw no connection")
	}
	select {
	case req := <-relay.request:
		assert.Equal(t, []string{"HUB_EVENT_TYPE_MERGE_MESSAGE"}, req.EventTypes)
		assert.Equal(t, uint64(40), req.FromID)
	case <-time.After(time.Second):
		t.Fatal("relay saw no subscribe request")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, want := range []string{`{"id":1}`, `{"id":2}`} {
		raw, err := src.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, string(raw))
	}
}

func TestWebSocketSourceNextHonorsContext(t *testing.T) {
	_, url := startRelay(t)

	src, err := DialWebSocket(context.Background(), url, 0, time.Second, testLogger())
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWebSocketSourceUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	_, err := DialWebSocket(context.Background(), url, 0, 200*time.Millisecond, testLogger())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestWebSocketSourceLostConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		conn.Close()
	}))
	defer srv.Close()

	src, err := DialWebSocket(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), 0, time.Second, testLogger())
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}

func TestBuildURL(t *testing.T) {
	u, err := buildURL("wss://hub.example.com/events", 0)
	require.NoError(t, err)
	assert.Equal(t, "wss://hub.example.com/events?event_types=HUB_EVENT_TYPE_MERGE_MESSAGE", u)

	u, err = buildURL("ws://hub.example.com/events?key=abc", 7)
	require.NoError(t, err)
	assert.Contains(t, u, "key=abc")
	assert.Contains(t, u, "from_id=7")
}

func TestDialRejectsUnknownScheme(t *testing.T) {
	_, err := Dial(context.Background(), "grpc://hub:2283", 0, time.Second, time.Second, testLogger())
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
}
