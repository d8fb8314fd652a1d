package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(zerolog.New(nil).Level(zerolog.Disabled))
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, have %d", n, hub.ClientCount())
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestPublishStatusReachesClient(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.PublishStatus("trace-1", "session-1", StatusStarted)

	event := readEvent(t, conn)
	assert.Equal(t, EventRunStatus, event.Event)
	assert.Equal(t, "trace-1", event.TraceID)
	assert.Equal(t, "session-1", event.SessionID)
	assert.Equal(t, StatusStarted, event.Status)
	assert.NotEmpty(t, event.Timestamp)

	parsed, err := time.Parse(time.RFC3339Nano, event.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestPublishResultCarriesPayload(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.PublishResult("trace-2", "session-2", map[string]interface{}{"plan": "{}"})

	event := readEvent(t, conn)
	assert.Equal(t, EventRunResult, event.Event)
	assert.Equal(t, "session-2", event.SessionID)

	result, ok := event.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "{}", result["plan"])
}

func TestBroadcastFansOutToAllClients(t *testing.T) {
	hub, srv := startHub(t)
	first := dial(t, srv)
	second := dial(t, srv)
	waitForClients(t, hub, 2)

	hub.PublishStatus("trace-3", "session-3", StatusCompleted)

	for _, conn := range []*websocket.Conn{first, second} {
		event := readEvent(t, conn)
		assert.Equal(t, StatusCompleted, event.Status)
	}
}

func TestSequenceIncreasesAcrossEvents(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	hub.PublishStatus("t", "s", StatusStarted)
	hub.PublishStatus("t", "s", StatusCompleted)

	first := readEvent(t, conn)
	second := readEvent(t, conn)
	assert.Greater(t, second.Seq, first.Seq)
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Publishing with nobody connected must not panic.
	hub.PublishStatus("t", "s", StatusStarted)
}
