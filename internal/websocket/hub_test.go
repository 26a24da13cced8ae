package websocket

import (
	"encoding/json"
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

	"github.com/grass-leaderboard/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type received struct {
	Type string            `json:"type"`
	Data LeaderboardUpdate `json:"data"`
}

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, testLogger(), w, r)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg received
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubSendsSnapshotAndUpdates(t *testing.T) {
	hub := NewHub(testLogger())
	hub.SetSnapshot(func() []domain.LeaderboardEntry {
		return []domain.LeaderboardEntry{{ID: "1", Username: "alice", Score: 24}}
	})
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)

	snapshot := readMessage(t, conn)
	assert.Equal(t, MessageTypeSnapshot, snapshot.Type)
	require.Len(t, snapshot.Data.Entries, 1)
	assert.Equal(t, "alice", snapshot.Data.Entries[0].Username)

	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 1 }, time.Second, 10*time.Millisecond)

	latest := domain.LeaderboardEntry{ID: "2", Username: "bob", Score: 30}
	hub.BroadcastLeaderboard([]domain.LeaderboardEntry{latest, {ID: "1", Username: "alice", Score: 24}}, &latest)

	update := readMessage(t, conn)
	assert.Equal(t, MessageTypeLeaderboardUpdate, update.Type)
	require.Len(t, update.Data.Entries, 2)
	require.NotNil(t, update.Data.Latest)
	assert.Equal(t, "bob", update.Data.Latest.Username)
}

func TestHubAnswersPing(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypePong, msg.Type)
}

func TestHubIgnoresMalformedFrames(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "subscribe"}))
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))

	// the only reply is the pong
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypePong, msg.Type)
	assert.Eventually(t, func() bool { return hub.GetTotalConnections() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub := NewHub(testLogger())
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.GetTotalConnections() == 0 }, 2*time.Second, 10*time.Millisecond)
}
