package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-match-system/pkg/events"
)

func newWSFixture(t *testing.T, userID string) (*Handler, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := NewHandler(nil, zerolog.Nop())

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", userID)
		h.HandleWebSocket(c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// The server registers the connection in its own goroutine.
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.conns[userID]) == 1
	}, time.Second, 5*time.Millisecond)

	return h, conn
}

func event(eventType events.EventType, userID string) events.Event {
	return events.Event{
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   json.RawMessage(`{}`),
	}
}

func TestDispatchReachesOwningUserOnly(t *testing.T) {
	userID := uuid.NewString()
	h, conn := newWSFixture(t, userID)

	h.dispatch(event(events.EventTypeSyncCompleted, uuid.NewString())) // someone else
	h.dispatch(event(events.EventTypeSyncCompleted, userID))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, events.EventTypeSyncCompleted, got.Type)
	assert.Equal(t, userID, got.UserID)
}

func TestDispatchSkipsInternalBusTraffic(t *testing.T) {
	userID := uuid.NewString()
	h, conn := newWSFixture(t, userID)

	// sync_requested is worker traffic; the scrobble notification sent after
	// it must be the first frame the client sees.
	h.dispatch(event(events.EventTypeSyncRequested, userID))
	h.dispatch(event(events.EventTypePlaysScrobbled, userID))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, events.EventTypePlaysScrobbled, got.Type)
}

func TestConnectionRemovedOnClose(t *testing.T) {
	userID := uuid.NewString()
	h, conn := newWSFixture(t, userID)

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.conns[userID]) == 0
	}, time.Second, 5*time.Millisecond)
}
