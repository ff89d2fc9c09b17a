// Package ws pushes sync and scrobble notifications to connected clients.
// Each user may hold several connections (tabs, devices); events addressed
// to a user fan out to all of them.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/music-match-system/pkg/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: restrict to the frontend origin
	},
}

// Consumer is the event-bus subscription the pump reads from.
type Consumer interface {
	ConsumeEvents(ctx context.Context, handler func(events.Event) error) error
}

type Handler struct {
	// userID -> open connections for that user
	conns    map[string]map[*websocket.Conn]struct{}
	mu       sync.RWMutex
	consumer Consumer
	log      zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHandler(consumer Consumer, log zerolog.Logger) *Handler {
	return &Handler{
		conns:    make(map[string]map[*websocket.Conn]struct{}),
		consumer: consumer,
		log:      log.With().Str("component", "ws").Logger(),
	}
}

// Start launches the event pump that forwards bus notifications to the
// owning user's connections.
func (h *Handler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		err := h.consumer.ConsumeEvents(ctx, func(event events.Event) error {
			h.dispatch(event)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			h.log.Error().Err(err).Msg("notification pump stopped")
		}
	}()
}

func (h *Handler) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	h.wg.Wait()
}

// HandleWebSocket upgrades the request and parks the connection until the
// client goes away. The user id is set by the auth middleware; clients send
// nothing meaningful, the channel is push-only.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.addConnection(userID, conn)
	defer h.removeConnection(userID, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("user_id", userID).Msg("websocket closed")
			}
			return
		}
	}
}

// dispatch forwards user-facing notification events to the addressed user.
// Internal bus traffic (sync_requested) never reaches clients.
func (h *Handler) dispatch(event events.Event) {
	switch event.Type {
	case events.EventTypeSyncCompleted, events.EventTypeSyncFailed, events.EventTypePlaysScrobbled:
	default:
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to marshal notification")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.conns[event.UserID] {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.log.Debug().Err(err).Str("user_id", event.UserID).Msg("failed to push notification")
		}
	}
}

func (h *Handler) addConnection(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[userID]; !ok {
		h.conns[userID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[userID][conn] = struct{}{}
}

func (h *Handler) removeConnection(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn.Close()
	if set, ok := h.conns[userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}
