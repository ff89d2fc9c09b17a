package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/music-match-system/internal/spotify"
	"github.com/music-match-system/pkg/models"
	storeredis "github.com/music-match-system/pkg/redis"
)

const sourceName = "spotify"

// Connector is the slice of the streaming client the connect flow needs.
type Connector interface {
	GetAuthURL(state string) string
	ExchangeToken(ctx context.Context, code string) (*spotify.TokenResponse, error)
}

// Credentials is the token-store surface the handlers use.
type Credentials interface {
	StoreTokens(ctx context.Context, userID string, token *storeredis.TokenInfo) error
	GetTokens(ctx context.Context, userID string) (*storeredis.TokenInfo, error)
	DeleteToken(ctx context.Context, userID string) error
	StoreAuthState(ctx context.Context, state string, userID string) error
	ConsumeAuthState(ctx context.Context, state string) (*storeredis.AuthState, error)
}

// Accounts is the graph-store surface for connection state and stats.
type Accounts interface {
	MarkSourceConnected(ctx context.Context, userID uuid.UUID, source string) error
	DisconnectSource(ctx context.Context, userID uuid.UUID, source string) error
	SourceConnected(ctx context.Context, userID uuid.UUID, source string) (bool, error)
	ListeningStats(ctx context.Context, userID uuid.UUID, topLimit int) (*models.ListeningStats, error)
}

// Bus requests background syncs.
type Bus interface {
	PublishSyncRequested(ctx context.Context, userID uuid.UUID, trigger string) error
}

type Handler struct {
	connector Connector
	creds     Credentials
	accounts  Accounts
	bus       Bus
	activity  ActivityRecorder
	log       zerolog.Logger
}

func NewHandler(connector Connector, creds Credentials, accounts Accounts, bus Bus, activity ActivityRecorder, log zerolog.Logger) *Handler {
	return &Handler{
		connector: connector,
		creds:     creds,
		accounts:  accounts,
		bus:       bus,
		activity:  activity,
		log:       log.With().Str("component", "auth").Logger(),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sp := r.Group("/spotify")
	{
		// The callback is hit by the browser redirect, which carries no JWT;
		// the state token identifies the user instead.
		sp.GET("/callback", h.callback)

		protected := sp.Group("", RequireAuth(h.activity))
		protected.GET("/auth-url", h.authURL)
		protected.GET("/status", h.status)
		protected.POST("/sync", h.requestSync)
		protected.DELETE("/disconnect", h.disconnect)
	}

	me := r.Group("/me", RequireAuth(h.activity))
	me.GET("/stats", h.stats)
}

// authURL starts the connect flow: an opaque state token is stored against
// the requesting user with a TTL, then embedded in the authorization URL.
func (h *Handler) authURL(c *gin.Context) {
	userID, ok := UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	state := uuid.New().String()
	if err := h.creds.StoreAuthState(c.Request.Context(), state, userID.String()); err != nil {
		h.log.Error().Err(err).Msg("failed to store auth state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authorization"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": h.connector.GetAuthURL(state)})
}

// callback finishes the connect flow: redeem the state, exchange the code,
// persist the credential, mark the account connected and queue the initial
// backfill. The sync itself runs in the background, hence 202.
func (h *Handler) callback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and state are required"})
		return
	}

	authState, err := h.creds.ConsumeAuthState(c.Request.Context(), state)
	if err != nil {
		if errors.Is(err, storeredis.ErrStateNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown or expired state"})
			return
		}
		h.log.Error().Err(err).Msg("failed to consume auth state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authorization failed"})
		return
	}

	userID, err := uuid.Parse(authState.UserID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown or expired state"})
		return
	}

	token, err := h.connector.ExchangeToken(c.Request.Context(), code)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", authState.UserID).Msg("code exchange failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "code exchange failed"})
		return
	}

	info := &storeredis.TokenInfo{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).UTC(),
	}
	if err := h.creds.StoreTokens(c.Request.Context(), authState.UserID, info); err != nil {
		h.log.Error().Err(err).Str("user_id", authState.UserID).Msg("failed to store tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credentials"})
		return
	}

	if err := h.accounts.MarkSourceConnected(c.Request.Context(), userID, sourceName); err != nil {
		h.log.Error().Err(err).Str("user_id", authState.UserID).Msg("failed to mark account connected")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to connect account"})
		return
	}

	if err := h.bus.PublishSyncRequested(c.Request.Context(), userID, "connect"); err != nil {
		// The scheduler will pick the account up on its next tick anyway.
		h.log.Warn().Err(err).Str("user_id", authState.UserID).Msg("failed to queue initial sync")
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "connected", "sync": "queued"})
}

func (h *Handler) status(c *gin.Context) {
	userID, ok := UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	connected, err := h.accounts.SourceConnected(c.Request.Context(), userID, sourceName)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to read connection state")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read status"})
		return
	}

	resp := gin.H{"connected": connected}

	if connected {
		if token, err := h.creds.GetTokens(c.Request.Context(), userID.String()); err == nil {
			resp["token_expires_at"] = token.ExpiresAt
		}
		if stats, err := h.accounts.ListeningStats(c.Request.Context(), userID, 0); err == nil {
			resp["total_plays"] = stats.TotalPlays
		}
	}

	c.JSON(http.StatusOK, resp)
}

// requestSync queues an on-demand backfill over the bus; 202 because the
// work happens in the worker.
func (h *Handler) requestSync(c *gin.Context) {
	userID, ok := UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	connected, err := h.accounts.SourceConnected(c.Request.Context(), userID, sourceName)
	if err != nil || !connected {
		c.JSON(http.StatusConflict, gin.H{"error": "no connected account"})
		return
	}

	if err := h.bus.PublishSyncRequested(c.Request.Context(), userID, "manual"); err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to queue sync")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue sync"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// disconnect revokes the stored credential and erases every play ingested
// from the source, then rebuilds the derived taste counters.
func (h *Handler) disconnect(c *gin.Context) {
	userID, ok := UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	if err := h.creds.DeleteToken(c.Request.Context(), userID.String()); err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to delete tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to disconnect"})
		return
	}

	if err := h.accounts.DisconnectSource(c.Request.Context(), userID, sourceName); err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to erase source data")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to erase data"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

const topArtistsLimit = 10

func (h *Handler) stats(c *gin.Context) {
	userID, ok := UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	stats, err := h.accounts.ListeningStats(c.Request.Context(), userID, topArtistsLimit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to load listening stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
