package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/music-match-system/pkg/jwt"
)

// activityTouchTimeout bounds the background last-active write.
const activityTouchTimeout = 5 * time.Second

// ActivityRecorder stamps a user's last-seen time. Nil disables stamping.
type ActivityRecorder interface {
	TouchLastActive(ctx context.Context, userID uuid.UUID) error
}

// RequireAuth validates the caller's JWT and puts the user id into the gin
// context. The token comes from the Authorization header, or from a `token`
// query parameter for WebSocket upgrades, which cannot set headers.
func RequireAuth(activity ActivityRecorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}

		claims, err := jwt.ValidateToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("user_id", claims.UserID)

		if activity != nil {
			// Best effort, off the request path. The deadline keeps a hung
			// store from accumulating goroutines.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), activityTouchTimeout)
				defer cancel()
				_ = activity.TouchLastActive(ctx, userID)
			}()
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}

// UserID extracts the authenticated user from the gin context.
func UserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
