package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"skysurvey-agent/internal/auth"
	"skysurvey-agent/internal/model"
	"skysurvey-agent/internal/store"
)

const (
	userIDContextKey  = "userID"
	sessionContextKey = "session"
)

func UserIDFromContext(c *gin.Context) (string, bool) {
	userID, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	value, ok := userID.(string)
	return value, ok && value != ""
}

func SessionFromContext(c *gin.Context) (*model.Session, bool) {
	value, ok := c.Get(sessionContextKey)
	if !ok {
		return nil, false
	}
	session, ok := value.(*model.Session)
	return session, ok && session != nil
}

// RequireSession guards the local API. The bearer token must match the
// session currently held in the store; placeholder tokens are accepted
// here because offline users still own their local surface. A confirmed
// session's server JWT is additionally inspected so an expired token is
// caught locally instead of on the next replay.
func RequireSession(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		session, err := st.LoadSession()
		if err != nil || session == nil || session.Token != parts[1] {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		if session.Confirmed && !session.Placeholder() {
			claims, err := auth.Inspect(session.Token)
			if err == nil && auth.Expired(claims, time.Now()) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
				c.Abort()
				return
			}
		}

		c.Set(userIDContextKey, session.User.ID)
		c.Set(sessionContextKey, session)
		c.Next()
	}
}
