package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prompthub/prompthub/internal/auth"
	"github.com/prompthub/prompthub/internal/common"
)

const (
	SessionKey = "session"
	LoginKey   = "login"
)

// AuthRequired validates the bearer JWT and loads the live session it points
// at. Expired or deleted sessions reject the request.
func AuthRequired(secret string, sessions *auth.SessionStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, 40100, "missing bearer token")
			c.Abort()
			return
		}
		claims, err := auth.ParseJWT(secret, strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid token")
			c.Abort()
			return
		}
		sess, err := sessions.Get(c.Request.Context(), claims.SessionID)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "session expired")
			c.Abort()
			return
		}
		c.Set(SessionKey, sess)
		c.Set(LoginKey, sess.Login)
		c.Next()
	}
}

// WriteRequired gates routes on upstream push access, probed at login and
// stored on the session.
func WriteRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := SessionFrom(c)
		if sess == nil || !sess.CanWrite {
			common.Fail(c, http.StatusForbidden, 40301, "write access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// SessionFrom pulls the session the auth middleware stored.
func SessionFrom(c *gin.Context) *auth.Session {
	v, ok := c.Get(SessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*auth.Session)
	return sess
}
