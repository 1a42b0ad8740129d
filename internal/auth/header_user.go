package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUser trusts the X-User-Id header as caller identity.
// Use this only behind a gateway that authenticates users, or in development.
func HeaderUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "user not authenticated"})
			return
		}

		c.Set(CtxUserID, uid)
		c.Next()
	}
}
