package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	CtxUserID = "user_id"
	CtxEmail  = "email"

	HeaderUserID = "X-User-Id"
)

// UserID returns the caller identity set by HeaderUser or
// FirebaseAuthMiddleware.
func UserID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxUserID))
}
