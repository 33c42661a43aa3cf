package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	UserIDKey       = "user_id"
	ActorKey        = "actor"
	AdminKeyHeader  = "X-Admin-Key"
	IngestKeyHeader = "X-Ingest-Key"
	// ActorHeader names the operator on admin calls; it is recorded in the audit log.
	ActorHeader = "X-Admin-Actor"
)

// Auth validates a member JWT from the Bearer header, or from the token
// query parameter for EventSource clients that cannot set headers.
func Auth(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := ""
		if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		} else {
			tokenStr = ctx.Query("token")
		}
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := ParseToken(tokenStr, secret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx.Set(UserIDKey, claims.UserID)
		ctx.Next()
	}
}

// AdminAuth requires the configured admin key in the X-Admin-Key header.
// An empty key disables the admin API.
func AdminAuth(key string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !sharedKeyMatches(ctx.GetHeader(AdminKeyHeader), key) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			return
		}
		actor := ctx.GetHeader(ActorHeader)
		if actor == "" {
			actor = "admin"
		}
		ctx.Set(ActorKey, actor)
		ctx.Next()
	}
}

// IngestAuth requires the configured ingest key in the X-Ingest-Key header.
func IngestAuth(key string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !sharedKeyMatches(ctx.GetHeader(IngestKeyHeader), key) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid ingest key"})
			return
		}
		ctx.Next()
	}
}

func sharedKeyMatches(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// GetUserID retrieves the authenticated member ID from the Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetActor retrieves the admin actor name from the Gin context.
func GetActor(c *gin.Context) string {
	return c.GetString(ActorKey)
}
