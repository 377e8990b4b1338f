package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hashbbs/hashbbs/models"
	"github.com/hashbbs/hashbbs/utils"
)

const (
	// ContextUserIDKey is the key used to store the authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextRoleKey stores the session role inside Gin context.
	ContextRoleKey = "role"

	// SessionCookieName is the cookie carrying the session token for browser clients.
	SessionCookieName = "session_token"
)

// SessionToken extracts the session token from the Authorization header or,
// for browser clients, the session cookie. Returns "" when neither is present.
func SessionToken(ctx *gin.Context) string {
	if authHeader := ctx.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := ctx.Cookie(SessionCookieName); err == nil {
		return cookie
	}
	return ""
}

// ResolveSession parses and validates the request's session token. A revoked
// token is treated the same as no token.
func ResolveSession(ctx *gin.Context) (*utils.Claims, bool) {
	token := SessionToken(ctx)
	if token == "" {
		return nil, false
	}
	if utils.IsTokenBlacklisted(token) {
		return nil, false
	}
	claims, err := utils.ParseToken(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// AuthRequired ensures the request carries a valid session and stores the
// session identity in the context.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims, ok := ResolveSession(ctx)
		if !ok {
			utils.Error(ctx, http.StatusUnauthorized, "you must be logged in to perform this action")
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserIDKey, claims.UserID)
		ctx.Set(ContextUsernameKey, claims.Username)
		ctx.Set(ContextRoleKey, claims.Role)
		ctx.Next()
	}
}

// RequireRoles guards an operation with an allow-list of roles. The user's
// role is re-read from the database on every call rather than trusted from
// the token, so demotions and deletions take effect immediately. Pure policy:
// nothing is cached between requests.
func RequireRoles(db *gorm.DB, roles ...string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims, ok := ResolveSession(ctx)
		if !ok {
			utils.Error(ctx, http.StatusUnauthorized, "you must be logged in to perform this action")
			ctx.Abort()
			return
		}

		var user models.User
		if err := db.First(&user, claims.UserID).Error; err != nil {
			utils.Error(ctx, http.StatusUnauthorized, "you must be logged in to perform this action")
			ctx.Abort()
			return
		}

		allowed := false
		for _, role := range roles {
			if user.Role == role {
				allowed = true
				break
			}
		}
		if !allowed {
			utils.Error(ctx, http.StatusForbidden, "you do not have permission to perform this action")
			ctx.Abort()
			return
		}

		ctx.Set(ContextUserIDKey, user.ID)
		ctx.Set(ContextUsernameKey, user.Username)
		ctx.Set(ContextRoleKey, user.Role)
		ctx.Next()
	}
}
