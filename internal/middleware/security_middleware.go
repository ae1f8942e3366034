package middleware

import (
	"strings"

	"go-pos-ledger/internal/auth"
	pkgerrors "go-pos-ledger/internal/errors"
	"go-pos-ledger/internal/logger"

	"github.com/gin-gonic/gin"
)

const (
	userIDKey = "userID"
	roleKey   = "role"
)

// TokenValidator is satisfied by *auth.TokenIssuer.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Auth checks the bearer token and stores the caller on the context.
func Auth(tokens TokenValidator, logg *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. Get the token from the "Authorization: Bearer <token>" header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			RespondError(c, logg, pkgerrors.New(pkgerrors.CodeUnauthorized, "authorization header is required"))
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
			RespondError(c, logg, pkgerrors.New(pkgerrors.CodeUnauthorized, "authorization header must start with Bearer"))
			return
		}

		// 2. Validate signature, issuer and expiry
		claims, err := tokens.Validate(tokenString)
		if err != nil {
			RespondError(c, logg, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid or expired token"))
			return
		}

		// 3. Store user info for the handlers and the request log
		c.Set(userIDKey, claims.UserID)
		c.Set(roleKey, claims.Role)
		c.Request = c.Request.WithContext(logg.WithUserID(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

// RequireRole lets the request through only for one of the given roles.
func RequireRole(logg *logger.Logger, allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(roleKey)
		for _, r := range allowed {
			if role == r {
				c.Next()
				return
			}
		}
		RespondError(c, logg, pkgerrors.New(pkgerrors.CodeForbidden, "you do not have permission to access this resource"))
	}
}

// UserID returns the authenticated caller, if any.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok
}

func Role(c *gin.Context) string {
	return c.GetString(roleKey)
}
