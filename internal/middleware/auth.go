package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	jwtpkg "github.com/synesthesie/imagemeta/pkg/jwt"
)

// CallerIDKey is the gin context key holding the authenticated caller id.
const CallerIDKey = "userID"

// Auth resolves the caller from a bearer token. Requests without a token
// continue anonymously; a token that does not validate is rejected.
func Auth(secret string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}

		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := jwtpkg.ValidateToken(strings.TrimSpace(token), secret)
		if err != nil || claims.TokenType != jwtpkg.AccessToken {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(CallerIDKey, claims.UserID)
		c.Next()
	}
}

// RequireAuth rejects anonymous callers. It must run after Auth.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// CallerID returns the authenticated caller, or "" for anonymous requests.
func CallerID(c *gin.Context) string {
	return c.GetString(CallerIDKey)
}
