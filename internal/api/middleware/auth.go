package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/farm-ledger/internal/auth"
)

const ClaimsKey = "claims"

// respondError writes the standard error body and stops the chain.
func respondError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"kind": kind, "message": message}})
}

// ExtractToken extracts the JWT from the Authorization header, falling back
// to the access_token cookie used by the ERP web client.
func ExtractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	if cookie, err := c.Cookie("access_token"); err == nil {
		return cookie
	}
	return ""
}

// Auth validates the token and stores the claims on the context.
func Auth(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := ExtractToken(c)
		if tokenString == "" {
			respondError(c, http.StatusUnauthorized, "Unauthorized", "missing token")
			return
		}

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			respondError(c, http.StatusUnauthorized, "Unauthorized", err.Error())
			return
		}

		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// RequireRole rejects callers below role. Without Auth in the chain every
// request passes.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, exists := c.Get(ClaimsKey)
		if !exists {
			c.Next()
			return
		}
		claims, ok := v.(*auth.Claims)
		if !ok || !claims.Allows(role) {
			respondError(c, http.StatusForbidden, "Forbidden", "requires role "+role)
			return
		}
		c.Next()
	}
}

// GetClaims returns the caller's claims when Auth ran.
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

// Actor is the name to record on journal rows, empty for anonymous callers.
func Actor(c *gin.Context) string {
	claims, ok := GetClaims(c)
	if !ok {
		return ""
	}
	return claims.Actor()
}
