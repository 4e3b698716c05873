package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/token"
)

const (
	clinicianIDKey  = "clinicianID"
	accessClaimsKey = "accessClaims"
	accessTokenKey  = "accessToken"
)

// Auth validates the bearer token and attaches the caller's identity.
type Auth struct {
	Tokens *token.Generator
}

// RequireAccessToken ensures the request carries a valid access token, from
// the Authorization header or the session cookie.
func (m *Auth) RequireAccessToken(cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" && cookieName != "" {
			if v, err := c.Cookie(cookieName); err == nil {
				raw = v
			}
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authorization required."})
			return
		}

		clinicianID, claims, err := m.Tokens.ValidateAccess(c.Request.Context(), raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid access token."})
			return
		}

		c.Set(clinicianIDKey, clinicianID)
		c.Set(accessClaimsKey, claims)
		c.Set(accessTokenKey, raw)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// GetClinicianID returns the authenticated caller's id.
func GetClinicianID(c *gin.Context) (int64, bool) {
	value, ok := c.Get(clinicianIDKey)
	if !ok {
		return 0, false
	}
	id, ok := value.(int64)
	return id, ok
}

// GetAccessClaims exposes the custom access token claims to handlers.
func GetAccessClaims(c *gin.Context) (*token.AccessClaims, bool) {
	value, ok := c.Get(accessClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*token.AccessClaims)
	return claims, ok
}

// GetAccessToken returns the raw validated token for session-scoped actions.
func GetAccessToken(c *gin.Context) (string, bool) {
	value, ok := c.Get(accessTokenKey)
	if !ok {
		return "", false
	}
	raw, ok := value.(string)
	return raw, ok
}
