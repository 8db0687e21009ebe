package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// TenantContextKey is the echo context key the auth middleware stores the
// caller's tenant id under.
const TenantContextKey = "tenant_id"

// ServiceClaims represents the claims in a service token. The ingest API is
// called by the chat gateway, not by end users, so the subject is a tenant
// rather than a person.
type ServiceClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// IssueServiceToken creates a signed service token for a tenant. Used by the
// token CLI command and by tests.
func IssueServiceToken(secret, tenantID string, ttl time.Duration) (string, error) {
	claims := &ServiceClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "threadscribe",
			Subject:   "tenant_" + tenantID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	return signed, nil
}

// RequireServiceToken validates the Bearer token and stores the tenant id in
// the request context. Handlers must reject events whose tenant does not
// match the token's.
func RequireServiceToken(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			token, err := jwt.ParseWithClaims(tokenParts[1], &ServiceClaims{}, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			claims, ok := token.Claims.(*ServiceClaims)
			if !ok || claims.TenantID == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token claims")
			}

			c.Set(TenantContextKey, claims.TenantID)
			return next(c)
		}
	}
}

// TenantFromContext extracts the authenticated tenant id set by
// RequireServiceToken.
func TenantFromContext(c echo.Context) string {
	tenant, _ := c.Get(TenantContextKey).(string)
	return tenant
}
