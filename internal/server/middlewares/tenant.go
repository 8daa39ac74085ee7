package middlewares

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mdouchement/chestsync/internal/server/token"
)

const (
	// CurrentTenantContextKey is the key to retrieve the current tenant id from echo.Context.
	CurrentTenantContextKey = "current_tenant"
	// CurrentTokenContextKey is the key to retrieve the current ingest token from echo.Context.
	CurrentTokenContextKey = "current_token"
	// HeaderIngestToken is the header carrying the ingest token.
	HeaderIngestToken = "X-Ingest-Token"
)

// Tenant returns an ingest token auth middleware.
// The token is read from the X-Ingest-Token header, a bearer authorization
// or the `token` query parameter (browsers cannot set WebSocket headers).
// It stores current_tenant and current_token into echo.Context.
func Tenant(m token.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tk, err := m.Validate(extract(c))
			if err != nil {
				return err
			}

			c.Set(CurrentTenantContextKey, tk.TenantID)
			c.Set(CurrentTokenContextKey, tk)
			return next(c)
		}
	}
}

func extract(c echo.Context) string {
	if tk := c.Request().Header.Get(HeaderIngestToken); tk != "" {
		return tk
	}
	if tk := bearer(c.Request().Header.Get(echo.HeaderAuthorization)); tk != "" {
		return tk
	}
	return c.QueryParam("token")
}

func bearer(authorization string) string {
	parts := strings.Split(authorization, " ")
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
