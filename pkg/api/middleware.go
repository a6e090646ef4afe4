package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// bearerAuth returns middleware enforcing the configured auth token. An
// empty token disables authentication (local single-user default). The
// token is accepted from the Authorization header or, for WebSocket
// clients that cannot set headers, from the ?token= query parameter.
func bearerAuth(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if token == "" {
				return next(c)
			}
			if header := c.Request().Header.Get("Authorization"); header != "" {
				got, ok := strings.CutPrefix(header, "Bearer ")
				if ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1 {
					return next(c)
				}
			}
			if q := c.QueryParam("token"); q != "" {
				if subtle.ConstantTimeCompare([]byte(q), []byte(token)) == 1 {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "missing or invalid token")
		}
	}
}
