package middleware // middleware provides shared request processing for handlers

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/probelab/aegis/internal/auth"
)

// RequirePermission returns a middleware that enforces that the
// authenticated caller's role grants the given permission. It assumes
// SessionAuth ran earlier in the chain; a missing identity or a role
// without the permission yields a 403 Forbidden response.
func RequirePermission(p auth.Permission) echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            id, ok := IdentityFrom(c)
            if !ok || !auth.Allowed(id.Role, p) {
                return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
            }
            return next(c)
        }
    }
}
