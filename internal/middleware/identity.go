package middleware

// identity.go defines how the authenticated caller identity is carried
// through the request. The session-validator middleware stores one
// typed auth.Identity value under a single context key; handlers and
// other middleware read it back through IdentityFrom instead of
// fishing loose claims out of the context.

import (
    "github.com/labstack/echo/v4"

    "github.com/probelab/aegis/internal/auth"
)

const identityKey = "aegis.identity"

// IdentityFrom returns the identity attached by SessionAuth, if any.
func IdentityFrom(c echo.Context) (auth.Identity, bool) {
    id, ok := c.Get(identityKey).(auth.Identity)
    return id, ok
}

func setIdentity(c echo.Context, id auth.Identity) {
    c.Set(identityKey, id)
}
