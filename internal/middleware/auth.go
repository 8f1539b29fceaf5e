package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
    "context"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/probelab/aegis/internal/audit"
    "github.com/probelab/aegis/internal/auth"
    "github.com/probelab/aegis/internal/model"
)

// SessionStore is the session lookup surface the validator needs.
type SessionStore interface {
    GetActiveByAccessHash(ctx context.Context, accessHash string) (model.Session, model.User, error)
    TouchActivity(ctx context.Context, sessionID string) error
}

// SessionAuth returns an Echo middleware implementing the per-request
// session check: extract the bearer token, verify its signature and
// expiry, look up the active session row by token hash joined to an
// active user, stamp last activity, and attach the caller identity to
// the request context. Any failed step short-circuits to 401 and emits
// a failed_auth audit event with a reason code; no session state is
// mutated on a failure path.
func SessionAuth(issuer *auth.Issuer, sessions SessionStore, auditor *audit.Logger) echo.MiddlewareFunc {
    reject := func(c echo.Context, reason string, userID *uint64) error {
        auditor.LogSecurityEvent(audit.Event{
            UserID:    userID,
            EventType: audit.EventFailedAuth,
            IP:        c.RealIP(),
            UserAgent: c.Request().UserAgent(),
            Success:   false,
            Details:   map[string]interface{}{"reason": reason},
        })
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            header := c.Request().Header.Get("Authorization")
            if !strings.HasPrefix(header, "Bearer ") {
                return reject(c, "no_token", nil)
            }
            raw := strings.TrimPrefix(header, "Bearer ")

            claims, err := issuer.ParseAccess(raw)
            if err != nil {
                return reject(c, "invalid_token", nil)
            }
            userID, err := auth.UserIDFromSubject(claims.Subject)
            if err != nil {
                return reject(c, "invalid_token", nil)
            }

            session, user, err := sessions.GetActiveByAccessHash(c.Request().Context(), auth.HashToken(raw))
            if err != nil {
                return reject(c, "invalid_session", &userID)
            }
            if !user.IsActive || user.ID != userID {
                return reject(c, "user_inactive", &userID)
            }

            // Best effort; a failed activity stamp must not fail the request.
            _ = sessions.TouchActivity(c.Request().Context(), session.ID)

            setIdentity(c, auth.Identity{
                ID:        user.ID,
                Email:     user.Email,
                Role:      user.Role,
                SessionID: session.ID,
            })
            return next(c)
        }
    }
}
