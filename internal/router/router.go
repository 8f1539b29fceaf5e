package router // package router defines how HTTP routes are registered for the API

import (
    "github.com/labstack/echo/v4" // import the Echo web framework to handle routing
    "github.com/redis/go-redis/v9"

    "github.com/probelab/aegis/internal/audit"
    "github.com/probelab/aegis/internal/auth"
    "github.com/probelab/aegis/internal/config"
    "github.com/probelab/aegis/internal/handler"
    "github.com/probelab/aegis/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check
// for load balancers and monitoring.
func RegisterRoutes(e *echo.Echo) {
    e.GET("/healthz", handler.Health)
}

// RegisterAuth registers all authentication-related routes and applies
// the necessary middleware.  Credential-bearing operations live under
// /auth behind the rate limiter; session-protected endpoints run the
// session validator before the handler.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, issuer *auth.Issuer,
    sessions middleware.SessionStore, auditor *audit.Logger,
    rlCfg config.RateLimitConfig, rdb *redis.Client) {

    // Unauthenticated operations: register, login, MFA login and token
    // refresh.  All of them sit behind the redis token bucket so
    // repeated credential guessing is bounded at the edge.
    g := e.Group("/auth", middleware.NewTokenBucket(rlCfg, rdb))
    g.POST("/register", a.Register)
    g.POST("/login", a.Login)
    g.POST("/login/mfa", a.LoginMFA)
    g.POST("/refresh", a.Refresh)

    // Session-protected operations.  The validator resolves the access
    // token to an active session and attaches the caller identity.
    protected := e.Group("/auth", middleware.SessionAuth(issuer, sessions, auditor))
    protected.POST("/logout", a.Logout)
    protected.POST("/mfa/setup", a.MFASetup)
    protected.POST("/mfa/enable", a.MFAEnable)
    protected.GET("/me", a.Me)
}
