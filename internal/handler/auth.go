package handler

import (
    "context"              // provides context with cancellation for DB calls
    "database/sql"         // sentinel row-not-found error
    "errors"
    "net/http"             // HTTP status codes and primitives
    "strconv"
    "strings"              // string manipulation utilities
    "time"                 // timeouts for DB calls

    "github.com/labstack/echo/v4" // Echo framework for HTTP routing
    "go.uber.org/zap"

    "github.com/probelab/aegis/internal/audit"
    "github.com/probelab/aegis/internal/auth"
    "github.com/probelab/aegis/internal/config"
    "github.com/probelab/aegis/internal/crypto"
    "github.com/probelab/aegis/internal/middleware"
    "github.com/probelab/aegis/internal/model"
    "github.com/probelab/aegis/internal/repository"
)

const (
    refreshCookieName = "refresh_token"
    totpSkew          = 2  // accepted steps of clock drift either way
    backupCodeCount   = 10 // recovery codes minted at MFA setup
    minPasswordLen    = 8
)

// UserStore is the user persistence surface the handler needs. The
// concrete implementation is repository.UserRepo; tests substitute fakes.
type UserStore interface {
    Create(ctx context.Context, email, name, passwordHash, role string) (uint64, error)
    GetByEmail(ctx context.Context, email string) (model.User, error)
    GetByID(ctx context.Context, id uint64) (model.User, error)
    RecordLoginFailure(ctx context.Context, id uint64, maxAttempts int, lockFor time.Duration) error
    ResetLoginFailures(ctx context.Context, id uint64) error
    SetMFASecret(ctx context.Context, id uint64, encryptedSecret string) error
    EnableMFA(ctx context.Context, id uint64) error
}

// SessionStore is the session persistence surface the handler needs.
type SessionStore interface {
    Create(ctx context.Context, s model.Session) error
    GetActiveByRefreshHash(ctx context.Context, refreshHash string) (model.Session, error)
    Invalidate(ctx context.Context, sessionID string) error
    InvalidateAllForUser(ctx context.Context, userID uint64) error
    Rotate(ctx context.Context, oldSessionID string, next model.Session) error
}

// BackupCodeStore stores and consumes single-use recovery codes.
type BackupCodeStore interface {
    Replace(ctx context.Context, userID uint64, codeHashes []string) error
    Consume(ctx context.Context, userID uint64, codeHash string) error
}

// AuthHandler bundles dependencies for auth endpoints. Everything is
// injected by the constructor; there are no package-level services.
type AuthHandler struct {
    Cfg         config.Config
    Users       UserStore
    Sessions    SessionStore
    BackupCodes BackupCodeStore
    Issuer      *auth.Issuer
    Cipher      *crypto.FieldCipher
    Audit       *audit.Logger
    Log         *zap.Logger
}

func NewAuthHandler(cfg config.Config, users UserStore, sessions SessionStore, codes BackupCodeStore,
    issuer *auth.Issuer, cipher *crypto.FieldCipher, auditor *audit.Logger, log *zap.Logger) *AuthHandler {
    return &AuthHandler{
        Cfg: cfg, Users: users, Sessions: sessions, BackupCodes: codes,
        Issuer: issuer, Cipher: cipher, Audit: auditor, Log: log,
    }
}

// ----- DTOs -----

type registerReq struct {
    Email    string `json:"email"`
    Name     string `json:"name"`
    Password string `json:"password"`
}
type loginReq struct {
    Email    string `json:"email"`
    Password string `json:"password"`
    MFAToken string `json:"mfaToken"`
}
type refreshReq struct {
    RefreshToken string `json:"refreshToken"`
}
type mfaEnableReq struct {
    MFAToken string `json:"mfaToken"`
}

type userPart struct {
    ID    uint64 `json:"id"`
    Email string `json:"email"`
    Name  string `json:"name"`
    Role  string `json:"role"`
}

func toUserPart(u model.User) userPart {
    return userPart{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// Register: create user. Tokens are not issued at registration; the
// client logs in afterwards.
func (h *AuthHandler) Register(c echo.Context) error {
    var req registerReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid body"})
    }
    req.Email = strings.ToLower(strings.TrimSpace(req.Email))
    if req.Email == "" || !strings.Contains(req.Email, "@") {
        return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "valid email is required", "field": "email"})
    }
    if len(req.Password) < minPasswordLen {
        return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "password must be at least 8 characters", "field": "password"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    hash, err := crypto.HashPassword(req.Password)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "registration failed"})
    }
    uid, err := h.Users.Create(ctx, req.Email, strings.TrimSpace(req.Name), hash, model.RoleResearcher)
    if err != nil {
        if errors.Is(err, repository.ErrEmailExists) {
            return c.JSON(http.StatusConflict, echo.Map{"success": false, "error": "email already exists", "field": "email"})
        }
        h.Log.Error("create user failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "registration failed"})
    }

    h.Audit.LogSecurityEvent(audit.Event{
        UserID: &uid, EventType: audit.EventUserRegistered,
        ResourceType: "user", ResourceID: strconv.FormatUint(uid, 10),
        IP: c.RealIP(), UserAgent: c.Request().UserAgent(), Success: true,
    })

    return c.JSON(http.StatusCreated, echo.Map{
        "success": true,
        "user":    userPart{ID: uid, Email: req.Email, Name: strings.TrimSpace(req.Name), Role: model.RoleResearcher},
    })
}

// Login: verify password (and MFA when enabled) and return a new token
// pair. The refresh token travels only in an HTTP-only cookie.
func (h *AuthHandler) Login(c echo.Context) error {
    return h.login(c)
}

// LoginMFA is the second step of an MFA login. It is the same flow as
// Login; the separate route exists so clients can keep the two steps
// apart.
func (h *AuthHandler) LoginMFA(c echo.Context) error {
    return h.login(c)
}

func (h *AuthHandler) login(c echo.Context) error {
    var req loginReq
    if err := c.Bind(&req); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "invalid body"})
    }
    req.Email = strings.ToLower(strings.TrimSpace(req.Email))
    if req.Email == "" || req.Password == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "email and password are required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    u, err := h.Users.GetByEmail(ctx, req.Email)
    if err != nil {
        if errors.Is(err, sql.ErrNoRows) {
            h.auditLogin(c, nil, false, "user_not_found")
            return invalidCredentials(c)
        }
        h.Log.Error("load user failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "login failed"})
    }

    now := time.Now().UTC()
    if u.Locked(now) {
        h.auditLogin(c, &u.ID, false, "account_locked")
        return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "Account is temporarily locked"})
    }
    if !u.IsActive {
        h.auditLogin(c, &u.ID, false, "account_inactive")
        return invalidCredentials(c)
    }

    ok, err := crypto.VerifyPassword(u.PasswordHash, req.Password)
    if err != nil || !ok {
        // The failure counter only tracks password checks; reaching the
        // threshold sets the lockout timestamp.
        if rerr := h.Users.RecordLoginFailure(ctx, u.ID,
            h.Cfg.LockoutMaxAttempts, time.Duration(h.Cfg.LockoutDurationMin)*time.Minute); rerr != nil {
            h.Log.Error("record login failure", zap.Error(rerr))
        }
        reason := "bad_password"
        if u.FailedLoginAttempts+1 >= h.Cfg.LockoutMaxAttempts {
            // Lockout also revokes every live session the account holds.
            if serr := h.Sessions.InvalidateAllForUser(ctx, u.ID); serr != nil {
                h.Log.Error("invalidate sessions on lockout", zap.Error(serr))
            }
            h.Audit.LogSecurityEvent(audit.Event{
                UserID: &u.ID, EventType: audit.EventAccountLocked,
                ResourceType: "user", ResourceID: strconv.FormatUint(u.ID, 10),
                IP: c.RealIP(), UserAgent: c.Request().UserAgent(), Success: false,
            })
        }
        h.auditLogin(c, &u.ID, false, reason)
        return invalidCredentials(c)
    }

    if u.MFAEnabled {
        if strings.TrimSpace(req.MFAToken) == "" {
            // Password was right but the second factor is missing: no
            // tokens, no session row.
            return c.JSON(http.StatusOK, echo.Map{"success": false, "requiresMFA": true})
        }
        if err := h.verifySecondFactor(ctx, c, u, strings.TrimSpace(req.MFAToken)); err != nil {
            h.auditLogin(c, &u.ID, false, "invalid_mfa")
            return invalidCredentials(c)
        }
    }

    if err := h.Users.ResetLoginFailures(ctx, u.ID); err != nil {
        h.Log.Error("reset login failures", zap.Error(err))
    }

    pair, err := h.issueSession(ctx, c, u)
    if err != nil {
        h.Log.Error("issue session failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "login failed"})
    }

    h.auditLogin(c, &u.ID, true, "")
    h.checkSuspicious(u.ID, c.RealIP(), c.Request().UserAgent())
    return c.JSON(http.StatusOK, echo.Map{
        "success":     true,
        "user":        toUserPart(u),
        "accessToken": pair.AccessToken,
        "expiresAt":   pair.AccessExp,
    })
}

// checkSuspicious runs the recent-activity heuristics off the request
// path after a successful login. A tripped heuristic records a
// suspicious_activity event, which ends up HIGH severity and therefore
// on the alert queue.
func (h *AuthHandler) checkSuspicious(userID uint64, ip, userAgent string) {
    go func() {
        ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()

        suspicious, err := h.Audit.DetectSuspiciousActivity(ctx, userID, time.Hour)
        if err != nil {
            h.Log.Warn("suspicious activity check failed", zap.Error(err))
            return
        }
        if !suspicious {
            return
        }
        h.Audit.LogSecurityEvent(audit.Event{
            UserID: &userID, EventType: audit.EventSuspicious,
            ResourceType: "user", ResourceID: strconv.FormatUint(userID, 10),
            IP: ip, UserAgent: userAgent, Success: false,
            Details: map[string]interface{}{"trigger": "post_login_review"},
        })
    }()
}

// verifySecondFactor accepts either a current TOTP code or an unused
// backup code. Backup codes are consumed on use.
func (h *AuthHandler) verifySecondFactor(ctx context.Context, c echo.Context, u model.User, token string) error {
    if u.MFASecret != "" {
        secret, err := h.Cipher.DecryptForUser(u.ID, u.MFASecret)
        if err == nil {
            ok, _ := crypto.VerifyTOTP(secret, token, totpSkew, time.Now().UTC())
            if ok {
                return nil
            }
        } else {
            h.Log.Error("decrypt mfa secret failed", zap.Error(err))
        }
    }
    if err := h.BackupCodes.Consume(ctx, u.ID, auth.HashToken(token)); err != nil {
        return err
    }
    h.Audit.LogSecurityEvent(audit.Event{
        UserID: &u.ID, EventType: audit.EventBackupCodeUsed,
        ResourceType: "user", ResourceID: strconv.FormatUint(u.ID, 10),
        IP: c.RealIP(), UserAgent: c.Request().UserAgent(), Success: true,
    })
    return nil
}

// issueSession mints a token pair, persists the session row holding the
// token hashes, and sets the refresh cookie.
func (h *AuthHandler) issueSession(ctx context.Context, c echo.Context, u model.User) (auth.TokenPair, error) {
    pair, err := h.Issuer.Issue(u.ID, u.Email, u.Role)
    if err != nil {
        return auth.TokenPair{}, err
    }
    if err := h.Sessions.Create(ctx, h.sessionRow(c, u.ID, pair)); err != nil {
        return auth.TokenPair{}, err
    }
    setRefreshCookie(c, pair.RefreshToken, pair.RefreshExp)
    return pair, nil
}

func (h *AuthHandler) sessionRow(c echo.Context, userID uint64, pair auth.TokenPair) model.Session {
    now := time.Now().UTC()
    return model.Session{
        ID:               pair.SessionID,
        UserID:           userID,
        AccessTokenHash:  auth.HashToken(pair.AccessToken),
        RefreshTokenHash: auth.HashToken(pair.RefreshToken),
        IP:               c.RealIP(),
        UserAgent:        c.Request().UserAgent(),
        ExpiresAt:        pair.RefreshExp,
        LastActivity:     now,
        IsActive:         true,
    }
}

// Refresh: exchange a refresh token (cookie or body) for a new pair.
// Rotation invalidates the old session row and writes a new one; a
// concurrent refresh of the same session loses and gets a 401.
func (h *AuthHandler) Refresh(c echo.Context) error {
    raw := ""
    if cookie, err := c.Cookie(refreshCookieName); err == nil {
        raw = cookie.Value
    }
    if raw == "" {
        var req refreshReq
        _ = c.Bind(&req)
        raw = strings.TrimSpace(req.RefreshToken)
    }
    if raw == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "refresh token required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    claims, err := h.Issuer.ParseRefresh(raw)
    if err != nil {
        return h.invalidRefresh(c, nil, "invalid_token")
    }
    sess, err := h.Sessions.GetActiveByRefreshHash(ctx, auth.HashToken(raw))
    if err != nil || sess.ID != claims.SessionID {
        return h.invalidRefresh(c, nil, "invalid_session")
    }

    u, err := h.Users.GetByID(ctx, sess.UserID)
    if err != nil || !u.IsActive {
        return h.invalidRefresh(c, &sess.UserID, "user_inactive")
    }

    pair, err := h.Issuer.Issue(u.ID, u.Email, u.Role)
    if err != nil {
        h.Log.Error("issue tokens failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "refresh failed"})
    }
    if err := h.Sessions.Rotate(ctx, sess.ID, h.sessionRow(c, u.ID, pair)); err != nil {
        if errors.Is(err, repository.ErrSessionNotFound) {
            // Lost a race with a concurrent refresh of the same session.
            return h.invalidRefresh(c, &u.ID, "rotation_conflict")
        }
        h.Log.Error("rotate session failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "refresh failed"})
    }

    setRefreshCookie(c, pair.RefreshToken, pair.RefreshExp)
    h.Audit.LogSecurityEvent(audit.Event{
        UserID: &u.ID, EventType: audit.EventTokenRefreshed,
        ResourceType: "session", ResourceID: pair.SessionID,
        IP: c.RealIP(), UserAgent: c.Request().UserAgent(), Success: true,
    })
    return c.JSON(http.StatusOK, echo.Map{
        "success":     true,
        "user":        toUserPart(u),
        "accessToken": pair.AccessToken,
        "expiresAt":   pair.AccessExp,
    })
}

// Logout: invalidate the session matching the presented access token
// (protected route; the validator already resolved the session).
func (h *AuthHandler) Logout(c echo.Context) error {
    id, ok := middleware.IdentityFrom(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "unauthorized"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    if err := h.Sessions.Invalidate(ctx, id.SessionID); err != nil {
        h.Log.Error("invalidate session failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "logout failed"})
    }
    clearRefreshCookie(c)

    h.Audit.LogSecurityEvent(audit.Event{
        UserID: &id.ID, EventType: audit.EventLogout,
        ResourceType: "session", ResourceID: id.SessionID,
        IP: c.RealIP(), UserAgent: c.Request().UserAgent(), Success: true,
    })
    return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// MFASetup: generate a TOTP secret and recovery codes. The secret is
// stored encrypted under the user's derived key and MFA stays disabled
// until MFAEnable verifies one code.
func (h *AuthHandler) MFASetup(c echo.Context) error {
    id, ok := middleware.IdentityFrom(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "unauthorized"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    secret, err := crypto.GenerateTOTPSecret()
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "mfa setup failed"})
    }
    sealed, err := h.Cipher.EncryptForUser(id.ID, secret)
    if err != nil {
        h.Log.Error("encrypt mfa secret failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "mfa setup failed"})
    }
    if err := h.Users.SetMFASecret(ctx, id.ID, sealed); err != nil {
        h.Log.Error("store mfa secret failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "mfa setup failed"})
    }

    codes, err := crypto.GenerateBackupCodes(backupCodeCount)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "mfa setup failed"})
    }
    hashes := make([]string, len(codes))
    for n, code := range codes {
        hashes[n] = auth.HashToken(code)
    }
    if err := h.BackupCodes.Replace(ctx, id.ID, hashes); err != nil {
        h.Log.Error("store backup codes failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "mfa setup failed"})
    }

    h.Audit.LogSecurityEvent(audit.Event{
        UserID: &id.ID, EventType: audit.EventMFASetup,
        ResourceType: "user", ResourceID: strconv.FormatUint(id.ID, 10),
        IP: c.RealIP(), UserAgent: c.Request().UserAgent(), Success: true,
    })
    return c.JSON(http.StatusOK, echo.Map{
        "success":     true,
        "secret":      secret,
        "qrCodeUri":   crypto.TOTPProvisioningURI(secret, h.Cfg.TOTPIssuer, id.Email),
        "backupCodes": codes,
    })
}

// MFAEnable: flip the MFA flag after one successful code verification.
func (h *AuthHandler) MFAEnable(c echo.Context) error {
    id, ok := middleware.IdentityFrom(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "unauthorized"})
    }
    var req mfaEnableReq
    if err := c.Bind(&req); err != nil || strings.TrimSpace(req.MFAToken) == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "mfaToken required"})
    }

    ctx, cancel := reqCtx(c)
    defer cancel()

    u, err := h.Users.GetByID(ctx, id.ID)
    if err != nil || u.MFASecret == "" {
        return c.JSON(http.StatusBadRequest, echo.Map{"success": false, "error": "mfa setup required first"})
    }
    secret, err := h.Cipher.DecryptForUser(u.ID, u.MFASecret)
    if err != nil {
        h.Log.Error("decrypt mfa secret failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "mfa enable failed"})
    }
    ok, err = crypto.VerifyTOTP(secret, strings.TrimSpace(req.MFAToken), totpSkew, time.Now().UTC())
    if err != nil || !ok {
        h.Audit.LogSecurityEvent(audit.Event{
            UserID: &u.ID, EventType: audit.EventMFAEnabled,
            ResourceType: "user", ResourceID: strconv.FormatUint(u.ID, 10),
            IP: c.RealIP(), UserAgent: c.Request().UserAgent(), Success: false,
            Details: map[string]interface{}{"reason": "invalid_code"},
        })
        return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "Invalid MFA code"})
    }
    if err := h.Users.EnableMFA(ctx, u.ID); err != nil {
        h.Log.Error("enable mfa failed", zap.Error(err))
        return c.JSON(http.StatusInternalServerError, echo.Map{"success": false, "error": "mfa enable failed"})
    }

    h.Audit.LogSecurityEvent(audit.Event{
        UserID: &u.ID, EventType: audit.EventMFAEnabled,
        ResourceType: "user", ResourceID: strconv.FormatUint(u.ID, 10),
        IP: c.RealIP(), UserAgent: c.Request().UserAgent(), Success: true,
    })
    return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// Me: sanitized identity of the caller.
func (h *AuthHandler) Me(c echo.Context) error {
    id, ok := middleware.IdentityFrom(c)
    if !ok {
        return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "unauthorized"})
    }
    return c.JSON(http.StatusOK, echo.Map{
        "id":    id.ID,
        "email": id.Email,
        "role":  id.Role,
    })
}

// ----- helpers -----

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
    return context.WithTimeout(c.Request().Context(), 5*time.Second)
}

func invalidCredentials(c echo.Context) error {
    // Same message for wrong password, unknown email, inactive account
    // and bad MFA code; the audit log carries the specific reason.
    return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "Invalid credentials"})
}

func (h *AuthHandler) invalidRefresh(c echo.Context, userID *uint64, reason string) error {
    h.Audit.LogSecurityEvent(audit.Event{
        UserID: userID, EventType: audit.EventFailedAuth,
        ResourceType: "session",
        IP:           c.RealIP(), UserAgent: c.Request().UserAgent(), Success: false,
        Details: map[string]interface{}{"reason": reason},
    })
    return c.JSON(http.StatusUnauthorized, echo.Map{"success": false, "error": "Invalid refresh token"})
}

func (h *AuthHandler) auditLogin(c echo.Context, userID *uint64, success bool, reason string) {
    eventType := audit.EventFailedLogin
    var details map[string]interface{}
    if success {
        eventType = audit.EventLoginSuccess
    } else {
        details = map[string]interface{}{"reason": reason}
    }
    h.Audit.LogSecurityEvent(audit.Event{
        UserID: userID, EventType: eventType,
        ResourceType: "user",
        IP:           c.RealIP(), UserAgent: c.Request().UserAgent(),
        Success:      success, Details: details,
    })
}

func setRefreshCookie(c echo.Context, token string, exp time.Time) {
    c.SetCookie(&http.Cookie{
        Name:     refreshCookieName,
        Value:    token,
        Expires:  exp,
        Path:     "/auth",
        HttpOnly: true,
        Secure:   true,
        SameSite: http.SameSiteStrictMode,
    })
}

func clearRefreshCookie(c echo.Context) {
    c.SetCookie(&http.Cookie{
        Name:     refreshCookieName,
        Value:    "",
        MaxAge:   -1,
        Path:     "/auth",
        HttpOnly: true,
        Secure:   true,
        SameSite: http.SameSiteStrictMode,
    })
}
