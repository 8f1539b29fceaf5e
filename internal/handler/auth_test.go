package handler_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"database/sql"
	"encoding/base32"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/probelab/aegis/internal/audit"
	"github.com/probelab/aegis/internal/auth"
	"github.com/probelab/aegis/internal/config"
	"github.com/probelab/aegis/internal/crypto"
	"github.com/probelab/aegis/internal/handler"
	"github.com/probelab/aegis/internal/model"
	"github.com/probelab/aegis/internal/repository"
	"github.com/probelab/aegis/internal/router"
)

// ----- fakes -----

type fakeUsers struct {
	mu      sync.Mutex
	byID    map[uint64]*model.User
	nextID  uint64
	lockMax int
	lockFor time.Duration
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[uint64]*model.User{}, nextID: 1}
}

func (f *fakeUsers) add(u model.User) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = f.nextID
	f.nextID++
	cp := u
	f.byID[cp.ID] = &cp
	return &cp
}

func (f *fakeUsers) Create(_ context.Context, email, name, passwordHash, role string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			return 0, repository.ErrEmailExists
		}
	}
	id := f.nextID
	f.nextID++
	f.byID[id] = &model.User{ID: id, Email: email, Name: name, PasswordHash: passwordHash, Role: role, IsActive: true}
	return id, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if u.Email == email {
			return *u, nil
		}
	}
	return model.User{}, sql.ErrNoRows
}

func (f *fakeUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		return *u, nil
	}
	return model.User{}, sql.ErrNoRows
}

func (f *fakeUsers) RecordLoginFailure(_ context.Context, id uint64, maxAttempts int, lockFor time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byID[id]
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= maxAttempts {
		until := time.Now().UTC().Add(lockFor)
		u.LockedUntil = &until
	}
	return nil
}

func (f *fakeUsers) ResetLoginFailures(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := f.byID[id]
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	return nil
}

func (f *fakeUsers) SetMFASecret(_ context.Context, id uint64, encryptedSecret string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].MFASecret = encryptedSecret
	f.byID[id].MFAEnabled = false
	return nil
}

func (f *fakeUsers) EnableMFA(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[id].MFAEnabled = true
	return nil
}

type fakeSessions struct {
	mu    sync.Mutex
	rows  map[string]*model.Session
	users *fakeUsers
}

func newFakeSessions(users *fakeUsers) *fakeSessions {
	return &fakeSessions{rows: map[string]*model.Session{}, users: users}
}

func (f *fakeSessions) Create(_ context.Context, s model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := s
	f.rows[s.ID] = &cp
	return nil
}

func (f *fakeSessions) GetActiveByAccessHash(_ context.Context, hash string) (model.Session, model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.AccessTokenHash == hash && s.IsActive && s.ExpiresAt.After(time.Now().UTC()) {
			if u, ok := f.users.byID[s.UserID]; ok {
				return *s, *u, nil
			}
		}
	}
	return model.Session{}, model.User{}, repository.ErrSessionNotFound
}

func (f *fakeSessions) GetActiveByRefreshHash(_ context.Context, hash string) (model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.RefreshTokenHash == hash && s.IsActive && s.ExpiresAt.After(time.Now().UTC()) {
			return *s, nil
		}
	}
	return model.Session{}, repository.ErrSessionNotFound
}

func (f *fakeSessions) TouchActivity(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[sessionID]; ok {
		s.LastActivity = time.Now().UTC()
	}
	return nil
}

func (f *fakeSessions) InvalidateAllForUser(_ context.Context, userID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.UserID == userID {
			s.IsActive = false
		}
	}
	return nil
}

func (f *fakeSessions) Invalidate(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.rows[sessionID]; ok {
		s.IsActive = false
	}
	return nil
}

func (f *fakeSessions) Rotate(_ context.Context, oldSessionID string, next model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.rows[oldSessionID]
	if !ok || !old.IsActive {
		return repository.ErrSessionNotFound
	}
	old.IsActive = false
	cp := next
	f.rows[next.ID] = &cp
	return nil
}

func (f *fakeSessions) active() []model.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Session
	for _, s := range f.rows {
		if s.IsActive {
			out = append(out, *s)
		}
	}
	return out
}

type fakeCodes struct {
	mu   sync.Mutex
	used map[string]bool // hash -> consumed
}

func newFakeCodes() *fakeCodes { return &fakeCodes{used: map[string]bool{}} }

func (f *fakeCodes) Replace(_ context.Context, _ uint64, codeHashes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.used = map[string]bool{}
	for _, h := range codeHashes {
		f.used[h] = false
	}
	return nil
}

func (f *fakeCodes) Consume(_ context.Context, _ uint64, codeHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	consumed, ok := f.used[codeHash]
	if !ok || consumed {
		return repository.ErrBackupCodeInvalid
	}
	f.used[codeHash] = true
	return nil
}

type memAuditStore struct {
	mu   sync.Mutex
	rows []model.SecurityAuditLog
}

func (s *memAuditStore) Insert(_ context.Context, e model.SecurityAuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, e)
	return nil
}

func (s *memAuditStore) RecentByUser(_ context.Context, userID uint64, since time.Time) ([]model.SecurityAuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SecurityAuditLog
	for _, e := range s.rows {
		if e.UserID != nil && *e.UserID == userID && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memAuditStore) events() []model.SecurityAuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.SecurityAuditLog, len(s.rows))
	copy(out, s.rows)
	return out
}

// ----- environment -----

type env struct {
	e        *echo.Echo
	users    *fakeUsers
	sessions *fakeSessions
	codes    *fakeCodes
	store    *memAuditStore
	auditor  *audit.Logger
	cipher   *crypto.FieldCipher
	issuer   *auth.Issuer
	cfg      config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := config.Config{
		Env:                "test",
		AccessTTLMin:       15,
		RefreshTTLDays:     7,
		LockoutMaxAttempts: 5,
		LockoutDurationMin: 15,
		TOTPIssuer:         "Aegis",
	}
	cipher, err := crypto.NewFieldCipher("test-master-key-0123456789abcdef", "test-salt")
	require.NoError(t, err)
	issuer := auth.NewIssuer(
		"access-secret-0123456789abcdef0123456789",
		"refresh-secret-0123456789abcdef012345678",
		15*time.Minute, 7*24*time.Hour)

	users := newFakeUsers()
	sessions := newFakeSessions(users)
	codes := newFakeCodes()
	store := &memAuditStore{}
	auditor := audit.NewLogger(store, nil, zap.NewNop(), 64)
	t.Cleanup(auditor.Close)

	h := handler.NewAuthHandler(cfg, users, sessions, codes, issuer, cipher, auditor, zap.NewNop())

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterAuth(e, h, issuer, sessions, auditor, config.RateLimitConfig{Enabled: false}, nil)

	return &env{e: e, users: users, sessions: sessions, codes: codes,
		store: store, auditor: auditor, cipher: cipher, issuer: issuer, cfg: cfg}
}

// addUser registers a user directly in the fake store with a real hash.
func (v *env) addUser(t *testing.T, email, password string, mutate func(*model.User)) *model.User {
	t.Helper()
	hash, err := crypto.HashPassword(password)
	require.NoError(t, err)
	u := model.User{Email: email, Name: "Test User", PasswordHash: hash, Role: model.RoleResearcher, IsActive: true}
	if mutate != nil {
		mutate(&u)
	}
	return v.users.add(u)
}

func (v *env) do(method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	v.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// eventsOfType drains the audit queue and filters by event type.
func (v *env) eventsOfType(eventType string) []model.SecurityAuditLog {
	v.auditor.Close() // drain; safe to call more than once
	var out []model.SecurityAuditLog
	for _, e := range v.store.events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// totpNow computes the current RFC 6238 code for a base32 secret.
func totpNow(t *testing.T, secretBase32 string) string {
	t.Helper()
	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	require.NoError(t, err)
	counter := time.Now().UTC().Unix() / 30
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)
	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 | (int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 | (int(sum[offset+3]) & 0xff)
	return fmt.Sprintf("%06d", bin%1000000)
}

// ----- register -----

func TestRegister(t *testing.T) {
	v := newEnv(t)

	rec := v.do(http.MethodPost, "/auth/register", `{"email":"Alice@Example.com","name":"Alice","password":"longenough"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	user := body["user"].(map[string]interface{})
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, "RESEARCHER", user["role"])

	// duplicate email
	rec = v.do(http.MethodPost, "/auth/register", `{"email":"alice@example.com","name":"A","password":"longenough"}`, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// validation failures
	rec = v.do(http.MethodPost, "/auth/register", `{"email":"not-an-email","password":"longenough"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = v.do(http.MethodPost, "/auth/register", `{"email":"b@example.com","password":"short"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ----- login -----

func TestLogin_UnknownEmail(t *testing.T) {
	v := newEnv(t)

	rec := v.do(http.MethodPost, "/auth/login", `{"email":"x@example.com","password":"whatever1"}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid credentials", body["error"])

	events := v.eventsOfType(audit.EventFailedLogin)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Details, `"reason":"user_not_found"`)
}

func TestLogin_Success(t *testing.T) {
	v := newEnv(t)
	u := v.addUser(t, "alice@example.com", "correct-password", nil)

	rec := v.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-password"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["accessToken"])

	// refresh token travels only as an HTTP-only cookie
	cookies := rec.Result().Cookies()
	var refresh *http.Cookie
	for _, ck := range cookies {
		if ck.Name == "refresh_token" {
			refresh = ck
		}
	}
	require.NotNil(t, refresh)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, refresh.SameSite)

	// one active session row holding hashes, not tokens
	active := v.sessions.active()
	require.Len(t, active, 1)
	assert.Equal(t, u.ID, active[0].UserID)
	assert.NotContains(t, active[0].AccessTokenHash, ".")
	assert.Equal(t, auth.HashToken(body["accessToken"].(string)), active[0].AccessTokenHash)
}

func TestLogin_WrongPasswordIsGeneric(t *testing.T) {
	v := newEnv(t)
	v.addUser(t, "alice@example.com", "correct-password", nil)

	rec := v.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"wrong-password"}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["error"])

	events := v.eventsOfType(audit.EventFailedLogin)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Details, `"reason":"bad_password"`)
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	v := newEnv(t)
	v.addUser(t, "alice@example.com", "correct-password", nil)

	// a live session that should not survive the lockout
	login(t, v, "alice@example.com", "correct-password")
	require.Len(t, v.sessions.active(), 1)

	for i := 0; i < 5; i++ {
		rec := v.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"wrong-password"}`, "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}

	// sixth attempt, even with the correct password, is rejected
	rec := v.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-password"}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Account is temporarily locked", decode(t, rec)["error"])

	// lockout revoked the existing session
	assert.Empty(t, v.sessions.active())

	events := v.eventsOfType(audit.EventAccountLocked)
	require.Len(t, events, 1)
	assert.Equal(t, model.SeverityHigh, events[0].Severity)
}

func TestLogin_SucceedsAfterLockoutExpires(t *testing.T) {
	v := newEnv(t)
	u := v.addUser(t, "alice@example.com", "correct-password", func(u *model.User) {
		u.FailedLoginAttempts = 5
		past := time.Now().UTC().Add(-time.Minute)
		u.LockedUntil = &past
	})

	rec := v.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-password"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	fresh, err := v.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.FailedLoginAttempts)
	assert.Nil(t, fresh.LockedUntil)
}

func TestLogin_FlagsSuspiciousHistory(t *testing.T) {
	v := newEnv(t)
	u := v.addUser(t, "alice@example.com", "correct-password", nil)

	// seed a recent burst of failed logins, enough to trip the heuristic
	now := time.Now().UTC()
	for i := 0; i < 6; i++ {
		uid := u.ID
		require.NoError(t, v.store.Insert(context.Background(), model.SecurityAuditLog{
			UserID: &uid, EventType: audit.EventFailedLogin,
			IP: "203.0.113.9", CreatedAt: now.Add(-time.Minute),
		}))
	}

	rec := v.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-password"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// the post-login review runs off the request path
	assert.Eventually(t, func() bool {
		for _, e := range v.store.events() {
			if e.EventType == audit.EventSuspicious && e.Severity == model.SeverityHigh {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

// ----- MFA -----

func (v *env) addMFAUser(t *testing.T, email, password string) (*model.User, string) {
	t.Helper()
	secret, err := crypto.GenerateTOTPSecret()
	require.NoError(t, err)
	u := v.addUser(t, email, password, nil)
	sealed, err := v.cipher.EncryptForUser(u.ID, secret)
	require.NoError(t, err)
	require.NoError(t, v.users.SetMFASecret(context.Background(), u.ID, sealed))
	require.NoError(t, v.users.EnableMFA(context.Background(), u.ID))
	return u, secret
}

func TestLogin_MFARequired(t *testing.T) {
	v := newEnv(t)
	v.addMFAUser(t, "alice@example.com", "correct-password")

	rec := v.do(http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"correct-password"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["requiresMFA"])
	assert.Nil(t, body["accessToken"])
	assert.Empty(t, v.sessions.active(), "no session row without the second factor")
}

func TestLogin_MFAWithTOTP(t *testing.T) {
	v := newEnv(t)
	_, secret := v.addMFAUser(t, "alice@example.com", "correct-password")

	code := totpNow(t, secret)
	rec := v.do(http.MethodPost, "/auth/login/mfa",
		fmt.Sprintf(`{"email":"alice@example.com","password":"correct-password","mfaToken":"%s"}`, code), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Len(t, v.sessions.active(), 1)
}

func TestLogin_MFAWithBadCode(t *testing.T) {
	v := newEnv(t)
	v.addMFAUser(t, "alice@example.com", "correct-password")

	rec := v.do(http.MethodPost, "/auth/login/mfa",
		`{"email":"alice@example.com","password":"correct-password","mfaToken":"000000"}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", decode(t, rec)["error"])
	assert.Empty(t, v.sessions.active())
}

func TestLogin_MFAWithBackupCodeIsSingleUse(t *testing.T) {
	v := newEnv(t)
	u, _ := v.addMFAUser(t, "alice@example.com", "correct-password")

	code := "a1b2c3d4"
	require.NoError(t, v.codes.Replace(context.Background(), u.ID, []string{auth.HashToken(code)}))

	body := fmt.Sprintf(`{"email":"alice@example.com","password":"correct-password","mfaToken":"%s"}`, code)
	rec := v.do(http.MethodPost, "/auth/login/mfa", body, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	// the same code is spent now
	rec = v.do(http.MethodPost, "/auth/login/mfa", body, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ----- refresh -----

func login(t *testing.T, v *env, email, password string) (accessToken, refreshToken string) {
	t.Helper()
	rec := v.do(http.MethodPost, "/auth/login", fmt.Sprintf(`{"email":"%s","password":"%s"}`, email, password), "")
	require.Equal(t, http.StatusOK, rec.Code)
	access := decode(t, rec)["accessToken"].(string)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "refresh_token" {
			return access, ck.Value
		}
	}
	t.Fatal("no refresh cookie set")
	return "", ""
}

func TestRefresh_RotatesSession(t *testing.T) {
	v := newEnv(t)
	v.addUser(t, "alice@example.com", "correct-password", nil)
	_, refresh := login(t, v, "alice@example.com", "correct-password")

	rec := v.do(http.MethodPost, "/auth/refresh", fmt.Sprintf(`{"refreshToken":"%s"}`, refresh), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["accessToken"])

	// old row invalidated, one new active session
	require.Len(t, v.sessions.active(), 1)

	// replaying the old refresh token fails
	rec = v.do(http.MethodPost, "/auth/refresh", fmt.Sprintf(`{"refreshToken":"%s"}`, refresh), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid refresh token", decode(t, rec)["error"])
}

func TestRefresh_InactiveSession(t *testing.T) {
	v := newEnv(t)
	v.addUser(t, "alice@example.com", "correct-password", nil)
	_, refresh := login(t, v, "alice@example.com", "correct-password")

	for _, s := range v.sessions.active() {
		require.NoError(t, v.sessions.Invalidate(context.Background(), s.ID))
	}

	rec := v.do(http.MethodPost, "/auth/refresh", fmt.Sprintf(`{"refreshToken":"%s"}`, refresh), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid refresh token", decode(t, rec)["error"])
}

func TestRefresh_GarbageToken(t *testing.T) {
	v := newEnv(t)

	rec := v.do(http.MethodPost, "/auth/refresh", `{"refreshToken":"not-a-jwt"}`, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = v.do(http.MethodPost, "/auth/refresh", `{}`, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// ----- protected endpoints -----

func TestMe(t *testing.T) {
	v := newEnv(t)
	u := v.addUser(t, "alice@example.com", "correct-password", nil)
	access, _ := login(t, v, "alice@example.com", "correct-password")

	rec := v.do(http.MethodGet, "/auth/me", "", access)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(u.ID), body["id"])
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, "RESEARCHER", body["role"])
	// nothing sensitive leaks
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "mfa")
}

func TestMe_Unauthorized(t *testing.T) {
	v := newEnv(t)

	rec := v.do(http.MethodGet, "/auth/me", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = v.do(http.MethodGet, "/auth/me", "", "garbage-token")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	events := v.eventsOfType(audit.EventFailedAuth)
	require.Len(t, events, 2)
	assert.Contains(t, events[0].Details, `"reason":"no_token"`)
	assert.Contains(t, events[1].Details, `"reason":"invalid_token"`)
}

func TestMe_TokenWithoutSessionRow(t *testing.T) {
	v := newEnv(t)
	u := v.addUser(t, "alice@example.com", "correct-password", nil)

	// A validly signed token whose session was never persisted must be
	// rejected by the session lookup.
	pair, err := v.issuer.Issue(u.ID, u.Email, u.Role)
	require.NoError(t, err)

	rec := v.do(http.MethodGet, "/auth/me", "", pair.AccessToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	events := v.eventsOfType(audit.EventFailedAuth)
	require.Len(t, events, 1)
	assert.Contains(t, events[0].Details, `"reason":"invalid_session"`)
}

func TestLogout(t *testing.T) {
	v := newEnv(t)
	v.addUser(t, "alice@example.com", "correct-password", nil)
	access, _ := login(t, v, "alice@example.com", "correct-password")

	rec := v.do(http.MethodPost, "/auth/logout", "", access)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, v.sessions.active())

	// the access token is dead now
	rec = v.do(http.MethodGet, "/auth/me", "", access)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMFASetupAndEnable(t *testing.T) {
	v := newEnv(t)
	u := v.addUser(t, "alice@example.com", "correct-password", nil)
	access, _ := login(t, v, "alice@example.com", "correct-password")

	rec := v.do(http.MethodPost, "/auth/mfa/setup", "", access)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	secret := body["secret"].(string)
	require.NotEmpty(t, secret)
	assert.Contains(t, body["qrCodeUri"], "otpauth://totp/")
	codes := body["backupCodes"].([]interface{})
	assert.Len(t, codes, 10)

	// secret is stored encrypted, never in the clear
	stored, err := v.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, secret, stored.MFASecret)
	assert.False(t, stored.MFAEnabled, "MFA stays off until a code verifies")
	plain, err := v.cipher.DecryptForUser(u.ID, stored.MFASecret)
	require.NoError(t, err)
	assert.Equal(t, secret, plain)

	// enabling with a wrong code fails
	rec = v.do(http.MethodPost, "/auth/mfa/enable", `{"mfaToken":"000000"}`, access)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	// enabling with a fresh code succeeds
	rec = v.do(http.MethodPost, "/auth/mfa/enable",
		fmt.Sprintf(`{"mfaToken":"%s"}`, totpNow(t, secret)), access)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err = v.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.True(t, stored.MFAEnabled)
}

func TestHealth(t *testing.T) {
	v := newEnv(t)
	rec := v.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
