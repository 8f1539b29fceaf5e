package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/probelab/aegis/internal/model"
)

// SessionRepo persists session rows keyed by hashed token values. Rows
// are never deleted; logout and rotation flip is_active off so the
// audit trail survives.
type SessionRepo struct{ DB *sql.DB }

func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{DB: db} }

const sessionColumns = "id,user_id,access_token_hash,refresh_token_hash,ip,user_agent,expires_at,last_activity,is_active,created_at"

// Create inserts a session row for a freshly issued token pair.
func (r *SessionRepo) Create(ctx context.Context, s model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, ip, user_agent, expires_at, last_activity, is_active)
		 VALUES (?,?,?,?,?,?,?,?,1)`,
		s.ID, s.UserID, s.AccessTokenHash, s.RefreshTokenHash, s.IP, s.UserAgent, s.ExpiresAt, s.LastActivity)
	return err
}

// GetActiveByAccessHash returns the active, unexpired session matching
// the access-token hash together with its (active) owning user in one
// round trip. ErrSessionNotFound covers revoked, expired and unknown
// sessions alike; the caller cannot tell which, on purpose.
func (r *SessionRepo) GetActiveByAccessHash(ctx context.Context, accessHash string) (model.Session, model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.expires_at, s.last_activity,
		        u.id, u.email, u.name, u.role, u.mfa_enabled, u.is_active
		 FROM sessions s
		 JOIN users u ON u.id = s.user_id
		 WHERE s.access_token_hash = ? AND s.is_active = 1 AND s.expires_at > UTC_TIMESTAMP()
		 LIMIT 1`, accessHash)

	var (
		s model.Session
		u model.User
	)
	err := row.Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.LastActivity,
		&u.ID, &u.Email, &u.Name, &u.Role, &u.MFAEnabled, &u.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, model.User{}, ErrSessionNotFound
	}
	if err != nil {
		return model.Session{}, model.User{}, err
	}
	s.AccessTokenHash = accessHash
	s.IsActive = true
	return s, u, nil
}

// GetActiveByRefreshHash returns the active session matching a
// refresh-token hash.
func (r *SessionRepo) GetActiveByRefreshHash(ctx context.Context, refreshHash string) (model.Session, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE refresh_token_hash=? AND is_active=1 AND expires_at > UTC_TIMESTAMP() LIMIT 1",
		refreshHash)
	var s model.Session
	err := row.Scan(&s.ID, &s.UserID, &s.AccessTokenHash, &s.RefreshTokenHash,
		&s.IP, &s.UserAgent, &s.ExpiresAt, &s.LastActivity, &s.IsActive, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrSessionNotFound
	}
	return s, err
}

// TouchActivity stamps last_activity. Last-writer-wins is fine here.
func (r *SessionRepo) TouchActivity(ctx context.Context, sessionID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET last_activity=? WHERE id=?", time.Now().UTC(), sessionID)
	return err
}

// Invalidate deactivates a single session (logout).
func (r *SessionRepo) Invalidate(ctx context.Context, sessionID string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0 WHERE id=? AND is_active=1", sessionID)
	return err
}

// InvalidateAllForUser deactivates every active session a user owns.
func (r *SessionRepo) InvalidateAllForUser(ctx context.Context, userID uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE sessions SET is_active=0 WHERE user_id=? AND is_active=1", userID)
	return err
}

// Rotate invalidates the old session and inserts the replacement in a
// single transaction. The is_active guard on the UPDATE serializes
// concurrent refreshes of the same session: the second one finds no row
// to deactivate and fails with ErrSessionNotFound instead of minting a
// second pair.
func (r *SessionRepo) Rotate(ctx context.Context, oldSessionID string, next model.Session) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		"UPDATE sessions SET is_active=0 WHERE id=? AND is_active=1", oldSessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSessionNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, access_token_hash, refresh_token_hash, ip, user_agent, expires_at, last_activity, is_active)
		 VALUES (?,?,?,?,?,?,?,?,1)`,
		next.ID, next.UserID, next.AccessTokenHash, next.RefreshTokenHash, next.IP, next.UserAgent, next.ExpiresAt, next.LastActivity); err != nil {
		return err
	}
	return tx.Commit()
}
