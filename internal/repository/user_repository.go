package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/probelab/aegis/internal/model"
)

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,email,name,password_hash,role,mfa_secret,mfa_enabled,failed_login_attempts,locked_until,is_active,created_at,updated_at"

// Create inserts a user and returns its ID. The password is hashed by
// the caller; the repository never sees plaintext credentials.
func (r *UserRepo) Create(ctx context.Context, email, name, passwordHash, role string) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, name, password_hash, role) VALUES (?,?,?,?)",
		email, name, passwordHash, role)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// RecordLoginFailure increments the consecutive-failure counter and,
// once the counter reaches maxAttempts, sets locked_until. Counter
// updates are last-writer-wins; two racing failures may count as one,
// which is acceptable for lockout purposes.
func (r *UserRepo) RecordLoginFailure(ctx context.Context, id uint64, maxAttempts int, lockFor time.Duration) error {
	until := time.Now().UTC().Add(lockFor)
	_, err := r.DB.ExecContext(ctx,
		`UPDATE users
		 SET failed_login_attempts = failed_login_attempts + 1,
		     locked_until = IF(failed_login_attempts + 1 >= ?, ?, locked_until)
		 WHERE id = ?`,
		maxAttempts, until, id)
	return err
}

// ResetLoginFailures clears the failure counter and any lockout. Called
// on every successful login.
func (r *UserRepo) ResetLoginFailures(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET failed_login_attempts=0, locked_until=NULL WHERE id=?", id)
	return err
}

// SetMFASecret stores the (already encrypted) TOTP secret. MFA stays
// disabled until one code verification succeeds.
func (r *UserRepo) SetMFASecret(ctx context.Context, id uint64, encryptedSecret string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE users SET mfa_secret=?, mfa_enabled=0 WHERE id=?", encryptedSecret, id)
	return err
}

// EnableMFA flips the MFA flag after the first successful verification.
func (r *UserRepo) EnableMFA(ctx context.Context, id uint64) error {
	_, err := r.DB.ExecContext(ctx, "UPDATE users SET mfa_enabled=1 WHERE id=?", id)
	return err
}

func (r *UserRepo) scanOne(row *sql.Row) (model.User, error) {
	var (
		u           model.User
		mfaSecret   sql.NullString
		lockedUntil sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role,
		&mfaSecret, &u.MFAEnabled, &u.FailedLoginAttempts, &lockedUntil,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, err
	}
	u.MFASecret = mfaSecret.String
	if lockedUntil.Valid {
		t := lockedUntil.Time
		u.LockedUntil = &t
	}
	return u, nil
}
