package model

import "time"

// Role names form a closed set.  The permission package maps each role to
// its allowed actions; adding a role means extending that mapping too.
const (
    RoleAdmin      = "ADMIN"
    RoleResearcher = "RESEARCHER"
    RoleAnalyst    = "ANALYST"
    RoleViewer     = "VIEWER"
)

// User represents an application user record as stored in the
// `users` table. Each field corresponds to a column in the
// database. The json tags are omitted here because these structs
// are primarily used internally by the repository layer; handlers
// define separate response types with appropriate JSON tags.
//
// Fields:
//  ID                  – primary key identifier of the user.
//  Email               – unique, lower-cased email address.
//  Name                – display name.
//  PasswordHash        – argon2id PHC-encoded password hash.
//  Role                – role name (ADMIN, RESEARCHER, ANALYST or VIEWER).
//  MFASecret           – encrypted TOTP secret (empty until MFA setup).
//  MFAEnabled          – whether MFA is required at login.
//  FailedLoginAttempts – consecutive failed password checks; reset on success.
//  LockedUntil         – account is rejected until this instant (nullable).
//  IsActive            – whether the account is active.
//  CreatedAt           – timestamp of creation.
//  UpdatedAt           – timestamp of last update.
type User struct {
    ID                  uint64     // users.id
    Email               string     // users.email
    Name                string     // users.name
    PasswordHash        string     // users.password_hash
    Role                string     // users.role
    MFASecret           string     // users.mfa_secret (encrypted, may be empty)
    MFAEnabled          bool       // users.mfa_enabled
    FailedLoginAttempts int        // users.failed_login_attempts
    LockedUntil         *time.Time // users.locked_until (nullable)
    IsActive            bool       // users.is_active
    CreatedAt           time.Time  // users.created_at
    UpdatedAt           time.Time  // users.updated_at
}

// Locked reports whether the account is currently locked out.
func (u *User) Locked(now time.Time) bool {
    return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}
