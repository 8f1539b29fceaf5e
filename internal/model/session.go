package model

import "time"

// Session models an entry in the `sessions` table.  One row is written per
// issued token pair.  The plain tokens are never stored; only their
// SHA-256 hashes, so a leaked database row cannot be replayed as a
// bearer credential.  Logout and refresh rotation flip IsActive to
// false instead of deleting the row, preserving the audit trail.
//
// Fields:
//  ID               – session identifier (UUID, also embedded in JWT claims).
//  UserID           – owner of the session.
//  AccessTokenHash  – SHA-256 hex digest of the access token.
//  RefreshTokenHash – SHA-256 hex digest of the refresh token.
//  IP               – client address at issuance.
//  UserAgent        – client user agent at issuance.
//  ExpiresAt        – refresh expiry; the session is unusable afterwards.
//  LastActivity     – updated on every authenticated request.
//  IsActive         – false once logged out or rotated.
//  CreatedAt        – timestamp of creation.
type Session struct {
    ID               string    // sessions.id
    UserID           uint64    // sessions.user_id
    AccessTokenHash  string    // sessions.access_token_hash
    RefreshTokenHash string    // sessions.refresh_token_hash
    IP               string    // sessions.ip
    UserAgent        string    // sessions.user_agent
    ExpiresAt        time.Time // sessions.expires_at
    LastActivity     time.Time // sessions.last_activity
    IsActive         bool      // sessions.is_active
    CreatedAt        time.Time // sessions.created_at
}

// BackupCode models an entry in the `backup_codes` table.  Codes are
// minted once at MFA setup and are single-use: Consume marks UsedAt and
// a second consume of the same code fails.
type BackupCode struct {
    ID       uint64     // backup_codes.id
    UserID   uint64     // backup_codes.user_id
    CodeHash string     // backup_codes.code_hash (SHA-256 hex)
    UsedAt   *time.Time // backup_codes.used_at (nullable)
}
