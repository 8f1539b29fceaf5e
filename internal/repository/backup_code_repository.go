package repository

import (
	"context"
	"database/sql"
)

// BackupCodeRepo stores hashed MFA recovery codes. Codes are single-use:
// Consume marks used_at and refuses codes that were already spent.
type BackupCodeRepo struct{ DB *sql.DB }

func NewBackupCodeRepo(db *sql.DB) *BackupCodeRepo { return &BackupCodeRepo{DB: db} }

// Replace drops any existing codes for the user and stores the new set.
// Called at MFA setup and on regeneration.
func (r *BackupCodeRepo) Replace(ctx context.Context, userID uint64, codeHashes []string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM backup_codes WHERE user_id=?", userID); err != nil {
		return err
	}
	for _, h := range codeHashes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO backup_codes (user_id, code_hash) VALUES (?,?)", userID, h); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Consume spends a single recovery code. The used_at guard in the WHERE
// clause makes the second consume of the same code fail.
func (r *BackupCodeRepo) Consume(ctx context.Context, userID uint64, codeHash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE backup_codes SET used_at=UTC_TIMESTAMP() WHERE user_id=? AND code_hash=? AND used_at IS NULL",
		userID, codeHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrBackupCodeInvalid
	}
	return nil
}
