package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/probelab/aegis/internal/model"
)

// AuditRepo appends to and reads from the security_audit_log table.
// Rows are append-only; there is deliberately no update or delete.
type AuditRepo struct{ DB *sql.DB }

func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{DB: db} }

// Insert appends one event row.
func (r *AuditRepo) Insert(ctx context.Context, e model.SecurityAuditLog) error {
	var userID interface{}
	if e.UserID != nil {
		userID = *e.UserID
	}
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO security_audit_log (user_id, event_type, resource_type, resource_id, ip, user_agent, success, details, severity, hash, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		userID, e.EventType, e.ResourceType, e.ResourceID, e.IP, e.UserAgent,
		e.Success, e.Details, e.Severity, e.Hash, e.CreatedAt)
	return err
}

// RecentByUser returns the user's events since the given instant,
// newest first. Feeds the suspicious-activity heuristics.
func (r *AuditRepo) RecentByUser(ctx context.Context, userID uint64, since time.Time) ([]model.SecurityAuditLog, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, user_id, event_type, resource_type, resource_id, ip, user_agent, success, details, severity, hash, created_at
		 FROM security_audit_log WHERE user_id=? AND created_at >= ? ORDER BY created_at DESC`,
		userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SecurityAuditLog
	for rows.Next() {
		var (
			e   model.SecurityAuditLog
			uid sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &uid, &e.EventType, &e.ResourceType, &e.ResourceID,
			&e.IP, &e.UserAgent, &e.Success, &e.Details, &e.Severity, &e.Hash, &e.CreatedAt); err != nil {
			return nil, err
		}
		if uid.Valid {
			v := uint64(uid.Int64)
			e.UserID = &v
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
