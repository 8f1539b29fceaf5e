package model

import "time"

// Audit severities.
const (
    SeverityLow      = "LOW"
    SeverityMedium   = "MEDIUM"
    SeverityHigh     = "HIGH"
    SeverityCritical = "CRITICAL"
)

// SecurityAuditLog is an append-only row in the `security_audit_log`
// table.  Rows are immutable once written.  Hash is a SHA-256 digest
// over the identifying fields (user id, event type, resource type,
// resource id, timestamp) so later mutation of any one of them is
// detectable.
type SecurityAuditLog struct {
    ID           uint64    // security_audit_log.id
    UserID       *uint64   // security_audit_log.user_id (nullable, unauthenticated events)
    EventType    string    // security_audit_log.event_type (login_success, failed_login, ...)
    ResourceType string    // security_audit_log.resource_type (user, session, study, ...)
    ResourceID   string    // security_audit_log.resource_id
    IP           string    // security_audit_log.ip
    UserAgent    string    // security_audit_log.user_agent
    Success      bool      // security_audit_log.success
    Details      string    // security_audit_log.details (JSON, sensitive keys redacted)
    Severity     string    // security_audit_log.severity
    Hash         string    // security_audit_log.hash (tamper-detection digest)
    CreatedAt    time.Time // security_audit_log.created_at
}
