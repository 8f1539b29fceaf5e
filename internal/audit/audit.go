// Package audit records structured security events with a tamper-detection
// hash. Writes are dispatched through a bounded queue to a single worker,
// so logging never blocks or fails the request path: delivery is
// best-effort, at-most-once. HIGH and CRITICAL events additionally fan
// out to the security-alert queue.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/probelab/aegis/internal/model"
	"github.com/probelab/aegis/internal/queue"
)

// Event types recorded by the service.
const (
	EventUserRegistered   = "user_registered"
	EventLoginSuccess     = "login_success"
	EventFailedLogin      = "failed_login"
	EventFailedAuth       = "failed_auth"
	EventAccountLocked    = "account_locked"
	EventLogout           = "logout"
	EventTokenRefreshed   = "token_refreshed"
	EventMFASetup         = "mfa_setup"
	EventMFAEnabled       = "mfa_enabled"
	EventBackupCodeUsed   = "backup_code_used"
	EventPermissionChange = "permission_change"
	EventDataAccess       = "data_access"
	EventSuspicious       = "suspicious_activity"
)

// highRisk marks event types that raise severity one notch.
var highRisk = map[string]bool{
	EventFailedLogin:      true,
	EventFailedAuth:       true,
	EventAccountLocked:    true,
	EventPermissionChange: true,
	EventBackupCodeUsed:   true,
	EventSuspicious:       true,
}

// redactedKeys lists detail field names whose values must never reach
// storage. Matching is case-insensitive.
var redactedKeys = map[string]bool{
	"password":     true,
	"accesstoken":  true,
	"refreshtoken": true,
	"mfasecret":    true,
	"token":        true,
	"secret":       true,
	"backupcode":   true,
}

const redactionMarker = "[REDACTED]"

// Event is the caller-facing event shape. Details are sanitized before
// storage; callers may pass sensitive keys and rely on redaction.
type Event struct {
	UserID       *uint64
	EventType    string
	ResourceType string
	ResourceID   string
	IP           string
	UserAgent    string
	Success      bool
	Details      map[string]interface{}
}

// Store is the persistence surface the logger needs.
type Store interface {
	Insert(ctx context.Context, e model.SecurityAuditLog) error
	RecentByUser(ctx context.Context, userID uint64, since time.Time) ([]model.SecurityAuditLog, error)
}

// AlertPublisher forwards high-severity events to the alert queue.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, ev queue.SecurityAlertEvent) error
}

// Logger is the audit service. Construct with NewLogger and inject into
// handlers; there is no package-level singleton.
type Logger struct {
	store   Store
	alerts  AlertPublisher // may be nil when no broker is configured
	log     *zap.Logger
	ch      chan model.SecurityAuditLog
	done    chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Uint64
	once    sync.Once
}

// NewLogger starts the dispatch worker. bufferSize bounds the in-flight
// queue; when it is full new events are dropped and counted rather than
// blocking the caller.
func NewLogger(store Store, alerts AlertPublisher, log *zap.Logger, bufferSize int) *Logger {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	l := &Logger{
		store:  store,
		alerts: alerts,
		log:    log,
		ch:     make(chan model.SecurityAuditLog, bufferSize),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// LogSecurityEvent enqueues one event. It never blocks and never
// returns an error: audit trouble must not break the primary request
// path. Sanitation, severity assignment and hashing happen here, on the
// caller's goroutine, so the stored row is fixed at enqueue time.
func (l *Logger) LogSecurityEvent(ev Event) {
	// created_at is DATETIME(6); truncate to microseconds so the
	// timestamp that comes back from the database is the one that was
	// hashed, and Verify holds for persisted rows.
	now := time.Now().UTC().Truncate(time.Microsecond)
	row := model.SecurityAuditLog{
		UserID:       ev.UserID,
		EventType:    ev.EventType,
		ResourceType: ev.ResourceType,
		ResourceID:   ev.ResourceID,
		IP:           ev.IP,
		UserAgent:    ev.UserAgent,
		Success:      ev.Success,
		Details:      encodeDetails(Sanitize(ev.Details)),
		Severity:     Severity(ev.EventType, ev.Success),
		CreatedAt:    now,
	}
	row.Hash = ComputeHash(row)

	select {
	case l.ch <- row:
	default:
		l.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded on a full queue.
func (l *Logger) Dropped() uint64 { return l.dropped.Load() }

// Close drains the queue and stops the worker.
func (l *Logger) Close() {
	l.once.Do(func() { close(l.done) })
	l.wg.Wait()
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case row := <-l.ch:
			l.persist(row)
		case <-l.done:
			for {
				select {
				case row := <-l.ch:
					l.persist(row)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) persist(row model.SecurityAuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.Insert(ctx, row); err != nil {
		l.log.Warn("audit insert failed",
			zap.String("event_type", row.EventType),
			zap.Error(err))
	}
	if row.Severity != model.SeverityHigh && row.Severity != model.SeverityCritical {
		return
	}

	l.log.Warn("security alert",
		zap.String("event_type", row.EventType),
		zap.String("severity", row.Severity),
		zap.String("ip", row.IP),
		zap.Bool("success", row.Success))

	if l.alerts == nil {
		return
	}
	alert := queue.SecurityAlertEvent{
		EventType:  row.EventType,
		Severity:   row.Severity,
		IP:         row.IP,
		Details:    row.Details,
		OccurredAt: row.CreatedAt.Format(time.RFC3339Nano),
	}
	if row.UserID != nil {
		alert.UserID = *row.UserID
	}
	if err := l.alerts.PublishAlert(ctx, alert); err != nil {
		l.log.Warn("security alert publish failed", zap.Error(err))
	}
}

// Severity implements the decision table: an unsuccessful high-risk
// event is HIGH, any other failure MEDIUM, a successful high-risk event
// MEDIUM, everything else LOW.
func Severity(eventType string, success bool) string {
	switch {
	case !success && highRisk[eventType]:
		return model.SeverityHigh
	case !success:
		return model.SeverityMedium
	case highRisk[eventType]:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Sanitize replaces values of sensitive detail keys with the redaction
// marker. The input map is not modified.
func Sanitize(details map[string]interface{}) map[string]interface{} {
	if details == nil {
		return nil
	}
	out := make(map[string]interface{}, len(details))
	for k, v := range details {
		if redactedKeys[strings.ToLower(k)] {
			out[k] = redactionMarker
		} else {
			out[k] = v
		}
	}
	return out
}

// ComputeHash digests the identifying fields of a row. Volatile fields
// (the stored hash itself, the details blob) are excluded so Verify can
// recompute the digest from what was persisted.
func ComputeHash(row model.SecurityAuditLog) string {
	uid := ""
	if row.UserID != nil {
		uid = fmt.Sprintf("%d", *row.UserID)
	}
	payload := strings.Join([]string{
		uid,
		row.EventType,
		row.ResourceType,
		row.ResourceID,
		fmt.Sprintf("%d", row.CreatedAt.UnixNano()),
	}, "|")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the tamper hash from the stored fields and compares
// it with the stored digest.
func Verify(row model.SecurityAuditLog) bool {
	return row.Hash == ComputeHash(row)
}

func encodeDetails(details map[string]interface{}) string {
	if len(details) == 0 {
		return "{}"
	}
	b, err := json.Marshal(details)
	if err != nil {
		return "{}"
	}
	return string(b)
}
