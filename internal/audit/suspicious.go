package audit

import (
	"context"
	"strings"
	"time"
)

// Thresholds for the suspicious-activity heuristics.
const (
	suspiciousFailedLogins = 5
	suspiciousDistinctIPs  = 3
	suspiciousDataAccesses = 50
)

// DetectSuspiciousActivity scans the user's recent events and reports
// whether any heuristic trips: more than 5 failed logins, activity from
// more than 3 distinct IPs, a permission change flagged as an
// escalation, or more than 50 data-access events inside the window.
func (l *Logger) DetectSuspiciousActivity(ctx context.Context, userID uint64, window time.Duration) (bool, error) {
	since := time.Now().UTC().Add(-window)
	events, err := l.store.RecentByUser(ctx, userID, since)
	if err != nil {
		return false, err
	}

	failedLogins := 0
	dataAccesses := 0
	ips := map[string]bool{}
	for _, e := range events {
		switch e.EventType {
		case EventFailedLogin, EventFailedAuth:
			failedLogins++
		case EventDataAccess:
			dataAccesses++
		case EventPermissionChange:
			if strings.Contains(e.Details, `"escalation":true`) {
				return true, nil
			}
		}
		if e.IP != "" {
			ips[e.IP] = true
		}
	}

	return failedLogins > suspiciousFailedLogins ||
		len(ips) > suspiciousDistinctIPs ||
		dataAccesses > suspiciousDataAccesses, nil
}
