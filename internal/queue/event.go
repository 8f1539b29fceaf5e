// Package queue defines message payloads exchanged over the message broker.
package queue

// SecurityAlertEvent is published when the audit logger records a HIGH or
// CRITICAL severity event. It contains enough information for downstream
// consumers to page, feed a SIEM, or write an alert trail without
// querying the primary database.
type SecurityAlertEvent struct {
    UserID     uint64 `json:"user_id,omitempty"`
    EventType  string `json:"event_type"`
    Severity   string `json:"severity"`
    IP         string `json:"ip"`
    Details    string `json:"details"`
    OccurredAt string `json:"occurred_at"`
}
