// Package notification forwards dispatched and escalated alerts to outbound
// channels such as Telegram, MQTT, NATS and HTTP webhooks.
package notification

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/smartsafety/safetyvision/internal/alerting"
)

// Notification is a fully formed outbound message.
type Notification struct {
	ID            string    `json:"id"`
	Event         string    `json:"event"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Severity      string    `json:"severity"`
	AlertID       string    `json:"alert_id"`
	DedupKey      string    `json:"dedup_key"`
	ViolationID   uint      `json:"violation_id,omitzero"`
	Source        string    `json:"source"`
	EntityID      string    `json:"person_id"`
	ViolationType string    `json:"violation_type"`
	EvidencePath  string    `json:"evidence_path,omitzero"`
	Timestamp     time.Time `json:"timestamp"`
}

// severityRank orders routing severities for the minimum-severity filter.
var severityRank = map[string]int{
	alerting.SeverityLow:    1,
	alerting.SeverityMedium: 2,
	alerting.SeverityHigh:   3,
}

// meetsSeverity reports whether severity is at least minimum. Unknown
// severities never pass.
func meetsSeverity(severity, minimum string) bool {
	rank, ok := severityRank[severity]
	if !ok {
		return false
	}
	return rank >= severityRank[minimum]
}

// FromEvent builds the notification for an alert event.
func FromEvent(e *alerting.AlertEvent) *Notification {
	a := &e.Alert
	ts := a.ObservedAt
	if ts.IsZero() {
		ts = e.Timestamp
	}

	title := "Safety violation detected"
	if a.AlertClass == "security" {
		title = "Security alert"
	}
	if e.Name == alerting.EventAlertEscalated {
		title = "Escalated: " + title
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Type: %s\n", a.ViolationType)
	fmt.Fprintf(&b, "Location: %s\n", a.Source)
	fmt.Fprintf(&b, "Person: %s\n", a.EntityID)
	fmt.Fprintf(&b, "Time: %s\n", ts.Format("2006-01-02 15:04:05"))
	if a.Message != "" {
		fmt.Fprintf(&b, "Details: %s\n", a.Message)
	}
	if e.Name == alerting.EventAlertEscalated {
		b.WriteString("Status: unattended past due")
	} else {
		b.WriteString("Status: needs review")
	}

	return &Notification{
		ID:            uuid.NewString(),
		Event:         e.Name,
		Title:         title,
		Message:       b.String(),
		Severity:      e.Severity,
		AlertID:       a.AlertID,
		DedupKey:      e.DedupKey,
		ViolationID:   e.ViolationID,
		Source:        a.Source,
		EntityID:      a.EntityID,
		ViolationType: string(a.ViolationType),
		Timestamp:     ts,
	}
}
