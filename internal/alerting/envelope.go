package alerting

import (
	"encoding/json"
	"time"

	"github.com/smartsafety/safetyvision/internal/rules"
)

// Envelope is the JSON message sent to subscribers.
type Envelope struct {
	Type      string `json:"type"`
	Severity  string `json:"severity,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
	AlertID   string `json:"alert_id,omitempty"`
	CameraID  string `json:"camera_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// NewViolationEnvelope wraps an alert. AlertID carries the dedup key so
// consoles can collapse repeats.
func NewViolationEnvelope(alert *rules.VerifiedAlert, severity, dedupKey string, at time.Time) Envelope {
	return Envelope{
		Type:      EnvelopeViolationAlert,
		Severity:  severity,
		Data:      alert,
		Timestamp: at.Format(time.RFC3339),
		AlertID:   dedupKey,
	}
}

// NewStatsEnvelope wraps a dashboard statistics snapshot.
func NewStatsEnvelope(stats any, at time.Time) Envelope {
	return Envelope{Type: EnvelopeStatsUpdate, Data: stats, Timestamp: at.Format(time.RFC3339)}
}

// NewCameraStatusEnvelope reports a camera going online or offline.
func NewCameraStatusEnvelope(cameraID, status string, at time.Time) Envelope {
	return Envelope{
		Type:      EnvelopeCameraStatus,
		CameraID:  cameraID,
		Status:    status,
		Timestamp: at.Format(time.RFC3339),
	}
}

// Marshal encodes the envelope as JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
