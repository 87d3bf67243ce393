// Package alerting gates verified alerts through a cooldown, routes them by
// severity and fans them out to live subscribers.
package alerting

import "time"

// Envelope types sent to subscribers.
const (
	EnvelopeViolationAlert = "violation_alert"
	EnvelopeStatsUpdate    = "stats_update"
	EnvelopeCameraStatus   = "camera_status"
)

// Routing severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

// Event names published on the AlertEventBus.
const (
	EventAlertDispatched = "alert.dispatched"
	EventAlertEscalated  = "alert.escalated"
)

const (
	// DefaultCooldown applies when Submit is called with a negative cooldown.
	DefaultCooldown = 60 * time.Second
	// DefaultSendTimeout bounds a single subscriber send.
	DefaultSendTimeout = 5 * time.Second
	// DefaultStorageTimeout bounds persistence of an accepted alert.
	DefaultStorageTimeout = 3 * time.Second

	// gatePurgeInterval is how often expired cooldown entries are removed.
	gatePurgeInterval = 5 * time.Minute
)
