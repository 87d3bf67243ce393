// Package rules turns noisy per-frame PPE observations into verified safety
// and security alerts. An Engine applies a time-of-day policy, safe-zone
// geofencing and a per-entity debounce window before anything is emitted.
package rules

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// ViolationType enumerates what an alert is about.
type ViolationType string

const (
	ViolationNoPPE                ViolationType = "NO_PPE"
	ViolationUnauthorizedPresence ViolationType = "UNAUTHORIZED_PRESENCE"
	ViolationSecurityBreach       ViolationType = "SECURITY_BREACH"
)

// AlertClass separates safety alerts from security alerts.
type AlertClass string

const (
	ClassSafety   AlertClass = "safety"
	ClassSecurity AlertClass = "security"
)

// Severity is the policy severity attached by the rules engine. Routing
// severity (high/medium/low) is assigned later by the dispatcher.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// BoundingBox is an axis-aligned box in frame pixel coordinates.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Point is a position in frame pixel coordinates.
type Point struct {
	X, Y float64
}

// Centroid returns the centre of the box.
func (b BoundingBox) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// DetectionSample is one observation of a tracked entity in a single frame.
type DetectionSample struct {
	EntityID             string      `json:"person_id"`
	BoundingBox          BoundingBox `json:"bbox"`
	HasRequiredEquipment bool        `json:"has_ppe"`
	Confidence           float64     `json:"confidence"`

	// ObservedAt is set by in-process producers. When zero, RawTimestamp is
	// parsed instead, and the engine clock is used if that fails too.
	ObservedAt time.Time `json:"-"`
	// RawTimestamp holds the source timestamp as received: an ISO-8601 string
	// or epoch seconds.
	RawTimestamp string `json:"timestamp,omitempty"`
}

// UnmarshalJSON accepts the timestamp either as a string or as a number. Any
// other timestamp value is dropped so the sample falls back to the clock
// instead of failing the whole batch.
func (s *DetectionSample) UnmarshalJSON(b []byte) error {
	type plain DetectionSample
	var aux struct {
		plain
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*s = DetectionSample(aux.plain)
	s.RawTimestamp = ""

	if len(aux.Timestamp) == 0 || string(aux.Timestamp) == "null" {
		return nil
	}
	var str string
	if err := json.Unmarshal(aux.Timestamp, &str); err == nil {
		s.RawTimestamp = str
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(aux.Timestamp, &num); err == nil {
		s.RawTimestamp = num.String()
	}
	return nil
}

// maxEpochSeconds is 9999-12-31T23:59:59Z, the last instant the string
// layouts can express.
const maxEpochSeconds = 253402300799

// timestampLayouts are tried in order for string timestamps. Layouts without
// an offset are interpreted in the engine's location.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// timestamp resolves the observation time of the sample, reporting false when
// no usable timestamp is present.
func (s *DetectionSample) timestamp(loc *time.Location) (time.Time, bool) {
	if !s.ObservedAt.IsZero() {
		return s.ObservedAt, true
	}
	if s.RawTimestamp == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.ParseFloat(s.RawTimestamp, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 || secs > maxEpochSeconds {
			return time.Time{}, false
		}
		whole := int64(secs)
		return time.Unix(whole, int64((secs-float64(whole))*float64(time.Second))), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s.RawTimestamp, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ViolationTracker is the debounce state of one entity.
type ViolationTracker struct {
	EntityID  string
	StartedAt time.Time
}

// VerifiedAlert is a violation that has been sustained for at least the
// minimum duration. It is immutable once emitted.
type VerifiedAlert struct {
	AlertID         string        `json:"alert_id"`
	EntityID        string        `json:"person_id"`
	Source          string        `json:"source"`
	ViolationType   ViolationType `json:"violation_type"`
	AlertClass      AlertClass    `json:"alert_type"`
	Severity        Severity      `json:"severity"`
	Message         string        `json:"status_message"`
	ObservedAt      time.Time     `json:"timestamp"`
	DurationSeconds float64       `json:"duration"`
	BoundingBox     BoundingBox   `json:"bbox"`
	Confidence      float64       `json:"confidence"`
}
