package rules

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability/metrics"
)

// Options configures an Engine.
type Options struct {
	// MinViolationDuration is used when Evaluate is called with a negative minimum.
	MinViolationDuration float64
	OperationalHours     OperationalHours
	SafeZones            []Zone
	Location             *time.Location
	Clock                func() time.Time
}

// OptionsFromConfig builds engine options from the rules settings.
func OptionsFromConfig(s *conf.RulesSettings) (Options, error) {
	loc, err := s.Location()
	if err != nil {
		return Options{}, fmt.Errorf("failed to load timezone %q: %w", s.Timezone, err)
	}
	return Options{
		MinViolationDuration: s.MinViolationDuration,
		OperationalHours:     OperationalHours{Start: s.OperationalHours.Start, End: s.OperationalHours.End},
		SafeZones:            ZonesFromConfig(s.SafeZones),
		Location:             loc,
	}, nil
}

// Engine evaluates detection batches for a single source. It owns the
// debounce trackers of that source; batches are applied one at a time.
type Engine struct {
	source   string
	opts     Options
	trackers *trackerSet
	log      logger.Logger
	metrics  *metrics.RulesMetrics

	mu sync.Mutex // serializes Evaluate
}

// NewEngine creates a rules engine for source. Zero-value options fall back to
// the default operational hours, the local timezone and the system clock.
func NewEngine(source string, opts Options, log logger.Logger, m *metrics.RulesMetrics) *Engine {
	if opts.OperationalHours == (OperationalHours{}) {
		opts.OperationalHours = OperationalHours{Start: conf.DefaultOperationalStart, End: conf.DefaultOperationalEnd}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		source:   source,
		opts:     opts,
		trackers: newTrackerSet(),
		log:      log.Module("rules").With(logger.String("source", source)),
		metrics:  m,
	}
}

// Source returns the source the engine was created for.
func (e *Engine) Source() string {
	return e.source
}

// Evaluate applies one batch and returns the alerts whose violation has been
// sustained for at least minViolationDurationSeconds. Invalid samples are
// skipped; their validation errors are joined and returned with the alerts.
func (e *Engine) Evaluate(batch []DetectionSample, minViolationDurationSeconds float64) ([]VerifiedAlert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if minViolationDurationSeconds < 0 {
		minViolationDurationSeconds = e.opts.MinViolationDuration
	}
	minDuration := time.Duration(minViolationDurationSeconds * float64(time.Second))

	now := e.batchTime(batch)
	tctx := e.opts.OperationalHours.contextAt(now, e.opts.Location)

	var (
		alerts  []VerifiedAlert
		errs    []error
		present = make(map[string]struct{}, len(batch))
	)

	for i := range batch {
		s := &batch[i]
		if s.EntityID == "" {
			errs = append(errs, invalidSample(i, "missing entity id"))
			continue
		}
		present[s.EntityID] = struct{}{}

		if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
			errs = append(errs, invalidSample(i, fmt.Sprintf("confidence %v out of range [0, 1]", s.Confidence)))
			continue
		}

		v, violating := classify(tctx, s, e.opts.SafeZones)
		if !violating {
			e.trackers.Clear(s.EntityID)
			continue
		}

		duration := e.trackers.Observe(s.EntityID, now)
		if duration < minDuration {
			continue
		}

		alert := VerifiedAlert{
			AlertID:         fmt.Sprintf("alert_%s_%d", s.EntityID, now.Unix()),
			EntityID:        s.EntityID,
			Source:          e.source,
			ViolationType:   v.ViolationType,
			AlertClass:      v.Class,
			Severity:        v.Severity,
			Message:         v.Message,
			ObservedAt:      now,
			DurationSeconds: math.Round(duration.Seconds()*100) / 100,
			BoundingBox:     s.BoundingBox,
			Confidence:      s.Confidence,
		}
		alerts = append(alerts, alert)
		e.metrics.RecordAlert(e.source, string(v.ViolationType))
		e.log.Debug("violation verified",
			logger.String("entity_id", s.EntityID),
			logger.String("violation_type", string(v.ViolationType)),
			logger.String("context", tctx.String()),
			logger.Float64("duration_seconds", alert.DurationSeconds))
	}

	if removed := e.trackers.Retain(present); removed > 0 {
		e.log.Trace("cleared trackers for absent entities", logger.Int("count", removed))
	}
	e.metrics.RecordBatch(e.source, len(batch), len(errs), e.trackers.Len())

	if len(errs) > 0 {
		e.log.Warn("skipped invalid detection samples", logger.Int("count", len(errs)))
	}
	return alerts, errors.Join(errs...)
}

// batchTime returns the representative timestamp of the batch: the first
// sample's timestamp, or the engine clock when it is missing or unparsable.
func (e *Engine) batchTime(batch []DetectionSample) time.Time {
	if len(batch) > 0 {
		if t, ok := batch[0].timestamp(e.opts.Location); ok {
			return t
		}
		if batch[0].RawTimestamp != "" {
			e.log.Debug("unparsable sample timestamp, using clock",
				logger.String("timestamp", batch[0].RawTimestamp))
		}
	}
	return e.opts.Clock()
}

// Trackers returns the number of entities with an open debounce window.
func (e *Engine) Trackers() int {
	return e.trackers.Len()
}

// TrackerSnapshot returns a copy of the open trackers.
func (e *Engine) TrackerSnapshot() []ViolationTracker {
	return e.trackers.Snapshot()
}

// Reset clears all debounce state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trackers.Reset()
	e.metrics.RecordBatch(e.source, 0, 0, 0)
}

func invalidSample(index int, reason string) error {
	return errors.Newf("sample %d: %s", index, reason).
		Component("rules").
		Category(errors.CategoryValidation).
		Context("index", index).
		Build()
}
