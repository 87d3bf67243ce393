// Package pipeline connects detection batches to the rules engines and the
// alert dispatcher. It keeps one engine per video source and applies batches
// of the same source one at a time.
package pipeline

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smartsafety/safetyvision/internal/alerting"
	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability/metrics"
	"github.com/smartsafety/safetyvision/internal/rules"
)

// Submitter accepts verified alerts. *alerting.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, alert rules.VerifiedAlert, cooldown time.Duration) (alerting.Outcome, error)
}

// Camera statuses broadcast when a source comes and goes.
const (
	CameraOnline  = "online"
	CameraOffline = "offline"
)

// StatusNotifier is told when a source is first seen and when it is reset.
// *alerting.Dispatcher implements it.
type StatusNotifier interface {
	BroadcastCameraStatus(ctx context.Context, cameraID, status string) (alerting.BroadcastStats, error)
}

// Result reports what happened to one batch.
type Result struct {
	Alerts   []rules.VerifiedAlert `json:"alerts"`
	Outcomes []alerting.Outcome    `json:"outcomes"`
	Invalid  int                   `json:"invalid"`
	Errors   []string              `json:"errors,omitempty"`
}

// Processor owns the per-source rules engines.
type Processor struct {
	opts        rules.Options
	minDuration float64
	cooldown    time.Duration
	submitter   Submitter
	log         logger.Logger
	metrics     *metrics.RulesMetrics
	status      StatusNotifier

	mu      sync.Mutex
	sources map[string]*sourceState

	batches    atomic.Int64
	detections atomic.Int64
	compliant  atomic.Int64
	invalid    atomic.Int64
	alerts     atomic.Int64
}

// DetectionStats are the running totals since the processor was created.
type DetectionStats struct {
	Batches        int64   `json:"batches"`
	Detections     int64   `json:"total_detections"`
	Compliant      int64   `json:"compliant"`
	Invalid        int64   `json:"invalid"`
	Alerts         int64   `json:"alerts"`
	ComplianceRate float64 `json:"compliance_rate"`
}

type sourceState struct {
	mu     sync.Mutex // single writer per source
	engine *rules.Engine
}

// Config holds the processor settings.
type Config struct {
	Rules    rules.Options
	Cooldown time.Duration
}

// ConfigFromSettings builds a processor config from loaded settings.
func ConfigFromSettings(s *conf.Settings) (Config, error) {
	opts, err := rules.OptionsFromConfig(&s.Rules)
	if err != nil {
		return Config{}, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return Config{Rules: opts, Cooldown: s.Dispatcher.Cooldown.Std()}, nil
}

// NewProcessor creates a processor that submits alerts to submitter.
func NewProcessor(cfg Config, submitter Submitter, log logger.Logger, m *metrics.RulesMetrics) *Processor {
	return &Processor{
		opts:        cfg.Rules,
		minDuration: cfg.Rules.MinViolationDuration,
		cooldown:    cfg.Cooldown,
		submitter:   submitter,
		log:         log.Module("pipeline"),
		metrics:     m,
		sources:     make(map[string]*sourceState),
	}
}

// SetStatusNotifier registers n to receive camera online/offline changes.
func (p *Processor) SetStatusNotifier(n StatusNotifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = n
}

func (p *Processor) source(name string) (st *sourceState, added bool, n StatusNotifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.sources[name]
	if !ok {
		st = &sourceState{engine: rules.NewEngine(name, p.opts, p.log, p.metrics)}
		p.sources[name] = st
		p.log.Info("registered detection source", logger.String("source", name))
	}
	return st, !ok, p.status
}

func (p *Processor) notifyStatus(ctx context.Context, n StatusNotifier, source, status string) {
	if n == nil {
		return
	}
	if _, err := n.BroadcastCameraStatus(ctx, source, status); err != nil {
		p.log.Warn("camera status broadcast failed",
			logger.String("source", source),
			logger.String("status", status),
			logger.Error(err))
	}
}

// Process evaluates a batch for source and submits every resulting alert.
// Invalid samples are counted in the result, not returned as an error. The
// returned error joins submission failures; alerts that failed to persist
// were still broadcast.
func (p *Processor) Process(ctx context.Context, source string, batch []rules.DetectionSample) (Result, error) {
	if source == "" {
		return Result{}, errors.Newf("source is required").
			Component("pipeline").
			Category(errors.CategoryValidation).
			Build()
	}

	st, added, n := p.source(source)
	if added {
		p.notifyStatus(ctx, n, source, CameraOnline)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	alerts, evalErr := st.engine.Evaluate(batch, p.minDuration)
	res := Result{
		Alerts:   alerts,
		Outcomes: make([]alerting.Outcome, 0, len(alerts)),
	}
	if res.Alerts == nil {
		res.Alerts = []rules.VerifiedAlert{}
	}
	for _, err := range flatten(evalErr) {
		res.Invalid++
		res.Errors = append(res.Errors, err.Error())
	}
	p.count(batch, &res)

	var submitErrs []error
	for i := range alerts {
		outcome, err := p.submitter.Submit(ctx, alerts[i], p.cooldown)
		res.Outcomes = append(res.Outcomes, outcome)
		if err != nil {
			submitErrs = append(submitErrs, err)
			p.log.Warn("alert submission failed",
				logger.String("source", source),
				logger.String("entity_id", alerts[i].EntityID),
				logger.Error(err))
		}
	}
	return res, errors.Join(submitErrs...)
}

func (p *Processor) count(batch []rules.DetectionSample, res *Result) {
	p.batches.Add(1)
	p.invalid.Add(int64(res.Invalid))
	p.detections.Add(int64(len(batch) - res.Invalid))
	p.alerts.Add(int64(len(res.Alerts)))
	var equipped int64
	for i := range batch {
		if batch[i].HasRequiredEquipment && batch[i].EntityID != "" {
			equipped++
		}
	}
	p.compliant.Add(equipped)
}

// Stats returns the detection totals. ComplianceRate is the share of valid
// detections wearing the required equipment, in percent.
func (p *Processor) Stats() DetectionStats {
	s := DetectionStats{
		Batches:    p.batches.Load(),
		Detections: p.detections.Load(),
		Compliant:  p.compliant.Load(),
		Invalid:    p.invalid.Load(),
		Alerts:     p.alerts.Load(),
	}
	if s.Compliant > s.Detections {
		s.Compliant = s.Detections
	}
	if s.Detections > 0 {
		s.ComplianceRate = math.Round(float64(s.Compliant)/float64(s.Detections)*1000) / 10
	}
	return s
}

// Sources returns the names of the registered sources, sorted.
func (p *Processor) Sources() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.sources))
	for name := range p.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Trackers returns the number of open debounce windows per source.
func (p *Processor) Trackers() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]int, len(p.sources))
	for name, st := range p.sources {
		out[name] = st.engine.Trackers()
	}
	return out
}

// Reset clears the debounce state of source and reports it offline. Unknown
// sources are ignored.
func (p *Processor) Reset(ctx context.Context, source string) {
	p.mu.Lock()
	st, ok := p.sources[source]
	n := p.status
	p.mu.Unlock()
	if !ok {
		return
	}
	st.mu.Lock()
	st.engine.Reset()
	st.mu.Unlock()
	p.notifyStatus(ctx, n, source, CameraOffline)
}

// flatten splits a joined error into its parts.
func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}
