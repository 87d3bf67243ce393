package serve

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartsafety/safetyvision/internal/alerting"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/notification"
	"github.com/smartsafety/safetyvision/internal/rules"
)

// sequenceProvider records sends and closes in the order they happen. Sends
// are slow so events are still queued on the bus when shutdown begins.
type sequenceProvider struct {
	mu    sync.Mutex
	calls []string
}

func (p *sequenceProvider) Name() string { return "sequence" }

func (p *sequenceProvider) Send(_ context.Context, n *notification.Notification) error {
	time.Sleep(20 * time.Millisecond)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "send "+n.DedupKey)
	return nil
}

func (p *sequenceProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "close")
	return nil
}

func TestStopAlerting_DrainsBusBeforeClosingProviders(t *testing.T) {
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	bus := alerting.NewAlertEventBus(log, nil)
	svc := notification.NewService(notification.ServiceConfig{RateLimit: 100, Burst: 10}, log, nil)
	provider := &sequenceProvider{}
	svc.AddProvider(provider)
	svc.Attach(bus)

	for _, key := range []string{"E1|NO_PPE|cam-1", "E2|NO_PPE|cam-1", "E3|NO_PPE|cam-1"} {
		bus.Publish(&alerting.AlertEvent{
			Name:     alerting.EventAlertDispatched,
			Alert:    rules.VerifiedAlert{EntityID: key[:2], ViolationType: rules.ViolationNoPPE, Source: "cam-1"},
			Severity: alerting.SeverityHigh,
			DedupKey: key,
		})
	}
	stopAlerting(bus, svc, log)

	require.Len(t, provider.calls, 4)
	assert.Equal(t, []string{
		"send E1|NO_PPE|cam-1",
		"send E2|NO_PPE|cam-1",
		"send E3|NO_PPE|cam-1",
		"close",
	}, provider.calls)
}

func TestStopAlerting_NilNotifier(t *testing.T) {
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	bus := alerting.NewAlertEventBus(log, nil)
	assert.NotPanics(t, func() { stopAlerting(bus, nil, log) })
}
