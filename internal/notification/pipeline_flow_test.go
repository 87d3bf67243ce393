package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartsafety/safetyvision/internal/alerting"
	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/pipeline"
	"github.com/smartsafety/safetyvision/internal/rules"
)

// TestDefaultSettings_EngineAlertsReachProviders runs detections through the
// processor, dispatcher and event bus with the stock configuration and checks
// that every engine violation type is delivered.
func TestDefaultSettings_EngineAlertsReachProviders(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	settings, err := conf.Load("")
	require.NoError(t, err)

	tests := []struct {
		name      string
		at        time.Time
		compliant bool
		violation rules.ViolationType
		severity  string
	}{
		{"security breach", time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC), false, rules.ViolationSecurityBreach, alerting.SeverityHigh},
		{"unauthorized presence", time.Date(2025, 3, 10, 2, 0, 0, 0, time.UTC), true, rules.ViolationUnauthorizedPresence, alerting.SeverityHigh},
		{"missing ppe", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC), false, rules.ViolationNoPPE, alerting.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := testLogger()
			bus := alerting.NewAlertEventBus(log, nil)
			defer bus.Stop()

			provider := &recordingProvider{name: "telegram"}
			svc := NewService(ServiceConfigFromSettings(&settings.Notification), log, nil)
			svc.AddProvider(provider)
			svc.Attach(bus)

			hub := alerting.NewHub(settings.Dispatcher.SendTimeout.Std(), log, nil)
			d := alerting.NewDispatcher(hub, nil, alerting.SeverityClassifierFromConfig(&settings.Dispatcher), bus,
				alerting.DispatcherOptions{DefaultCooldown: settings.Dispatcher.Cooldown.Std()}, log, nil)

			cfg, err := pipeline.ConfigFromSettings(settings)
			require.NoError(t, err)
			cfg.Rules.MinViolationDuration = 0
			cfg.Rules.Location = time.UTC
			p := pipeline.NewProcessor(cfg, d, log, nil)

			res, err := p.Process(t.Context(), "gate-north", []rules.DetectionSample{{
				EntityID:             "E1",
				BoundingBox:          rules.BoundingBox{X1: 100, Y1: 500, X2: 200, Y2: 700},
				HasRequiredEquipment: tt.compliant,
				Confidence:           0.9,
				ObservedAt:           tt.at,
			}})
			require.NoError(t, err)
			require.Len(t, res.Alerts, 1)
			require.Equal(t, tt.violation, res.Alerts[0].ViolationType)

			require.Eventually(t, func() bool { return provider.count() == 1 }, 2*time.Second, 10*time.Millisecond)
			provider.mu.Lock()
			defer provider.mu.Unlock()
			assert.Equal(t, tt.severity, provider.sent[0].Severity)
			assert.Equal(t, "E1|"+string(tt.violation)+"|gate-north", provider.sent[0].DedupKey)
		})
	}
}
