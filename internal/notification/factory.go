package notification

import (
	"context"

	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability/metrics"
)

// NewServiceFromSettings builds a service with every enabled provider. A
// provider that fails to start is logged and skipped so one unreachable
// broker does not keep the others from delivering.
func NewServiceFromSettings(ctx context.Context, s *conf.NotificationSettings, log logger.Logger, m *metrics.NotificationMetrics) (*Service, error) {
	svc := NewService(ServiceConfigFromSettings(s), log, m)
	var errs []error

	if len(s.Shoutrrr.URLs) > 0 {
		p, err := NewShoutrrrProvider(s.Shoutrrr.URLs, s.Shoutrrr.Timeout.Std())
		if err != nil {
			errs = append(errs, err)
		} else {
			svc.AddProvider(p)
		}
	}
	if s.MQTT.Enabled {
		p, err := NewMQTTProvider(ctx, &s.MQTT, log)
		if err != nil {
			errs = append(errs, err)
		} else {
			svc.AddProvider(p)
		}
	}
	if s.NATS.Enabled {
		p, err := NewNATSProvider(&s.NATS, log)
		if err != nil {
			errs = append(errs, err)
		} else {
			svc.AddProvider(p)
		}
	}
	if s.Webhook.Enabled {
		p, err := NewWebhookProvider(s.Webhook.URL, s.Webhook.Timeout.Std(), nil)
		if err != nil {
			errs = append(errs, err)
		} else {
			svc.AddProvider(p)
		}
	}

	for _, err := range errs {
		svc.log.Error("notification provider unavailable", logger.Error(err))
	}
	if len(errs) > 0 && len(svc.providers) == 0 {
		return svc, errors.Join(errs...)
	}
	return svc, nil
}
