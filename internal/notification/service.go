package notification

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/smartsafety/safetyvision/internal/alerting"
	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability/metrics"
)

// Rejection reasons recorded in metrics.
const (
	reasonSeverity    = "below_min_severity"
	reasonRateLimited = "rate_limited"
)

const defaultSendTimeout = 15 * time.Second

// ServiceConfig configures filtering and pacing.
type ServiceConfig struct {
	MinSeverity string
	RateLimit   rate.Limit // per provider
	Burst       int
	SendTimeout time.Duration
}

// ServiceConfigFromSettings maps notification settings to a ServiceConfig.
func ServiceConfigFromSettings(s *conf.NotificationSettings) ServiceConfig {
	return ServiceConfig{
		MinSeverity: s.MinSeverity,
		RateLimit:   rate.Limit(s.RateLimit),
		Burst:       s.Burst,
		SendTimeout: defaultSendTimeout,
	}
}

type registeredProvider struct {
	Provider
	limiter *rate.Limiter
}

// Service fans alert events out to the registered providers.
type Service struct {
	providers []registeredProvider
	cfg       ServiceConfig
	log       logger.Logger
	metrics   *metrics.NotificationMetrics
}

// NewService creates a service with no providers.
func NewService(cfg ServiceConfig, log logger.Logger, m *metrics.NotificationMetrics) *Service {
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = alerting.SeverityMedium
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Service{cfg: cfg, log: log.Module("notification"), metrics: m}
}

// AddProvider registers p with its own rate limiter. It must be called
// before the service is attached to a bus.
func (s *Service) AddProvider(p Provider) {
	s.providers = append(s.providers, registeredProvider{
		Provider: p,
		limiter:  rate.NewLimiter(s.cfg.RateLimit, s.cfg.Burst),
	})
	s.log.Info("notification provider registered", logger.String("provider", p.Name()))
}

// Providers returns the names of the registered providers.
func (s *Service) Providers() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// Attach subscribes the service to bus.
func (s *Service) Attach(bus *alerting.AlertEventBus) {
	bus.Subscribe(func(e *alerting.AlertEvent) {
		s.Notify(context.Background(), FromEvent(e))
	})
}

// Notify delivers n to every provider that accepts it and returns how many
// deliveries succeeded. Failures are logged.
func (s *Service) Notify(ctx context.Context, n *Notification) int {
	if len(s.providers) == 0 {
		return 0
	}
	if !meetsSeverity(n.Severity, s.cfg.MinSeverity) {
		for _, p := range s.providers {
			s.metrics.RecordRejection(p.Name(), reasonSeverity)
		}
		s.log.Debug("notification below minimum severity",
			logger.String("severity", n.Severity),
			logger.String("min_severity", s.cfg.MinSeverity),
			logger.String("dedup_key", n.DedupKey))
		return 0
	}

	results := make([]bool, len(s.providers))
	var g errgroup.Group
	for i, p := range s.providers {
		if !p.limiter.Allow() {
			s.metrics.RecordRejection(p.Name(), reasonRateLimited)
			s.log.Warn("notification rate limited",
				logger.String("provider", p.Name()),
				logger.String("dedup_key", n.DedupKey))
			continue
		}
		g.Go(func() error {
			results[i] = s.deliver(ctx, p, n)
			return nil
		})
	}
	_ = g.Wait()

	delivered := 0
	for _, ok := range results {
		if ok {
			delivered++
		}
	}
	return delivered
}

func (s *Service) deliver(ctx context.Context, p registeredProvider, n *Notification) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	err := p.Send(ctx, n)
	if err != nil {
		s.metrics.RecordDelivery(p.Name(), "error", time.Since(start))
		var enhanced *errors.EnhancedError
		if !errors.As(err, &enhanced) {
			err = errors.New(err).
				Component("notification").
				Category(errors.CategoryIntegration).
				Context("provider", p.Name()).
				Build()
		}
		s.log.Error("notification delivery failed",
			logger.String("provider", p.Name()),
			logger.String("notification_id", n.ID),
			logger.Error(err))
		return false
	}
	s.metrics.RecordDelivery(p.Name(), "success", time.Since(start))
	s.log.Info("notification delivered",
		logger.String("provider", p.Name()),
		logger.String("notification_id", n.ID),
		logger.String("dedup_key", n.DedupKey))
	return true
}

// Close closes every provider.
func (s *Service) Close() error {
	var errs []error
	for _, p := range s.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
