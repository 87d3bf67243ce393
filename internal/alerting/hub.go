package alerting

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability/metrics"
)

// maxConcurrentSends caps the goroutines used by a single broadcast.
const maxConcurrentSends = 64

// Subscriber is a live delivery target such as a websocket client.
// Send must return once ctx is done.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// BroadcastStats summarizes one broadcast pass.
type BroadcastStats struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Hub tracks connected subscribers and fans payloads out to them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]Subscriber

	sendTimeout time.Duration
	log         logger.Logger
	metrics     *metrics.DispatcherMetrics
}

// NewHub creates an empty hub. A non-positive sendTimeout uses DefaultSendTimeout.
func NewHub(sendTimeout time.Duration, log logger.Logger, m *metrics.DispatcherMetrics) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Hub{
		subscribers: make(map[string]Subscriber),
		sendTimeout: sendTimeout,
		log:         log.Module("hub"),
		metrics:     m,
	}
}

// Add registers a subscriber, replacing any previous one with the same id.
func (h *Hub) Add(s Subscriber) {
	h.mu.Lock()
	h.subscribers[s.ID()] = s
	n := len(h.subscribers)
	h.mu.Unlock()

	h.metrics.SetSubscribers(n)
	h.log.Info("subscriber connected", logger.String("subscriber_id", s.ID()), logger.Int("total", n))
}

// Remove unregisters a subscriber without closing it. It reports whether
// the subscriber was registered.
func (h *Hub) Remove(s Subscriber) bool {
	h.mu.Lock()
	current, ok := h.subscribers[s.ID()]
	if ok && current == s {
		delete(h.subscribers, s.ID())
	}
	n := len(h.subscribers)
	h.mu.Unlock()

	if !ok || current != s {
		return false
	}
	h.metrics.SetSubscribers(n)
	h.log.Info("subscriber disconnected", logger.String("subscriber_id", s.ID()), logger.Int("total", n))
	return true
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) snapshot() []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		subs = append(subs, s)
	}
	return subs
}

// Broadcast sends payload to every subscriber connected when the call
// starts. Each send runs with its own timeout. Subscribers whose send fails
// are evicted and closed once all sends have finished. Delivery errors are
// logged, never returned.
func (h *Hub) Broadcast(ctx context.Context, payload []byte) BroadcastStats {
	subs := h.snapshot()
	if len(subs) == 0 {
		return BroadcastStats{}
	}

	start := time.Now()
	var (
		mu     sync.Mutex
		failed []Subscriber
		g      errgroup.Group
	)
	g.SetLimit(maxConcurrentSends)
	for _, s := range subs {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, h.sendTimeout)
			defer cancel()
			if err := s.Send(sendCtx, payload); err != nil {
				h.log.Warn("subscriber delivery failed",
					logger.String("subscriber_id", s.ID()),
					logger.Error(deliveryError(s, err)))
				mu.Lock()
				failed = append(failed, s)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, s := range failed {
		h.evict(s)
	}

	stats := BroadcastStats{Delivered: len(subs) - len(failed), Failed: len(failed)}
	h.metrics.RecordBroadcast(stats.Delivered, stats.Failed, time.Since(start))
	return stats
}

func (h *Hub) evict(s Subscriber) {
	if !h.Remove(s) {
		return
	}
	if err := s.Close(); err != nil {
		h.log.Debug("closing evicted subscriber failed",
			logger.String("subscriber_id", s.ID()),
			logger.Error(err))
	}
}

// CloseAll disconnects and closes every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subscribers
	h.subscribers = make(map[string]Subscriber)
	h.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	h.metrics.SetSubscribers(0)
}

func deliveryError(s Subscriber, err error) error {
	category := errors.CategoryBroadcast
	if errors.Is(err, context.DeadlineExceeded) {
		category = errors.CategoryTimeout
	}
	return errors.New(err).
		Component("alerting").
		Category(category).
		Context("subscriber_id", s.ID()).
		Build()
}
