package alerting

import (
	"sync"
	"time"

	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability/metrics"
	"github.com/smartsafety/safetyvision/internal/rules"
)

// AlertEvent describes an alert that passed the dispatcher or was escalated.
type AlertEvent struct {
	Name        string // EventAlertDispatched or EventAlertEscalated
	Alert       rules.VerifiedAlert
	Severity    string // routing severity
	DedupKey    string
	ViolationID uint // zero when persistence failed
	Timestamp   time.Time
}

// AlertEventHandler processes alert events.
type AlertEventHandler func(event *AlertEvent)

const (
	// eventBusBufferSize is the capacity of the async event channel.
	// Events are dropped if the buffer is full to avoid blocking callers.
	eventBusBufferSize = 1000
)

// AlertEventBus is an async pub/sub for alert events. Publish is non-blocking:
// events are sent to a buffered channel and processed by a worker goroutine,
// so Submit is never blocked by notification I/O.
type AlertEventBus struct {
	handlers []AlertEventHandler
	mu       sync.RWMutex
	eventCh  chan *AlertEvent
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	log     logger.Logger
	metrics *metrics.DispatcherMetrics
}

// NewAlertEventBus creates a new alert event bus and starts its worker.
func NewAlertEventBus(log logger.Logger, m *metrics.DispatcherMetrics) *AlertEventBus {
	b := &AlertEventBus{
		handlers: make([]AlertEventHandler, 0),
		eventCh:  make(chan *AlertEvent, eventBusBufferSize),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		log:      log.Module("eventbus"),
		metrics:  m,
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler for alert events.
func (b *AlertEventBus) Subscribe(handler AlertEventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues an event for async processing. If the buffer is full the
// event is dropped. Events are dropped after Stop has been called.
func (b *AlertEventBus) Publish(event *AlertEvent) {
	select {
	case <-b.stopCh:
		return
	default:
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	default:
		b.metrics.RecordEventDropped()
		b.log.Warn("alert event bus full, dropping event",
			logger.String("event", event.Name),
			logger.String("dedup_key", event.DedupKey))
	}
}

// Stop shuts down the worker after it drains queued events. Safe to call
// multiple times.
func (b *AlertEventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.doneCh
}

// processLoop drains the event channel and dispatches to handlers.
func (b *AlertEventBus) processLoop() {
	defer close(b.doneCh)
	for {
		select {
		case event := <-b.eventCh:
			b.dispatch(event)
		case <-b.stopCh:
			for {
				select {
				case event := <-b.eventCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *AlertEventBus) dispatch(event *AlertEvent) {
	b.mu.RLock()
	handlers := make([]AlertEventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, event)
	}
}

// safeCall invokes a handler with panic recovery so a panicking handler
// cannot kill the event bus goroutine.
func (b *AlertEventBus) safeCall(handler AlertEventHandler, event *AlertEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("alert event handler panicked",
				logger.String("event", event.Name),
				logger.Any("panic", r))
		}
	}()
	handler(event)
}
