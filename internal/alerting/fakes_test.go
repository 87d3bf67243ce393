package alerting

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/rules"
)

// memorySubscriber records payloads in memory. fail makes every send fail and
// block makes sends wait for their context.
type memorySubscriber struct {
	id    string
	fail  bool
	block bool

	mu       sync.Mutex
	received [][]byte
	closed   atomic.Bool
}

func (s *memorySubscriber) ID() string { return s.id }

func (s *memorySubscriber) Send(ctx context.Context, payload []byte) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if s.fail {
		return errors.NewStd("connection reset by peer")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, payload)
	return nil
}

func (s *memorySubscriber) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *memorySubscriber) messages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.received...)
}

// stubRecorder stores the alerts it is asked to record.
type stubRecorder struct {
	mu     sync.Mutex
	calls  []string
	err    error
	nextID uint
}

func (r *stubRecorder) RecordAlert(_ context.Context, source, dedupKey string, alert rules.VerifiedAlert, severity string) (*entities.Violation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dedupKey)
	if r.err != nil {
		return nil, false, r.err
	}
	r.nextID++
	return &entities.Violation{
		ID:            r.nextID,
		Source:        source,
		EntityID:      alert.EntityID,
		ViolationType: string(alert.ViolationType),
		Severity:      string(alert.Severity),
		DedupKey:      dedupKey,
		Stage:         entities.StageNew,
	}, true, nil
}

func (r *stubRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
