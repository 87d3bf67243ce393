package lifecycle

import (
	"context"
	"time"

	"github.com/smartsafety/safetyvision/internal/logger"
)

// StartRetentionSweep starts a background goroutine that periodically deletes
// violations older than retentionDays. A value of 0 disables the sweep.
func (m *Manager) StartRetentionSweep(retentionDays int, interval time.Duration) {
	if retentionDays <= 0 || interval <= 0 {
		return
	}
	// Stop any existing sweep before starting a new one.
	m.Stop()

	m.sweepMu.Lock()
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})
	m.sweepStop, m.sweepDone = stopCh, doneCh
	m.sweepMu.Unlock()

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.SweepOnce(retentionDays)
			case <-stopCh:
				return
			}
		}
	}()
}

// SweepOnce deletes violations older than retentionDays and returns how many
// were removed.
func (m *Manager) SweepOnce(retentionDays int) int64 {
	cutoff := m.opts.Clock().AddDate(0, 0, -retentionDays)
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	deleted, err := m.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		m.log.Error("violation retention sweep failed", logger.Error(err))
		return 0
	}
	if deleted > 0 {
		m.metrics.RecordRetention(deleted)
		m.log.Info("violation retention sweep completed",
			logger.Int64("deleted", deleted),
			logger.Int("retention_days", retentionDays))
	}
	return deleted
}

// Stop shuts down the retention sweep and waits for it to exit.
func (m *Manager) Stop() {
	m.sweepMu.Lock()
	stopCh, doneCh := m.sweepStop, m.sweepDone
	m.sweepStop, m.sweepDone = nil, nil
	m.sweepMu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-doneCh
	}
}
