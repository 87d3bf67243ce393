package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smartsafety/safetyvision/internal/datastore/repository"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/pipeline"
)

// StatsResponse is the body of GET /stats and the data of stats_update
// envelopes.
type StatsResponse struct {
	Violations  repository.ViolationCounts `json:"violations"`
	Detections  *pipeline.DetectionStats   `json:"detections,omitempty"`
	Trackers    map[string]int             `json:"trackers,omitempty"`
	Subscribers int                        `json:"subscribers"`
	Timestamp   time.Time                  `json:"timestamp"`
}

func (c *Controller) collectStats(ctx context.Context) (StatsResponse, error) {
	counts, err := c.Lifecycle.CountViolations(ctx)
	if err != nil {
		return StatsResponse{}, err
	}
	resp := StatsResponse{
		Violations:  counts,
		Subscribers: c.Dispatcher.Hub().Len(),
		Timestamp:   time.Now().UTC(),
	}
	if c.Processor != nil {
		det := c.Processor.Stats()
		resp.Detections = &det
		resp.Trackers = c.Processor.Trackers()
	}
	return resp, nil
}

// GetStats handles GET /stats.
func (c *Controller) GetStats(ctx echo.Context) error {
	resp, err := c.collectStats(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to collect statistics")
	}
	return ctx.JSON(http.StatusOK, resp)
}

// RunStatsBroadcast pushes a stats_update envelope to the subscribers every
// interval until ctx is done. Ticks with no subscribers are skipped.
func (c *Controller) RunStatsBroadcast(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.broadcastStats(ctx)
		}
	}
}

func (c *Controller) broadcastStats(ctx context.Context) {
	if c.Dispatcher.Hub().Len() == 0 {
		return
	}
	resp, err := c.collectStats(ctx)
	if err != nil {
		c.log.Warn("failed to collect statistics", logger.Error(err))
		return
	}
	if _, err := c.Dispatcher.BroadcastStats(ctx, resp); err != nil {
		c.log.Warn("stats broadcast failed", logger.Error(err))
	}
}
