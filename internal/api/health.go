package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats is a host resource snapshot.
type SystemStats struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Subscribers   int            `json:"subscribers"`
	Trackers      map[string]int `json:"trackers,omitempty"`
	System        *SystemStats   `json:"system,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// HealthCheck handles GET /health. Host statistics are best effort and left
// out when unavailable.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
		Subscribers:   c.Dispatcher.Hub().Len(),
		Timestamp:     time.Now().UTC(),
	}
	if c.Processor != nil {
		resp.Trackers = c.Processor.Trackers()
	}
	resp.System = systemStats()
	return ctx.JSON(http.StatusOK, resp)
}

func systemStats() *SystemStats {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil
	}
	stats := &SystemStats{MemoryUsage: vm.UsedPercent}
	// Zero interval compares against the previous call and does not block.
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		stats.CPUUsage = pct[0]
	}
	return stats
}
