package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smartsafety/safetyvision/internal/alerting"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/pipeline"
	"github.com/smartsafety/safetyvision/internal/rules"
)

// manualSource is the source recorded for alerts triggered by hand.
const manualSource = "manual"

func (c *Controller) initDetectionRoutes(g *echo.Group) {
	g.POST("/detections/:source", c.IngestDetections)
	g.POST("/trigger-alert", c.TriggerAlert)
}

// DetectionBatch is the body of POST /detections/:source.
type DetectionBatch struct {
	Detections []rules.DetectionSample `json:"detections"`
}

// detectionFailure reports a batch whose alerts were broadcast but not all
// persisted.
type detectionFailure struct {
	Error  string          `json:"error"`
	Result pipeline.Result `json:"result"`
}

// IngestDetections handles POST /detections/:source.
func (c *Controller) IngestDetections(ctx echo.Context) error {
	if c.Processor == nil {
		return ctx.JSON(http.StatusServiceUnavailable, errorResponse{Error: "detection ingestion is not enabled"})
	}
	var batch DetectionBatch
	if err := ctx.Bind(&batch); err != nil {
		return badRequest(ctx, "invalid detection batch")
	}

	res, err := c.Processor.Process(ctx.Request().Context(), ctx.Param("source"), batch.Detections)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusBadRequest {
			return ctx.JSON(code, errorResponse{Error: err.Error()})
		}
		c.log.Warn("detection batch partially failed",
			logger.String("source", ctx.Param("source")),
			logger.Error(err))
		return ctx.JSON(code, detectionFailure{Error: "Failed to record alerts", Result: res})
	}
	return ctx.JSON(http.StatusOK, res)
}

// TriggerRequest is a manually raised violation. The worker, violation and
// location keys used by the dashboard test button are accepted as aliases.
type TriggerRequest struct {
	PersonID      string            `json:"person_id"`
	Worker        string            `json:"worker"`
	ViolationType string            `json:"violation_type"`
	Violation     string            `json:"violation"`
	Source        string            `json:"source"`
	Location      string            `json:"location"`
	Message       string            `json:"message"`
	Confidence    float64           `json:"confidence"`
	BoundingBox   rules.BoundingBox `json:"bbox"`
}

func (r *TriggerRequest) toAlert(now time.Time) rules.VerifiedAlert {
	alert := rules.VerifiedAlert{
		EntityID:      firstNonEmpty(r.PersonID, r.Worker),
		Source:        firstNonEmpty(r.Source, r.Location, manualSource),
		ViolationType: rules.ViolationType(firstNonEmpty(r.ViolationType, r.Violation)),
		AlertClass:    rules.ClassSafety,
		Severity:      rules.SeverityWarning,
		Message:       firstNonEmpty(r.Message, "Manually triggered alert"),
		ObservedAt:    now,
		BoundingBox:   r.BoundingBox,
		Confidence:    r.Confidence,
	}
	alert.AlertID = fmt.Sprintf("alert_%s_%d", alert.EntityID, now.Unix())
	return alert
}

// TriggerResponse reports the dispatcher outcome of a manual alert.
type TriggerResponse struct {
	Status    string              `json:"status"`
	Outcome   alerting.Outcome    `json:"outcome"`
	Violation rules.VerifiedAlert `json:"violation"`
}

// TriggerAlert handles POST /trigger-alert. The alert goes through the
// dispatcher with the default cooldown, like any detected violation.
func (c *Controller) TriggerAlert(ctx echo.Context) error {
	var req TriggerRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "invalid request body")
	}

	alert := req.toAlert(time.Now().UTC())
	outcome, err := c.Dispatcher.Submit(ctx.Request().Context(), alert, -1)
	if err != nil {
		if outcome == alerting.OutcomeSent {
			return c.HandleError(ctx, err, "Alert sent but could not be recorded")
		}
		return c.HandleError(ctx, err, "Failed to trigger alert")
	}

	status := "alert_sent"
	if outcome == alerting.OutcomeSuppressed {
		status = "suppressed"
	}
	return ctx.JSON(http.StatusOK, TriggerResponse{Status: status, Outcome: outcome, Violation: alert})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
