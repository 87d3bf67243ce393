package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/datastore/repository"
	"github.com/smartsafety/safetyvision/internal/lifecycle"
)

func (c *Controller) initAlertRoutes(g *echo.Group) {
	alerts := g.Group("/alerts")
	alerts.GET("/actions", c.ListAlertActions)
	alerts.POST("/resolve", c.ResolveAlert)
	alerts.POST("/escalate", c.EscalateAlert)
	alerts.POST("/actions", c.EscalateAlert)
	alerts.POST("/:id/acknowledge", c.AcknowledgeAlert)
	alerts.POST("/:id/assign", c.AssignAlert)

	g.GET("/violations", c.ListViolations)
	g.GET("/violations/:id", c.GetViolation)
}

// ActionResponse is an audit entry in the shape dashboards consume.
type ActionResponse struct {
	ID        uint      `json:"id"`
	AlertID   uint      `json:"alert_id"`
	Action    string    `json:"action"`
	Notes     string    `json:"notes"`
	Level     *string   `json:"level,omitempty"`
	Actor     *string   `json:"actor"`
	Auto      bool      `json:"auto"`
	Evidence  *string   `json:"evidence"`
	Timestamp time.Time `json:"timestamp"`
	Worker    string    `json:"worker,omitempty"`
	Violation string    `json:"violation,omitempty"`
}

func newActionResponse(a *entities.AlertAction) ActionResponse {
	return ActionResponse{
		ID:        a.ID,
		AlertID:   a.ViolationID,
		Action:    a.Action,
		Notes:     a.Notes,
		Level:     a.Level,
		Actor:     a.Actor,
		Auto:      a.AutoGenerated,
		Evidence:  a.Evidence,
		Timestamp: a.CreatedAt,
	}
}

func newActionViewResponse(v *repository.ActionView) ActionResponse {
	r := newActionResponse(&v.AlertAction)
	r.Worker = v.EntityID
	r.Violation = v.ViolationType
	return r
}

// ResolveRequest is the body of POST /alerts/resolve.
type ResolveRequest struct {
	AlertID  uint    `json:"alert_id"`
	Notes    string  `json:"notes"`
	Actor    *string `json:"actor"`
	Evidence *string `json:"evidence"`
}

// EscalateRequest is the body of POST /alerts/escalate.
type EscalateRequest struct {
	AlertID  uint    `json:"alert_id"`
	Level    string  `json:"level"`
	Notes    string  `json:"notes"`
	Actor    *string `json:"actor"`
	Auto     bool    `json:"auto"`
	Evidence *string `json:"evidence"`
}

// AcknowledgeRequest is the body of POST /alerts/:id/acknowledge.
type AcknowledgeRequest struct {
	Actor *string `json:"actor"`
	Notes string  `json:"notes"`
}

// AssignRequest is the body of POST /alerts/:id/assign. A null assignee
// clears the assignment.
type AssignRequest struct {
	Assignee *string `json:"assignee"`
	Actor    *string `json:"actor"`
}

// ListAlertActions handles GET /alerts/actions?limit=N.
func (c *Controller) ListAlertActions(ctx echo.Context) error {
	limit := lifecycle.DefaultActionLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(ctx, "limit must be an integer")
		}
		limit = n
	}

	views, err := c.Lifecycle.ListActions(ctx.Request().Context(), limit)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert actions")
	}

	out := make([]ActionResponse, 0, len(views))
	for i := range views {
		out = append(out, newActionViewResponse(&views[i]))
	}
	return ctx.JSON(http.StatusOK, out)
}

// ResolveAlert handles POST /alerts/resolve.
func (c *Controller) ResolveAlert(ctx echo.Context) error {
	var req ResolveRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "invalid request body")
	}
	if req.AlertID == 0 {
		return badRequest(ctx, "alert_id is required")
	}

	action, err := c.Lifecycle.Resolve(ctx.Request().Context(), req.AlertID, req.Notes, req.Actor, req.Evidence)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to resolve alert")
	}
	return ctx.JSON(http.StatusOK, newActionResponse(action))
}

// EscalateAlert handles POST /alerts/escalate and its /alerts/actions alias.
func (c *Controller) EscalateAlert(ctx echo.Context) error {
	var req EscalateRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "invalid request body")
	}
	if req.AlertID == 0 {
		return badRequest(ctx, "alert_id is required")
	}

	action, err := c.Lifecycle.Escalate(ctx.Request().Context(), req.AlertID, req.Level, req.Notes, req.Actor, req.Auto, req.Evidence)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to escalate alert")
	}
	return ctx.JSON(http.StatusOK, newActionResponse(action))
}

// AcknowledgeAlert handles POST /alerts/:id/acknowledge.
func (c *Controller) AcknowledgeAlert(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid alert ID")
	}
	var req AcknowledgeRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "invalid request body")
	}

	action, err := c.Lifecycle.Acknowledge(ctx.Request().Context(), id, req.Actor, req.Notes)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to acknowledge alert")
	}
	return ctx.JSON(http.StatusOK, newActionResponse(action))
}

// AssignAlert handles POST /alerts/:id/assign.
func (c *Controller) AssignAlert(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid alert ID")
	}
	var req AssignRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "invalid request body")
	}

	action, err := c.Lifecycle.Assign(ctx.Request().Context(), id, req.Assignee, req.Actor)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to assign alert")
	}
	return ctx.JSON(http.StatusOK, newActionResponse(action))
}

// ListViolations handles GET /violations?limit=N&stage=S&source=X. The most
// recent violations come first.
func (c *Controller) ListViolations(ctx echo.Context) error {
	filter := repository.ViolationFilter{
		Stage:  entities.Stage(ctx.QueryParam("stage")),
		Source: ctx.QueryParam("source"),
	}
	if raw := ctx.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(ctx, "limit must be an integer")
		}
		filter.Limit = n
	}

	items, err := c.Lifecycle.ListViolations(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list violations")
	}
	if items == nil {
		items = []entities.Violation{}
	}
	return ctx.JSON(http.StatusOK, items)
}

// GetViolation handles GET /violations/:id.
func (c *Controller) GetViolation(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid violation ID")
	}

	v, err := c.Lifecycle.GetViolation(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get violation")
	}
	return ctx.JSON(http.StatusOK, v)
}
