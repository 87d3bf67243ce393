package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartsafety/safetyvision/internal/alerting"
	"github.com/smartsafety/safetyvision/internal/conf"
	"github.com/smartsafety/safetyvision/internal/datastore/entities"
	"github.com/smartsafety/safetyvision/internal/datastore/repository"
	"github.com/smartsafety/safetyvision/internal/errors"
	"github.com/smartsafety/safetyvision/internal/lifecycle"
	"github.com/smartsafety/safetyvision/internal/logger"
	"github.com/smartsafety/safetyvision/internal/observability"
	"github.com/smartsafety/safetyvision/internal/pipeline"
	"github.com/smartsafety/safetyvision/internal/rules"
	"github.com/smartsafety/safetyvision/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

type testEnv struct {
	e    *echo.Echo
	hub  *alerting.Hub
	ctrl *Controller
}

func setupTestEnvironment(t *testing.T) *testEnv {
	t.Helper()
	log := logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)

	repo := repository.NewViolationRepository(testutil.NewSQLiteDB(t))
	mgr := lifecycle.NewManager(repo, lifecycle.Options{}, log, nil)
	hub := alerting.NewHub(time.Second, log, nil)
	disp := alerting.NewDispatcher(hub, mgr,
		alerting.NewSeverityClassifier(alerting.DefaultSeverityRules(), alerting.SeverityLow), nil,
		alerting.DispatcherOptions{DefaultCooldown: time.Minute, StorageTimeout: time.Second}, log, nil)
	proc := pipeline.NewProcessor(pipeline.Config{
		Rules:    rules.Options{Location: time.UTC},
		Cooldown: time.Minute,
	}, disp, log, nil)

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	srv := NewServer(&conf.WebServerSettings{Port: 8000}, log)
	ctrl := New(srv.Echo(), mgr, disp, log, WithProcessor(proc), WithMetrics(m))
	return &testEnv{e: srv.Echo(), hub: hub, ctrl: ctrl}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// triggerViolation raises one alert for worker and returns its violation id.
func (env *testEnv) triggerViolation(t *testing.T, worker string) uint {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/trigger-alert", map[string]any{
		"worker": worker, "violation": "No Helmet", "location": "Workshop A",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alert_sent", decode[TriggerResponse](t, rec).Status)

	// Violation ids are assigned sequentially in a fresh database.
	rec = env.do(t, http.MethodGet, "/api/v2/violations/1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[struct {
		ID uint `json:"id"`
	}](t, rec).ID
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnvironment(t)

	for _, path := range []string{"/api/v2/health", "/api/health"} {
		rec := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, 0, resp.Subscribers)
		assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
	}
}

func TestTriggerAlert_CooldownAndRecord(t *testing.T) {
	env := setupTestEnvironment(t)
	id := env.triggerViolation(t, "W7")
	assert.Equal(t, uint(1), id)

	rec := env.do(t, http.MethodGet, "/api/v2/violations/1", nil)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "W7", body["entity_id"])
	assert.Equal(t, "Workshop A", body["source"])
	assert.Equal(t, "new", body["stage"])
	assert.Equal(t, "WARNING", body["severity"])

	rec = env.do(t, http.MethodPost, "/api/v2/trigger-alert", map[string]any{
		"person_id": "W7", "violation_type": "No Helmet", "source": "Workshop A",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TriggerResponse](t, rec)
	assert.Equal(t, "suppressed", resp.Status)
	assert.Equal(t, alerting.OutcomeSuppressed, resp.Outcome)
}

func TestTriggerAlert_Incomplete(t *testing.T) {
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodPost, "/api/v2/trigger-alert", map[string]any{"location": "Workshop A"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decode[errorResponse](t, rec).Error)
}

func TestResolveAlert(t *testing.T) {
	env := setupTestEnvironment(t)
	id := env.triggerViolation(t, "W7")

	rec := env.do(t, http.MethodPost, "/api/alerts/resolve", ResolveRequest{
		AlertID: id, Notes: "helmet issued", Actor: ptr("supervisor-1"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	action := decode[ActionResponse](t, rec)
	assert.NotZero(t, action.ID)
	assert.Equal(t, id, action.AlertID)
	assert.Equal(t, "resolve", action.Action)
	assert.False(t, action.Auto)
	assert.False(t, action.Timestamp.IsZero())

	rec = env.do(t, http.MethodGet, "/api/alerts/actions?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]ActionResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "W7", list[0].Worker)
	assert.Equal(t, "No Helmet", list[0].Violation)
	assert.Equal(t, "helmet issued", list[0].Notes)

	rec = env.do(t, http.MethodGet, "/api/v2/violations/1", nil)
	assert.Equal(t, true, decode[map[string]any](t, rec)["resolved"])
}

func TestResolveAlert_Errors(t *testing.T) {
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodPost, "/api/v2/alerts/resolve", ResolveRequest{AlertID: 999})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, decode[errorResponse](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/v2/alerts/resolve", map[string]any{"notes": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v2/alerts/actions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v2/violations/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEscalateAlert(t *testing.T) {
	env := setupTestEnvironment(t)
	id := env.triggerViolation(t, "W7")

	rec := env.do(t, http.MethodPost, "/api/v2/alerts/escalate", EscalateRequest{AlertID: id, Level: "manager"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "manual escalation needs an actor")

	// The legacy path escalates too.
	rec = env.do(t, http.MethodPost, "/api/alerts/actions", EscalateRequest{
		AlertID: id, Level: "manager", Notes: "repeat offender", Actor: ptr("supervisor-1"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	action := decode[ActionResponse](t, rec)
	assert.Equal(t, "escalate", action.Action)
	require.NotNil(t, action.Level)
	assert.Equal(t, "manager", *action.Level)

	rec = env.do(t, http.MethodPost, "/api/v2/alerts/escalate", EscalateRequest{AlertID: id, Auto: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[ActionResponse](t, rec).Auto)

	rec = env.do(t, http.MethodGet, "/api/v2/violations/1", nil)
	assert.Equal(t, "escalated", decode[map[string]any](t, rec)["stage"])
}

func TestAcknowledgeAndAssign(t *testing.T) {
	env := setupTestEnvironment(t)
	id := env.triggerViolation(t, "W7")
	path := "/api/v2/alerts/1"
	require.Equal(t, uint(1), id)

	rec := env.do(t, http.MethodPost, path+"/acknowledge", AcknowledgeRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "actor is required")

	rec = env.do(t, http.MethodPost, path+"/acknowledge", AcknowledgeRequest{Actor: ptr("supervisor-1")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "acknowledge", decode[ActionResponse](t, rec).Action)

	rec = env.do(t, http.MethodPost, path+"/acknowledge", AcknowledgeRequest{Actor: ptr("supervisor-1")})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, path+"/assign", AssignRequest{Assignee: ptr("alice"), Actor: ptr("supervisor-1")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "assigned to alice", decode[ActionResponse](t, rec).Notes)

	rec = env.do(t, http.MethodGet, "/api/v2/violations/1", nil)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "alice", body["assigned_to"])
	assert.Equal(t, "acknowledged", body["stage"])

	rec = env.do(t, http.MethodPost, "/api/v2/alerts/42/assign", AssignRequest{Assignee: ptr("alice")})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestDetections(t *testing.T) {
	env := setupTestEnvironment(t)

	batch := `{"detections":[
		{"person_id":"P1","bbox":{"x1":100,"y1":500,"x2":200,"y2":700},"has_ppe":false,"confidence":0.9,"timestamp":"2025-03-10T10:00:00Z"},
		{"bbox":{"x1":0,"y1":0,"x2":1,"y2":1},"has_ppe":true,"confidence":0.5}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/detections/cam-1", strings.NewReader(batch))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[pipeline.Result](t, rec)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "P1", res.Alerts[0].EntityID)
	assert.Equal(t, "cam-1", res.Alerts[0].Source)
	assert.Equal(t, []alerting.Outcome{alerting.OutcomeSent}, res.Outcomes)
	assert.Equal(t, 1, res.Invalid)

	rec = env.do(t, http.MethodGet, "/api/v2/health", nil)
	assert.Equal(t, map[string]int{"cam-1": 1}, decode[HealthResponse](t, rec).Trackers)
}

func TestIngestDetections_OddTimestampDoesNotRejectBatch(t *testing.T) {
	env := setupTestEnvironment(t)

	batch := `{"detections":[
		{"person_id":"E1","bbox":{"x1":100,"y1":500,"x2":200,"y2":700},"has_ppe":false,"confidence":0.9,"timestamp":{"bad":1}},
		{"person_id":"E2","bbox":{"x1":300,"y1":500,"x2":400,"y2":700},"has_ppe":false,"confidence":0.8,"timestamp":true}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/detections/cam-2", strings.NewReader(batch))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[pipeline.Result](t, rec)
	require.Len(t, res.Alerts, 2)
	assert.Equal(t, "E1", res.Alerts[0].EntityID)
	assert.Equal(t, "E2", res.Alerts[1].EntityID)
	assert.Zero(t, res.Invalid)
}

func (env *testEnv) trigger(t *testing.T, worker, violation string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/trigger-alert", map[string]any{
		"worker": worker, "violation": violation, "location": "Workshop A",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestListViolations(t *testing.T) {
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodGet, "/api/violations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	env.trigger(t, "W1", "No Helmet")
	env.trigger(t, "W2", "No Vest")
	env.trigger(t, "W3", "No Helmet")
	rec = env.do(t, http.MethodPost, "/api/alerts/resolve", map[string]any{"alert_id": 1, "actor": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/violations?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	all := decode[[]entities.Violation](t, rec)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"W3", "W2", "W1"}, []string{all[0].EntityID, all[1].EntityID, all[2].EntityID})

	rec = env.do(t, http.MethodGet, "/api/v2/violations?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]entities.Violation](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/v2/violations?stage=resolved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decode[[]entities.Violation](t, rec)
	require.Len(t, resolved, 1)
	assert.Equal(t, "W1", resolved[0].EntityID)

	rec = env.do(t, http.MethodGet, "/api/v2/violations?source=Dock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	for _, path := range []string{"/api/v2/violations?limit=ten", "/api/v2/violations?stage=archived"} {
		rec = env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestGetStats(t *testing.T) {
	env := setupTestEnvironment(t)

	env.trigger(t, "W1", "No Helmet")
	env.trigger(t, "W2", "No Vest")
	rec := env.do(t, http.MethodPost, "/api/alerts/resolve", map[string]any{"alert_id": 2, "actor": "alice"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	batch := `{"detections":[
		{"person_id":"P1","bbox":{"x1":100,"y1":500,"x2":200,"y2":700},"has_ppe":true,"confidence":0.9,"timestamp":"2025-03-10T10:00:00Z"},
		{"person_id":"P2","bbox":{"x1":300,"y1":500,"x2":400,"y2":700},"has_ppe":true,"confidence":0.9,"timestamp":"2025-03-10T10:00:00Z"},
		{"person_id":"P3","bbox":{"x1":500,"y1":500,"x2":600,"y2":700},"has_ppe":true,"confidence":0.9,"timestamp":"2025-03-10T10:00:00Z"},
		{"person_id":"P4","bbox":{"x1":700,"y1":500,"x2":800,"y2":700},"has_ppe":false,"confidence":0.9,"timestamp":"2025-03-10T10:00:00Z"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v2/detections/cam-1", strings.NewReader(batch))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	for _, path := range []string{"/api/stats", "/api/v2/stats"} {
		rec = env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		stats := decode[StatsResponse](t, rec)

		assert.Equal(t, int64(3), stats.Violations.Total)
		assert.Equal(t, int64(2), stats.Violations.ByStage[entities.StageNew])
		assert.Equal(t, int64(1), stats.Violations.ByStage[entities.StageResolved])
		assert.Equal(t, map[string]int64{"WARNING": 2}, stats.Violations.OpenBySeverity)

		require.NotNil(t, stats.Detections)
		assert.Equal(t, int64(4), stats.Detections.Detections)
		assert.Equal(t, int64(3), stats.Detections.Compliant)
		assert.Equal(t, int64(1), stats.Detections.Alerts)
		assert.InDelta(t, 75.0, stats.Detections.ComplianceRate, 0.001)
		assert.Equal(t, map[string]int{"cam-1": 1}, stats.Trackers)
	}
}

func TestRunStatsBroadcast(t *testing.T) {
	env := setupTestEnvironment(t)
	env.trigger(t, "W1", "No Helmet")

	srv := httptest.NewServer(env.e)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- env.ctrl.RunStatsBroadcast(ctx, 20*time.Millisecond) }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var got struct {
		Type string        `json:"type"`
		Data StatsResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, alerting.EnvelopeStatsUpdate, got.Type)
	assert.Equal(t, int64(1), got.Data.Violations.Total)
	assert.Equal(t, 1, got.Data.Subscribers)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stats broadcast did not stop")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := setupTestEnvironment(t)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWebSocket_ReceivesAlertsAndEchoes(t *testing.T) {
	env := setupTestEnvironment(t)
	srv := httptest.NewServer(env.e)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	body := `{"worker":"W9","violation":"No Vest","location":"Dock"}`
	httpResp, err := http.Post(srv.URL+"/api/v2/trigger-alert", echo.MIMEApplicationJSON, strings.NewReader(body))
	require.NoError(t, err)
	_ = httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var env1 alerting.Envelope
	require.NoError(t, json.Unmarshal(msg, &env1))
	assert.Equal(t, alerting.EnvelopeViolationAlert, env1.Type)
	assert.Equal(t, alerting.SeverityMedium, env1.Severity)
	assert.Equal(t, "W9|No Vest|Dock", env1.AlertID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"echo","message":"hello"}`, string(msg))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		category errors.ErrorCategory
		want     int
	}{
		{errors.CategoryNotFound, http.StatusNotFound},
		{errors.CategoryValidation, http.StatusBadRequest},
		{errors.CategoryConflict, http.StatusConflict},
		{errors.CategoryDatabase, http.StatusServiceUnavailable},
		{errors.CategoryTimeout, http.StatusServiceUnavailable},
		{errors.CategorySystem, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			err := errors.Newf("boom").Category(tt.category).Build()
			assert.Equal(t, tt.want, statusFor(err))
		})
	}
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.NewStd("plain")))
}
