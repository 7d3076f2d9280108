package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/agent-pulse/control-plane/internal/mode"
	"github.com/pilot-net/agent-pulse/control-plane/internal/service"
	"github.com/pilot-net/agent-pulse/control-plane/internal/telemetry"
	"github.com/pilot-net/agent-pulse/control-plane/internal/testutil"
	"github.com/pilot-net/agent-pulse/control-plane/internal/worker"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

const testSecret = "correct-horse-battery"

type testEnv struct {
	server *Server
	events *testutil.EventStore
	modes  *testutil.ModeStore
	alerts *worker.AlertManager
}

func newTestEnv(t *testing.T, opts ...func(*Options)) *testEnv {
	t.Helper()
	logger := testutil.NewTestLogger()

	events := testutil.NewEventStore()
	modes := testutil.NewModeStore(types.ModeSentinel)

	gateway := service.NewGateway(events, nil, nil, nil, logger)
	cache := worker.NewStatusCache(events, gateway, nil, worker.DefaultStatusCacheConfig(), logger)
	alerts := worker.NewAlertManager(nil, nil, nil, worker.DefaultAlertManagerConfig(), logger)
	controller := mode.NewController(modes, nil, logger)

	o := Options{Secret: testSecret}
	for _, fn := range opts {
		fn(&o)
	}

	s := NewServer(Components{
		Gateway:   gateway,
		Agents:    cache,
		Alerts:    alerts,
		Telemetry: telemetry.NewAggregator(events, nil, logger),
		Mode:      controller,
		Hub:       NewHub(nil, logger),
	}, o, logger)

	return &testEnv{server: s, events: events, modes: modes, alerts: alerts}
}

func (e *testEnv) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) ingest(body string) *httptest.ResponseRecorder {
	return e.do(http.MethodPost, "/api/v1/heartbeats", body, map[string]string{secretHeader: testSecret})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var er errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&er))
	return er
}

// =============================================================================
// INGESTION
// =============================================================================

func TestIngestEchoesStoredEvent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.ingest(`{"agent_id":"AG-02","message":"ok","metadata":{"source":"cron"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.HeartbeatEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "AG-02", got.AgentID)
	assert.Equal(t, types.StatusNominal, got.Status, "status defaults to NOMINAL")
	assert.NotZero(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Equal(t, "cron", got.Source())

	require.Len(t, env.events.Events(), 1)
}

func TestIngestRejectsBadSecret(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
	}{
		{"missing", nil},
		{"empty", map[string]string{secretHeader: ""}},
		{"same length mismatch", map[string]string{secretHeader: "correct-horse-batterx"}},
		{"shorter", map[string]string{secretHeader: "correct"}},
		{"longer", map[string]string{secretHeader: testSecret + "-extra"}},
		{"wrong header", map[string]string{"Authorization": "Bearer " + testSecret}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.do(http.MethodPost, "/api/v1/heartbeats", `{"agent_id":"AG-01","status":"ERROR"}`, tt.headers)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, reasonUnauthorized, decodeError(t, rec).Reason)
			assert.Empty(t, env.events.Events(), "nothing is written on an auth failure")
		})
	}
}

func TestIngestRejectsEverythingWithoutConfiguredSecret(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.Secret = "" })
	rec := env.do(http.MethodPost, "/api/v1/heartbeats", `{"agent_id":"AG-01"}`, map[string]string{secretHeader: "anything"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestRejectsNonWriteVerbs(t *testing.T) {
	env := newTestEnv(t)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			rec := env.do(method, "/api/v1/heartbeats", `{"agent_id":"AG-01"}`, map[string]string{secretHeader: testSecret})
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, reasonMethodNotAllowed, decodeError(t, rec).Reason)
		})
	}
	assert.Empty(t, env.events.Events())
}

func TestPreflightSucceedsWithoutSecret(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodOptions, "/api/v1/heartbeats", "", map[string]string{
		"Origin":                        "https://dashboard.example.com",
		"Access-Control-Request-Method": "POST",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), secretHeader)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"unknown agent", `{"agent_id":"AG-99"}`, service.ReasonUnknownAgent},
		{"missing agent", `{"status":"NOMINAL"}`, service.ReasonUnknownAgent},
		{"offline is not ingestible", `{"agent_id":"AG-01","status":"OFFLINE"}`, service.ReasonInvalidStatus},
		{"bad status", `{"agent_id":"AG-01","status":"ON_FIRE"}`, service.ReasonInvalidStatus},
		{"malformed json", `{"agent_id":`, service.ReasonMalformedBody},
		{"metadata not an object", `{"agent_id":"AG-01","metadata":[1,2]}`, service.ReasonMalformedBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			rec := env.ingest(tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			er := decodeError(t, rec)
			assert.Equal(t, tt.reason, er.Reason)
			assert.NotEmpty(t, er.Error)
			assert.Empty(t, env.events.Events())
		})
	}
}

func TestIngestStoreFailureIs500(t *testing.T) {
	env := newTestEnv(t)
	env.events.SetErr(errors.New("connection reset"))

	rec := env.ingest(`{"agent_id":"AG-01"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, reasonInternal, decodeError(t, rec).Reason)
}

func TestIngestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.RateLimit = 0.001
		o.RateBurst = 1
	})

	require.Equal(t, http.StatusOK, env.ingest(`{"agent_id":"AG-01"}`).Code)
	rec := env.ingest(`{"agent_id":"AG-01"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, reasonRateLimited, decodeError(t, rec).Reason)
	assert.Len(t, env.events.Events(), 1)
}

func TestSecretsEqual(t *testing.T) {
	tests := []struct {
		presented, expected string
		want                bool
	}{
		{"abc", "abc", true},
		{"abd", "abc", false},
		{"xbc", "abc", false},
		{"ab", "abc", false},
		{"abcd", "abc", false},
		{"", "abc", false},
		{"", "", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, secretsEqual([]byte(tt.presented), []byte(tt.expected)),
			"%q vs %q", tt.presented, tt.expected)
	}
}

// =============================================================================
// OPERATOR ENDPOINTS
// =============================================================================

func TestListAgentsStartsOffline(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/agents", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Agents []types.AgentState `json:"agents"`
		Count  int                `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, len(types.Roster), body.Count)
	for _, a := range body.Agents {
		assert.Equal(t, types.StatusOffline, a.Status)
	}
}

func TestStabilizeWritesOverride(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/v1/agents/AG-04/stabilize", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := env.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, types.StatusNominal, events[0].Status)
	assert.Equal(t, "AG-04", events[0].AgentID)

	rec = env.do(http.MethodPost, "/api/v1/agents/AG-00/stabilize", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPulseUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPost, "/api/v1/agents/nope/pulse", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.ReasonUnknownAgent, decodeError(t, rec).Reason)
}

func TestAlertEndpoints(t *testing.T) {
	env := newTestEnv(t)
	alert, ok := env.alerts.OnHeartbeat(testutil.FixtureHeartbeatFor("AG-03", types.StatusError, testutil.TimeAgo(0)))
	require.True(t, ok)

	rec := env.do(http.MethodGet, "/api/v1/alerts", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Alerts         []types.Alert `json:"alerts"`
		Unacknowledged int           `json:"unacknowledged"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	require.Len(t, list.Alerts, 1)
	assert.Equal(t, 1, list.Unacknowledged)

	rec = env.do(http.MethodPost, "/api/v1/alerts/does-not-exist/acknowledge", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/alerts/"+alert.ID+"/acknowledge", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/alerts/clear", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"cleared":1}`, rec.Body.String())
	assert.Empty(t, env.alerts.Alerts())
}

func TestSetEscalation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPut, "/api/v1/alerts/escalation", `{"enabled":false}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.alerts.EscalationEnabled())

	rec = env.do(http.MethodPut, "/api/v1/alerts/escalation", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTelemetryRejectsInvalidHours(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"0", "-5", "721", "abc"} {
		rec := env.do(http.MethodGet, "/api/v1/telemetry?hours="+q, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "hours=%s", q)
		assert.Equal(t, reasonInvalidHours, decodeError(t, rec).Reason)
	}
}

func TestTelemetryAdHocWindow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/api/v1/telemetry?hours=168", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var w types.TelemetryWindow
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&w))
	assert.Equal(t, 168, w.Hours)
	assert.Equal(t, 4, w.BucketHours)
	assert.Len(t, w.Buckets, 42)
}

func TestWarRoomRequiresConfirmation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPut, "/api/v1/mode", `{"mode":"WAR_ROOM"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, reasonConfirmRequired, decodeError(t, rec).Reason)
	assert.Zero(t, env.modes.Writes(), "an unconfirmed request writes nothing")

	rec = env.do(http.MethodPut, "/api/v1/mode", `{"mode":"WAR_ROOM","confirm":true,"actor":"ops"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got modeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, types.ModeWarRoom, got.Mode)
	assert.Equal(t, "ops", got.UpdatedBy)
	assert.Equal(t, "War Room", got.Presentation.Label)
}

func TestSetModeWithoutConfirmationForOtherModes(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodPut, "/api/v1/mode", `{"mode":"STEALTH"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPut, "/api/v1/mode", `{"mode":"LOUD"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, reasonInvalidMode, decodeError(t, rec).Reason)
}

func TestSetModeFailureReportsRollback(t *testing.T) {
	env := newTestEnv(t)
	env.modes.SetErr(errors.New("read-only transaction"))

	rec := env.do(http.MethodPut, "/api/v1/mode", `{"mode":"STEALTH"}`, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Reason  string       `json:"reason"`
		Current modeResponse `json:"current"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, reasonInternal, body.Reason)
	assert.Equal(t, types.ModeSentinel, body.Current.Mode)
}

func TestHealthWithoutCollector(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
