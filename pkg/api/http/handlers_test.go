package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/subsys/internal/application/events"
	"github.com/aescanero/subsys/internal/application/metrics"
	"github.com/aescanero/subsys/internal/application/orchestrator"
	"github.com/aescanero/subsys/internal/application/refresh"
	"github.com/aescanero/subsys/internal/domain"
)

type fakeOrchestrator struct {
	mu        sync.Mutex
	phase     domain.Phase
	completed bool
	startErr  error
	last      domain.Snapshot
	deep      domain.Snapshot
	published []domain.Event
}

func (f *fakeOrchestrator) CurrentPhase() domain.Phase { return f.phase }
func (f *fakeOrchestrator) Completed() bool            { return f.completed }
func (f *fakeOrchestrator) StartErr() error            { return f.startErr }

func (f *fakeOrchestrator) Components() []orchestrator.ComponentInfo {
	return []orchestrator.ComponentInfo{
		{Name: "redis", Phase: domain.PhaseCore, State: domain.StateReady},
		{Name: "http-api", Phase: domain.PhaseIntegration, Dependencies: []string{"redis"}, State: domain.StateReady},
	}
}

func (f *fakeOrchestrator) Component(name string) (orchestrator.ComponentInfo, bool) {
	for _, c := range f.Components() {
		if c.Name == name {
			return c, true
		}
	}
	return orchestrator.ComponentInfo{}, false
}

func (f *fakeOrchestrator) LastHealth() domain.Snapshot { return f.last }

func (f *fakeOrchestrator) CheckHealth(context.Context) domain.Snapshot { return f.deep }

func (f *fakeOrchestrator) Broadcast(_ context.Context, trigger string) (refresh.Result, error) {
	if !f.completed {
		return refresh.Result{Trigger: trigger}, domain.ErrNotAccepting
	}
	return refresh.Result{
		Trigger:      trigger,
		SuccessCount: 2,
		FailureCount: 1,
		Errors:       map[string]error{"theme-view": errors.New("boom")},
		Duration:     3 * time.Millisecond,
	}, nil
}

func (f *fakeOrchestrator) Publish(_ context.Context, eventType domain.EventType, payload any) domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := domain.Event{ID: "evt-1", Type: eventType, Timestamp: time.Now(), Payload: payload}
	f.published = append(f.published, e)
	return e
}

func (f *fakeOrchestrator) Metrics() metrics.Metrics {
	return metrics.Metrics{TotalComponents: 2, ActiveComponents: 2}
}

func (f *fakeOrchestrator) EventStats() events.Stats { return events.Stats{Published: 7} }

type fakeHistory struct {
	snapshots []domain.Snapshot
	err       error
	limit     int
}

func (h *fakeHistory) History(_ context.Context, limit int) ([]domain.Snapshot, error) {
	h.limit = limit
	return h.snapshots, h.err
}

type fakeEvents struct{}

func (fakeEvents) Recent(eventType domain.EventType, limit int) []domain.Event {
	return []domain.Event{{ID: "a", Type: eventType}}
}

type fakeStreams struct {
	events    []domain.Event
	err       error
	eventType domain.EventType
	count     int64
}

func (f *fakeStreams) Recent(_ context.Context, eventType domain.EventType, count int64) ([]domain.Event, error) {
	f.eventType = eventType
	f.count = count
	return f.events, f.err
}

func newTestServer(o *fakeOrchestrator, h HealthHistory, e EventLog) *Server {
	return NewServer(&Config{
		Orchestrator: o,
		History:      h,
		Events:       e,
		Gatherer:     prometheus.NewRegistry(),
	})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Error.Code
}

func TestLiveness(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{phase: domain.PhaseServices}, nil, nil)

	w := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "alive", body["status"])
	assert.Equal(t, "services", body["phase"])
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name   string
		orch   *fakeOrchestrator
		status int
		code   string
	}{
		{"starting", &fakeOrchestrator{phase: domain.PhaseCore}, http.StatusServiceUnavailable, "NOT_READY"},
		{"failed", &fakeOrchestrator{startErr: errors.New("phase core failed")}, http.StatusServiceUnavailable, "STARTUP_FAILED"},
		{"ready", &fakeOrchestrator{phase: domain.PhaseCompleted, completed: true}, http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, newTestServer(tt.orch, nil, nil), http.MethodGet, "/ready", "")
			assert.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, w))
			}
		})
	}
}

func TestDeepHealth(t *testing.T) {
	o := &fakeOrchestrator{deep: domain.Snapshot{Overall: domain.OverallGood, Timestamp: time.Now()}}
	s := newTestServer(o, nil, nil)

	w := do(t, s, http.MethodGet, "/health/deep", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "good", decode(t, w)["overall"])

	o.deep.Overall = domain.OverallCritical
	w = do(t, s, http.MethodGet, "/health/deep", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestComponents(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{}, nil, nil)

	w := do(t, s, http.MethodGet, "/api/v1/components", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["total"])

	w = do(t, s, http.MethodGet, "/api/v1/components/http-api", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "integration", body["phase"])
	assert.Equal(t, "ready", body["state"])

	w = do(t, s, http.MethodGet, "/api/v1/components/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestLastHealth(t *testing.T) {
	o := &fakeOrchestrator{}
	s := newTestServer(o, nil, nil)

	w := do(t, s, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	o.last = domain.Snapshot{Overall: domain.OverallExcellent, Timestamp: time.Now()}
	w = do(t, s, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "excellent", decode(t, w)["overall"])
}

func TestHealthHistory(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		w := do(t, newTestServer(&fakeOrchestrator{}, nil, nil), http.MethodGet, "/api/v1/health/history", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("limit", func(t *testing.T) {
		h := &fakeHistory{snapshots: []domain.Snapshot{{Overall: domain.OverallGood}}}
		w := do(t, newTestServer(&fakeOrchestrator{}, h, nil), http.MethodGet, "/api/v1/health/history?limit=5", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 5, h.limit)
		assert.Equal(t, 1.0, decode(t, w)["total"])
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := do(t, newTestServer(&fakeOrchestrator{}, &fakeHistory{}, nil), http.MethodGet, "/api/v1/health/history?limit=x", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "INVALID_LIMIT", errorCode(t, w))
	})

	t.Run("empty store", func(t *testing.T) {
		h := &fakeHistory{err: domain.ErrSnapshotNotFound}
		w := do(t, newTestServer(&fakeOrchestrator{}, h, nil), http.MethodGet, "/api/v1/health/history", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 0.0, decode(t, w)["total"])
	})

	t.Run("store error", func(t *testing.T) {
		h := &fakeHistory{err: errors.New("connection refused")}
		w := do(t, newTestServer(&fakeOrchestrator{}, h, nil), http.MethodGet, "/api/v1/health/history", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestRefresh(t *testing.T) {
	o := &fakeOrchestrator{}
	s := newTestServer(o, nil, nil)

	w := do(t, s, http.MethodPost, "/api/v1/refresh/theme", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NOT_ACCEPTING", errorCode(t, w))

	o.completed = true
	w = do(t, s, http.MethodPost, "/api/v1/refresh/theme", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp RefreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "theme", resp.Trigger)
	assert.Equal(t, 2, resp.SuccessCount)
	assert.Equal(t, 1, resp.FailureCount)
	assert.Equal(t, "boom", resp.Errors["theme-view"])
	assert.Equal(t, int64(3), resp.DurationMS)
}

func TestPublishTrigger(t *testing.T) {
	o := &fakeOrchestrator{}
	s := newTestServer(o, nil, nil)

	w := do(t, s, http.MethodPost, "/api/v1/events/theme.changed", `{"data":{"theme":"dark"}}`)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, o.published, 1)
	assert.Equal(t, domain.EventThemeChanged, o.published[0].Type)

	payload, ok := o.published[0].Payload.(domain.TriggerPayload)
	require.True(t, ok)
	assert.Equal(t, "http", payload.Source)
	assert.Equal(t, "dark", payload.Data["theme"])

	w = do(t, s, http.MethodPost, "/api/v1/events/settings.changed", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, s, http.MethodPost, "/api/v1/events/phase.started", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNKNOWN_TRIGGER", errorCode(t, w))

	w = do(t, s, http.MethodPost, "/api/v1/events/theme.changed", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, o.published, 2)
}

func TestRecentEventsAndMetrics(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{}, nil, fakeEvents{})

	w := do(t, s, http.MethodGet, "/api/v1/events?type=theme.changed&limit=3", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 3.0, body["limit"])

	w = do(t, newTestServer(&fakeOrchestrator{}, nil, nil), http.MethodGet, "/api/v1/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = do(t, s, http.MethodGet, "/api/v1/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, 7.0, body["events"].(map[string]interface{})["published"])
	assert.Equal(t, 2.0, body["metrics"].(map[string]interface{})["total_components"])

	w = do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecentEvents_RedisSource(t *testing.T) {
	streams := &fakeStreams{events: []domain.Event{
		{ID: "b", Type: domain.EventPaletteChanged},
		{ID: "a", Type: domain.EventPaletteChanged},
	}}
	s := NewServer(&Config{
		Orchestrator: &fakeOrchestrator{},
		Events:       fakeEvents{},
		Streams:      streams,
		Gatherer:     prometheus.NewRegistry(),
	})

	w := do(t, s, http.MethodGet, "/api/v1/events?source=redis&type=palette.changed&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "redis", body["source"])
	assert.Equal(t, 2.0, body["total"])
	assert.Equal(t, "b", body["data"].([]interface{})[0].(map[string]interface{})["id"])
	assert.Equal(t, domain.EventPaletteChanged, streams.eventType)
	assert.Equal(t, int64(5), streams.count)

	w = do(t, s, http.MethodGet, "/api/v1/events?source=redis", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "TYPE_REQUIRED", decode(t, w)["error"].(map[string]interface{})["code"])

	w = do(t, s, http.MethodGet, "/api/v1/events?source=kafka&type=palette.changed", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	streams.err = errors.New("connection refused")
	w = do(t, s, http.MethodGet, "/api/v1/events?source=redis&type=palette.changed", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// The in-memory log is still the default source.
	w = do(t, s, http.MethodGet, "/api/v1/events?type=palette.changed", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode(t, w)["source"])

	w = do(t, newTestServer(&fakeOrchestrator{}, nil, fakeEvents{}), http.MethodGet,
		"/api/v1/events?source=redis&type=palette.changed", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(&fakeOrchestrator{}, nil, nil)
	w := do(t, s, http.MethodOptions, "/api/v1/components", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
