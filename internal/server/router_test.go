package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"skysurvey-agent/internal/apiclient"
	"skysurvey-agent/internal/device"
	"skysurvey-agent/internal/gateway"
	"skysurvey-agent/internal/hub"
	"skysurvey-agent/internal/netwatch"
	"skysurvey-agent/internal/store"
	"skysurvey-agent/internal/syncer"
	"skysurvey-agent/internal/watchdog"
)

// newTestRouter wires the full local surface against an unreachable
// backend, so every flow exercises the offline fallback.
func newTestRouter(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(backend.Close)

	st := store.New(store.NewMemKV())
	api := apiclient.New(backend.URL, time.Second)
	tracker := netwatch.New(netwatch.ProbeFunc(func(context.Context) error { return nil }), st, netwatch.Options{
		Logger: zap.NewNop().Sugar(),
	})
	gw := gateway.New(api, st, tracker, device.NewProvider(st), gateway.Options{
		Logger: zap.NewNop().Sugar(),
	})
	sync := syncer.New(api, st, tracker, syncer.Options{Logger: zap.NewNop().Sugar()})
	wd := watchdog.New(tracker, st, gw, watchdog.Options{Logger: zap.NewNop().Sugar()})

	r := NewRouter(Deps{
		Store:    st,
		Gateway:  gw,
		API:      api,
		Net:      tracker,
		Syncer:   sync,
		Watchdog: wd,
		Devices:  device.NewProvider(st),
		Hub:      hub.New(),
	})
	return r, st
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]interface{}{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func loginOffline(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w, out := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "crew@example.com", "password": "pw",
	})
	require.Equal(t, http.StatusOK, w.Code)
	data := out["data"].(map[string]interface{})
	return data["token"].(string)
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	w, out := doJSON(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, out["ok"])
}

func TestLoginUnreachableBackendStillAdmits(t *testing.T) {
	r, st := newTestRouter(t)
	w, out := doJSON(t, r, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"email": "crew@example.com", "password": "pw",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["online"])
	assert.Equal(t, true, out["pendingSync"])

	pending, err := st.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
}

func TestProtectedRouteRejectsAnonymous(t *testing.T) {
	r, _ := newTestRouter(t)
	w, _ := doJSON(t, r, http.MethodGet, "/v1/sync/status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubmitSurveyOfflineThroughAPI(t *testing.T) {
	r, st := newTestRouter(t)
	token := loginOffline(t, r)

	w, out := doJSON(t, r, http.MethodPost, "/v1/survey/submit", token, map[string]interface{}{
		"flightNumber":    "6E204",
		"travelDate":      "30-08-2026",
		"destination":     "DEL",
		"travelReason":    "Business",
		"aircraftSection": "Economy",
		"returnTrips":     "Often",
		"airportCode":     "BLR",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, out["online"])

	pending, err := st.ListPending("survey")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSubmitSurveyRejectsIncompletePayload(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginOffline(t, r)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/survey/submit", token, map[string]interface{}{
		"flightNumber": "6E204",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmissionsListsLocals(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginOffline(t, r)
	doJSON(t, r, http.MethodPost, "/v1/survey/submit", token, map[string]interface{}{
		"flightNumber":    "6E204",
		"travelDate":      "30-08-2026",
		"destination":     "DEL",
		"travelReason":    "Business",
		"aircraftSection": "Economy",
		"returnTrips":     "Often",
		"airportCode":     "BLR",
	})

	w, out := doJSON(t, r, http.MethodGet, "/v1/survey/submissions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	surveys := out["surveys"].([]interface{})
	require.Len(t, surveys, 1)
	first := surveys[0].(map[string]interface{})
	assert.Equal(t, true, first["pendingSync"])
	assert.Equal(t, "2026-08-30", first["travelDate"])
}

func TestSyncStatusAndTrigger(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginOffline(t, r)

	w, out := doJSON(t, r, http.MethodGet, "/v1/sync/status", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := out["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["pendingCount"])

	w, _ = doJSON(t, r, http.MethodPost, "/v1/sync/trigger", token, nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestRegisterRefusedAgainstDeadBackend(t *testing.T) {
	r, _ := newTestRouter(t)
	w, _ := doJSON(t, r, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"name": "Asha", "email": "asha@example.com",
	})
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestDashboardNeedsConfirmedSession(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginOffline(t, r)
	w, _ := doJSON(t, r, http.MethodGet, "/v1/survey/dashboard-stats", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginOffline(t, r)

	w, _ := doJSON(t, r, http.MethodPost, "/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/v1/sync/status", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAppResume(t *testing.T) {
	r, _ := newTestRouter(t)
	token := loginOffline(t, r)

	w, out := doJSON(t, r, http.MethodPost, "/v1/app/resume", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "normal", out["state"])
}
