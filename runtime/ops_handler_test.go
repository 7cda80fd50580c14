package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpsServer(t *testing.T) (*Runtime, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rt, err := New(newFakeOrchestrator(), discardLogger())
	require.NoError(t, err)
	require.NoError(t, rt.RegisterWorker("antifraud-check", HandlerFunc(func(exec *Execution) (StepResult, error) {
		return Complete(nil), nil
	}), fastConfig()))

	g := gin.New()
	NewOpsHandler(rt, g)
	return rt, g
}

func get(g *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	g.ServeHTTP(w, req)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func TestOpsHandler_HealthFollowsLifecycle(t *testing.T) {
	rt, g := newOpsServer(t)

	w, body := get(g, HealthPath)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "starting", body["status"])

	require.NoError(t, rt.Start(context.Background()))
	w, body = get(g, HealthPath)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["workers"])

	require.NoError(t, rt.Shutdown(context.Background()))
	w, body = get(g, HealthPath)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "stopping", body["status"])
}

func TestOpsHandler_Workers(t *testing.T) {
	_, g := newOpsServer(t)

	w, body := get(g, WorkersPath)
	require.Equal(t, http.StatusOK, w.Code)

	workers, ok := body["workers"].([]any)
	require.True(t, ok, "expected workers array, got %T", body["workers"])
	require.Len(t, workers, 1)

	first := workers[0].(map[string]any)
	assert.Equal(t, "antifraud-check", first["stepType"])
	assert.Equal(t, "worker-antifraud-check", first["worker"])
	assert.Equal(t, float64(5), first["maxConcurrentJobs"])
}

func TestOpsHandler_Worker(t *testing.T) {
	_, g := newOpsServer(t)

	w, body := get(g, WorkersPath+"/antifraud-check")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "antifraud-check", body["stepType"])
	assert.Equal(t, float64(0), body["claimed"])

	w, body = get(g, WorkersPath+"/unknown-step")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Unknown step type: unknown-step", body["message"])
}
