package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billsync/backend/internal/domain/billing"
	"github.com/billsync/backend/internal/infrastructure/scheduler"
)

type fakeTrigger struct {
	report   *billing.RunReport
	err      error
	asyncErr error
	history  []scheduler.RunRecord
}

func (f *fakeTrigger) TriggerNow(ctx context.Context) (*billing.RunReport, error) {
	return f.report, f.err
}
func (f *fakeTrigger) TriggerAsync() error            { return f.asyncErr }
func (f *fakeTrigger) History() []scheduler.RunRecord { return f.history }

func setupRouter(trigger SyncTrigger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	group := engine.Group("/api/v1")
	NewSyncHandler(trigger, zap.NewNop()).RegisterRoutes(group)
	return engine
}

func TestTrigger_Async(t *testing.T) {
	engine := setupRouter(&fakeTrigger{})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestTrigger_AsyncConflict(t *testing.T) {
	engine := setupRouter(&fakeTrigger{asyncErr: scheduler.ErrSyncInProgress})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTrigger_WaitReturnsReport(t *testing.T) {
	engine := setupRouter(&fakeTrigger{
		report: &billing.RunReport{RunID: "run-42"},
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger?wait=true", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool `json:"success"`
		Data    struct {
			RunID string `json:"run_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "run-42", body.Data.RunID)
}

func TestTrigger_WaitNoAccounts(t *testing.T) {
	engine := setupRouter(&fakeTrigger{err: billing.ErrNoAccounts})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger?wait=true", nil))

	assert.Equal(t, http.StatusFailedDependency, w.Code)
}

func TestTrigger_WaitInternalError(t *testing.T) {
	engine := setupRouter(&fakeTrigger{err: errors.New("boom")})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync/trigger?wait=true", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRuns(t *testing.T) {
	engine := setupRouter(&fakeTrigger{
		history: []scheduler.RunRecord{{Trigger: "manual"}, {Trigger: "interval"}},
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/sync/runs", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []scheduler.RunRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Data, 2)
}

func TestSystemEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	group := engine.Group("/api/v1")
	NewSystemHandler().RegisterRoutes(group)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/system/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")

	w = httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/system/info", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BillSync API")
}
