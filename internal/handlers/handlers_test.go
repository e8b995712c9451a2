package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/baseline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/posts"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/sandbox"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/scoring"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/settings"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

type fakeBaselines struct {
	baseline *models.ChannelBaseline
	err      error
}

func (f *fakeBaselines) Recalculate(context.Context, int64) (*models.ChannelBaseline, error) {
	return f.baseline, f.err
}

func (f *fakeBaselines) Get(context.Context, int64) (*models.ChannelBaseline, error) {
	return f.baseline, f.err
}

type fakeScorer struct {
	post    *models.Post
	summary *scoring.BatchSummary
	err     error
}

func (f *fakeScorer) ScorePost(context.Context, int64) (*models.Post, error) {
	return f.post, f.err
}

func (f *fakeScorer) ScoreChannel(context.Context, int64, int) (*scoring.BatchSummary, error) {
	return f.summary, f.err
}

type fakeRunner struct {
	run *models.PipelineRun
	err error
}

func (f *fakeRunner) Run(context.Context, int64, map[models.Stage]models.StageOverride) (*models.PipelineRun, error) {
	return f.run, f.err
}

type fakeRuns struct {
	run  *models.PipelineRun
	runs []models.PipelineRun
	err  error
}

func (f *fakeRuns) GetRun(context.Context, string) (*models.PipelineRun, error) {
	return f.run, f.err
}

func (f *fakeRuns) ListRunsForPost(context.Context, int64, int) ([]models.PipelineRun, error) {
	return f.runs, f.err
}

type fakeSandbox struct {
	session    *models.SandboxSession
	entries    []models.DebugLogEntry
	lastFilter models.DebugLogFilter
	err        error
}

func (f *fakeSandbox) Start(context.Context, int64) (*models.SandboxSession, error) {
	return f.session, f.err
}

func (f *fakeSandbox) Continue(context.Context, string) (*models.SandboxSession, error) {
	return f.session, f.err
}

func (f *fakeSandbox) EditData(context.Context, string, models.Stage, json.RawMessage) (*models.SandboxSession, error) {
	return f.session, f.err
}

func (f *fakeSandbox) Restart(context.Context, string) (*models.SandboxSession, error) {
	return f.session, f.err
}

func (f *fakeSandbox) Get(string) (*models.SandboxSession, error) {
	return f.session, f.err
}

func (f *fakeSandbox) Delete(context.Context, string) error { return f.err }

func (f *fakeSandbox) DebugLog(_ context.Context, _ string, filter models.DebugLogFilter) ([]models.DebugLogEntry, error) {
	f.lastFilter = filter
	return f.entries, f.err
}

type fakeSettings struct {
	snap    models.SettingsSnapshot
	value   json.RawMessage
	version int
	err     error
}

func (f *fakeSettings) Snapshot(context.Context) (models.SettingsSnapshot, error) {
	return f.snap, f.err
}

func (f *fakeSettings) Get(context.Context, string) (json.RawMessage, int, error) {
	return f.value, f.version, f.err
}

func (f *fakeSettings) Update(context.Context, string, json.RawMessage) (int, error) {
	return f.version, f.err
}

func setupRouter(services Services) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	Init(services, logger)
	router := gin.New()
	RegisterRoutes(router)
	return router
}

func perform(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRecalculateBaseline_Conflict(t *testing.T) {
	router := setupRouter(Services{Baselines: &fakeBaselines{err: baseline.ErrChannelBusy}})

	w := perform(router, http.MethodPost, "/api/v1/channels/7/baseline/recalculate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRecalculateBaseline_OK(t *testing.T) {
	router := setupRouter(Services{Baselines: &fakeBaselines{baseline: &models.ChannelBaseline{
		ChannelID: 7, Status: models.BaselineReady, PostsAnalyzed: 40,
	}}})

	w := perform(router, http.MethodPost, "/api/v1/channels/7/baseline/recalculate", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var b models.ChannelBaseline
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	assert.Equal(t, models.BaselineReady, b.Status)
}

func TestGetBaseline_NotFound(t *testing.T) {
	router := setupRouter(Services{Baselines: &fakeBaselines{err: baseline.ErrBaselineNotFound}})

	w := perform(router, http.MethodGet, "/api/v1/channels/7/baseline", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetBaseline_BadChannelID(t *testing.T) {
	router := setupRouter(Services{Baselines: &fakeBaselines{}})

	w := perform(router, http.MethodGet, "/api/v1/channels/abc/baseline", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScorePost_NotFound(t *testing.T) {
	router := setupRouter(Services{Scorer: &fakeScorer{err: posts.ErrPostNotFound}})

	w := perform(router, http.MethodPost, "/api/v1/posts/42/score", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScorePost_OK(t *testing.T) {
	router := setupRouter(Services{Scorer: &fakeScorer{post: &models.Post{ID: 42, ViralScore: 1.7, IsViral: true}}})

	w := perform(router, http.MethodPost, "/api/v1/posts/42/score", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var post models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &post))
	assert.True(t, post.IsViral)
}

func TestRunPipeline_WithOverrides(t *testing.T) {
	router := setupRouter(Services{Pipeline: &fakeRunner{run: &models.PipelineRun{ID: "run-1", PostID: 42, Success: true}}})

	body := map[string]any{
		"overrides": map[string]any{
			"filter": map[string]any{"model": "gpt-4o"},
		},
	}
	w := perform(router, http.MethodPost, "/api/v1/posts/42/pipeline", body)
	require.Equal(t, http.StatusOK, w.Code)

	var run models.PipelineRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &run))
	assert.Equal(t, "run-1", run.ID)
}

func TestEditSandboxData_ExecutedStep(t *testing.T) {
	router := setupRouter(Services{Sandbox: &fakeSandbox{err: sandbox.ErrStepAlreadyExecuted}})

	body := map[string]any{"step": "filter", "payload": map[string]any{"suitable": false}}
	w := perform(router, http.MethodPost, "/api/v1/sandbox/sessions/s1/edit", body)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestSandboxSession_NotFound(t *testing.T) {
	router := setupRouter(Services{Sandbox: &fakeSandbox{err: sandbox.ErrSessionNotFound}})

	w := perform(router, http.MethodPost, "/api/v1/sandbox/sessions/s1/continue", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetDebugLog_ParsesFilters(t *testing.T) {
	sb := &fakeSandbox{entries: []models.DebugLogEntry{{Type: models.DebugLogPrompts}}}
	router := setupRouter(Services{Sandbox: sb})

	w := perform(router, http.MethodGet, "/api/v1/sandbox/sessions/s1/log?types=prompts,llm_response&step=analysis&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.DebugLogType{models.DebugLogPrompts, models.DebugLogLLMResponse}, sb.lastFilter.Types)
	assert.Equal(t, models.StageAnalysis, sb.lastFilter.Step)
	assert.Equal(t, 10, sb.lastFilter.Limit)
}

func TestStartSandboxSession_RequiresPostID(t *testing.T) {
	router := setupRouter(Services{Sandbox: &fakeSandbox{}})

	w := perform(router, http.MethodPost, "/api/v1/sandbox/sessions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateSetting(t *testing.T) {
	router := setupRouter(Services{Settings: &fakeSettings{version: 3}})

	body := map[string]any{"value": map[string]any{"min_viral_score": 1.2}}
	w := perform(router, http.MethodPut, "/api/v1/settings/scoring.thresholds", body)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 3, resp["version"])
}

func TestGetSetting(t *testing.T) {
	router := setupRouter(Services{Settings: &fakeSettings{
		value:   json.RawMessage(`{"min_viral_score": 1.2}`),
		version: 5,
	}})

	w := perform(router, http.MethodGet, "/api/v1/settings/scoring.thresholds", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "scoring.thresholds", resp["key"])
	assert.EqualValues(t, 5, resp["version"])
}

func TestSettings_UnknownKeyNotFound(t *testing.T) {
	router := setupRouter(Services{Settings: &fakeSettings{err: settings.ErrNotFound}})

	w := perform(router, http.MethodGet, "/api/v1/settings/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	body := map[string]any{"value": map[string]any{"x": 1}}
	w = perform(router, http.MethodPut, "/api/v1/settings/nope", body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
