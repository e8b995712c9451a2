package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/baseline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/metrics"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/pipeline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/posts"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/sandbox"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/scoring"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/settings"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/logging"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/middleware"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// BaselineEngine recalculates and serves channel baselines.
type BaselineEngine interface {
	Recalculate(ctx context.Context, channelID int64) (*models.ChannelBaseline, error)
	Get(ctx context.Context, channelID int64) (*models.ChannelBaseline, error)
}

// Scorer scores single posts and channel batches.
type Scorer interface {
	ScorePost(ctx context.Context, postID int64) (*models.Post, error)
	ScoreChannel(ctx context.Context, channelID int64, limit int) (*scoring.BatchSummary, error)
}

// PipelineRunner executes the content pipeline for a post.
type PipelineRunner interface {
	Run(ctx context.Context, postID int64, overrides map[models.Stage]models.StageOverride) (*models.PipelineRun, error)
}

// RunReader reads persisted pipeline runs.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListRunsForPost(ctx context.Context, postID int64, limit int) ([]models.PipelineRun, error)
}

// Sandbox exposes stepwise pipeline sessions.
type Sandbox interface {
	Start(ctx context.Context, postID int64) (*models.SandboxSession, error)
	Continue(ctx context.Context, sessionID string) (*models.SandboxSession, error)
	EditData(ctx context.Context, sessionID string, step models.Stage, payload json.RawMessage) (*models.SandboxSession, error)
	Restart(ctx context.Context, sessionID string) (*models.SandboxSession, error)
	Get(sessionID string) (*models.SandboxSession, error)
	Delete(ctx context.Context, sessionID string) error
	DebugLog(ctx context.Context, sessionID string, filter models.DebugLogFilter) ([]models.DebugLogEntry, error)
}

// SettingsService reads and updates tunable settings.
type SettingsService interface {
	Snapshot(ctx context.Context) (models.SettingsSnapshot, error)
	Get(ctx context.Context, key string) (json.RawMessage, int, error)
	Update(ctx context.Context, key string, value json.RawMessage) (int, error)
}

// Services bundles everything the HTTP layer depends on.
type Services struct {
	Baselines BaselineEngine
	Scorer    Scorer
	Pipeline  PipelineRunner
	Runs      RunReader
	Sandbox   Sandbox
	Settings  SettingsService
}

var (
	svc    Services
	logger logging.Logger
	domain *metrics.Metrics
)

// Init initializes the handlers with the service layer and logger.
func Init(services Services, log logging.Logger) {
	svc = services
	logger = log
	domain = nil
}

// InitMetrics attaches the optional domain counters.
func InitMetrics(m *metrics.Metrics) {
	domain = m
}

// RecalculateBaseline rebuilds one channel's baseline on demand.
func RecalculateBaseline(c middleware.Context) {
	channelID, ok := paramInt64(c, "channel_id")
	if !ok {
		return
	}

	b, err := svc.Baselines.Recalculate(c.Request.Context(), channelID)
	if errors.Is(err, baseline.ErrChannelBusy) {
		c.JSON(http.StatusConflict, middleware.H{"error": "Recalculation already in progress for this channel"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("channel_id", channelID).Error("Failed to recalculate baseline")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	if domain != nil {
		domain.BaselineRecalcs.WithLabelValues(string(b.Status)).Inc()
	}
	c.JSON(http.StatusOK, b)
}

// GetBaseline returns the stored baseline for a channel.
func GetBaseline(c middleware.Context) {
	channelID, ok := paramInt64(c, "channel_id")
	if !ok {
		return
	}

	b, err := svc.Baselines.Get(c.Request.Context(), channelID)
	if errors.Is(err, baseline.ErrBaselineNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Baseline not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("channel_id", channelID).Error("Failed to load baseline")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, b)
}

// ScorePost recomputes one post's viral fields.
func ScorePost(c middleware.Context) {
	postID, ok := paramInt64(c, "id")
	if !ok {
		return
	}

	post, err := svc.Scorer.ScorePost(c.Request.Context(), postID)
	if errors.Is(err, posts.ErrPostNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Post not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("post_id", postID).Error("Failed to score post")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	if domain != nil && post.IsViral {
		domain.ViralDetected.Inc()
	}
	c.JSON(http.StatusOK, post)
}

// ScoreChannel rescores a channel's recent posts.
func ScoreChannel(c middleware.Context) {
	channelID, ok := paramInt64(c, "channel_id")
	if !ok {
		return
	}
	limit := queryInt(c, "limit", 100)

	summary, err := svc.Scorer.ScoreChannel(c.Request.Context(), channelID, limit)
	if err != nil {
		logger.WithError(err).WithField("channel_id", channelID).Error("Failed to score channel")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	if domain != nil {
		domain.ViralDetected.Add(float64(summary.Viral))
	}
	c.JSON(http.StatusOK, summary)
}

type runPipelineRequest struct {
	Overrides map[models.Stage]models.StageOverride `json:"overrides"`
}

// RunPipeline executes the full content pipeline for a post.
func RunPipeline(c middleware.Context) {
	postID, ok := paramInt64(c, "id")
	if !ok {
		return
	}
	var req runPipelineRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
			return
		}
	}

	run, err := svc.Pipeline.Run(c.Request.Context(), postID, req.Overrides)
	if errors.Is(err, posts.ErrPostNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Post not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("post_id", postID).Error("Pipeline run failed")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	if domain != nil {
		domain.PipelineRuns.WithLabelValues(runResultLabel(run)).Inc()
	}
	c.JSON(http.StatusOK, run)
}

func runResultLabel(run *models.PipelineRun) string {
	switch {
	case !run.Success:
		return "failed"
	case !run.Suitable:
		return "unsuitable"
	default:
		return "completed"
	}
}

// GetPipelineRun returns one persisted run with its stage results.
func GetPipelineRun(c middleware.Context) {
	run, err := svc.Runs.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, pipeline.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Run not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load pipeline run")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, run)
}

// ListPipelineRuns returns a post's runs, newest first.
func ListPipelineRuns(c middleware.Context) {
	postID, ok := paramInt64(c, "id")
	if !ok {
		return
	}

	runs, err := svc.Runs.ListRunsForPost(c.Request.Context(), postID, queryInt(c, "limit", 20))
	if err != nil {
		logger.WithError(err).WithField("post_id", postID).Error("Failed to list pipeline runs")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"runs": runs})
}

type startSessionRequest struct {
	PostID int64 `json:"post_id" binding:"required"`
}

// StartSandboxSession creates a stepwise pipeline session for a post.
func StartSandboxSession(c middleware.Context) {
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}

	session, err := svc.Sandbox.Start(c.Request.Context(), req.PostID)
	if errors.Is(err, posts.ErrPostNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Post not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("post_id", req.PostID).Error("Failed to start sandbox session")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ContinueSandboxSession executes the session's next pending step.
func ContinueSandboxSession(c middleware.Context) {
	session, err := svc.Sandbox.Continue(c.Request.Context(), c.Param("id"))
	if respondSandboxError(c, err) {
		return
	}
	c.JSON(http.StatusOK, session)
}

type editDataRequest struct {
	Step    models.Stage    `json:"step" binding:"required"`
	Payload json.RawMessage `json:"payload" binding:"required"`
}

// EditSandboxData overwrites a not-yet-executed step's payload.
func EditSandboxData(c middleware.Context) {
	var req editDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}

	session, err := svc.Sandbox.EditData(c.Request.Context(), c.Param("id"), req.Step, req.Payload)
	if respondSandboxError(c, err) {
		return
	}
	c.JSON(http.StatusOK, session)
}

// RestartSandboxSession resets a session to step 0, keeping its log.
func RestartSandboxSession(c middleware.Context) {
	session, err := svc.Sandbox.Restart(c.Request.Context(), c.Param("id"))
	if respondSandboxError(c, err) {
		return
	}
	c.JSON(http.StatusOK, session)
}

// GetSandboxSession returns the session state.
func GetSandboxSession(c middleware.Context) {
	session, err := svc.Sandbox.Get(c.Param("id"))
	if respondSandboxError(c, err) {
		return
	}
	c.JSON(http.StatusOK, session)
}

// DeleteSandboxSession removes a session and its debug log.
func DeleteSandboxSession(c middleware.Context) {
	err := svc.Sandbox.Delete(c.Request.Context(), c.Param("id"))
	if respondSandboxError(c, err) {
		return
	}
	c.JSON(http.StatusOK, middleware.H{"deleted": true})
}

// GetDebugLog returns a session's debug log, optionally filtered by entry
// type and step.
func GetDebugLog(c middleware.Context) {
	filter := models.DebugLogFilter{
		Step:  models.Stage(c.Query("step")),
		Limit: queryInt(c, "limit", 0),
	}
	if types := c.Query("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			filter.Types = append(filter.Types, models.DebugLogType(strings.TrimSpace(t)))
		}
	}

	entries, err := svc.Sandbox.DebugLog(c.Request.Context(), c.Param("id"), filter)
	if respondSandboxError(c, err) {
		return
	}
	c.JSON(http.StatusOK, middleware.H{"entries": entries})
}

// GetSettings returns the current effective settings snapshot.
func GetSettings(c middleware.Context) {
	snap, err := svc.Settings.Snapshot(c.Request.Context())
	if err != nil {
		logger.WithError(err).Error("Failed to load settings")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// GetSetting returns the effective document for one settings key.
func GetSetting(c middleware.Context) {
	key := c.Param("key")
	value, version, err := svc.Settings.Get(c.Request.Context(), key)
	if errors.Is(err, settings.ErrNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Unknown settings key"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("key", key).Error("Failed to load setting")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"key": key, "value": value, "version": version})
}

type updateSettingRequest struct {
	Value json.RawMessage `json:"value" binding:"required"`
}

// UpdateSetting stores one settings key, bumping its version.
func UpdateSetting(c middleware.Context) {
	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": err.Error()})
		return
	}

	key := c.Param("key")
	version, err := svc.Settings.Update(c.Request.Context(), key, req.Value)
	if errors.Is(err, settings.ErrNotFound) {
		c.JSON(http.StatusNotFound, middleware.H{"error": "Unknown settings key"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("key", key).Error("Failed to update setting")
		c.JSON(http.StatusUnprocessableEntity, middleware.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, middleware.H{"key": key, "version": version})
}

// respondSandboxError maps sandbox errors to HTTP statuses. Returns true
// when a response was written.
func respondSandboxError(c middleware.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, sandbox.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, middleware.H{"error": "Session not found"})
	case errors.Is(err, sandbox.ErrStepAlreadyExecuted),
		errors.Is(err, sandbox.ErrUnknownStep),
		errors.Is(err, sandbox.ErrInvalidPayload):
		c.JSON(http.StatusUnprocessableEntity, middleware.H{"error": err.Error()})
	default:
		logger.WithError(err).Error("Sandbox operation failed")
		c.JSON(http.StatusInternalServerError, middleware.H{"error": "Internal server error"})
	}
	return true
}

func paramInt64(c middleware.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, middleware.H{"error": "Invalid " + name})
		return 0, false
	}
	return v, true
}

func queryInt(c middleware.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
