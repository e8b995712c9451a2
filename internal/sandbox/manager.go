package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/baseline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/pipeline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/posts"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

var (
	ErrSessionNotFound     = errors.New("sandbox: session not found")
	ErrStepAlreadyExecuted = errors.New("sandbox: step already executed")
	ErrUnknownStep         = errors.New("sandbox: unknown step")
	ErrInvalidPayload      = errors.New("sandbox: invalid step payload")
)

// session is the in-memory state of one sandbox session. The settings
// snapshot and post are captured at start so mid-flight settings changes
// never leak into a session.
type session struct {
	mu    sync.Mutex
	state models.SandboxSession
	post  models.Post
	snap  models.SettingsSnapshot
}

// Manager runs the pipeline step by step for debugging and prompt tuning.
// Sessions live in memory with a TTL; their debug logs are durable.
type Manager struct {
	exec     *pipeline.Executor
	posts    posts.Store
	settings baseline.SnapshotSource
	log      LogStore
	logger   logrus.FieldLogger

	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(exec *pipeline.Executor, postStore posts.Store, settings baseline.SnapshotSource, log LogStore, ttl time.Duration, logger logrus.FieldLogger) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		exec:     exec,
		posts:    postStore,
		settings: settings,
		log:      log,
		logger:   logger,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Start creates a session at step 0 with all pipeline steps pending.
func (m *Manager) Start(ctx context.Context, postID int64) (*models.SandboxSession, error) {
	snap, err := m.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	post, err := m.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s := &session{
		state: models.SandboxSession{
			ID:           uuid.New().String(),
			PostID:       postID,
			Status:       models.SessionActive,
			Steps:        append([]models.Stage(nil), models.PipelineStages...),
			PendingSteps: append([]models.Stage(nil), models.PipelineStages...),
			CurrentData:  make(map[models.Stage]json.RawMessage),
			CreatedAt:    now,
			UpdatedAt:    now,
			ExpiresAt:    now.Add(m.ttl),
		},
		post: *post,
		snap: snap,
	}

	m.mu.Lock()
	m.sessions[s.state.ID] = s
	m.mu.Unlock()

	m.appendLog(ctx, s.state.ID, "", models.DebugLogInfo, "Session started", nil)
	state := cloneState(&s.state)
	return &state, nil
}

// Continue executes exactly the next pending step. Continuing a completed
// or aborted session changes nothing. A step whose payload was supplied via
// EditData completes without calling the model.
func (m *Manager) Continue(ctx context.Context, sessionID string) (*models.SandboxSession, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Status != models.SessionActive {
		state := cloneState(&s.state)
		return &state, nil
	}
	step, ok := s.state.NextStep()
	if !ok {
		s.state.Status = models.SessionCompleted
		m.touch(s)
		state := cloneState(&s.state)
		return &state, nil
	}

	if payload, edited := s.state.CurrentData[step]; edited {
		m.appendLog(ctx, s.state.ID, step, models.DebugLogInfo, "Step completed from edited payload", payload)
		m.completeStep(s, step, payload)
		state := cloneState(&s.state)
		return &state, nil
	}

	cfg := s.snap.Stages[step]
	exec, err := m.exec.ExecuteStage(ctx, step, cfg, s.post, s.state.CurrentData)
	if len(exec.Messages) > 0 {
		if prompts, merr := json.Marshal(exec.Messages); merr == nil {
			m.appendLog(ctx, s.state.ID, step, models.DebugLogPrompts, "Prompts sent", prompts)
		}
	}
	if exec.Result != nil {
		response, merr := json.Marshal(map[string]any{
			"text":       exec.Result.Text,
			"model":      exec.Result.Model,
			"tokens":     exec.Result.TotalTokens(),
			"cost":       exec.Result.Cost,
			"latency_ms": exec.Result.Latency.Milliseconds(),
		})
		if merr == nil {
			m.appendLog(ctx, s.state.ID, step, models.DebugLogLLMResponse, "Model response", response)
		}
	}
	if err != nil {
		s.state.Status = models.SessionAborted
		s.state.Error = fmt.Sprintf("step %s: %s", step, pipeline.StageFailureReason(ctx, err))
		m.touch(s)
		// Detached so the abort is logged even when the caller cancelled.
		m.appendLog(context.WithoutCancel(ctx), s.state.ID, step, models.DebugLogError, s.state.Error, nil)
		state := cloneState(&s.state)
		return &state, nil
	}

	m.completeStep(s, step, exec.Payload)
	state := cloneState(&s.state)
	return &state, nil
}

// EditData overwrites the payload of a step that has not executed yet. The
// payload must decode into the step's schema.
func (m *Manager) EditData(ctx context.Context, sessionID string, step models.Stage, payload json.RawMessage) (*models.SandboxSession, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !containsStep(s.state.Steps, step) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}
	if s.state.StepExecuted(step) {
		return nil, fmt.Errorf("%w: %s", ErrStepAlreadyExecuted, step)
	}
	if _, err := pipeline.DecodeStagePayload(step, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	s.state.CurrentData[step] = payload
	m.touch(s)
	m.appendLog(ctx, s.state.ID, step, models.DebugLogInfo, "Step payload edited", payload)
	state := cloneState(&s.state)
	return &state, nil
}

// Restart resets the session to step 0. The debug log is preserved.
func (m *Manager) Restart(ctx context.Context, sessionID string) (*models.SandboxSession, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Status = models.SessionActive
	s.state.CompletedSteps = nil
	s.state.PendingSteps = append([]models.Stage(nil), s.state.Steps...)
	s.state.CurrentData = make(map[models.Stage]json.RawMessage)
	s.state.Error = ""
	m.touch(s)
	m.appendLog(ctx, s.state.ID, "", models.DebugLogInfo, "Session restarted", nil)
	state := cloneState(&s.state)
	return &state, nil
}

// Get returns a copy of the session state.
func (m *Manager) Get(sessionID string) (*models.SandboxSession, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state := cloneState(&s.state)
	return &state, nil
}

// Delete removes the session and its debug log.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return m.log.DeleteForSession(ctx, sessionID)
}

// DebugLog returns the session's log entries in append order.
func (m *Manager) DebugLog(ctx context.Context, sessionID string, filter models.DebugLogFilter) ([]models.DebugLogEntry, error) {
	if _, err := m.lookup(sessionID); err != nil {
		return nil, err
	}
	return m.log.List(ctx, sessionID, filter)
}

// SweepExpired drops sessions past their TTL. Expired session logs are
// removed with them.
func (m *Manager) SweepExpired(ctx context.Context) int {
	now := m.now().UTC()

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		s.mu.Lock()
		if now.After(s.state.ExpiresAt) {
			expired = append(expired, id)
		}
		s.mu.Unlock()
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.log.DeleteForSession(ctx, id); err != nil {
			m.logger.WithError(err).WithField("session_id", id).
				Warn("Failed to delete expired session log")
		}
	}
	if len(expired) > 0 {
		m.logger.WithField("count", len(expired)).Info("Expired sandbox sessions removed")
	}
	return len(expired)
}

// RunSweeper removes expired sessions on a fixed cadence until the context
// is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepExpired(ctx)
		}
	}
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// completeStep records the step's output and advances the session. The
// caller holds the session lock.
func (m *Manager) completeStep(s *session, step models.Stage, payload json.RawMessage) {
	s.state.CurrentData[step] = payload
	s.state.CompletedSteps = append(s.state.CompletedSteps, step)
	s.state.PendingSteps = s.state.PendingSteps[1:]
	if len(s.state.PendingSteps) == 0 {
		s.state.Status = models.SessionCompleted
	}
	m.touch(s)
}

func (m *Manager) touch(s *session) {
	now := m.now().UTC()
	s.state.UpdatedAt = now
	s.state.ExpiresAt = now.Add(m.ttl)
}

func (m *Manager) appendLog(ctx context.Context, sessionID string, step models.Stage, typ models.DebugLogType, message string, payload json.RawMessage) {
	entry := models.DebugLogEntry{
		SessionID: sessionID,
		Step:      step,
		Type:      typ,
		Message:   message,
		Payload:   payload,
		CreatedAt: m.now().UTC(),
	}
	if err := m.log.Append(ctx, entry); err != nil {
		m.logger.WithError(err).WithField("session_id", sessionID).
			Warn("Failed to append debug log entry")
	}
}

func cloneState(state *models.SandboxSession) models.SandboxSession {
	out := *state
	out.Steps = append([]models.Stage(nil), state.Steps...)
	out.CompletedSteps = append([]models.Stage(nil), state.CompletedSteps...)
	out.PendingSteps = append([]models.Stage(nil), state.PendingSteps...)
	out.CurrentData = make(map[models.Stage]json.RawMessage, len(state.CurrentData))
	for k, v := range state.CurrentData {
		out.CurrentData[k] = v
	}
	return out
}

func containsStep(steps []models.Stage, step models.Stage) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}
