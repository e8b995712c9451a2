package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/pipeline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/settings"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/llm"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

const (
	filterResponse     = `{"suitable": true, "score": 0.9, "reason": "strong hook"}`
	analysisResponse   = `{"summary": "relatable story", "success_factors": ["humor"], "audience": "founders", "tone": "casual"}`
	rubricResponse     = `{"matches": [{"rubric": "case_study", "format": "thread", "reason": "fits"}]}`
	generationResponse = `{"posts": [{"rubric": "case_study", "title": "t", "hook": "h", "body": "b", "cta": "c"}]}`
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	requests  []llm.Request
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.responses) {
		return nil, errors.New("no scripted response")
	}
	return &llm.Completion{Text: p.responses[i], Model: req.Model, InputTokens: 100, OutputTokens: 50}, nil
}

type memLogStore struct {
	mu      sync.Mutex
	entries []models.DebugLogEntry
}

// Append honors the context the way the SQL log store's insert does.
func (s *memLogStore) Append(ctx context.Context, entry models.DebugLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memLogStore) List(_ context.Context, sessionID string, filter models.DebugLogFilter) ([]models.DebugLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.DebugLogEntry
	for _, e := range s.entries {
		if e.SessionID != sessionID {
			continue
		}
		if len(filter.Types) > 0 && !containsType(filter.Types, e.Type) {
			continue
		}
		if filter.Step != "" && e.Step != filter.Step {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *memLogStore) DeleteForSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.SessionID != sessionID {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return nil
}

func containsType(types []models.DebugLogType, t models.DebugLogType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

type fakePostStore struct{ post models.Post }

func (f *fakePostStore) Get(context.Context, int64) (*models.Post, error) { return &f.post, nil }

func (f *fakePostStore) WindowForChannel(context.Context, int64, time.Time) ([]models.Post, error) {
	return nil, nil
}

func (f *fakePostStore) ListRecent(context.Context, int64, int) ([]models.Post, error) {
	return nil, nil
}

func (f *fakePostStore) ViewsFloor(context.Context, int64, float64, time.Time) (float64, error) {
	return 0, nil
}

func (f *fakePostStore) UpdateViralFields(context.Context, int64, models.ViralMetrics, time.Time) error {
	return nil
}

type staticSnapshot struct{}

func (staticSnapshot) Snapshot(context.Context) (models.SettingsSnapshot, error) {
	return models.SettingsSnapshot{
		Weights:     settings.DefaultWeights(),
		Thresholds:  settings.DefaultThresholds(),
		Composition: settings.DefaultComposition(),
		Baseline:    settings.DefaultBaselineConfig(),
		Stages:      settings.DefaultStageConfigs(),
	}, nil
}

func newTestManager(provider llm.Provider, log LogStore, ttl time.Duration) *Manager {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	client := llm.NewClient(provider, llm.Pricing{})
	exec := pipeline.NewExecutor(client, pipeline.RetryConfig{}, logger)
	postStore := &fakePostStore{post: models.Post{ID: 42, ChannelID: 7, Text: "original post", Views: 8000}}
	return NewManager(exec, postStore, staticSnapshot{}, log, ttl, logger)
}

func fullScript() *scriptedProvider {
	return &scriptedProvider{responses: []string{
		filterResponse, analysisResponse, rubricResponse, generationResponse,
	}}
}

func TestStart(t *testing.T) {
	mgr := newTestManager(fullScript(), &memLogStore{}, time.Hour)

	s, err := mgr.Start(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, s.Status)
	assert.Equal(t, models.PipelineStages, s.Steps)
	assert.Equal(t, models.PipelineStages, s.PendingSteps)
	assert.Empty(t, s.CompletedSteps)
}

func TestContinue_VisitsStepsInDeclaredOrder(t *testing.T) {
	mgr := newTestManager(fullScript(), &memLogStore{}, time.Hour)
	ctx := context.Background()

	s, err := mgr.Start(ctx, 42)
	require.NoError(t, err)

	for n := 1; n <= len(models.PipelineStages); n++ {
		s, err = mgr.Continue(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PipelineStages[:n], s.CompletedSteps)
	}
	assert.Equal(t, models.SessionCompleted, s.Status)

	// Continuing a completed session is a no-op.
	again, err := mgr.Continue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.CompletedSteps, again.CompletedSteps)
	assert.Equal(t, models.SessionCompleted, again.Status)
}

func TestContinue_StepFailureAbortsSession(t *testing.T) {
	provider := &scriptedProvider{
		responses: []string{filterResponse, ""},
		errs:      []error{nil, errors.New("provider down")},
	}
	mgr := newTestManager(provider, &memLogStore{}, time.Hour)
	ctx := context.Background()

	s, err := mgr.Start(ctx, 42)
	require.NoError(t, err)
	s, err = mgr.Continue(ctx, s.ID)
	require.NoError(t, err)
	s, err = mgr.Continue(ctx, s.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionAborted, s.Status)
	assert.Contains(t, s.Error, "provider down")
	assert.Equal(t, []models.Stage{models.StageFilter}, s.CompletedSteps)

	// The aborted session cannot advance further.
	after, err := mgr.Continue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAborted, after.Status)
	assert.Len(t, provider.requests, 2)
}

func TestContinue_CancelledStepRecordsCancellation(t *testing.T) {
	log := &memLogStore{}
	mgr := newTestManager(fullScript(), log, time.Hour)

	s, err := mgr.Start(context.Background(), 42)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err = mgr.Continue(ctx, s.ID)
	require.NoError(t, err)

	assert.Equal(t, models.SessionAborted, s.Status)
	assert.Contains(t, s.Error, "cancelled by caller")

	// The abort is in the debug log even though the caller cancelled.
	entries, err := mgr.DebugLog(context.Background(), s.ID, models.DebugLogFilter{
		Types: []models.DebugLogType{models.DebugLogError},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "cancelled by caller")
}

func TestEditData_ExecutedStepRejected(t *testing.T) {
	mgr := newTestManager(fullScript(), &memLogStore{}, time.Hour)
	ctx := context.Background()

	s, err := mgr.Start(ctx, 42)
	require.NoError(t, err)
	_, err = mgr.Continue(ctx, s.ID)
	require.NoError(t, err)

	_, err = mgr.EditData(ctx, s.ID, models.StageFilter, json.RawMessage(`{"suitable": false}`))
	assert.ErrorIs(t, err, ErrStepAlreadyExecuted)
}

func TestEditData_ValidatesPayloadAndStep(t *testing.T) {
	mgr := newTestManager(fullScript(), &memLogStore{}, time.Hour)
	ctx := context.Background()

	s, err := mgr.Start(ctx, 42)
	require.NoError(t, err)

	_, err = mgr.EditData(ctx, s.ID, models.Stage("bogus"), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownStep)

	_, err = mgr.EditData(ctx, s.ID, models.StageAnalysis, json.RawMessage(`[1,2]`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestEditData_EditedPayloadFeedsNextStep(t *testing.T) {
	provider := &scriptedProvider{responses: []string{filterResponse, rubricResponse, generationResponse}}
	mgr := newTestManager(provider, &memLogStore{}, time.Hour)
	ctx := context.Background()

	s, err := mgr.Start(ctx, 42)
	require.NoError(t, err)
	_, err = mgr.Continue(ctx, s.ID)
	require.NoError(t, err)

	edited := json.RawMessage(`{"summary": "hand tuned analysis", "success_factors": ["timing"], "audience": "marketers", "tone": "direct"}`)
	_, err = mgr.EditData(ctx, s.ID, models.StageAnalysis, edited)
	require.NoError(t, err)

	// The analysis step completes from the edit without a model call.
	s, err = mgr.Continue(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.Stage{models.StageFilter, models.StageAnalysis}, s.CompletedSteps)
	assert.Len(t, provider.requests, 1)
	assert.JSONEq(t, string(edited), string(s.CurrentData[models.StageAnalysis]))

	// The rubric step's prompt is built from the edited payload.
	_, err = mgr.Continue(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, provider.requests, 2)
	assert.Contains(t, provider.requests[1].Messages[1].Content, "hand tuned analysis")
}

func TestRestart_PreservesDebugLog(t *testing.T) {
	log := &memLogStore{}
	mgr := newTestManager(fullScript(), log, time.Hour)
	ctx := context.Background()

	s, err := mgr.Start(ctx, 42)
	require.NoError(t, err)
	_, err = mgr.Continue(ctx, s.ID)
	require.NoError(t, err)

	before, err := mgr.DebugLog(ctx, s.ID, models.DebugLogFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, before)

	restarted, err := mgr.Restart(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, restarted.Status)
	assert.Empty(t, restarted.CompletedSteps)
	assert.Equal(t, models.PipelineStages, restarted.PendingSteps)
	assert.Empty(t, restarted.CurrentData)

	after, err := mgr.DebugLog(ctx, s.ID, models.DebugLogFilter{})
	require.NoError(t, err)
	assert.Greater(t, len(after), len(before))
}

func TestDebugLog_Filters(t *testing.T) {
	log := &memLogStore{}
	mgr := newTestManager(fullScript(), log, time.Hour)
	ctx := context.Background()

	s, err := mgr.Start(ctx, 42)
	require.NoError(t, err)
	_, err = mgr.Continue(ctx, s.ID)
	require.NoError(t, err)

	prompts, err := mgr.DebugLog(ctx, s.ID, models.DebugLogFilter{
		Types: []models.DebugLogType{models.DebugLogPrompts},
	})
	require.NoError(t, err)
	require.NotEmpty(t, prompts)
	for _, e := range prompts {
		assert.Equal(t, models.DebugLogPrompts, e.Type)
	}
}

func TestDelete(t *testing.T) {
	log := &memLogStore{}
	mgr := newTestManager(fullScript(), log, time.Hour)
	ctx := context.Background()

	s, err := mgr.Start(ctx, 42)
	require.NoError(t, err)
	require.NoError(t, mgr.Delete(ctx, s.ID))

	_, err = mgr.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, mgr.Delete(ctx, s.ID), ErrSessionNotFound)
}

func TestSweepExpired(t *testing.T) {
	mgr := newTestManager(fullScript(), &memLogStore{}, 10*time.Millisecond)
	ctx := context.Background()

	s, err := mgr.Start(ctx, 42)
	require.NoError(t, err)

	mgr.now = func() time.Time { return time.Now().Add(time.Minute) }
	removed := mgr.SweepExpired(ctx)
	assert.Equal(t, 1, removed)

	_, err = mgr.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
