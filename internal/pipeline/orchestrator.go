package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/baseline"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/internal/posts"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// Meter records token usage for completed stage calls.
type Meter interface {
	RecordUsage(ctx context.Context, model, operation string, tokens int, cost float64)
}

// Orchestrator drives the fixed stage sequence for one post and persists
// the resulting run. Concurrent runs are bounded by a semaphore so bursts
// cannot exhaust external rate limits.
type Orchestrator struct {
	posts    posts.Store
	settings baseline.SnapshotSource
	exec     *Executor
	store    Store
	meter    Meter
	sem      *semaphore.Weighted
	logger   logrus.FieldLogger

	now func() time.Time
}

func NewOrchestrator(postStore posts.Store, settings baseline.SnapshotSource, exec *Executor, store Store, meter Meter, maxConcurrent int64, logger logrus.FieldLogger) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Orchestrator{
		posts:    postStore,
		settings: settings,
		exec:     exec,
		store:    store,
		meter:    meter,
		sem:      semaphore.NewWeighted(maxConcurrent),
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes the full pipeline for a post. Overrides adjust individual
// stage model configs for this invocation only. The returned run is always
// persisted, including aborted and unsuitable runs.
func (o *Orchestrator) Run(ctx context.Context, postID int64, overrides map[models.Stage]models.StageOverride) (*models.PipelineRun, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	snap, err := o.settings.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	post, err := o.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}

	run := o.executeStages(ctx, *post, snap, overrides)
	// A cancelled caller must still leave a persisted run, including the
	// partial stage results and the cancellation reason.
	if err := o.store.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"run_id":       run.ID,
		"post_id":      postID,
		"success":      run.Success,
		"suitable":     run.Suitable,
		"total_tokens": run.TotalTokens,
		"total_cost":   run.TotalCost,
	}).Info("Pipeline run finished")
	return run, nil
}

func (o *Orchestrator) executeStages(ctx context.Context, post models.Post, snap models.SettingsSnapshot, overrides map[models.Stage]models.StageOverride) *models.PipelineRun {
	run := &models.PipelineRun{
		ID:        uuid.New().String(),
		PostID:    post.ID,
		Success:   true,
		Suitable:  true,
		StartedAt: o.now().UTC(),
	}
	for _, stage := range models.PipelineStages {
		run.Stages = append(run.Stages, models.StageResult{Stage: stage, Status: models.StagePending})
	}

	data := make(map[models.Stage]json.RawMessage)
	skipRest := false
	for i, stage := range models.PipelineStages {
		sr := &run.Stages[i]
		if skipRest {
			sr.Status = models.StageSkipped
			continue
		}

		cfg := snap.Stages[stage]
		if ov, ok := overrides[stage]; ok {
			cfg = ov.Apply(cfg)
		}
		sr.Status = models.StageRunning
		sr.Model = cfg.Model

		start := o.now()
		exec, err := o.exec.ExecuteStage(ctx, stage, cfg, post, data)
		sr.Duration = o.now().Sub(start)
		if exec.Result != nil {
			sr.TokensUsed = exec.Result.TotalTokens()
			sr.Cost = exec.Result.Cost
			run.TotalTokens += sr.TokensUsed
			run.TotalCost += sr.Cost
		}

		if err != nil {
			sr.Status = models.StageFailed
			sr.Error = StageFailureReason(ctx, err)
			run.Success = false
			run.Error = fmt.Sprintf("stage %s: %s", stage, sr.Error)
			skipRest = true
			continue
		}

		sr.Status = models.StageCompleted
		sr.Payload = exec.Payload
		data[stage] = exec.Payload
		if o.meter != nil {
			o.meter.RecordUsage(ctx, cfg.Model, string(stage), sr.TokensUsed, sr.Cost)
		}

		if stage == models.StageFilter {
			var verdict FilterResult
			// Payload already validated by the executor.
			_ = json.Unmarshal(exec.Payload, &verdict)
			if !verdict.Suitable {
				run.Suitable = false
				skipRest = true
			}
		}
	}

	run.Output = mergeOutput(run.Stages)
	run.FinishedAt = o.now().UTC()
	return run
}

// StageFailureReason separates caller cancellation from genuine upstream
// failures so an aborted run is never mistaken for a broken provider.
func StageFailureReason(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return fmt.Sprintf("cancelled by caller: %v", ctx.Err())
	}
	return err.Error()
}

// mergeOutput folds all completed stage payloads into one object keyed by
// stage name.
func mergeOutput(stages []models.StageResult) json.RawMessage {
	merged := make(map[string]json.RawMessage)
	for _, sr := range stages {
		if sr.Status == models.StageCompleted && len(sr.Payload) > 0 {
			merged[string(sr.Stage)] = sr.Payload
		}
	}
	if len(merged) == 0 {
		return nil
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil
	}
	return out
}
