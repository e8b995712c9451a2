package models

import (
	"encoding/json"
	"time"
)

// Stage identifies one step of the content-generation pipeline.
type Stage string

const (
	StageFilter          Stage = "filter"
	StageAnalysis        Stage = "analysis"
	StageRubricSelection Stage = "rubric_selection"
	StageGeneration      Stage = "generation"
)

// PipelineStages is the fixed execution order.
var PipelineStages = []Stage{StageFilter, StageAnalysis, StageRubricSelection, StageGeneration}

// StageStatus is the lifecycle state of one stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
	StageSkipped   StageStatus = "skipped"
)

// Terminal reports whether a stage can no longer change state.
func (s StageStatus) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageSkipped
}

// StageResult records the outcome of one stage of one run.
type StageResult struct {
	Stage      Stage           `json:"stage"`
	Status     StageStatus     `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	Model      string          `json:"model,omitempty"`
	TokensUsed int             `json:"tokens_used"`
	Cost       float64         `json:"cost"`
	Duration   time.Duration   `json:"duration"`
}

// PipelineRun is one post-processing attempt. Immutable once completed;
// reprocessing a post creates a new run.
type PipelineRun struct {
	ID          string          `json:"id"`
	PostID      int64           `json:"post_id"`
	Stages      []StageResult   `json:"stages"`
	Success     bool            `json:"success"`
	Suitable    bool            `json:"suitable"`
	Error       string          `json:"error,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	TotalTokens int             `json:"total_tokens"`
	TotalCost   float64         `json:"total_cost"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
}

// StageResultFor returns the result for the named stage, if present.
func (r *PipelineRun) StageResultFor(stage Stage) (StageResult, bool) {
	for _, sr := range r.Stages {
		if sr.Stage == stage {
			return sr, true
		}
	}
	return StageResult{}, false
}
