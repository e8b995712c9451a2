package models

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a sandbox session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAborted   SessionStatus = "aborted"
)

// SandboxSession is a pausable, editable replay of a pipeline run used for
// debugging and prompt tuning. Steps mirror the pipeline stage order.
type SandboxSession struct {
	ID             string                     `json:"id"`
	PostID         int64                      `json:"post_id"`
	Status         SessionStatus              `json:"status"`
	Steps          []Stage                    `json:"steps"`
	CompletedSteps []Stage                    `json:"completed_steps"`
	PendingSteps   []Stage                    `json:"pending_steps"`
	CurrentData    map[Stage]json.RawMessage  `json:"current_data"`
	Error          string                     `json:"error,omitempty"`
	CreatedAt      time.Time                  `json:"created_at"`
	UpdatedAt      time.Time                  `json:"updated_at"`
	ExpiresAt      time.Time                  `json:"expires_at"`
}

// NextStep returns the next pending step, or false when none remain.
func (s *SandboxSession) NextStep() (Stage, bool) {
	if len(s.PendingSteps) == 0 {
		return "", false
	}
	return s.PendingSteps[0], true
}

// StepExecuted reports whether the given step has already completed.
func (s *SandboxSession) StepExecuted(step Stage) bool {
	for _, done := range s.CompletedSteps {
		if done == step {
			return true
		}
	}
	return false
}

// DebugLogType classifies a debug log entry.
type DebugLogType string

const (
	DebugLogInfo        DebugLogType = "info"
	DebugLogPrompts     DebugLogType = "prompts"
	DebugLogLLMResponse DebugLogType = "llm_response"
	DebugLogError       DebugLogType = "error"
	DebugLogWarning     DebugLogType = "warning"
)

// DebugLogEntry is one append-only record in a session's debug log.
type DebugLogEntry struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Step      Stage           `json:"step,omitempty"`
	Type      DebugLogType    `json:"type"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// DebugLogFilter narrows a debug log query.
type DebugLogFilter struct {
	Types []DebugLogType `json:"types,omitempty"`
	Step  Stage          `json:"step,omitempty"`
	Limit int            `json:"limit,omitempty"`
}
