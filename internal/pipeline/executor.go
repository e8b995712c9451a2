package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sirupsen/logrus"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/llm"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// RetryConfig is an explicit, caller-supplied retry policy for stage calls.
// The zero value disables retries entirely.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Executor runs a single pipeline stage against the text-generation backend.
// It is shared by the orchestrator and the sandbox so both produce identical
// stage semantics.
type Executor struct {
	client *llm.Client
	retry  *retrypolicy.RetryPolicy[*llm.Result]
	logger logrus.FieldLogger
}

func NewExecutor(client *llm.Client, retry RetryConfig, logger logrus.FieldLogger) *Executor {
	e := &Executor{client: client, logger: logger}
	if retry.MaxRetries > 0 {
		base := retry.BaseDelay
		if base <= 0 {
			base = 500 * time.Millisecond
		}
		maxDelay := retry.MaxDelay
		if maxDelay <= 0 {
			maxDelay = 10 * time.Second
		}
		policy := retrypolicy.NewBuilder[*llm.Result]().
			WithBackoff(base, maxDelay).
			WithMaxRetries(retry.MaxRetries).
			WithJitterFactor(0.1).
			Build()
		e.retry = &policy
	}
	return e
}

// StageExecution captures everything one stage call produced, including the
// prompts sent, so callers can log or replay the exchange.
type StageExecution struct {
	Stage    models.Stage
	Messages []llm.Message
	Result   *llm.Result
	Payload  json.RawMessage
}

// ExecuteStage builds the stage prompt, invokes the model with the stage's
// timeout, and validates the response payload. On error the returned
// execution still carries whatever was produced before the failure.
func (e *Executor) ExecuteStage(ctx context.Context, stage models.Stage, cfg models.StageModelConfig, post models.Post, data map[models.Stage]json.RawMessage) (*StageExecution, error) {
	exec := &StageExecution{Stage: stage}

	messages, err := buildStageMessages(stage, post, data)
	if err != nil {
		return exec, err
	}
	exec.Messages = messages

	req := llm.Request{
		Messages:    messages,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}

	callCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	result, err := e.generate(callCtx, req)
	if err != nil {
		return exec, err
	}
	exec.Result = result

	payload, err := parseStageResponse(stage, result.Text)
	if err != nil {
		return exec, err
	}
	exec.Payload = payload
	return exec, nil
}

func (e *Executor) generate(ctx context.Context, req llm.Request) (*llm.Result, error) {
	if e.retry == nil {
		return e.client.Generate(ctx, req)
	}
	return failsafe.With(*e.retry).WithContext(ctx).Get(func() (*llm.Result, error) {
		return e.client.Generate(ctx, req)
	})
}
