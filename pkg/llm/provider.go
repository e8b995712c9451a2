package llm

import (
	"context"
	"time"
)

// Message is one turn of a chat-style completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single text-generation call. Model, Temperature and
// MaxTokens are required by the caller; providers do not apply hidden defaults
// so that identical requests behave identically across stages.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Completion is the result of a text-generation call, with token usage as
// reported by the provider.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// TotalTokens returns input plus output tokens.
func (c Completion) TotalTokens() int {
	return c.InputTokens + c.OutputTokens
}

// Provider is a text-generation backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Result wraps a Completion with the derived cost and observed latency.
type Result struct {
	Completion
	Cost    float64
	Latency time.Duration
}

// Client pairs a provider with a pricing table so every call yields
// text, tokens, cost and latency in one result.
type Client struct {
	provider Provider
	pricing  Pricing
}

// NewClient creates a client around the given provider. A zero Pricing
// falls back to DefaultPricing.
func NewClient(provider Provider, pricing Pricing) *Client {
	if len(pricing.Models) == 0 {
		pricing = DefaultPricing()
	}
	return &Client{provider: provider, pricing: pricing}
}

// Provider returns the wrapped provider.
func (c *Client) Provider() Provider {
	return c.provider
}

// Generate performs one completion call, measuring latency and pricing the
// reported token usage.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	completion, err := c.provider.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{
		Completion: *completion,
		Cost:       c.pricing.Cost(completion.Model, completion.InputTokens, completion.OutputTokens),
		Latency:    time.Since(start),
	}, nil
}
