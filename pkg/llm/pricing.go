package llm

import "strings"

// ModelRate holds per-1K-token USD rates for one model.
type ModelRate struct {
	InputPer1K  float64 `json:"input_per_1k"`
	OutputPer1K float64 `json:"output_per_1k"`
}

// Pricing maps model names to token rates. Lookup falls back to prefix
// matching so dated model aliases (gpt-4o-2024-08-06) price like their base.
type Pricing struct {
	Models map[string]ModelRate `json:"models"`
}

// DefaultPricing returns the built-in rate table. Overridable through the
// settings store so price changes never require a deploy.
func DefaultPricing() Pricing {
	return Pricing{Models: map[string]ModelRate{
		"gpt-4o":                   {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":              {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"claude-sonnet-4-20250514": {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-5-haiku-latest":  {InputPer1K: 0.0008, OutputPer1K: 0.004},
	}}
}

// Cost prices a call. Unknown models cost zero rather than erroring; cost
// accounting must never fail a generation.
func (p Pricing) Cost(model string, inputTokens, outputTokens int) float64 {
	rate, ok := p.rateFor(model)
	if !ok {
		return 0
	}
	return float64(inputTokens)/1000*rate.InputPer1K + float64(outputTokens)/1000*rate.OutputPer1K
}

func (p Pricing) rateFor(model string) (ModelRate, bool) {
	if rate, ok := p.Models[model]; ok {
		return rate, true
	}
	var (
		best    string
		bestOK  bool
		bestLen int
	)
	for name := range p.Models {
		if strings.HasPrefix(model, name) && len(name) > bestLen {
			best, bestOK, bestLen = name, true, len(name)
		}
	}
	if bestOK {
		return p.Models[best], true
	}
	return ModelRate{}, false
}
