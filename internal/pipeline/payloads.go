package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// FilterResult is the filter stage's verdict on a post.
type FilterResult struct {
	Suitable bool    `json:"suitable"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// AnalysisResult explains why a post performed the way it did.
type AnalysisResult struct {
	Summary        string   `json:"summary"`
	SuccessFactors []string `json:"success_factors"`
	Audience       string   `json:"audience"`
	Tone           string   `json:"tone"`
}

// RubricMatch pairs a content rubric with a format suggestion.
type RubricMatch struct {
	Rubric string `json:"rubric"`
	Format string `json:"format"`
	Reason string `json:"reason"`
}

// RubricSelectionResult is the rubric-selection stage output.
type RubricSelectionResult struct {
	Matches []RubricMatch `json:"matches"`
}

// GeneratedPost is one produced content draft.
type GeneratedPost struct {
	Rubric string `json:"rubric"`
	Title  string `json:"title"`
	Hook   string `json:"hook"`
	Body   string `json:"body"`
	CTA    string `json:"cta"`
}

// GenerationResult is the generation stage output.
type GenerationResult struct {
	Posts []GeneratedPost `json:"posts"`
}

// DecodeStagePayload validates a raw payload against the stage's schema.
// It is the boundary check between stages: a stage never consumes upstream
// data that does not decode into the expected shape.
func DecodeStagePayload(stage models.Stage, raw json.RawMessage) (any, error) {
	decode := func(dst any) (any, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("stage %s payload: %w", stage, err)
		}
		return dst, nil
	}
	switch stage {
	case models.StageFilter:
		return decode(&FilterResult{})
	case models.StageAnalysis:
		return decode(&AnalysisResult{})
	case models.StageRubricSelection:
		return decode(&RubricSelectionResult{})
	case models.StageGeneration:
		return decode(&GenerationResult{})
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}
}

// parseStageResponse extracts the stage payload from raw model output. The
// model is instructed to answer with a single JSON object; anything else is
// a stage failure.
func parseStageResponse(stage models.Stage, text string) (json.RawMessage, error) {
	raw := json.RawMessage(extractJSONObject(text))
	if _, err := DecodeStagePayload(stage, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// extractJSONObject trims everything outside the outermost braces. Models
// occasionally wrap the object in markdown fences or prose.
func extractJSONObject(text string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			if start >= 0 {
				inString = !inString
			}
		case '{':
			if !inString {
				if start < 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && start >= 0 {
				depth--
				if depth == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return text
}
