package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/llm"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

const (
	filterSystemPrompt = `You screen Telegram posts for a content marketing team.
Decide whether the post is worth adapting into new content.
Answer with a single JSON object: {"suitable": bool, "score": number 0-1, "reason": string}.`

	analysisSystemPrompt = `You analyze why a Telegram post resonated with its audience.
Answer with a single JSON object:
{"summary": string, "success_factors": [string], "audience": string, "tone": string}.`

	rubricSystemPrompt = `You match analyzed posts to content rubrics for adaptation.
Answer with a single JSON object:
{"matches": [{"rubric": string, "format": string, "reason": string}]}.`

	generationSystemPrompt = `You write Telegram post drafts from an analysis and selected rubrics.
Answer with a single JSON object:
{"posts": [{"rubric": string, "title": string, "hook": string, "body": string, "cta": string}]}.`
)

// buildStageMessages assembles the chat turns for one stage. Later stages
// see the accumulated outputs of the stages before them.
func buildStageMessages(stage models.Stage, post models.Post, data map[models.Stage]json.RawMessage) ([]llm.Message, error) {
	var system string
	var user strings.Builder

	fmt.Fprintf(&user, "Post (views=%d, forwards=%d, reactions=%d, replies=%d):\n%s\n",
		post.Views, post.Forwards, post.Reactions, post.Replies, post.Text)

	appendUpstream := func(label string, from models.Stage) error {
		raw, ok := data[from]
		if !ok {
			return fmt.Errorf("stage %s requires %s output", stage, from)
		}
		fmt.Fprintf(&user, "\n%s:\n%s\n", label, raw)
		return nil
	}

	switch stage {
	case models.StageFilter:
		system = filterSystemPrompt
	case models.StageAnalysis:
		system = analysisSystemPrompt
	case models.StageRubricSelection:
		system = rubricSystemPrompt
		if err := appendUpstream("Analysis", models.StageAnalysis); err != nil {
			return nil, err
		}
	case models.StageGeneration:
		system = generationSystemPrompt
		if err := appendUpstream("Analysis", models.StageAnalysis); err != nil {
			return nil, err
		}
		if err := appendUpstream("Selected rubrics", models.StageRubricSelection); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown stage %q", stage)
	}

	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user.String()},
	}, nil
}
