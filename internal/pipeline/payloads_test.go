package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"markdown fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", `Sure! Here it is: {"a": 1}. Hope that helps.`, `{"a": 1}`},
		{"nested braces", `{"a": {"b": 2}}`, `{"a": {"b": 2}}`},
		{"brace inside string", `{"a": "x } y"}`, `{"a": "x } y"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSONObject(tt.in))
		})
	}
}

func TestDecodeStagePayload(t *testing.T) {
	raw := json.RawMessage(`{"suitable": true, "score": 0.7, "reason": "ok"}`)
	v, err := DecodeStagePayload(models.StageFilter, raw)
	require.NoError(t, err)
	verdict, ok := v.(*FilterResult)
	require.True(t, ok)
	assert.True(t, verdict.Suitable)

	_, err = DecodeStagePayload(models.StageFilter, json.RawMessage(`[1,2]`))
	assert.Error(t, err)

	_, err = DecodeStagePayload(models.Stage("unknown"), raw)
	assert.Error(t, err)
}

func TestParseStageResponse_FencedOutput(t *testing.T) {
	text := "```json\n" + analysisResponse + "\n```"
	raw, err := parseStageResponse(models.StageAnalysis, text)
	require.NoError(t, err)

	var analysis AnalysisResult
	require.NoError(t, json.Unmarshal(raw, &analysis))
	assert.Equal(t, "relatable story", analysis.Summary)
}

func TestBuildStageMessages_RequiresUpstreamData(t *testing.T) {
	post := models.Post{Text: "hello"}

	_, err := buildStageMessages(models.StageGeneration, post, nil)
	assert.Error(t, err)

	data := map[models.Stage]json.RawMessage{
		models.StageAnalysis:        json.RawMessage(analysisResponse),
		models.StageRubricSelection: json.RawMessage(rubricResponse),
	}
	msgs, err := buildStageMessages(models.StageGeneration, post, data)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[1].Content, "relatable story")
	assert.Contains(t, msgs[1].Content, "case_study")
}
