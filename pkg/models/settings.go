package models

import (
	"time"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/llm"
)

// ScoringWeights weight raw counters when computing engagement rate.
type ScoringWeights struct {
	ForwardRate  float64 `json:"forward_rate"`
	ReactionRate float64 `json:"reaction_rate"`
	ReplyRate    float64 `json:"reply_rate"`
}

// ViralThresholds gate the binary is_viral classification.
type ViralThresholds struct {
	MinViralScore       float64 `json:"min_viral_score"`
	MinZScore           float64 `json:"min_zscore"`
	MinMedianMultiplier float64 `json:"min_median_multiplier"`
	// MinViewsPercentile is the percentile (0-100) of the channel window's
	// view counts a post must reach. The resolved absolute floor is supplied
	// to the scorer alongside these thresholds.
	MinViewsPercentile float64 `json:"min_views_percentile"`
}

// ScoreComposition holds the composite viral-score weighting constants.
// The constants are empirically chosen, so they live in settings rather
// than code.
type ScoreComposition struct {
	ZScoreWeight float64 `json:"zscore_weight"`
	MedianWeight float64 `json:"median_weight"`
	ViewsWeight  float64 `json:"views_weight"`
	ZScoreNorm   float64 `json:"zscore_norm"`
	ZScoreCap    float64 `json:"zscore_cap"`
	MedianCap    float64 `json:"median_cap"`
	ViewsScale   float64 `json:"views_scale"`
}

// BaselineConfig controls baseline computation and refresh cadence.
type BaselineConfig struct {
	CalculationPeriodDays    int           `json:"calculation_period_days"`
	MinPostsForBaseline      int           `json:"min_posts_for_baseline"`
	OutlierRemovalPercentile float64       `json:"outlier_removal_percentile"`
	RecalculationInterval    time.Duration `json:"recalculation_interval"`
}

// StageModelConfig is the model configuration for one pipeline stage.
type StageModelConfig struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
}

// StageOverride selectively overrides a stage's model config for one
// invocation. Nil fields keep the snapshot's value.
type StageOverride struct {
	Model       *string        `json:"model,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Timeout     *time.Duration `json:"timeout,omitempty"`
}

// Apply merges the override into a copy of the config.
func (o StageOverride) Apply(cfg StageModelConfig) StageModelConfig {
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		cfg.MaxTokens = *o.MaxTokens
	}
	if o.Timeout != nil {
		cfg.Timeout = *o.Timeout
	}
	return cfg
}

// SettingsSnapshot is an immutable view of all tunable settings, taken once
// at the start of each baseline/scoring/pipeline invocation so a mid-flight
// settings change never affects an in-progress computation.
type SettingsSnapshot struct {
	Version     int                        `json:"version"`
	Weights     ScoringWeights             `json:"weights"`
	Thresholds  ViralThresholds            `json:"thresholds"`
	Composition ScoreComposition           `json:"composition"`
	Baseline    BaselineConfig             `json:"baseline"`
	Stages      map[Stage]StageModelConfig `json:"stages"`
	Pricing     llm.Pricing                `json:"pricing"`
	TakenAt     time.Time                  `json:"taken_at"`
}
