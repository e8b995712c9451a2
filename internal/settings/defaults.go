package settings

import (
	"time"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/llm"
	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// Settings keys. Values are JSON documents in the settings table; any key
// missing from the store falls back to the compiled default below.
const (
	KeyScoringWeights   = "scoring.weights"
	KeyViralThresholds  = "scoring.thresholds"
	KeyScoreComposition = "scoring.composition"
	KeyBaselineConfig   = "baseline.config"
	KeyStageConfigs     = "pipeline.stages"
	KeyModelPricing     = "llm.pricing"
)

// DefaultWeights mirror the classic forward-heavy engagement weighting.
func DefaultWeights() models.ScoringWeights {
	return models.ScoringWeights{
		ForwardRate:  0.5,
		ReactionRate: 0.3,
		ReplyRate:    0.2,
	}
}

func DefaultThresholds() models.ViralThresholds {
	return models.ViralThresholds{
		MinViralScore:       1.0,
		MinZScore:           1.5,
		MinMedianMultiplier: 2.0,
		MinViewsPercentile:  25,
	}
}

// DefaultComposition holds the empirically chosen composite constants. They
// are settings, not code, so they can be tuned against observed channels.
func DefaultComposition() models.ScoreComposition {
	return models.ScoreComposition{
		ZScoreWeight: 0.4,
		MedianWeight: 0.4,
		ViewsWeight:  0.2,
		ZScoreNorm:   3.0,
		ZScoreCap:    5.0,
		MedianCap:    4.0,
		ViewsScale:   100000,
	}
}

func DefaultBaselineConfig() models.BaselineConfig {
	return models.BaselineConfig{
		CalculationPeriodDays:    30,
		MinPostsForBaseline:      10,
		OutlierRemovalPercentile: 95,
		RecalculationInterval:    24 * time.Hour,
	}
}

func DefaultStageConfigs() map[models.Stage]models.StageModelConfig {
	return map[models.Stage]models.StageModelConfig{
		models.StageFilter: {
			Model:       "gpt-4o-mini",
			Temperature: 0.1,
			MaxTokens:   500,
			Timeout:     30 * time.Second,
		},
		models.StageAnalysis: {
			Model:       "gpt-4o",
			Temperature: 0.3,
			MaxTokens:   2000,
			Timeout:     60 * time.Second,
		},
		models.StageRubricSelection: {
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   1000,
			Timeout:     30 * time.Second,
		},
		models.StageGeneration: {
			Model:       "claude-sonnet-4-20250514",
			Temperature: 0.7,
			MaxTokens:   3000,
			Timeout:     90 * time.Second,
		},
	}
}

// defaultDocument maps a settings key to its compiled default value.
func defaultDocument(key string) (any, bool) {
	switch key {
	case KeyScoringWeights:
		return DefaultWeights(), true
	case KeyViralThresholds:
		return DefaultThresholds(), true
	case KeyScoreComposition:
		return DefaultComposition(), true
	case KeyBaselineConfig:
		return DefaultBaselineConfig(), true
	case KeyStageConfigs:
		return DefaultStageConfigs(), true
	case KeyModelPricing:
		return llm.DefaultPricing(), true
	default:
		return nil, false
	}
}

func defaultSnapshot() models.SettingsSnapshot {
	return models.SettingsSnapshot{
		Weights:     DefaultWeights(),
		Thresholds:  DefaultThresholds(),
		Composition: DefaultComposition(),
		Baseline:    DefaultBaselineConfig(),
		Stages:      DefaultStageConfigs(),
		Pricing:     llm.DefaultPricing(),
	}
}
