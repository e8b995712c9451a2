package scoring

import (
	"math"

	"github.com/MrUversky/ReAIboot-Telegram-Analytics-sub000/pkg/models"
)

// Inputs carries everything a single scoring computation depends on. The
// views floor is the absolute view count resolved from the channel window's
// min_views_percentile; a zero floor disables the views gate.
type Inputs struct {
	Baseline    models.ChannelBaseline
	Weights     models.ScoringWeights
	Thresholds  models.ViralThresholds
	Composition models.ScoreComposition
	ViewsFloor  float64
}

// ComputeMetrics derives the viral fields for one post. It is pure:
// identical inputs always produce identical outputs, which is what makes
// batch recomputation idempotent.
func ComputeMetrics(post models.Post, in Inputs) models.ViralMetrics {
	er := post.WeightedEngagementRate(in.Weights)

	// Degenerate baselines fall back to neutral values instead of faulting.
	zscore := 0.0
	if in.Baseline.StdDev != 0 {
		zscore = (er - in.Baseline.Mean) / in.Baseline.StdDev
	}
	medianMultiplier := 1.0
	if in.Baseline.Median != 0 {
		medianMultiplier = er / in.Baseline.Median
	}

	c := in.Composition
	score := c.ZScoreWeight*clamp(math.Abs(zscore)/c.ZScoreNorm, 0, c.ZScoreCap) +
		c.MedianWeight*clamp(math.Max(medianMultiplier-1, 0), 0, c.MedianCap) +
		c.ViewsWeight*clamp(float64(post.Views)/c.ViewsScale, 0, 1)

	th := in.Thresholds
	isViral := in.Baseline.Ready() &&
		score >= th.MinViralScore &&
		zscore >= th.MinZScore &&
		medianMultiplier >= th.MinMedianMultiplier &&
		float64(post.Views) >= in.ViewsFloor

	return models.ViralMetrics{
		EngagementRate:   er,
		ZScore:           zscore,
		MedianMultiplier: medianMultiplier,
		ViralScore:       score,
		IsViral:          isViral,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
