package models

import "time"

// Post is a scraped channel post. Raw counters come from the ingester; the
// derived viral fields are owned exclusively by the scoring service and are
// recomputable from (counters, baseline, weights) at any time.
type Post struct {
	ID        int64     `json:"id"`
	ChannelID int64     `json:"channel_id"`
	MessageID int64     `json:"message_id"`
	Text      string    `json:"text"`
	PostedAt  time.Time `json:"posted_at"`

	// Raw engagement counters
	Views     int64 `json:"views"`
	Forwards  int64 `json:"forwards"`
	Reactions int64 `json:"reactions"`
	Replies   int64 `json:"replies"`

	// Derived viral fields
	EngagementRate       float64    `json:"engagement_rate"`
	ZScore               float64    `json:"zscore"`
	MedianMultiplier     float64    `json:"median_multiplier"`
	ViralScore           float64    `json:"viral_score"`
	IsViral              bool       `json:"is_viral"`
	LastViralCalculation *time.Time `json:"last_viral_calculation,omitempty"`
}

// WeightedEngagementRate folds the raw counters into a single rate. A zero
// view count is treated as one so fresh posts never divide by zero.
func (p Post) WeightedEngagementRate(w ScoringWeights) float64 {
	views := float64(p.Views)
	if views < 1 {
		views = 1
	}
	weighted := float64(p.Forwards)*w.ForwardRate +
		float64(p.Reactions)*w.ReactionRate +
		float64(p.Replies)*w.ReplyRate
	return weighted / views
}

// ViralMetrics is the scorer's output for one post.
type ViralMetrics struct {
	EngagementRate   float64 `json:"engagement_rate"`
	ZScore           float64 `json:"zscore"`
	MedianMultiplier float64 `json:"median_multiplier"`
	ViralScore       float64 `json:"viral_score"`
	IsViral          bool    `json:"is_viral"`
}
