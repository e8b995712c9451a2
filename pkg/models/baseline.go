package models

import "time"

// BaselineStatus reflects how trustworthy a channel baseline is.
type BaselineStatus string

const (
	// BaselineLearning means the trimmed sample is below the configured
	// minimum; stats are provisional and must not gate classification.
	BaselineLearning BaselineStatus = "learning"
	// BaselineReady means the baseline has enough samples to classify against.
	BaselineReady BaselineStatus = "ready"
	// BaselineOutdated means the baseline aged past its recalculation
	// deadline; consumers should trigger a recalculation.
	BaselineOutdated BaselineStatus = "outdated"
)

// ChannelBaseline is the per-channel statistical summary of engagement rate
// over the calculation window. Each recalculation fully replaces the record.
type ChannelBaseline struct {
	ChannelID     int64 `json:"channel_id"`
	PostsAnalyzed int   `json:"posts_analyzed"`

	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"std_dev"`
	P75    float64 `json:"p75"`
	P95    float64 `json:"p95"`
	Max    float64 `json:"max"`

	Status                BaselineStatus `json:"status"`
	CalculationPeriodDays int            `json:"calculation_period_days"`
	MinPostsForBaseline   int            `json:"min_posts_for_baseline"`

	LastCalculated  time.Time `json:"last_calculated"`
	NextCalculation time.Time `json:"next_calculation"`
}

// Ready reports whether the baseline can back a viral classification.
func (b ChannelBaseline) Ready() bool {
	return b.Status == BaselineReady
}
