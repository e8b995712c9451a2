package baseline

import (
	"math"
	"sort"
)

// sampleStats summarizes an engagement-rate sample.
type sampleStats struct {
	Mean   float64
	Median float64
	StdDev float64
	P75    float64
	P95    float64
	Max    float64
}

func computeStats(values []float64) sampleStats {
	if len(values) == 0 {
		return sampleStats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))

	var sqDiff float64
	for _, v := range sorted {
		d := v - mean
		sqDiff += d * d
	}

	return sampleStats{
		Mean:   mean,
		Median: percentileSorted(sorted, 50),
		StdDev: math.Sqrt(sqDiff / float64(len(sorted))),
		P75:    percentileSorted(sorted, 75),
		P95:    percentileSorted(sorted, 95),
		Max:    sorted[len(sorted)-1],
	}
}

// percentileSorted interpolates linearly between closest ranks. The input
// must already be sorted ascending.
func percentileSorted(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := pct / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// trimOutliers drops values strictly above the given percentile of the
// sample so a single runaway post cannot inflate the channel norm.
func trimOutliers(values []float64, pct float64) []float64 {
	if len(values) == 0 || pct <= 0 || pct >= 100 {
		return values
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	cutoff := percentileSorted(sorted, pct)

	trimmed := make([]float64, 0, len(values))
	for _, v := range values {
		if v <= cutoff {
			trimmed = append(trimmed, v)
		}
	}
	return trimmed
}
