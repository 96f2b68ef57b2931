package fusion

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// SweepStats summarizes one downsampled sweep for the periodic stats log and
// the flight recorder.
type SweepStats struct {
	Samples  int // raw samples in the sweep
	Buckets  int // buckets surviving the filter
	MinMM    float64
	MeanMM   float64
	MedianMM float64
	MaxMM    float64
}

// ComputeSweepStats derives distance statistics from the current index.
func ComputeSweepStats(rawSamples int, idx BucketIndex) SweepStats {
	s := SweepStats{Samples: rawSamples, Buckets: len(idx)}
	if len(idx) == 0 {
		return s
	}
	dists := make([]float64, 0, len(idx))
	for _, d := range idx {
		dists = append(dists, d)
	}
	sort.Float64s(dists)
	s.MinMM = dists[0]
	s.MaxMM = dists[len(dists)-1]
	s.MeanMM = stat.Mean(dists, nil)
	s.MedianMM = stat.Quantile(0.5, stat.Empirical, dists, nil)
	return s
}
