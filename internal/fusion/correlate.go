package fusion

import "math"

// Correlator matches camera detections against the current bucket index and
// upserts confirmed objects into the registry.
type Correlator struct {
	params Params
}

func NewCorrelator(p Params) *Correlator {
	return &Correlator{params: p}
}

// Correlate processes one detection batch against the index and returns the
// number of registry updates. Detections the range finder cannot confirm
// within tolerance are dropped rather than given an invented distance.
func (c *Correlator) Correlate(dets []Detection, idx BucketIndex, reg *Registry, nowMS int64) int {
	updated := 0
	for _, d := range dets {
		dist, ok := c.match(d.AngleDeg, idx)
		if !ok {
			continue
		}
		reg.Upsert(d, dist, nowMS)
		updated++
	}
	return updated
}

// match finds the range for a detection angle. The detection's own bucket is
// an immediate hit; otherwise the two adjacent buckets are scanned and the
// smaller angle difference wins. The tolerance is always measured against
// the detection's unquantized angle, never the bucket centre. Neighbours are
// checked in ascending bucket order, so an exact tie goes to the lower
// bucket.
func (c *Correlator) match(angleDeg float64, idx BucketIndex) (float64, bool) {
	bucket := BucketFor(angleDeg, c.params.BucketSizeDeg)
	if dist, ok := idx[bucket]; ok {
		return dist, true
	}

	step := int(c.params.BucketSizeDeg)
	bestDiff := math.MaxFloat64
	bestDist := -1.0
	for _, neighbor := range [2]int{bucket - step, bucket + step} {
		dist, ok := idx[neighbor]
		if !ok {
			continue
		}
		diff := math.Abs(angleDeg - float64(neighbor))
		if diff < bestDiff {
			bestDiff = diff
			bestDist = dist
		}
	}
	if bestDist < 0 || bestDiff > c.params.MaxAngleDiffDeg {
		return 0, false
	}
	return bestDist, true
}
