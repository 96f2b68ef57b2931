// Package fusion correlates range-finder sweeps with camera detections and
// maintains a time-windowed registry of fused objects.
package fusion

import (
	"fmt"
	"math"
)

// RangeSample is one raw reading from the range finder, already converted to
// millimetres but still in the hardware angle frame (clockwise degrees from
// the front of the unit).
type RangeSample struct {
	AngleDeg   float64
	DistanceMM float64
}

// BucketIndex maps a quantized bucket angle (integer degrees, a multiple of
// the configured bucket size) to the closest distance observed in that bucket
// during the current sweep. It is rebuilt wholesale every sweep so stale
// buckets never survive a cycle.
type BucketIndex map[int]float64

// Params holds the fusion tuning parameters. See config.FusionConfig for the
// JSON-loadable form with defaults.
type Params struct {
	BucketSizeDeg   float64 // angular bin width, whole degrees
	MaxAngleDiffDeg float64 // correlation tolerance
	MinDistanceMM   float64 // near-field noise gate
	MaxDistanceMM   float64 // far-field reliability gate
	MaxObjectAgeMS  int64   // registry TTL
	ForceIntervalMS int64   // heartbeat publish interval
}

// DefaultParams returns the tuning used on the rover: 1 degree buckets, 10
// degree correlation tolerance, a 100mm-3000mm usable range, 500ms object
// TTL and a 1s publish heartbeat.
func DefaultParams() Params {
	return Params{
		BucketSizeDeg:   1.0,
		MaxAngleDiffDeg: 10.0,
		MinDistanceMM:   100,
		MaxDistanceMM:   3000,
		MaxObjectAgeMS:  500,
		ForceIntervalMS: 1000,
	}
}

// Validate checks the parameter ranges. Bucket size must be a positive whole
// number of degrees because bucket keys are integer angles.
func (p Params) Validate() error {
	if p.BucketSizeDeg <= 0 || p.BucketSizeDeg != math.Trunc(p.BucketSizeDeg) {
		return fmt.Errorf("bucket size must be a positive whole number of degrees, got %v", p.BucketSizeDeg)
	}
	if p.MaxAngleDiffDeg < 0 {
		return fmt.Errorf("max angle diff must be non-negative, got %v", p.MaxAngleDiffDeg)
	}
	if p.MinDistanceMM < 0 || p.MaxDistanceMM < p.MinDistanceMM {
		return fmt.Errorf("invalid distance gate [%v, %v]", p.MinDistanceMM, p.MaxDistanceMM)
	}
	if p.MaxObjectAgeMS <= 0 {
		return fmt.Errorf("object TTL must be positive, got %dms", p.MaxObjectAgeMS)
	}
	if p.ForceIntervalMS <= 0 {
		return fmt.Errorf("force interval must be positive, got %dms", p.ForceIntervalMS)
	}
	return nil
}

// NormalizeAngle converts a hardware-frame angle to the external convention:
// the sweep direction is flipped and the result wrapped into (-180, 180].
func NormalizeAngle(rawDeg float64) float64 {
	a := -rawDeg
	for a <= -180 {
		a += 360
	}
	for a > 180 {
		a -= 360
	}
	return a
}

// BucketFor quantizes an angle to the nearest multiple of sizeDeg.
func BucketFor(angleDeg, sizeDeg float64) int {
	return int(math.Round(angleDeg/sizeDeg)) * int(sizeDeg)
}

// Downsample builds a fresh BucketIndex from one raw sweep. Samples outside
// the front hemisphere or the configured distance gate are rejected; within a
// bucket the minimum distance wins, so a partially occluding near obstacle
// dominates whatever sits behind it. Single linear pass over the sweep.
func Downsample(samples []RangeSample, p Params) BucketIndex {
	idx := make(BucketIndex)
	for _, s := range samples {
		angle := NormalizeAngle(s.AngleDeg)
		if angle < -90 || angle > 90 {
			continue
		}
		if s.DistanceMM < p.MinDistanceMM || s.DistanceMM > p.MaxDistanceMM {
			continue
		}
		bucket := BucketFor(angle, p.BucketSizeDeg)
		if prev, ok := idx[bucket]; !ok || s.DistanceMM < prev {
			idx[bucket] = s.DistanceMM
		}
	}
	return idx
}
