package fusion

import (
	"fmt"
	"math"
	"sort"
	"sync"
)

// TrackedObject is a fused object with identity persistence: a camera
// detection enriched with the range-finder distance that confirmed it.
type TrackedObject struct {
	Label        string
	Confidence   float64
	AngleDeg     float64
	DistanceMM   float64
	Area         float64
	LastUpdateMS int64
}

// ObjectKey is the registry identity for a detection: its label plus the
// floor of its bearing angle. Two detections of the same label within the
// same whole degree update the same object.
func ObjectKey(label string, angleDeg float64) string {
	return fmt.Sprintf("%s_%d", label, int(math.Floor(angleDeg)))
}

// Registry is the time-windowed store of fused objects. It is mutated only
// by the engine loop; the mutex exists because the HTTP status surface reads
// snapshots from another goroutine.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]*TrackedObject
}

func NewRegistry() *Registry {
	return &Registry{objects: make(map[string]*TrackedObject)}
}

// Upsert creates or overwrites the object for the detection's identity. All
// fields are replaced with the latest match, including angle and distance.
func (r *Registry) Upsert(d Detection, distanceMM float64, nowMS int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[ObjectKey(d.Label, d.AngleDeg)] = &TrackedObject{
		Label:        d.Label,
		Confidence:   d.Confidence,
		AngleDeg:     d.AngleDeg,
		DistanceMM:   distanceMM,
		Area:         d.Area,
		LastUpdateMS: nowMS,
	}
}

// Evict removes every object older than maxAgeMS and returns how many were
// dropped. Runs every cycle, so an object that stops being re-detected
// disappears within one TTL window without an explicit lost event.
func (r *Registry) Evict(nowMS, maxAgeMS int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for key, obj := range r.objects {
		if nowMS-obj.LastUpdateMS > maxAgeMS {
			delete(r.objects, key)
			evicted++
		}
	}
	return evicted
}

// Snapshot returns copies of the current objects ordered by identity key.
func (r *Registry) Snapshot() []TrackedObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.objects))
	for key := range r.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	objs := make([]TrackedObject, 0, len(keys))
	for _, key := range keys {
		objs = append(objs, *r.objects[key])
	}
	return objs
}

// Len returns the number of tracked objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}
