package fusion

import "encoding/json"

// FusedObject is the outbound representation of one tracked object.
type FusedObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	AngleDeg   float64 `json:"angle_deg"`
	DistanceMM float64 `json:"distance_mm"`
	Area       float64 `json:"area"`
	Timestamp  int64   `json:"timestamp"`
}

// ObjectsMessage is the fused-object feed payload. Forced marks an
// event-driven publish as opposed to a heartbeat.
type ObjectsMessage struct {
	Type      string        `json:"type"`
	Timestamp int64         `json:"timestamp"`
	Objects   []FusedObject `json:"objects"`
	Forced    bool          `json:"forced"`
}

// Scheduler decides when the registry contents go out. A cycle that produced
// correlation updates publishes immediately; otherwise a heartbeat fires once
// per force interval. An empty registry never publishes.
type Scheduler struct {
	forceIntervalMS int64
	lastPublishMS   int64
}

func NewScheduler(forceIntervalMS int64) *Scheduler {
	return &Scheduler{forceIntervalMS: forceIntervalMS}
}

// Decide reports whether to publish this cycle and whether the publish is
// forced (event-driven). On a publish decision the heartbeat clock resets.
func (s *Scheduler) Decide(updates, registryLen int, nowMS int64) (publish, forced bool) {
	if registryLen == 0 {
		return false, false
	}
	forced = updates > 0
	if !forced && nowMS-s.lastPublishMS < s.forceIntervalMS {
		return false, false
	}
	s.lastPublishMS = nowMS
	return true, forced
}

// BuildObjectsMessage serializes the full current registry contents, not just
// the cycle's deltas, so every message is an authoritative snapshot.
func BuildObjectsMessage(reg *Registry, nowMS int64, forced bool) ObjectsMessage {
	snapshot := reg.Snapshot()
	objs := make([]FusedObject, 0, len(snapshot))
	for _, o := range snapshot {
		objs = append(objs, FusedObject{
			Label:      o.Label,
			Confidence: o.Confidence,
			AngleDeg:   o.AngleDeg,
			DistanceMM: o.DistanceMM,
			Area:       o.Area,
			Timestamp:  o.LastUpdateMS,
		})
	}
	return ObjectsMessage{Type: "OBJECTS", Timestamp: nowMS, Objects: objs, Forced: forced}
}

// EncodeObjectsMessage renders the message as JSON for the wire.
func EncodeObjectsMessage(msg ObjectsMessage) ([]byte, error) {
	return json.Marshal(msg)
}
