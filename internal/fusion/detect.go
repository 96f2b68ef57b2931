package fusion

import "encoding/json"

// Detection is one camera detection event. Absent fields default to their
// zero values rather than rejecting the batch; the vision producer is
// best-effort and its schema has drifted before.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	AngleDeg   float64 `json:"angle_deg"`
	Area       float64 `json:"area"`
}

type detectionBatch struct {
	Detections []Detection `json:"detections"`
}

// DecodeDetections decodes one inbound detection-batch message. Malformed
// payloads and payloads without a detections array yield zero events; a bad
// message from the producer must never halt the fusion loop.
func DecodeDetections(payload []byte) []Detection {
	var batch detectionBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil
	}
	return batch.Detections
}
