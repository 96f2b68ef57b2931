package fusion_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/fieldrover/fusion/internal/fusion"
	"github.com/fieldrover/fusion/internal/rplidar"
)

type capturePublisher struct {
	msgs [][]byte
}

func (p *capturePublisher) Publish(msg []byte) {
	p.msgs = append(p.msgs, append([]byte(nil), msg...))
}

type queueSubscriber struct {
	payloads [][]byte
}

func (s *queueSubscriber) Poll(time.Duration) []byte {
	if len(s.payloads) == 0 {
		return nil
	}
	payload := s.payloads[0]
	s.payloads = s.payloads[1:]
	return payload
}

// hardwareBearing converts an external bearing into the hardware frame the
// driver reports.
func hardwareBearing(bearing float64) float64 {
	raw := -bearing
	if raw < 0 {
		raw += 360
	}
	return raw
}

func testEngine(t *testing.T, drv fusion.Driver, det *queueSubscriber) (*fusion.Engine, *capturePublisher, *capturePublisher) {
	t.Helper()
	raw := &capturePublisher{}
	obj := &capturePublisher{}
	params := fusion.DefaultParams()
	engine := fusion.NewEngine(fusion.EngineConfig{
		Params:        params,
		Driver:        drv,
		RawScans:      raw,
		Objects:       obj,
		Detections:    det,
		MaxFailures:   2,
		DetectionWait: time.Millisecond,
	})
	return engine, raw, obj
}

func TestCycleFusesDetectionWithSweep(t *testing.T) {
	sweep := []fusion.RangeSample{
		{AngleDeg: hardwareBearing(2), DistanceMM: 1000},
		{AngleDeg: hardwareBearing(-30), DistanceMM: 2500},
	}
	drv := rplidar.NewMockDriver(sweep)
	if err := drv.StartScan(); err != nil {
		t.Fatal(err)
	}

	det := &queueSubscriber{payloads: [][]byte{
		[]byte(`{"detections": [{"label": "person", "confidence": 0.9, "angle_deg": 2.0, "area": 1500}]}`),
	}}
	engine, raw, obj := testEngine(t, drv, det)

	if err := engine.Cycle(time.UnixMilli(10_000)); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if len(raw.msgs) != 1 {
		t.Fatalf("expected 1 raw scan message, got %d", len(raw.msgs))
	}
	idx, err := fusion.ParseScan(raw.msgs[0])
	if err != nil {
		t.Fatalf("raw message unparseable: %v", err)
	}
	if idx[2] != 1000 || idx[-30] != 2500 {
		t.Errorf("raw scan content wrong: %v", idx)
	}

	if len(obj.msgs) != 1 {
		t.Fatalf("expected 1 objects message, got %d", len(obj.msgs))
	}
	var msg fusion.ObjectsMessage
	if err := json.Unmarshal(obj.msgs[0], &msg); err != nil {
		t.Fatalf("objects message unparseable: %v", err)
	}
	if !msg.Forced {
		t.Error("correlation update should force the publish")
	}
	if len(msg.Objects) != 1 || msg.Objects[0].Label != "person" || msg.Objects[0].DistanceMM != 1000 {
		t.Errorf("fused object wrong: %+v", msg.Objects)
	}
}

func TestCycleUnmatchedDetectionPublishesNothing(t *testing.T) {
	sweep := []fusion.RangeSample{{AngleDeg: hardwareBearing(-80), DistanceMM: 1000}}
	drv := rplidar.NewMockDriver(sweep)
	if err := drv.StartScan(); err != nil {
		t.Fatal(err)
	}

	det := &queueSubscriber{payloads: [][]byte{
		[]byte(`{"detections": [{"label": "person", "angle_deg": 45.0}]}`),
	}}
	engine, _, obj := testEngine(t, drv, det)

	if err := engine.Cycle(time.UnixMilli(10_000)); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(obj.msgs) != 0 {
		t.Errorf("empty registry must not publish, got %d messages", len(obj.msgs))
	}
}

func TestCycleEvictsStaleObjects(t *testing.T) {
	sweep := []fusion.RangeSample{{AngleDeg: hardwareBearing(2), DistanceMM: 1000}}
	drv := rplidar.NewMockDriver(sweep)
	if err := drv.StartScan(); err != nil {
		t.Fatal(err)
	}

	det := &queueSubscriber{payloads: [][]byte{
		[]byte(`{"detections": [{"label": "person", "angle_deg": 2.0}]}`),
	}}
	engine, _, _ := testEngine(t, drv, det)

	if err := engine.Cycle(time.UnixMilli(10_000)); err != nil {
		t.Fatal(err)
	}
	if engine.Registry().Len() != 1 {
		t.Fatal("expected one tracked object after correlation")
	}

	// Next cycle well past the TTL with no new detections.
	if err := engine.Cycle(time.UnixMilli(11_000)); err != nil {
		t.Fatal(err)
	}
	if engine.Registry().Len() != 0 {
		t.Error("stale object survived the eviction sweep")
	}
}

func TestCycleHeartbeatPublish(t *testing.T) {
	sweep := []fusion.RangeSample{{AngleDeg: hardwareBearing(2), DistanceMM: 1000}}
	drv := rplidar.NewMockDriver(sweep)
	if err := drv.StartScan(); err != nil {
		t.Fatal(err)
	}

	det := &queueSubscriber{payloads: [][]byte{
		[]byte(`{"detections": [{"label": "person", "angle_deg": 2.0, "confidence": 0.9}]}`),
	}}
	engine, _, obj := testEngine(t, drv, det)

	// Forced publish from the correlation.
	if err := engine.Cycle(time.UnixMilli(10_000)); err != nil {
		t.Fatal(err)
	}
	// Quiet cycle inside both the TTL and the heartbeat interval.
	if err := engine.Cycle(time.UnixMilli(10_200)); err != nil {
		t.Fatal(err)
	}
	if len(obj.msgs) != 1 {
		t.Fatalf("expected only the forced publish so far, got %d", len(obj.msgs))
	}

	// Re-detect to keep the object alive, then let the heartbeat fire.
	det.payloads = [][]byte{[]byte(`{"detections": [{"label": "person", "angle_deg": 2.0}]}`)}
	if err := engine.Cycle(time.UnixMilli(10_400)); err != nil {
		t.Fatal(err)
	}
	if err := engine.Cycle(time.UnixMilli(10_600)); err != nil {
		t.Fatal(err)
	}
	det.payloads = [][]byte{[]byte(`{"detections": [{"label": "person", "angle_deg": 2.0}]}`)}
	if err := engine.Cycle(time.UnixMilli(10_800)); err != nil {
		t.Fatal(err)
	}

	var forcedCount int
	for _, payload := range obj.msgs {
		var msg fusion.ObjectsMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Forced {
			forcedCount++
		}
	}
	if forcedCount != len(obj.msgs) || forcedCount < 2 {
		t.Errorf("expected forced publishes from update cycles, got %d of %d", forcedCount, len(obj.msgs))
	}
}

func TestRawScanToggle(t *testing.T) {
	sweep := []fusion.RangeSample{{AngleDeg: hardwareBearing(0), DistanceMM: 1000}}
	drv := rplidar.NewMockDriver(sweep)
	if err := drv.StartScan(); err != nil {
		t.Fatal(err)
	}
	engine, raw, _ := testEngine(t, drv, &queueSubscriber{})

	engine.SetRawPublish(false)
	if err := engine.Cycle(time.UnixMilli(10_000)); err != nil {
		t.Fatal(err)
	}
	if len(raw.msgs) != 0 {
		t.Error("raw scan published while disabled")
	}

	if enabled := engine.ToggleRawPublish(); !enabled {
		t.Fatal("toggle should re-enable raw publishing")
	}
	if err := engine.Cycle(time.UnixMilli(10_100)); err != nil {
		t.Fatal(err)
	}
	if len(raw.msgs) != 1 {
		t.Errorf("expected 1 raw scan message after re-enable, got %d", len(raw.msgs))
	}
}

func TestSweepFailureEscalation(t *testing.T) {
	drv := rplidar.NewMockDriver([]fusion.RangeSample{{AngleDeg: 0, DistanceMM: 1000}})
	if err := drv.StartScan(); err != nil {
		t.Fatal(err)
	}
	engine, _, _ := testEngine(t, drv, &queueSubscriber{})

	drv.FailNext(5)

	// First two failures are absorbed with a stop/restart.
	for i := 0; i < 2; i++ {
		if err := engine.Cycle(time.UnixMilli(int64(10_000 + i*100))); err != nil {
			t.Fatalf("failure %d should be transient, got %v", i+1, err)
		}
	}

	// Third consecutive failure crosses the threshold.
	err := engine.Cycle(time.UnixMilli(10_300))
	if !errors.Is(err, fusion.ErrRangeFinderLost) {
		t.Fatalf("expected ErrRangeFinderLost, got %v", err)
	}
}

func TestSweepFailureCounterResets(t *testing.T) {
	drv := rplidar.NewMockDriver([]fusion.RangeSample{{AngleDeg: 0, DistanceMM: 1000}})
	if err := drv.StartScan(); err != nil {
		t.Fatal(err)
	}
	engine, _, _ := testEngine(t, drv, &queueSubscriber{})

	// Two failures, then a success, then two more failures: the success
	// resets the counter so the threshold is never crossed.
	drv.FailNext(2)
	for i := 0; i < 3; i++ {
		if err := engine.Cycle(time.UnixMilli(int64(10_000 + i*100))); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	drv.FailNext(2)
	for i := 3; i < 5; i++ {
		if err := engine.Cycle(time.UnixMilli(int64(10_000 + i*100))); err != nil {
			t.Fatalf("cycle %d after reset: %v", i, err)
		}
	}
}
