package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldrover/fusion/internal/monitoring"
)

// ErrRangeFinderLost is returned by the engine when consecutive sweep-read
// failures exceed the threshold and the hardware link is presumed broken.
var ErrRangeFinderLost = errors.New("range finder unresponsive")

// Driver is the subset of the range-finder driver the engine exercises each
// cycle. Connect/validate/teardown belong to the caller.
type Driver interface {
	StartScan() error
	Stop() error
	GrabSweep() ([]RangeSample, error)
}

// Publisher sends one outbound message best-effort. A full send buffer drops
// the message rather than blocking the loop.
type Publisher interface {
	Publish(msg []byte)
}

// Subscriber returns the newest pending inbound message, waiting at most
// maxWait, or nil when nothing arrived.
type Subscriber interface {
	Poll(maxWait time.Duration) []byte
}

// Recorder persists fused output for later analysis. Optional.
type Recorder interface {
	RecordSweep(nowMS int64, s SweepStats) error
	RecordObjects(nowMS int64, objs []TrackedObject) error
}

// EngineConfig wires an Engine. Driver, RawScans, Objects and Detections are
// required; Recorder may be nil.
type EngineConfig struct {
	Params        Params
	Driver        Driver
	RawScans      Publisher
	Objects       Publisher
	Detections    Subscriber
	Recorder      Recorder
	MaxFailures   int           // consecutive sweep failures before ErrRangeFinderLost
	DetectionWait time.Duration // bounded wait for the detection poll
	StatsInterval time.Duration // cadence of the sweep stats log line
}

// Engine runs the single-threaded fusion cycle: sweep ingest and bucketing,
// detection correlation, registry eviction, publish scheduling. The registry
// and the latest index are additionally readable from the HTTP status
// surface, so both sit behind locks; everything else is loop-private.
type Engine struct {
	params     Params
	driver     Driver
	rawScans   Publisher
	objects    Publisher
	detections Subscriber
	recorder   Recorder

	registry   *Registry
	correlator *Correlator
	scheduler  *Scheduler

	maxFailures   int
	failures      int
	detectionWait time.Duration

	statsInterval time.Duration
	lastStatsMS   int64

	rawEnabled atomic.Bool

	mu    sync.Mutex
	index BucketIndex
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		params:        cfg.Params,
		driver:        cfg.Driver,
		rawScans:      cfg.RawScans,
		objects:       cfg.Objects,
		detections:    cfg.Detections,
		recorder:      cfg.Recorder,
		registry:      NewRegistry(),
		correlator:    NewCorrelator(cfg.Params),
		scheduler:     NewScheduler(cfg.Params.ForceIntervalMS),
		maxFailures:   cfg.MaxFailures,
		detectionWait: cfg.DetectionWait,
		statsInterval: cfg.StatsInterval,
	}
	e.rawEnabled.Store(true)
	return e
}

// Registry exposes the object store to the status surface.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// ScanSnapshot returns a copy of the latest bucket index.
func (e *Engine) ScanSnapshot() BucketIndex {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make(BucketIndex, len(e.index))
	for b, d := range e.index {
		snapshot[b] = d
	}
	return snapshot
}

// SetRawPublish enables or disables the raw-scan feed.
func (e *Engine) SetRawPublish(enabled bool) {
	e.rawEnabled.Store(enabled)
}

// ToggleRawPublish flips the raw-scan feed and returns the new state.
func (e *Engine) ToggleRawPublish() bool {
	for {
		old := e.rawEnabled.Load()
		if e.rawEnabled.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// RawPublish reports whether the raw-scan feed is enabled.
func (e *Engine) RawPublish() bool {
	return e.rawEnabled.Load()
}

// Run repeats the fusion cycle until the context is cancelled or a fatal
// condition escalates. Cancellation is cooperative: it is checked at cycle
// boundaries, so an in-flight driver call runs to completion.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := e.Cycle(time.Now()); err != nil {
			return err
		}
	}
}

// Cycle runs one iteration of the fusion loop. The sweep is always ingested
// before correlation so every match uses range data from this cycle, never a
// previous one.
func (e *Engine) Cycle(now time.Time) error {
	nowMS := now.UnixMilli()

	samples, err := e.driver.GrabSweep()
	if err != nil {
		return e.handleSweepFailure(err)
	}
	e.failures = 0

	idx := Downsample(samples, e.params)
	e.mu.Lock()
	e.index = idx
	e.mu.Unlock()

	if e.rawEnabled.Load() && len(idx) > 0 {
		e.rawScans.Publish(EncodeScan(idx))
	}

	e.logSweepStats(nowMS, len(samples), idx)

	updates := 0
	if payload := e.detections.Poll(e.detectionWait); payload != nil {
		dets := DecodeDetections(payload)
		updates = e.correlator.Correlate(dets, idx, e.registry, nowMS)
	}

	e.registry.Evict(nowMS, e.params.MaxObjectAgeMS)

	if publish, forced := e.scheduler.Decide(updates, e.registry.Len(), nowMS); publish {
		msg := BuildObjectsMessage(e.registry, nowMS, forced)
		payload, err := EncodeObjectsMessage(msg)
		if err != nil {
			return fmt.Errorf("encode objects message: %w", err)
		}
		e.objects.Publish(payload)
		if e.recorder != nil {
			if err := e.recorder.RecordObjects(nowMS, e.registry.Snapshot()); err != nil {
				monitoring.Logf("recorder: objects write failed: %v", err)
			}
		}
	}
	return nil
}

// handleSweepFailure counts the failure, attempts a stop/restart of the
// scan, and escalates once the consecutive-failure threshold is crossed.
func (e *Engine) handleSweepFailure(cause error) error {
	e.failures++
	monitoring.Logf("sweep read failed (%d/%d consecutive): %v", e.failures, e.maxFailures, cause)
	if e.failures > e.maxFailures {
		return fmt.Errorf("%d consecutive sweep failures: %w", e.failures, ErrRangeFinderLost)
	}
	if err := e.driver.Stop(); err != nil {
		monitoring.Logf("scan stop during recovery failed: %v", err)
	}
	if err := e.driver.StartScan(); err != nil {
		monitoring.Logf("scan restart failed: %v", err)
	}
	return nil
}

func (e *Engine) logSweepStats(nowMS int64, rawSamples int, idx BucketIndex) {
	if e.statsInterval <= 0 || nowMS-e.lastStatsMS < e.statsInterval.Milliseconds() {
		return
	}
	e.lastStatsMS = nowMS
	s := ComputeSweepStats(rawSamples, idx)
	monitoring.Logf("sweep: %d samples -> %d buckets, range %.0f-%.0fmm (mean %.0f, median %.0f), %d objects tracked",
		s.Samples, s.Buckets, s.MinMM, s.MaxMM, s.MeanMM, s.MedianMM, e.registry.Len())
	if e.recorder != nil {
		if err := e.recorder.RecordSweep(nowMS, s); err != nil {
			monitoring.Logf("recorder: sweep stats write failed: %v", err)
		}
	}
}
