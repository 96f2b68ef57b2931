package rplidar

import (
	"fmt"
	"sync"

	"github.com/fieldrover/fusion/internal/fusion"
)

// MockDriver replays scripted sweeps without hardware. It backs -dev mode
// and the engine tests.
type MockDriver struct {
	mu       sync.Mutex
	sweeps   [][]fusion.RangeSample
	next     int
	scanning bool

	// failNext makes the next N GrabSweep calls fail, for exercising the
	// engine's retry and escalation paths.
	failNext int

	Info   DeviceInfo
	Status Health
}

// NewMockDriver returns a mock cycling through the given sweeps.
func NewMockDriver(sweeps ...[]fusion.RangeSample) *MockDriver {
	return &MockDriver{
		sweeps: sweeps,
		Info:   DeviceInfo{Model: 0x41, FirmwareMajor: 1, FirmwareMinor: 2, HardwareVersion: 7, SerialNumber: "MOCK"},
		Status: Health{Status: HealthGood},
	}
}

// SyntheticSweep builds a flat wall across the front hemisphere at the given
// distance, one sample per degree in hardware frame, for dev mode.
func SyntheticSweep(distanceMM float64) []fusion.RangeSample {
	samples := make([]fusion.RangeSample, 0, 360)
	for deg := 0; deg < 360; deg++ {
		samples = append(samples, fusion.RangeSample{AngleDeg: float64(deg), DistanceMM: distanceMM})
	}
	return samples
}

func (m *MockDriver) DeviceInfo() (*DeviceInfo, error) {
	info := m.Info
	return &info, nil
}

func (m *MockDriver) Health() (*Health, error) {
	h := m.Status
	return &h, nil
}

func (m *MockDriver) StartScan() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanning = true
	return nil
}

func (m *MockDriver) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanning = false
	return nil
}

// FailNext makes the next n sweep grabs return an error.
func (m *MockDriver) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *MockDriver) GrabSweep() ([]fusion.RangeSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.scanning {
		return nil, fmt.Errorf("grab sweep: scan not started")
	}
	if m.failNext > 0 {
		m.failNext--
		return nil, fmt.Errorf("injected sweep failure")
	}
	if len(m.sweeps) == 0 {
		return nil, nil
	}
	sweep := m.sweeps[m.next]
	m.next = (m.next + 1) % len(m.sweeps)
	out := make([]fusion.RangeSample, len(sweep))
	copy(out, sweep)
	return out, nil
}

func (m *MockDriver) Close() error {
	return nil
}
