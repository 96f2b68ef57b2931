// Package rplidar drives an RPLidar-family range finder over its serial
// protocol. The engine consumes it through the fusion.Driver interface; a
// deterministic mock is provided for tests and dev mode.
package rplidar

import (
	"encoding/binary"
	"fmt"
)

// Request framing: a sync byte followed by the command. None of the commands
// used here carry a payload.
const (
	syncByte       = 0xA5
	descriptorSync = 0x5A

	cmdStop      = 0x25
	cmdReset     = 0x40
	cmdScan      = 0x20
	cmdGetInfo   = 0x50
	cmdGetHealth = 0x52
)

// Response data types from the answer descriptor.
const (
	ansTypeScan   = 0x81
	ansTypeInfo   = 0x04
	ansTypeHealth = 0x06
)

const (
	descriptorLen = 7
	infoLen       = 20
	healthLen     = 3
	scanNodeLen   = 5
)

// command builds the two-byte request for a payloadless command.
func command(cmd byte) []byte {
	return []byte{syncByte, cmd}
}

// parseDescriptor decodes the 7-byte answer descriptor that precedes every
// response: sync bytes, a 30-bit payload length with a 2-bit send mode, and
// the data type.
func parseDescriptor(b []byte) (length uint32, dataType byte, err error) {
	if len(b) != descriptorLen {
		return 0, 0, fmt.Errorf("descriptor must be %d bytes, got %d", descriptorLen, len(b))
	}
	if b[0] != syncByte || b[1] != descriptorSync {
		return 0, 0, fmt.Errorf("bad descriptor sync %#02x %#02x", b[0], b[1])
	}
	lenMode := binary.LittleEndian.Uint32(b[2:6])
	return lenMode & 0x3FFFFFFF, b[6], nil
}

// DeviceInfo is the GET_INFO response.
type DeviceInfo struct {
	Model           byte
	FirmwareMinor   byte
	FirmwareMajor   byte
	HardwareVersion byte
	SerialNumber    string
}

func parseDeviceInfo(b []byte) (*DeviceInfo, error) {
	if len(b) != infoLen {
		return nil, fmt.Errorf("device info must be %d bytes, got %d", infoLen, len(b))
	}
	return &DeviceInfo{
		Model:           b[0],
		FirmwareMinor:   b[1],
		FirmwareMajor:   b[2],
		HardwareVersion: b[3],
		SerialNumber:    fmt.Sprintf("%X", b[4:20]),
	}, nil
}

// HealthStatus is the device self-test result.
type HealthStatus byte

const (
	HealthGood    HealthStatus = 0
	HealthWarning HealthStatus = 1
	HealthError   HealthStatus = 2
)

func (s HealthStatus) String() string {
	switch s {
	case HealthGood:
		return "good"
	case HealthWarning:
		return "warning"
	case HealthError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", byte(s))
	}
}

// Health is the GET_HEALTH response.
type Health struct {
	Status    HealthStatus
	ErrorCode uint16
}

func parseHealth(b []byte) (*Health, error) {
	if len(b) != healthLen {
		return nil, fmt.Errorf("health must be %d bytes, got %d", healthLen, len(b))
	}
	return &Health{
		Status:    HealthStatus(b[0]),
		ErrorCode: binary.LittleEndian.Uint16(b[1:3]),
	}, nil
}

// scanNode is one decoded 5-byte legacy scan measurement.
type scanNode struct {
	startFlag  bool
	quality    byte
	angleDeg   float64 // hardware frame, 0-360 clockwise
	distanceMM float64 // 0 means no return
}

// decodeScanNode decodes a legacy scan node. Byte 0 carries the start flag
// and its inversion plus the quality; byte 1 bit 0 is a fixed check bit; the
// angle is q6 fixed point and the distance q2.
func decodeScanNode(b []byte) (scanNode, error) {
	if len(b) != scanNodeLen {
		return scanNode{}, fmt.Errorf("scan node must be %d bytes, got %d", scanNodeLen, len(b))
	}
	start := b[0]&0x01 != 0
	invStart := b[0]&0x02 != 0
	if start == invStart {
		return scanNode{}, fmt.Errorf("scan node start bits out of sync")
	}
	if b[1]&0x01 == 0 {
		return scanNode{}, fmt.Errorf("scan node check bit clear")
	}
	angleQ6 := uint16(b[1])>>1 | uint16(b[2])<<7
	distQ2 := binary.LittleEndian.Uint16(b[3:5])
	return scanNode{
		startFlag:  start,
		quality:    b[0] >> 2,
		angleDeg:   float64(angleQ6) / 64.0,
		distanceMM: float64(distQ2) / 4.0,
	}, nil
}
