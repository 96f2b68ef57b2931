package rplidar

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/fieldrover/fusion/internal/fusion"
)

const (
	// DefaultBaudRate matches the RPLidar C1.
	DefaultBaudRate = 460800

	// maxSweepSamples bounds one GrabSweep call.
	maxSweepSamples = 8192

	responseTimeout = 2 * time.Second
	grabTimeout     = 5 * time.Second
	stopSettle      = 20 * time.Millisecond
)

// SerialDriver talks to the range finder over a serial port.
type SerialDriver struct {
	port serial.Port

	scanning bool
	// pending holds the start node of the next sweep, read while finishing
	// the previous GrabSweep.
	pending *scanNode
}

// Open opens the serial port and returns a driver. The caller should follow
// with DeviceInfo and Health to validate the link before scanning.
func Open(path string, baudRate int) (*SerialDriver, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &SerialDriver{port: port}, nil
}

// readFull fills buf, treating the port's zero-byte timeout reads as a hard
// deadline so a silent device cannot stall the loop forever.
func (d *SerialDriver) readFull(buf []byte, timeout time.Duration) error {
	if err := d.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}
	got := 0
	for got < len(buf) {
		n, err := d.port.Read(buf[got:])
		if err != nil {
			return fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("serial read timed out after %s", timeout)
		}
		got += n
	}
	return nil
}

func (d *SerialDriver) request(cmd byte) error {
	if _, err := d.port.Write(command(cmd)); err != nil {
		return fmt.Errorf("write command %#02x: %w", cmd, err)
	}
	return nil
}

// roundTrip sends a command and reads its descriptor plus fixed-size payload.
func (d *SerialDriver) roundTrip(cmd byte, wantType byte, wantLen uint32) ([]byte, error) {
	if err := d.request(cmd); err != nil {
		return nil, err
	}
	desc := make([]byte, descriptorLen)
	if err := d.readFull(desc, responseTimeout); err != nil {
		return nil, err
	}
	length, dataType, err := parseDescriptor(desc)
	if err != nil {
		return nil, err
	}
	if dataType != wantType || length != wantLen {
		return nil, fmt.Errorf("unexpected response type %#02x len %d", dataType, length)
	}
	payload := make([]byte, length)
	if err := d.readFull(payload, responseTimeout); err != nil {
		return nil, err
	}
	return payload, nil
}

// DeviceInfo queries model, firmware and hardware revisions.
func (d *SerialDriver) DeviceInfo() (*DeviceInfo, error) {
	payload, err := d.roundTrip(cmdGetInfo, ansTypeInfo, infoLen)
	if err != nil {
		return nil, fmt.Errorf("get device info: %w", err)
	}
	return parseDeviceInfo(payload)
}

// Health runs the device self test. A HealthError status means the device
// wants a reset before it will scan.
func (d *SerialDriver) Health() (*Health, error) {
	payload, err := d.roundTrip(cmdGetHealth, ansTypeHealth, healthLen)
	if err != nil {
		return nil, fmt.Errorf("get health: %w", err)
	}
	return parseHealth(payload)
}

// StartScan puts the device into standard scan mode. Measurements start
// streaming immediately after the descriptor.
func (d *SerialDriver) StartScan() error {
	if d.scanning {
		return nil
	}
	if err := d.request(cmdScan); err != nil {
		return err
	}
	desc := make([]byte, descriptorLen)
	if err := d.readFull(desc, responseTimeout); err != nil {
		return fmt.Errorf("scan descriptor: %w", err)
	}
	_, dataType, err := parseDescriptor(desc)
	if err != nil {
		return fmt.Errorf("scan descriptor: %w", err)
	}
	if dataType != ansTypeScan {
		return fmt.Errorf("unexpected scan response type %#02x", dataType)
	}
	d.scanning = true
	d.pending = nil
	return nil
}

// Stop halts the measurement stream. The device needs a short settle before
// it accepts the next command.
func (d *SerialDriver) Stop() error {
	if err := d.request(cmdStop); err != nil {
		return err
	}
	d.scanning = false
	d.pending = nil
	time.Sleep(stopSettle)
	return nil
}

// GrabSweep reads measurements until the next sweep boundary (a node with the
// start flag set) and returns them in hardware frame: clockwise degrees and
// millimetres. Zero-distance nodes (no return) are skipped. The sweep is
// bounded at maxSweepSamples.
func (d *SerialDriver) GrabSweep() ([]fusion.RangeSample, error) {
	if !d.scanning {
		return nil, fmt.Errorf("grab sweep: scan not started")
	}

	samples := make([]fusion.RangeSample, 0, 1024)
	appendNode := func(n scanNode) {
		if n.distanceMM > 0 {
			samples = append(samples, fusion.RangeSample{AngleDeg: n.angleDeg, DistanceMM: n.distanceMM})
		}
	}

	// Sync to a sweep boundary unless the previous grab already read one.
	if d.pending != nil {
		appendNode(*d.pending)
		d.pending = nil
	} else {
		for {
			node, err := d.readNode()
			if err != nil {
				return nil, err
			}
			if node.startFlag {
				appendNode(node)
				break
			}
		}
	}

	for len(samples) < maxSweepSamples {
		node, err := d.readNode()
		if err != nil {
			return nil, err
		}
		if node.startFlag {
			d.pending = &node
			break
		}
		appendNode(node)
	}
	return samples, nil
}

func (d *SerialDriver) readNode() (scanNode, error) {
	buf := make([]byte, scanNodeLen)
	if err := d.readFull(buf, grabTimeout); err != nil {
		return scanNode{}, err
	}
	return decodeScanNode(buf)
}

// Close releases the serial port. Callers stop the scan first so the device
// is quiet when the port goes away.
func (d *SerialDriver) Close() error {
	return d.port.Close()
}
