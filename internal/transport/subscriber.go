package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/fieldrover/fusion/internal/monitoring"
)

const (
	// maxDatagram covers the largest UDP payload we would ever receive.
	maxDatagram = 65536

	// drainDeadline bounds each backlog read while conflating. drainLimit
	// caps the drain so a fast producer cannot pin the loop here.
	drainDeadline = time.Millisecond
	drainLimit    = 8
)

// Subscriber receives datagrams on a local port with keep-newest semantics:
// Poll discards any backlog and hands back only the latest message.
type Subscriber struct {
	conn *net.UDPConn
	buf  []byte
	addr string
}

// NewSubscriber binds the local listen address.
func NewSubscriber(addr string) (*Subscriber, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve subscribe address %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	monitoring.Logf("subscribed on %s", addr)
	return &Subscriber{
		conn: conn,
		buf:  make([]byte, maxDatagram),
		addr: addr,
	}, nil
}

// Poll waits up to maxWait for a datagram and returns the newest one pending,
// or nil when nothing arrived. Older queued datagrams are read and discarded:
// the engine wants the latest detection state, never a backlog.
func (s *Subscriber) Poll(maxWait time.Duration) []byte {
	if err := s.conn.SetReadDeadline(time.Now().Add(maxWait)); err != nil {
		return nil
	}
	n, _, err := s.conn.ReadFromUDP(s.buf)
	if err != nil {
		return nil
	}
	latest := append([]byte(nil), s.buf[:n]...)

	for i := 0; i < drainLimit; i++ {
		if err := s.conn.SetReadDeadline(time.Now().Add(drainDeadline)); err != nil {
			break
		}
		n, _, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			break
		}
		latest = append(latest[:0], s.buf[:n]...)
	}
	return latest
}

// LocalAddr returns the bound listen address, useful when the port was
// chosen by the OS.
func (s *Subscriber) LocalAddr() string {
	return s.conn.LocalAddr().String()
}

// Close releases the socket.
func (s *Subscriber) Close() error {
	return s.conn.Close()
}
