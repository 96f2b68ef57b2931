// Package transport moves fusion messages between processes over UDP
// datagrams: best-effort, no queue buildup, newest message wins. Publishers
// never block the engine loop and subscribers conflate their backlog down to
// the latest datagram.
package transport

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/fieldrover/fusion/internal/monitoring"
)

// Publisher sends datagrams to one fixed destination. Sends are handed to a
// dedicated goroutine through a depth-one channel; when a send is already
// outstanding the new message is dropped and counted, so the engine loop
// never waits on the network.
type Publisher struct {
	conn    *net.UDPConn
	queue   chan []byte
	dropped atomic.Int64
	addr    string
}

// NewPublisher resolves and connects the destination address.
func NewPublisher(addr string) (*Publisher, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve publish address %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("connect publish address %s: %w", addr, err)
	}
	return &Publisher{
		conn:  conn,
		queue: make(chan []byte, 1),
		addr:  addr,
	}, nil
}

// Start launches the sender goroutine. Send errors are counted, not
// surfaced; there may simply be no subscriber yet.
func (p *Publisher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-p.queue:
				if _, err := p.conn.Write(msg); err != nil {
					p.dropped.Add(1)
				}
			}
		}
	}()
	monitoring.Logf("publishing to %s", p.addr)
}

// Publish enqueues one message without blocking. The message is copied, so
// the caller may reuse its buffer.
func (p *Publisher) Publish(msg []byte) {
	out := make([]byte, len(msg))
	copy(out, msg)
	select {
	case p.queue <- out:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns how many messages were discarded because the sender was
// busy or the write failed.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close releases the socket. Queued but unsent data is discarded.
func (p *Publisher) Close() error {
	return p.conn.Close()
}
