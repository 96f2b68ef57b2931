package transport

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestPublishSubscribeRoundTrip(t *testing.T) {
	sub, err := NewSubscriber("127.0.0.1:0")
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer sub.Close()

	pub, err := NewPublisher(sub.LocalAddr())
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub.Start(ctx)

	want := []byte("LIDAR_DATA 0,1200;")
	pub.Publish(want)

	got := sub.Poll(500 * time.Millisecond)
	if string(got) != string(want) {
		t.Errorf("Poll = %q, want %q", got, want)
	}
}

func TestSubscriberKeepsNewest(t *testing.T) {
	sub, err := NewSubscriber("127.0.0.1:0")
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer sub.Close()

	addr, err := net.ResolveUDPAddr("udp", sub.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		if _, err := conn.Write([]byte(fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatal(err)
		}
	}
	// Let the datagrams land in the receive buffer before polling.
	time.Sleep(50 * time.Millisecond)

	got := sub.Poll(500 * time.Millisecond)
	if string(got) != "msg-2" {
		t.Errorf("Poll = %q, want the newest message msg-2", got)
	}
}

func TestSubscriberPollTimesOut(t *testing.T) {
	sub, err := NewSubscriber("127.0.0.1:0")
	if err != nil {
		t.Fatalf("subscriber: %v", err)
	}
	defer sub.Close()

	start := time.Now()
	if got := sub.Poll(20 * time.Millisecond); got != nil {
		t.Errorf("Poll on silent socket = %q, want nil", got)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Poll blocked for %v, want a bounded wait", elapsed)
	}
}

func TestPublisherNeverBlocks(t *testing.T) {
	pub, err := NewPublisher("127.0.0.1:9") // discard port, never started
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	defer pub.Close()

	// Without a sender goroutine the depth-one queue fills after the first
	// message; the rest must drop immediately instead of blocking.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			pub.Publish([]byte("msg"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked the caller")
	}
	if pub.Dropped() < 9 {
		t.Errorf("dropped = %d, want at least 9", pub.Dropped())
	}
}

func TestPublishCopiesCallerBuffer(t *testing.T) {
	sub, err := NewSubscriber("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	pub, err := NewPublisher(sub.LocalAddr())
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	buf := []byte("first")
	pub.Publish(buf)
	copy(buf, "XXXXX") // caller reuses its buffer immediately

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pub.Start(ctx)

	got := sub.Poll(500 * time.Millisecond)
	if string(got) != "first" {
		t.Errorf("Poll = %q, want the snapshot taken at Publish time", got)
	}
}
