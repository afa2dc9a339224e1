package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/nebulamp/netcore/internal/frame"
	"github.com/nebulamp/netcore/internal/packets"
)

// memoryTransport records everything written to it. Writes block while gate is
// non-nil and open, and fail once the transport is closed.
type memoryTransport struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   chan struct{}
	gate     chan struct{}
	writeErr error
}

func newMemoryTransport() *memoryTransport {
	return &memoryTransport{closed: make(chan struct{})}
}

func (m *memoryTransport) Write(b []byte) (int, error) {
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-m.closed:
			return 0, io.ErrClosedPipe
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	// Accept at most 7 bytes per call to exercise partial writes.
	if len(b) > 7 {
		b = b[:7]
	}
	return m.buf.Write(b)
}

func (m *memoryTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	return nil
}

func (m *memoryTransport) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf.Bytes()...)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRegistry(t *testing.T) *packets.Registry {
	t.Helper()
	r := packets.NewRegistry()
	if err := r.RegisterAll(packets.SessionPackets); err != nil {
		t.Fatalf("RegisterAll() returned an unexpected error: %v", err)
	}
	return r
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConn_SendPreservesOrder(t *testing.T) {
	registry := testRegistry(t)
	transport := newMemoryTransport()
	c := NewConn(context.Background(), 1, transport, ConnConfig{Registry: registry, Logger: testLogger()})
	defer c.Close()

	const n = 200
	var want []packets.Packet
	for i := 0; i < n; i++ {
		p := &packets.Ping{Payload: []byte{byte(i), byte(i >> 8)}}
		want = append(want, p)
		c.SendPacket(p)
	}

	var got []packets.Packet
	waitFor(t, "every frame to be written", func() bool {
		got = got[:0]
		var d frame.Decoder
		for _, f := range d.Feed(transport.Bytes()) {
			for _, r := range registry.DecodeFrame(f.Payload).Packets {
				got = append(got, r.Packet)
			}
		}
		return len(got) == n
	})

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("packets were written out of order; diff:\n%s", diff)
	}
}

func TestConn_QueueFullClosesConnection(t *testing.T) {
	transport := newMemoryTransport()
	transport.gate = make(chan struct{})

	var (
		mu       sync.Mutex
		reported []error
	)
	c := NewConn(context.Background(), 1, transport, ConnConfig{
		Registry:  testRegistry(t),
		Logger:    testLogger(),
		QueueSize: 1,
		OnSendError: func(_ *Conn, err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		},
	})

	frameBytes, _ := frame.Encode([]byte("x"))
	// The writer holds one frame in a blocked Write; the next fills the queue.
	c.SendRaw(frameBytes)
	waitFor(t, "the writer to pick up the first frame", func() bool { return len(c.outbound) == 0 })
	c.SendRaw(frameBytes)
	c.SendRaw(frameBytes)

	waitFor(t, "the connection to close", func() bool { return !c.IsAlive() })

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 || !errors.Is(reported[0], ErrSendQueueFull) {
		t.Fatalf("expected a single ErrSendQueueFull report, got %v", reported)
	}

	// Sends after close are discarded without another report.
	c.SendRaw(frameBytes)
	if len(reported) != 1 {
		t.Errorf("expected no further reports, got %v", reported)
	}
}

func TestConn_WriteErrorIsReported(t *testing.T) {
	transport := newMemoryTransport()
	transport.writeErr = errors.New("connection reset by peer")

	reported := make(chan error, 1)
	c := NewConn(context.Background(), 3, transport, ConnConfig{
		Registry:    testRegistry(t),
		Logger:      testLogger(),
		OnSendError: func(_ *Conn, err error) { reported <- err },
	})

	c.SendPacket(&packets.Ping{})

	select {
	case err := <-reported:
		if !errors.Is(err, transport.writeErr) {
			t.Errorf("reported error = %v, want it to wrap %v", err, transport.writeErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the send error")
	}
	waitFor(t, "the connection to close", func() bool { return !c.IsAlive() })
}

func TestConn_CloseIsIdempotentAndCancelsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := newMemoryTransport()
	c := NewConn(ctx, 1, transport, ConnConfig{Registry: testRegistry(t), Logger: testLogger()})

	if err := c.Close(); err != nil {
		t.Fatalf("Close() returned an unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() returned an unexpected error: %v", err)
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("Done() was not closed")
	}
	select {
	case <-transport.closed:
	default:
		t.Fatal("transport was not closed")
	}
	if ctx.Err() != nil {
		t.Error("closing the connection cancelled its parent context")
	}
}

func TestConn_ParentCancellationClosesTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := newMemoryTransport()
	c := NewConn(ctx, 1, transport, ConnConfig{Registry: testRegistry(t), Logger: testLogger()})

	cancel()
	waitFor(t, "the transport to close", func() bool {
		select {
		case <-transport.closed:
			return true
		default:
			return false
		}
	})
	if c.IsAlive() {
		t.Error("connection is still alive after its context was cancelled")
	}
}

func TestStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to Status
		valid    bool
	}{
		{Pending, Syncing, true},
		{Syncing, Connected, true},
		{Pending, Disconnected, true},
		{Syncing, Disconnected, true},
		{Connected, Disconnected, true},
		{Pending, Connected, false},
		{Connected, Syncing, false},
		{Syncing, Pending, false},
		{Disconnected, Pending, false},
		{Disconnected, Disconnected, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			c := NewConn(context.Background(), 1, newMemoryTransport(), ConnConfig{Logger: testLogger()})
			defer c.Close()
			c.status.Store(int32(tt.from))

			err := c.transition(tt.to)
			if tt.valid && err != nil {
				t.Fatalf("transition() returned an unexpected error: %v", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("transition() error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}
