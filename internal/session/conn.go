package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nebulamp/netcore/internal/packets"
)

var (
	ErrConnClosed    = errors.New("connection closed")
	ErrSendQueueFull = errors.New("send queue full")
)

const defaultSendQueueSize = 256

// ConnConfig holds the dependencies of a Conn.
type ConnConfig struct {
	// Registry used to serialize packets passed to SendPacket.
	Registry *packets.Registry
	Logger   logrus.FieldLogger
	// Number of frames that can be waiting to be written before the connection is
	// considered stalled and closed.
	QueueSize  int
	RemoteAddr string
	// OnSendError is called at most once, with the error that caused the connection
	// to be closed from the send side. It may be called from the writer goroutine.
	OnSendError func(c *Conn, err error)
	// OnSend, if set, is called with every frame before it is queued.
	OnSend func(c *Conn, frame []byte)
}

// Conn is the server's handle on one remote peer. Sends are queued and written in
// order by a dedicated goroutine so that callers never block on the network.
type Conn struct {
	id          uint16
	remoteAddr  string
	transport   io.WriteCloser
	registry    *packets.Registry
	logger      logrus.FieldLogger
	onSendError func(*Conn, error)
	onSend      func(*Conn, []byte)

	status   atomic.Int32
	outbound chan []byte

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	failOnce  sync.Once
}

// NewConn wraps transport and starts its writer goroutine. The connection is
// closed when ctx is cancelled.
func NewConn(ctx context.Context, id uint16, transport io.WriteCloser, cfg ConnConfig) *Conn {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultSendQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	c := &Conn{
		id:          id,
		remoteAddr:  cfg.RemoteAddr,
		transport:   transport,
		registry:    cfg.Registry,
		logger:      cfg.Logger,
		onSendError: cfg.OnSendError,
		onSend:      cfg.OnSend,
		outbound:    make(chan []byte, cfg.QueueSize),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.status.Store(int32(Pending))

	go c.writeLoop()
	go func() {
		<-c.ctx.Done()
		c.Close()
	}()

	return c
}

func (c *Conn) ID() uint16         { return c.id }
func (c *Conn) RemoteAddr() string { return c.remoteAddr }
func (c *Conn) Status() Status     { return Status(c.status.Load()) }

func (c *Conn) String() string {
	return fmt.Sprintf("player %d (%s)", c.id, c.remoteAddr)
}

// Context is cancelled when the connection is closed.
func (c *Conn) Context() context.Context { return c.ctx }

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

// IsAlive reports whether the connection is still open.
func (c *Conn) IsAlive() bool { return c.ctx.Err() == nil }

// transition moves the connection to next. Only the Players registry and the
// Lifecycle change a connection's status.
func (c *Conn) transition(next Status) error {
	for {
		current := c.Status()
		if !current.canTransition(next) {
			return &TransitionError{ID: c.id, From: current, To: next}
		}
		if c.status.CompareAndSwap(int32(current), int32(next)) {
			return nil
		}
	}
}

// SendPacket serializes pkts into a single frame and queues it.
func (c *Conn) SendPacket(pkts ...packets.Packet) {
	b, err := c.registry.EncodeFrame(pkts...)
	if err != nil {
		c.logger.Errorf("[SESSION] failed to encode packet for %s: %v", c, err)
		return
	}
	c.SendRaw(b)
}

// SendRaw queues an encoded frame. It never blocks: if the connection is closed the
// frame is discarded, and if the queue is full the connection is closed.
func (c *Conn) SendRaw(frame []byte) {
	if !c.IsAlive() {
		c.logger.Debugf("[SESSION] discarding %d byte frame for closed connection %s", len(frame), c)
		return
	}
	if c.onSend != nil {
		c.onSend(c, frame)
	}

	select {
	case c.outbound <- frame:
	default:
		c.fail(fmt.Errorf("%w (%d frames pending)", ErrSendQueueFull, cap(c.outbound)))
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.outbound:
			if err := c.transmit(frame); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// transmit writes the contents of data to the transport until every byte has been sent.
func (c *Conn) transmit(data []byte) error {
	for sent := 0; sent < len(data); {
		n, err := c.transport.Write(data[sent:])
		if err != nil {
			return fmt.Errorf("failed to send to %s: %w", c, err)
		}
		sent += n
	}
	return nil
}

// fail reports a send-side failure and closes the connection. Failures caused by
// the connection having already been closed are not reported.
func (c *Conn) fail(err error) {
	if c.IsAlive() {
		c.failOnce.Do(func() {
			if c.onSendError != nil {
				c.onSendError(c, err)
			} else {
				c.logger.Warnf("[SESSION] closing %s: %v", c, err)
			}
		})
	}
	c.Close()
}

// Close cancels any in-flight sends and closes the transport. It is safe to call
// more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.transport.Close()
	})
	return err
}
