// Package server accepts connections over TCP and websockets and attaches them
// to the session.
package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nebulamp/netcore/internal/core"
	nebuladebug "github.com/nebulamp/netcore/internal/core/debug"
	"github.com/nebulamp/netcore/internal/dispatch"
	"github.com/nebulamp/netcore/internal/frame"
	"github.com/nebulamp/netcore/internal/packets"
	"github.com/nebulamp/netcore/internal/session"
)

const readBufferSize = 2048

var ErrServerFull = errors.New("server is full")

// Connections runs the read side of every accepted connection. Its goroutines
// only decode frames and queue them on the Dispatcher; session state is changed
// by the closures it posts, which run when the simulation goroutine drains.
type Connections struct {
	Config     *core.Config
	Logger     logrus.FieldLogger
	Metrics    *core.Metrics
	Registry   *packets.Registry
	IDs        *session.IDAllocator
	Dispatcher *dispatch.Dispatcher
	Lifecycle  *session.Lifecycle

	active atomic.Int32
	wg     sync.WaitGroup
}

// Active returns the number of connections currently being served.
func (cs *Connections) Active() int {
	return int(cs.active.Load())
}

// Wait blocks until every connection has been closed.
func (cs *Connections) Wait() {
	cs.wg.Wait()
}

// Serve attaches transport to the session and reads from it until it is closed
// or ctx is cancelled.
func (cs *Connections) Serve(ctx context.Context, transport io.ReadWriteCloser, remoteAddr string) error {
	if n := cs.active.Add(1); int(n) > cs.Config.MaxConnections {
		cs.active.Add(-1)
		_ = transport.Close()
		cs.Logger.Infof("[SERVER] rejected connection from %s: %v", remoteAddr, ErrServerFull)
		return ErrServerFull
	}

	id, err := cs.IDs.Allocate()
	if err != nil {
		cs.active.Add(-1)
		_ = transport.Close()
		cs.Logger.Warnf("[SERVER] rejected connection from %s: %v", remoteAddr, err)
		return err
	}

	cs.wg.Add(1)
	defer cs.wg.Done()

	c := session.NewConn(ctx, id, transport, session.ConnConfig{
		Registry:    cs.Registry,
		Logger:      cs.Logger,
		QueueSize:   cs.Config.SendQueueSize,
		RemoteAddr:  remoteAddr,
		OnSendError: cs.sendFailed,
	})
	cs.Logger.Infof("[SERVER] accepted connection from %s as player %d", remoteAddr, id)

	cs.Dispatcher.Post(c, func() { cs.Lifecycle.Join(c) })
	defer cs.closeConnectionAndRecover(c)

	cs.processFrames(c, transport)
	return nil
}

// processFrames is a blocking loop dedicated to reading data sent from a peer
// and only returns once the connection has closed.
func (cs *Connections) processFrames(c *session.Conn, r io.Reader) {
	decoder := frame.Decoder{
		OnInvalid: func(reason frame.Reason, discarded int) {
			cs.Metrics.FrameParsed("invalid")
			cs.Metrics.BytesDiscarded(reason.String(), discarded)
			cs.Logger.Debugf("[SERVER] discarded %d bytes from %s: %s", discarded, c, reason)
		},
	}
	buffer := make([]byte, readBufferSize)

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			for _, f := range decoder.Feed(buffer[:n]) {
				cs.Metrics.FrameParsed("complete")
				if cs.Config.Debugging.PacketLoggingEnabled {
					w := bufio.NewWriter(os.Stdout)
					nebuladebug.PrintPacket(nebuladebug.PrintPacketParams{
						Writer:       w,
						Peer:         c.String(),
						ClientPacket: true,
						Data:         f.Payload,
						Registry:     cs.Registry,
						Interpret:    true,
					})
					_ = w.Flush()
				}
				cs.Dispatcher.Enqueue(f.Payload, c)
			}
		}

		if err != nil {
			if !errors.Is(err, io.EOF) && c.IsAlive() {
				cs.Logger.Warnf("[SERVER] error reading from %s: %v", c, err)
			}
			if decoder.Buffered() > 0 {
				cs.Logger.Debugf("[SERVER] %s closed with %d bytes of an incomplete frame", c, decoder.Buffered())
			}
			return
		}
	}
}

func (cs *Connections) sendFailed(c *session.Conn, err error) {
	cs.Metrics.SendFailed()
	cs.Logger.Warnf("[SERVER] closing %s after send failure: %v", c, err)
}

// closeConnectionAndRecover is the failsafe that catches any panics, closes the
// connection, and schedules the player's removal regardless of the state of the
// connection.
func (cs *Connections) closeConnectionAndRecover(c *session.Conn) {
	if err := recover(); err != nil {
		cs.Logger.Errorf("[SERVER] error in communication with %s: error=%v, trace: %s",
			c, err, debug.Stack())
	}

	if err := c.Close(); err != nil {
		cs.Logger.Debugf("[SERVER] failed to close %s: %v", c, err)
	}
	cs.active.Add(-1)
	cs.Dispatcher.Post(c, func() { cs.disconnect(c) })

	cs.Logger.Infof("[SERVER] connection closed: %s", c)
}

// disconnect removes c from the session once every packet it sent has been
// processed.
func (cs *Connections) disconnect(c *session.Conn) {
	// The count includes this closure.
	if cs.Dispatcher.PendingFrom(c) > 1 {
		cs.Dispatcher.Post(c, func() { cs.disconnect(c) })
		return
	}
	cs.Lifecycle.Disconnect(c)
}
