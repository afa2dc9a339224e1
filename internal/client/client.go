// Package client connects to a Nebula server and runs the client side of the
// join handshake.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nebulamp/netcore/internal/dispatch"
	"github.com/nebulamp/netcore/internal/frame"
	"github.com/nebulamp/netcore/internal/packets"
	"github.com/nebulamp/netcore/internal/session"
	"github.com/nebulamp/netcore/internal/transport"
)

const readBufferSize = 2048

type Options struct {
	Username string
	Logger   logrus.FieldLogger
	// Registry defaults to one holding packets.SessionPackets.
	Registry *packets.Registry
	// Websocket dials ws://addr/ws instead of a plain TCP connection.
	Websocket bool
	// Trace, if set, sees every packet received before its handler runs.
	Trace func(origin *session.Conn, r packets.Resolved)
}

// Client is one player's connection to a server. Received packets are queued
// and only handled when Tick is called, so everything except Send, Close and
// Done must be called from the goroutine that calls Tick.
type Client struct {
	conn       *session.Conn
	dispatcher *dispatch.Dispatcher
	logger     logrus.FieldLogger

	playerID atomic.Uint32
	synced   atomic.Bool
	peers    map[uint16]string
	pongs    int
	done     chan struct{}
}

// Dial connects to addr and sends the handshake. Handlers for packets other than
// the session packets can be added through Dispatcher before the first Tick.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Registry == nil {
		opts.Registry = packets.NewRegistry()
		if err := opts.Registry.RegisterAll(packets.SessionPackets); err != nil {
			return nil, err
		}
	}

	stream, err := dial(ctx, addr, opts.Websocket)
	if err != nil {
		return nil, err
	}

	c := &Client{
		logger: opts.Logger,
		peers:  make(map[uint16]string),
		done:   make(chan struct{}),
	}
	c.conn = session.NewConn(context.Background(), 0, stream, session.ConnConfig{
		Registry:   opts.Registry,
		Logger:     opts.Logger,
		RemoteAddr: addr,
		OnSendError: func(_ *session.Conn, err error) {
			c.logger.Warnf("[CLIENT] send to %s failed: %v", addr, err)
		},
	})
	c.dispatcher = dispatch.New(dispatch.Config{
		Registry: opts.Registry,
		Logger:   opts.Logger,
		Trace:    opts.Trace,
	})
	if err := c.registerHandlers(); err != nil {
		c.conn.Close()
		return nil, err
	}

	go c.readLoop(stream)

	c.conn.SendPacket(&packets.Handshake{Username: opts.Username})
	return c, nil
}

func dial(ctx context.Context, addr string, useWebsocket bool) (io.ReadWriteCloser, error) {
	if useWebsocket {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+addr+transport.WebsocketPath, nil)
		if err != nil {
			return nil, fmt.Errorf("error connecting to %s: %w", addr, err)
		}
		return transport.NewWebsocketStream(conn), nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", addr, err)
	}
	return conn, nil
}

func (c *Client) registerHandlers() error {
	return errors.Join(
		dispatch.Handle(c.dispatcher, c.handleHandshakeAck),
		dispatch.Handle(c.dispatcher, c.handlePlayerJoined),
		dispatch.Handle(c.dispatcher, c.handlePlayerDisconnected),
		dispatch.Handle(c.dispatcher, c.handleSyncComplete),
		dispatch.Handle(c.dispatcher, c.handlePong),
	)
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.done)
	defer c.conn.Close()

	var decoder frame.Decoder
	buffer := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buffer)
		for _, f := range decoder.Feed(buffer[:n]) {
			c.dispatcher.Enqueue(f.Payload, c.conn)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && c.conn.IsAlive() {
				c.logger.Warnf("[CLIENT] error reading from server: %v", err)
			}
			return
		}
	}
}

func (c *Client) handleHandshakeAck(pkt *packets.HandshakeAck, _ *session.Conn) {
	c.playerID.Store(uint32(pkt.PlayerID))
	c.logger.Infof("[CLIENT] joined as player %d with %d players in the session", pkt.PlayerID, pkt.NumPlayers)
	// Nothing is loaded from the snapshot yet, so the client is synced immediately.
	c.conn.SendPacket(&packets.SyncComplete{})
}

func (c *Client) handlePlayerJoined(pkt *packets.PlayerJoined, _ *session.Conn) {
	c.peers[pkt.PlayerID] = pkt.Username
}

func (c *Client) handlePlayerDisconnected(pkt *packets.PlayerDisconnected, _ *session.Conn) {
	delete(c.peers, pkt.PlayerID)
}

func (c *Client) handleSyncComplete(*packets.SyncComplete, *session.Conn) {
	c.synced.Store(true)
}

func (c *Client) handlePong(*packets.Pong, *session.Conn) {
	c.pongs++
}

// Dispatcher returns the dispatcher received packets are queued on.
func (c *Client) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// Tick handles every packet received since the last call.
func (c *Client) Tick() int { return c.dispatcher.Drain() }

// Send queues pkts to be written to the server in a single frame.
func (c *Client) Send(pkts ...packets.Packet) error {
	if !c.conn.IsAlive() {
		return session.ErrConnClosed
	}
	c.conn.SendPacket(pkts...)
	return nil
}

// PlayerID returns the id assigned by the server, or 0 before the handshake completes.
func (c *Client) PlayerID() uint16 { return uint16(c.playerID.Load()) }

// Synced reports whether the server has announced that every joining player is synced.
func (c *Client) Synced() bool { return c.synced.Load() }

// Peers returns the other players in the session by id.
func (c *Client) Peers() map[uint16]string {
	peers := make(map[uint16]string, len(c.peers))
	for id, name := range c.peers {
		peers[id] = name
	}
	return peers
}

// Pongs returns how many Pong packets have been handled.
func (c *Client) Pongs() int { return c.pongs }

// Done is closed once the connection to the server has been lost or closed.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}
