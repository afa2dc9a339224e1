package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Frontend accepts TCP connections and hands each one to Connections on its own
// goroutine.
type Frontend struct {
	Address     string
	Connections *Connections
	Logger      logrus.FieldLogger

	listener net.Listener
}

// Start opens the socket for the frontend. A blocking loop for accepting
// connections is spun off in its own goroutine and added to the WaitGroup.
// Context cancellation stops the frontend and closes its connections.
func (f *Frontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if f.Logger == nil {
		f.Logger = f.Connections.Logger
	}

	listener, err := net.Listen("tcp", f.Address)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", f.Address, err)
	}
	f.listener = listener

	wg.Add(1)
	go f.startBlockingLoop(ctx, wg)

	return nil
}

// Addr returns the address the frontend is listening on.
func (f *Frontend) Addr() net.Addr {
	return f.listener.Addr()
}

// startBlockingLoop is purely responsible for accepting new connections and
// spinning off goroutines to serve them.
func (f *Frontend) startBlockingLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	f.Logger.Infof("[TCP] waiting for connections on %v", f.Addr())

	go func() {
		<-ctx.Done()
		_ = f.listener.Close()
	}()

	clientWg := &sync.WaitGroup{}
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			f.Logger.Warnf("[TCP] failed to accept connection: %v", err)
			continue
		}

		clientWg.Add(1)
		go func() {
			defer clientWg.Done()
			_ = f.Connections.Serve(ctx, conn, conn.RemoteAddr().String())
		}()
	}

	f.Logger.Infof("[TCP] shutting down (waiting for connections to close)")
	clientWg.Wait()
	f.Logger.Infof("[TCP] exited")
}
