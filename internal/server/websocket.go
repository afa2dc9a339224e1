package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nebulamp/netcore/internal/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  readBufferSize,
	WriteBufferSize: readBufferSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebsocketFrontend accepts connections from browsers and other websocket
// clients. Binary messages are treated as chunks of the same byte stream a TCP
// client would send, so frames may span messages.
type WebsocketFrontend struct {
	Address     string
	Connections *Connections
	Logger      logrus.FieldLogger

	ctx      context.Context
	listener net.Listener
	srv      *http.Server
}

func (f *WebsocketFrontend) Start(ctx context.Context, wg *sync.WaitGroup) error {
	if f.Logger == nil {
		f.Logger = f.Connections.Logger
	}

	listener, err := net.Listen("tcp", f.Address)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", f.Address, err)
	}
	f.listener = listener
	f.ctx = ctx

	r := chi.NewRouter()
	r.Get(transport.WebsocketPath, f.handleUpgrade)
	f.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()
		f.Logger.Infof("[WS] waiting for connections on %v%s", f.Addr(), transport.WebsocketPath)
		if err := f.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.Logger.Errorf("[WS] error serving websockets: %v", err)
		}
		f.Logger.Infof("[WS] exited")
	}()
	go func() {
		<-ctx.Done()
		// Hijacked connections are not tracked by the server; they close with ctx.
		_ = f.srv.Close()
	}()

	return nil
}

func (f *WebsocketFrontend) Addr() net.Addr {
	return f.listener.Addr()
}

func (f *WebsocketFrontend) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.Logger.Debugf("[WS] upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	_ = f.Connections.Serve(f.ctx, transport.NewWebsocketStream(conn), r.RemoteAddr)
}
