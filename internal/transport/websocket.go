// Package transport adapts message-oriented connections to the byte streams the
// frame decoder reads.
package transport

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketPath is where servers accept websocket upgrades.
const WebsocketPath = "/ws"

const closeTimeout = time.Second

// WebsocketStream presents a websocket connection as an io.ReadWriteCloser.
// Each Write is sent as one binary message; reads concatenate binary messages
// and skip any others, so frames may be split across messages.
type WebsocketStream struct {
	conn   *websocket.Conn
	reader io.Reader

	writeMu sync.Mutex
}

func NewWebsocketStream(conn *websocket.Conn) *WebsocketStream {
	return &WebsocketStream{conn: conn}
}

func (s *WebsocketStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			messageType, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			s.reader = r
		}

		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (s *WebsocketStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close message and closes the underlying connection.
func (s *WebsocketStream) Close() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeTimeout))
	return s.conn.Close()
}
