package realtime

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the write side of a live bidirectional connection.
// Implementations must be safe for concurrent use.
type Socket interface {
	WriteJSON(v interface{}) error
	Ping() error
	Close(code int, reason string) error
}

// wsSocket adapts a gorilla websocket connection. Data frames are serialized
// by mu; control frames may be written concurrently per the gorilla contract.
type wsSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewSocket wraps conn; every write is bounded by writeTimeout
func NewSocket(conn *websocket.Conn, writeTimeout time.Duration) Socket {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &wsSocket{conn: conn, writeTimeout: writeTimeout}
}

func (s *wsSocket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (s *wsSocket) Ping() error {
	if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

func (s *wsSocket) Close(code int, reason string) error {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
