package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnInfo carries connection metadata for observability events.
type ConnInfo struct {
	ConnID      string
	UserID      string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Session is one live connection handle, bound to a single logical user for
// its lifetime. Write must fail fast once the underlying transport is gone.
type Session interface {
	Info() ConnInfo
	Write(payload []byte) error
	Close() error
}

type wsSession struct {
	conn *websocket.Conn
	info ConnInfo

	mu sync.Mutex
}

// NewSession wraps a websocket connection as a Session. The mutex serializes
// writes; gorilla/websocket does not allow concurrent writers.
func NewSession(conn *websocket.Conn, info ConnInfo) Session {
	return &wsSession{conn: conn, info: info}
}

func (s *wsSession) Info() ConnInfo {
	return s.info
}

func (s *wsSession) Write(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *wsSession) Close() error {
	return s.conn.Close()
}
