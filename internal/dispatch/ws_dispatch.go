package dispatch

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// WSSession is one connected driver socket. Writes are serialized.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// WSRegistry holds the live socket of each driver. A new connection
// replaces the previous one.
type WSRegistry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSRegistry{logger: logger.With("component", "dispatch"), sessions: make(map[string]*WSSession)}
}

func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	old := r.sessions[driverID]
	r.sessions[driverID] = s
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	return s
}

// Remove forgets s if it is still the driver's current session.
func (r *WSRegistry) Remove(driverID string, s *WSSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[driverID] == s {
		delete(r.sessions, driverID)
	}
}

// Push writes v to the driver's socket.
func (r *WSRegistry) Push(driverID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[driverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(v); err != nil {
		r.logger.Warn("ws send failed", "driver_id", driverID, "error", err)
		return err
	}
	return nil
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Close drops every session.
func (r *WSRegistry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*WSSession)
	r.mu.Unlock()
	for _, s := range sessions {
		_ = s.conn.Close()
	}
}
