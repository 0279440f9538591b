package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// readUntilClosed drains client frames so control messages are handled,
// and closes done when the peer goes away.
func readUntilClosed(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleTrackingWS streams DriverMatchState updates until tracking ends.
func (s *Server) handleTrackingWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.app.Lifecycle.Get(r.Context(), principal(r).Party(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	updates, cancel, err := s.app.Tracking.Subscribe(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go readUntilClosed(conn, done)
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case st, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "tracking ended"))
				return
			}
			if err := conn.WriteJSON(st); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handleDriverWS registers the driver's socket; queue changes are pushed
// to it by the board.
func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	q, err := s.app.Board.Join(r.Context(), p.Party())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	sess := s.app.Drivers.Add(p.UserID, conn)
	defer s.app.Drivers.Remove(p.UserID, sess)

	if err := sess.Send(q.Snapshot()); err != nil {
		_ = conn.Close()
		return
	}

	done := make(chan struct{})
	go readUntilClosed(conn, done)
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = conn.Close()
				return
			}
		case <-done:
			_ = conn.Close()
			return
		}
	}
}
