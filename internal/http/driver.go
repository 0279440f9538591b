package httpapi

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/queue"
)

func (s *Server) driverQueue(r *http.Request) (*queue.Queue, error) {
	return s.app.Board.Join(r.Context(), principal(r).Party())
}

// handleDriverQueue refreshes the list when the driver may poll and
// otherwise returns the current view (offline, or holding a job).
func (s *Server) handleDriverQueue(w http.ResponseWriter, r *http.Request) {
	q, err := s.driverQueue(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := q.Poll(r.Context()); err != nil && !errors.Is(err, apperr.ErrInvalidState) {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q.Snapshot())
}

func (s *Server) handleDriverAccept(w http.ResponseWriter, r *http.Request) {
	q, err := s.driverQueue(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := q.Accept(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDriverReject(w http.ResponseWriter, r *http.Request) {
	q, err := s.driverQueue(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := q.Reject(mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q.Snapshot())
}

func (s *Server) handleDriverComplete(w http.ResponseWriter, r *http.Request) {
	q, err := s.driverQueue(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := q.CompleteJob(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDriverOnline(w http.ResponseWriter, r *http.Request) {
	q, err := s.driverQueue(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := q.GoOnline(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q.Snapshot())
}

func (s *Server) handleDriverOffline(w http.ResponseWriter, r *http.Request) {
	q, err := s.driverQueue(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := q.GoOffline(); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q.Snapshot())
}
