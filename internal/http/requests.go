package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/hilbu/internal/auth"
	"github.com/example/hilbu/internal/lifecycle"
	"github.com/example/hilbu/internal/models"
)

type locationDTO struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

type submitRequestDTO struct {
	Pickup         string       `json:"pickup" validate:"max=200"`
	Dropoff        string       `json:"dropoff" validate:"max=200"`
	VehicleDetails string       `json:"vehicle_details" validate:"max=200"`
	Location       *locationDTO `json:"location"`
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body submitRequestDTO
	if err := s.decode(w, r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	in := lifecycle.SubmitInput{Pickup: body.Pickup, Dropoff: body.Dropoff, VehicleDetails: body.VehicleDetails}
	if body.Location != nil {
		in.Location = &models.Coord{Lat: body.Location.Lat, Lng: body.Location.Lng}
	}
	req, err := s.app.Lifecycle.Submit(r.Context(), principal(r).Party(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	req, err := s.app.Lifecycle.Current(r.Context(), principal(r).Party())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.app.Lifecycle.History(r.Context(), principal(r).Party())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	req, err := s.app.Lifecycle.Cancel(r.Context(), principal(r).Party(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleTripDetails(w http.ResponseWriter, r *http.Request) {
	d, err := s.app.Lifecycle.TripDetails(r.Context(), principal(r).Party(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.app.Lifecycle.Get(r.Context(), principal(r).Party(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.app.Tracking.Snapshot(id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
