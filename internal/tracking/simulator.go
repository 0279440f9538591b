// Package tracking simulates a matched driver driving toward the customer
// and fans position updates out to subscribers.
package tracking

import (
	"sync"
	"time"

	"github.com/example/hilbu/internal/geo"
	"github.com/example/hilbu/internal/models"
	"github.com/example/hilbu/internal/schedule"
)

const (
	DefaultTick = 3 * time.Second
	// StartOffset places the driver north-east of the customer.
	StartOffset = 0.01
	// DriftPerTick is subtracted from both coordinates every tick. The
	// driver drifts toward the origin, not along the customer bearing.
	DriftPerTick = 0.0005
)

// Simulator moves one synthetic driver position on a fixed tick.
type Simulator struct {
	tick     time.Duration
	onUpdate func(models.DriverMatchState)
	now      func() time.Time

	mu      sync.Mutex
	state   models.DriverMatchState
	task    *schedule.Task
	stopped bool
}

// NewSimulator builds a simulator for requestID. The first position is the
// customer's location offset by StartOffset on both axes.
func NewSimulator(requestID string, driver models.Driver, customer models.Coord, tick time.Duration, onUpdate func(models.DriverMatchState)) *Simulator {
	if tick <= 0 {
		tick = DefaultTick
	}
	s := &Simulator{tick: tick, onUpdate: onUpdate, now: time.Now}
	s.state = models.DriverMatchState{
		RequestID:  requestID,
		DriverID:   driver.ID,
		DriverName: driver.Name,
		Vehicle:    driver.Vehicle,
		Rating:     driver.Rating,
		Position:   models.Coord{Lat: customer.Lat + StartOffset, Lng: customer.Lng + StartOffset},
		Customer:   customer,
	}
	s.recompute()
	return s
}

// Start arms the recurring tick. Calling it twice, or after Stop, does nothing.
func (s *Simulator) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil || s.stopped {
		return
	}
	s.task = schedule.Every(s.tick, func() { s.Step() })
}

// Step advances the position by one tick. It reports false once stopped.
func (s *Simulator) Step() (models.DriverMatchState, bool) {
	s.mu.Lock()
	if s.stopped {
		st := s.state
		s.mu.Unlock()
		return st, false
	}
	s.state.Position.Lat -= DriftPerTick
	s.state.Position.Lng -= DriftPerTick
	s.recompute()
	st := s.state
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(st)
	}
	return st, true
}

func (s *Simulator) recompute() {
	km := geo.HaversineKm(s.state.Position, s.state.Customer)
	s.state.DistanceKm = km
	s.state.ETAMinutes = geo.ETAMinutes(km)
	s.state.UpdatedAt = s.now()
}

func (s *Simulator) Snapshot() models.DriverMatchState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop cancels the tick. A Step that starts after Stop publishes nothing.
func (s *Simulator) Stop() {
	s.mu.Lock()
	s.stopped = true
	task := s.task
	s.mu.Unlock()
	task.Stop()
}
