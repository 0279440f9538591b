// Package matcher stands in for dispatch: every new request is claimed by a
// fixed simulated driver after a fixed delay. There is no proximity or
// load-balancing logic.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
	"github.com/example/hilbu/internal/schedule"
)

const DefaultDelay = 3 * time.Second

// SimulatedDriver is the driver every simulated match assigns.
var SimulatedDriver = models.Driver{
	ID:      "sim-driver-1",
	Name:    "John Driver",
	Vehicle: "Toyota Tundra - Recovery Truck",
	Rating:  4.8,
	Online:  true,
}

// Claimer accepts a pending request on behalf of a driver.
type Claimer interface {
	Accept(ctx context.Context, driver models.Party, id string) (models.RecoveryRequest, error)
}

type Simulator struct {
	Claimer Claimer
	Driver  models.Driver
	Delay   time.Duration

	logger *slog.Logger
	tasks  *schedule.Group
}

func NewSimulator(c Claimer, delay time.Duration, logger *slog.Logger) *Simulator {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		Claimer: c,
		Driver:  SimulatedDriver,
		Delay:   delay,
		logger:  logger.With("component", "matcher"),
		tasks:   schedule.NewGroup(),
	}
}

// OnTransition schedules a match for every freshly created request.
func (s *Simulator) OnTransition(t models.Transition) {
	if t.From == "" && t.To == models.StatusPending {
		s.OnRequestCreated(t.Request)
	}
}

// OnRequestCreated arms a one-shot claim for req. A request that is no
// longer pending when the timer fires is left alone.
func (s *Simulator) OnRequestCreated(req models.RecoveryRequest) {
	id := req.ID
	s.tasks.After(s.Delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		driver := models.Party{ID: s.Driver.ID, Name: s.Driver.Name}
		_, err := s.Claimer.Accept(ctx, driver, id)
		switch {
		case err == nil:
			s.logger.Info("simulated match", "request_id", id, "driver_id", driver.ID)
		case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrNotFound):
			s.logger.Debug("simulated match skipped", "request_id", id, "error", err)
		default:
			s.logger.Error("simulated match failed", "request_id", id, "error", err)
		}
	})
}

// Pending returns the number of armed matches.
func (s *Simulator) Pending() int { return s.tasks.Len() }

func (s *Simulator) Stop() { s.tasks.StopAll() }

// Roster holds the profile (vehicle, rating) of every known driver.
type Roster struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

// NewRoster returns a roster that already knows the simulated driver.
func NewRoster() *Roster {
	return &Roster{drivers: map[string]models.Driver{SimulatedDriver.ID: SimulatedDriver}}
}

func (r *Roster) Put(d models.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.ID] = d
}

// Lookup returns the stored profile, or a generic recovery truck for
// drivers that never registered one.
func (r *Roster) Lookup(id, name string) models.Driver {
	r.mu.RLock()
	d, ok := r.drivers[id]
	r.mu.RUnlock()
	if ok {
		return d
	}
	return models.Driver{ID: id, Name: name, Vehicle: "Recovery Truck", Rating: 5.0, Online: true}
}
