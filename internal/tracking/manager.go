package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
	"github.com/example/hilbu/internal/observability"
)

// PositionSink receives every simulated driver position.
type PositionSink interface {
	RecordPosition(ctx context.Context, d models.Driver) error
}

// Profiles resolves the vehicle and rating shown for a driver.
type Profiles interface {
	Lookup(id, name string) models.Driver
}

type session struct {
	sim  *Simulator
	subs map[chan models.DriverMatchState]struct{}
}

// Manager runs one Simulator per accepted request.
type Manager struct {
	tick     time.Duration
	profiles Profiles
	sinks    []PositionSink
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewManager(tick time.Duration, profiles Profiles, logger *slog.Logger, sinks ...PositionSink) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		tick:     tick,
		profiles: profiles,
		sinks:    sinks,
		logger:   logger.With("component", "tracking"),
		sessions: make(map[string]*session),
	}
}

// OnTransition starts tracking on accepted and stops it on any terminal status.
func (m *Manager) OnTransition(t models.Transition) {
	switch {
	case t.To == models.StatusAccepted:
		m.start(t.Request)
	case t.To.Terminal():
		m.stop(t.Request.ID)
	}
}

func (m *Manager) start(r models.RecoveryRequest) {
	driver := models.Driver{ID: r.DriverID, Name: r.DriverName}
	if m.profiles != nil {
		driver = m.profiles.Lookup(r.DriverID, r.DriverName)
	}
	if driver.Name == "" {
		driver.Name = r.DriverName
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.sessions[r.ID]; ok {
		m.mu.Unlock()
		return
	}
	sess := &session{subs: make(map[chan models.DriverMatchState]struct{})}
	sess.sim = NewSimulator(r.ID, driver, r.Location, m.tick, func(st models.DriverMatchState) {
		m.publish(st)
	})
	m.sessions[r.ID] = sess
	m.mu.Unlock()

	observability.ActiveTracking.Inc()
	m.logger.Info("tracking started", "request_id", r.ID, "driver_id", driver.ID)
	m.record(sess.sim.Snapshot())
	sess.sim.Start()
}

func (m *Manager) stop(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		for ch := range sess.subs {
			delete(sess.subs, ch)
			close(ch)
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.sim.Stop()
	observability.ActiveTracking.Dec()
	m.logger.Info("tracking stopped", "request_id", id)
}

func (m *Manager) publish(st models.DriverMatchState) {
	m.mu.Lock()
	sess, ok := m.sessions[st.RequestID]
	if !ok {
		m.mu.Unlock()
		return
	}
	for ch := range sess.subs {
		select {
		case ch <- st:
		default:
			// slow subscriber; it will catch up on the next tick
		}
	}
	m.mu.Unlock()
	m.record(st)
}

func (m *Manager) record(st models.DriverMatchState) {
	if len(m.sinks) == 0 {
		return
	}
	d := models.Driver{
		ID:        st.DriverID,
		Name:      st.DriverName,
		Vehicle:   st.Vehicle,
		Rating:    st.Rating,
		Loc:       st.Position,
		RequestID: st.RequestID,
		Online:    true,
		Updated:   st.UpdatedAt,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, s := range m.sinks {
		if err := s.RecordPosition(ctx, d); err != nil {
			m.logger.Warn("record position failed", "request_id", st.RequestID, "error", err)
		}
	}
}

// Snapshot returns the current state of a tracked request.
func (m *Manager) Snapshot(id string) (models.DriverMatchState, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return models.DriverMatchState{}, fmt.Errorf("tracking %s: %w", id, apperr.ErrNotFound)
	}
	return sess.sim.Snapshot(), nil
}

// Subscribe streams updates for id. The channel receives the current
// snapshot immediately and is closed when tracking ends. The returned func
// unsubscribes.
func (m *Manager) Subscribe(id string) (<-chan models.DriverMatchState, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, nil, fmt.Errorf("tracking %s: %w", id, apperr.ErrNotFound)
	}
	ch := make(chan models.DriverMatchState, 8)
	ch <- sess.sim.Snapshot()
	sess.subs[ch] = struct{}{}
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := sess.subs[ch]; ok {
			delete(sess.subs, ch)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// Active returns the number of tracked requests.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every simulator.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.stop(id)
	}
}
