package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
)

// RequestStore persists recovery requests. Transition is a compare-and-set
// on the status column: it only applies when the stored status equals
// Change.From, so concurrent claims resolve to exactly one winner.
type RequestStore interface {
	Create(ctx context.Context, r *models.RecoveryRequest) error
	Get(ctx context.Context, id string) (*models.RecoveryRequest, error)
	ActiveFor(ctx context.Context, customerID string) (*models.RecoveryRequest, error)
	ListByCustomer(ctx context.Context, customerID string) ([]*models.RecoveryRequest, error)
	ListByStatus(ctx context.Context, status models.RequestStatus) ([]*models.RecoveryRequest, error)
	Transition(ctx context.Context, id string, c Change) (*models.RecoveryRequest, error)
}

// Change describes one status transition.
//
// For accepted, DriverID/DriverName record the claimant. For completed,
// a non-empty DriverID must match the current holder.
type Change struct {
	From       models.RequestStatus
	To         models.RequestStatus
	DriverID   string
	DriverName string
	At         time.Time
}

func (c Change) apply(r *models.RecoveryRequest) {
	at := c.At
	r.Status = c.To
	switch c.To {
	case models.StatusAccepted:
		r.DriverID = c.DriverID
		r.DriverName = c.DriverName
		r.AcceptedAt = &at
	case models.StatusCompleted:
		r.CompletedAt = &at
	case models.StatusCancelled:
		r.CancelledAt = &at
	}
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.RecoveryRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*models.RecoveryRequest)}
}

func (m *MemoryStore) Create(_ context.Context, r *models.RecoveryRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return fmt.Errorf("request %s: %w", r.ID, apperr.ErrConflict)
	}
	for _, existing := range m.requests {
		if existing.CustomerID == r.CustomerID && existing.Status.Active() {
			return fmt.Errorf("customer %s already has request %s: %w", r.CustomerID, existing.ID, apperr.ErrInvalidState)
		}
	}
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*models.RecoveryRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ActiveFor(_ context.Context, customerID string) (*models.RecoveryRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.requests {
		if r.CustomerID == customerID && r.Status.Active() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("active request for %s: %w", customerID, apperr.ErrNotFound)
}

// ListByCustomer returns the customer's requests newest first.
func (m *MemoryStore) ListByCustomer(_ context.Context, customerID string) ([]*models.RecoveryRequest, error) {
	out := m.filter(func(r *models.RecoveryRequest) bool { return r.CustomerID == customerID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// ListByStatus returns matching requests oldest first.
func (m *MemoryStore) ListByStatus(_ context.Context, status models.RequestStatus) ([]*models.RecoveryRequest, error) {
	out := m.filter(func(r *models.RecoveryRequest) bool { return r.Status == status })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) filter(keep func(*models.RecoveryRequest) bool) []*models.RecoveryRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.RecoveryRequest, 0)
	for _, r := range m.requests {
		if keep(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

func (m *MemoryStore) Transition(_ context.Context, id string, c Change) (*models.RecoveryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	if r.Status != c.From {
		return nil, fmt.Errorf("request %s is %s, not %s: %w", id, r.Status, c.From, apperr.ErrConflict)
	}
	if c.To == models.StatusCompleted && c.DriverID != "" && r.DriverID != c.DriverID {
		return nil, fmt.Errorf("request %s is held by another driver: %w", id, apperr.ErrConflict)
	}
	c.apply(r)
	cp := *r
	return &cp, nil
}
