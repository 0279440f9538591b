// Package lifecycle owns the recovery request state machine:
//
//	pending → accepted → completed
//	pending → cancelled
//	accepted → cancelled
//
// completed and cancelled are absorbing. Every committed transition is
// handed to the registered listeners in commit order per request: the
// commit and its delivery happen under the same per-request lock, so a
// listener never sees a later transition before an earlier one.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
	"github.com/example/hilbu/internal/observability"
	"github.com/example/hilbu/internal/payments"
	"github.com/example/hilbu/internal/storage"
)

// DefaultLocation is used when a customer submits without a position.
var DefaultLocation = models.Coord{Lat: 29.3759, Lng: 47.9774}

// Listener observes committed transitions. Implementations must not block.
type Listener interface {
	OnTransition(t models.Transition)
}

type ListenerFunc func(t models.Transition)

func (f ListenerFunc) OnTransition(t models.Transition) { f(t) }

// MethodResolver names the payment method a new request is billed to.
type MethodResolver interface {
	DefaultMethodName(customerID string) string
}

type SubmitInput struct {
	Pickup         string
	Dropoff        string
	VehicleDetails string
	Location       *models.Coord
}

type Service struct {
	store    storage.RequestStore
	charger  payments.Charger
	methods  MethodResolver
	fare     models.Fare
	currency string
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.RWMutex
	listeners []Listener

	requestLocks [64]sync.Mutex
}

type Option func(*Service)

func WithCharger(c payments.Charger) Option { return func(s *Service) { s.charger = c } }
func WithMethods(m MethodResolver) Option { return func(s *Service) { s.methods = m } }
func WithFare(f models.Fare) Option { return func(s *Service) { s.fare = f } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(store storage.RequestStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		charger:  payments.NopCharger{},
		fare:     models.DefaultFare,
		currency: "kwd",
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "lifecycle")
	return s
}

// Subscribe registers l for every future transition.
func (s *Service) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Submit creates a pending request for customer. Pickup is required; a
// blank dropoff or vehicle description becomes "Not specified".
func (s *Service) Submit(ctx context.Context, customer models.Party, in SubmitInput) (models.RecoveryRequest, error) {
	pickup := strings.TrimSpace(in.Pickup)
	if pickup == "" {
		return models.RecoveryRequest{}, apperr.Validation("pickup location is required")
	}
	if customer.ID == "" {
		return models.RecoveryRequest{}, apperr.Validation("customer is required")
	}
	if _, err := s.store.ActiveFor(ctx, customer.ID); err == nil {
		return models.RecoveryRequest{}, fmt.Errorf("customer %s already has an active request: %w", customer.ID, apperr.ErrInvalidState)
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return models.RecoveryRequest{}, err
	}

	loc := DefaultLocation
	if in.Location != nil {
		loc = *in.Location
	}
	method := payments.CashLabel
	if s.methods != nil {
		method = s.methods.DefaultMethodName(customer.ID)
	}
	r := models.RecoveryRequest{
		ID:             uuid.NewString(),
		CustomerID:     customer.ID,
		CustomerName:   customer.Name,
		Pickup:         pickup,
		Dropoff:        orNotSpecified(in.Dropoff),
		VehicleDetails: orNotSpecified(in.VehicleDetails),
		Location:       loc,
		Timestamp:      s.now(),
		Status:         models.StatusPending,
		AmountFils:     s.fare.Total(),
		PaymentMethod:  method,
	}
	if method != payments.CashLabel {
		ref, err := s.charger.Hold(ctx, r.AmountFils, s.currency, customer.ID)
		if err != nil {
			return models.RecoveryRequest{}, fmt.Errorf("hold recovery fee: %w", err)
		}
		r.PaymentRef = ref
	}
	unlock := s.lockRequest(r.ID)
	if err := s.store.Create(ctx, &r); err != nil {
		unlock()
		s.release(r)
		return models.RecoveryRequest{}, err
	}
	s.emit(models.Transition{Request: r, To: models.StatusPending, At: r.Timestamp})
	unlock()
	s.logger.Info("request submitted", "request_id", r.ID, "customer_id", r.CustomerID)
	return r, nil
}

// Cancel moves a pending or accepted request owned by customer to cancelled.
func (s *Service) Cancel(ctx context.Context, customer models.Party, id string) (models.RecoveryRequest, error) {
	for attempt := 0; attempt < 3; attempt++ {
		cur, err := s.store.Get(ctx, id)
		if err != nil {
			return models.RecoveryRequest{}, err
		}
		if cur.CustomerID != customer.ID {
			return models.RecoveryRequest{}, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
		}
		if !cur.Status.CanTransitionTo(models.StatusCancelled) {
			return models.RecoveryRequest{}, fmt.Errorf("cannot cancel %s request: %w", cur.Status, apperr.ErrInvalidTransition)
		}
		r, err := s.transition(ctx, id, storage.Change{From: cur.Status, To: models.StatusCancelled})
		if errors.Is(err, apperr.ErrConflict) {
			// status moved underneath us (e.g. claimed); re-evaluate
			continue
		}
		if err != nil {
			return models.RecoveryRequest{}, err
		}
		s.release(r)
		return r, nil
	}
	return models.RecoveryRequest{}, fmt.Errorf("cancel %s: %w", id, apperr.ErrConflict)
}

// Accept claims a pending request for driver. It is single-shot: of
// concurrent claims exactly one succeeds, the rest get ErrConflict.
func (s *Service) Accept(ctx context.Context, driver models.Party, id string) (models.RecoveryRequest, error) {
	r, err := s.transition(ctx, id, storage.Change{From: models.StatusPending, To: models.StatusAccepted, DriverID: driver.ID, DriverName: driver.Name})
	if errors.Is(err, apperr.ErrConflict) {
		observability.ClaimConflicts.Inc()
	}
	if err != nil {
		return models.RecoveryRequest{}, err
	}
	observability.MatchLatency.Observe(r.AcceptedAt.Sub(r.Timestamp).Seconds())
	s.logger.Info("request accepted", "request_id", r.ID, "driver_id", driver.ID)
	return r, nil
}

// Complete marks an accepted request done. Only the holding driver may
// complete it; any other state yields ErrInvalidTransition.
func (s *Service) Complete(ctx context.Context, driver models.Party, id string) (models.RecoveryRequest, error) {
	r, err := s.transition(ctx, id, storage.Change{From: models.StatusAccepted, To: models.StatusCompleted, DriverID: driver.ID})
	if errors.Is(err, apperr.ErrConflict) {
		return models.RecoveryRequest{}, fmt.Errorf("complete %s: %w", id, apperr.ErrInvalidTransition)
	}
	if err != nil {
		return models.RecoveryRequest{}, err
	}
	if err := s.charger.Capture(ctx, r.PaymentRef); err != nil {
		s.logger.Error("capture recovery fee failed", "request_id", r.ID, "error", err)
	}
	s.logger.Info("request completed", "request_id", r.ID, "driver_id", driver.ID)
	return r, nil
}

// Current returns the customer's active request or ErrNotFound.
func (s *Service) Current(ctx context.Context, customer models.Party) (models.RecoveryRequest, error) {
	r, err := s.store.ActiveFor(ctx, customer.ID)
	if err != nil {
		return models.RecoveryRequest{}, err
	}
	return *r, nil
}

// Get returns any request visible to customer.
func (s *Service) Get(ctx context.Context, customer models.Party, id string) (models.RecoveryRequest, error) {
	r, err := s.store.Get(ctx, id)
	if err != nil {
		return models.RecoveryRequest{}, err
	}
	if r.CustomerID != customer.ID {
		return models.RecoveryRequest{}, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	return *r, nil
}

// History lists the customer's completed and cancelled requests, newest first.
func (s *Service) History(ctx context.Context, customer models.Party) ([]models.RecoveryRequest, error) {
	all, err := s.store.ListByCustomer(ctx, customer.ID)
	if err != nil {
		return nil, err
	}
	out := make([]models.RecoveryRequest, 0, len(all))
	for _, r := range all {
		if r.Status.Terminal() {
			out = append(out, *r)
		}
	}
	return out, nil
}

// TripDetails renders the fare breakdown of one of the customer's requests.
func (s *Service) TripDetails(ctx context.Context, customer models.Party, id string) (models.TripDetail, error) {
	r, err := s.Get(ctx, customer, id)
	if err != nil {
		return models.TripDetail{}, err
	}
	fare := s.fare
	if r.AmountFils != fare.Total() {
		fare = models.Fare{RecoveryFee: r.AmountFils - fare.ServiceFee, ServiceFee: fare.ServiceFee}
	}
	return models.TripDetail{
		ID:            r.ID,
		CustomerName:  r.CustomerName,
		DriverName:    r.DriverName,
		Pickup:        r.Pickup,
		Dropoff:       r.Dropoff,
		Vehicle:       r.VehicleDetails,
		Timestamp:     r.Timestamp,
		CompletedAt:   r.CompletedAt,
		Status:        r.Status,
		RecoveryFee:   models.FormatKD(fare.RecoveryFee),
		ServiceFee:    models.FormatKD(fare.ServiceFee),
		Amount:        models.FormatKD(r.AmountFils),
		PaymentMethod: r.PaymentMethod,
	}, nil
}

// Pending lists requests waiting for a driver, oldest first.
func (s *Service) Pending(ctx context.Context) ([]models.RecoveryRequest, error) {
	rs, err := s.store.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, err
	}
	out := make([]models.RecoveryRequest, 0, len(rs))
	for _, r := range rs {
		out = append(out, *r)
	}
	return out, nil
}

func (s *Service) transition(ctx context.Context, id string, c storage.Change) (models.RecoveryRequest, error) {
	defer s.lockRequest(id)()
	c.At = s.now()
	r, err := s.store.Transition(ctx, id, c)
	if err != nil {
		return models.RecoveryRequest{}, err
	}
	s.emit(models.Transition{Request: *r, From: c.From, To: c.To, At: c.At})
	return *r, nil
}

// lockRequest holds the lock stripe for id until the returned func runs.
// Listeners run under it and must not transition requests synchronously.
func (s *Service) lockRequest(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	m := &s.requestLocks[h.Sum32()%uint32(len(s.requestLocks))]
	m.Lock()
	return m.Unlock
}

func (s *Service) release(r models.RecoveryRequest) {
	if r.PaymentRef == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.charger.Cancel(ctx, r.PaymentRef); err != nil {
		s.logger.Error("release recovery fee failed", "request_id", r.ID, "error", err)
	}
}

func (s *Service) emit(t models.Transition) {
	observability.RequestTransitions.WithLabelValues(string(t.To)).Inc()
	s.mu.RLock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.RUnlock()
	for _, l := range ls {
		l.OnTransition(t)
	}
}

func orNotSpecified(v string) string {
	if v = strings.TrimSpace(v); v == "" {
		return models.NotSpecified
	}
	return v
}
