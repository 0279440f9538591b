package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
)

func newRequest(id, customer string, at time.Time) *models.RecoveryRequest {
	return &models.RecoveryRequest{ID: id, CustomerID: customer, Pickup: "5th Ave", Status: models.StatusPending, Timestamp: at}
}

func TestMemoryStoreOneActivePerCustomer(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	if err := s.Create(ctx, newRequest("r1", "c1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, newRequest("r2", "c1", now)); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := s.Transition(ctx, "r1", Change{From: models.StatusPending, To: models.StatusCancelled, At: now}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.Create(ctx, newRequest("r2", "c1", now)); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestMemoryStoreTransitionCompareAndSet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Create(ctx, newRequest("r1", "c1", time.Now()))

	const drivers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < drivers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Transition(ctx, "r1", Change{From: models.StatusPending, To: models.StatusAccepted, DriverID: "d", At: time.Now()})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if wins != 1 || conflicts != drivers-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d/%d", drivers-1, wins, conflicts)
	}
}

func TestMemoryStoreCompleteRequiresHolder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Create(ctx, newRequest("r1", "c1", time.Now()))
	r, err := s.Transition(ctx, "r1", Change{From: models.StatusPending, To: models.StatusAccepted, DriverID: "d1", DriverName: "Ali", At: time.Now()})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if r.DriverName != "Ali" || r.AcceptedAt == nil {
		t.Fatalf("accept should record the driver, got %+v", r)
	}
	if _, err := s.Transition(ctx, "r1", Change{From: models.StatusAccepted, To: models.StatusCompleted, DriverID: "d2"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for foreign driver, got %v", err)
	}
	if _, err := s.Transition(ctx, "r1", Change{From: models.StatusAccepted, To: models.StatusCompleted, DriverID: "d1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := s.Transition(ctx, "missing", Change{From: models.StatusPending, To: models.StatusAccepted}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreOrdering(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		r := newRequest(id, "c-"+id, base.Add(time.Duration(i)*time.Minute))
		_ = s.Create(ctx, r)
	}
	pending, _ := s.ListByStatus(ctx, models.StatusPending)
	if len(pending) != 3 || pending[0].ID != "a" || pending[2].ID != "c" {
		t.Fatalf("expected oldest first, got %v", ids(pending))
	}

	_ = s.Create(ctx, newRequest("x1", "same", base))
	_, _ = s.Transition(ctx, "x1", Change{From: models.StatusPending, To: models.StatusCancelled, At: base})
	_ = s.Create(ctx, newRequest("x2", "same", base.Add(time.Hour)))
	mine, _ := s.ListByCustomer(ctx, "same")
	if len(mine) != 2 || mine[0].ID != "x2" {
		t.Fatalf("expected newest first, got %v", ids(mine))
	}
}

func ids(rs []*models.RecoveryRequest) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
