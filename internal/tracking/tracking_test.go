package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/geo"
	"github.com/example/hilbu/internal/lifecycle"
	"github.com/example/hilbu/internal/models"
	"github.com/example/hilbu/internal/storage"
)

var customer = models.Coord{Lat: 29.3759, Lng: 47.9774}

func TestSimulatorStartsOffsetFromCustomer(t *testing.T) {
	s := NewSimulator("r1", models.Driver{ID: "d1", Name: "John Driver"}, customer, time.Hour, nil)
	st := s.Snapshot()
	if math.Abs(st.Position.Lat-(customer.Lat+StartOffset)) > 1e-12 || math.Abs(st.Position.Lng-(customer.Lng+StartOffset)) > 1e-12 {
		t.Fatalf("unexpected start position %+v", st.Position)
	}
	if st.ETAMinutes < 1 {
		t.Fatalf("ETA must be at least 1, got %d", st.ETAMinutes)
	}
}

func TestStepDriftsByFixedAmount(t *testing.T) {
	s := NewSimulator("r1", models.Driver{ID: "d1"}, customer, time.Hour, nil)
	prev := s.Snapshot()
	for i := 0; i < 50; i++ {
		cur, ok := s.Step()
		if !ok {
			t.Fatal("step on a live simulator must succeed")
		}
		if d := prev.Position.Lat - cur.Position.Lat; math.Abs(d-DriftPerTick) > 1e-9 {
			t.Fatalf("tick %d: lat moved by %v", i, d)
		}
		if d := prev.Position.Lng - cur.Position.Lng; math.Abs(d-DriftPerTick) > 1e-9 {
			t.Fatalf("tick %d: lng moved by %v", i, d)
		}
		km := geo.HaversineKm(cur.Position, customer)
		want := int(math.Round(km * 20))
		if want < 1 {
			want = 1
		}
		if cur.ETAMinutes != want || cur.ETAMinutes < 1 {
			t.Fatalf("tick %d: eta %d, want %d", i, cur.ETAMinutes, want)
		}
		prev = cur
	}
}

func TestStopHaltsUpdates(t *testing.T) {
	var mu sync.Mutex
	updates := 0
	s := NewSimulator("r1", models.Driver{ID: "d1"}, customer, 5*time.Millisecond, func(models.DriverMatchState) {
		mu.Lock()
		updates++
		mu.Unlock()
	})
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	before := s.Snapshot()
	mu.Lock()
	n := updates
	mu.Unlock()
	if n == 0 {
		t.Fatal("expected some ticks before stop")
	}
	time.Sleep(30 * time.Millisecond)
	if _, ok := s.Step(); ok {
		t.Fatal("step after stop must be refused")
	}
	if s.Snapshot().Position != before.Position {
		t.Fatal("position changed after stop")
	}
}

type sink struct {
	mu  sync.Mutex
	got []models.Driver
}

func (s *sink) RecordPosition(_ context.Context, d models.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, d)
	return nil
}

func (s *sink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

type profiles struct{}

func (profiles) Lookup(id, name string) models.Driver {
	return models.Driver{ID: id, Name: name, Vehicle: "Flatbed", Rating: 4.5}
}

func accepted(id string) models.Transition {
	return models.Transition{
		Request: models.RecoveryRequest{ID: id, DriverID: "d1", DriverName: "Sam", Location: customer, Status: models.StatusAccepted},
		From:    models.StatusPending,
		To:      models.StatusAccepted,
	}
}

func TestManagerFollowsLifecycle(t *testing.T) {
	out := &sink{}
	m := NewManager(5*time.Millisecond, profiles{}, nil, out)
	defer m.Close()

	if _, err := m.Snapshot("r1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found before accept, got %v", err)
	}
	m.OnTransition(accepted("r1"))
	st, err := m.Snapshot("r1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if st.Vehicle != "Flatbed" || st.DriverName != "Sam" {
		t.Fatalf("unexpected state %+v", st)
	}

	ch, cancel, err := m.Subscribe("r1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	if first := <-ch; first.RequestID != "r1" {
		t.Fatalf("unexpected first update %+v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for out.len() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("sink never received positions")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.OnTransition(models.Transition{Request: models.RecoveryRequest{ID: "r1"}, From: models.StatusAccepted, To: models.StatusCompleted})
	if m.Active() != 0 {
		t.Fatalf("expected no tracked requests, got %d", m.Active())
	}
	for range ch {
	}
	if _, err := m.Snapshot("r1"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after completion, got %v", err)
	}
}

func TestManagerCloseStopsEverything(t *testing.T) {
	m := NewManager(time.Hour, nil, nil)
	m.OnTransition(accepted("r1"))
	m.OnTransition(accepted("r2"))
	m.OnTransition(accepted("r2"))
	if m.Active() != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.Active())
	}
	m.Close()
	if m.Active() != 0 {
		t.Fatalf("expected 0 sessions after close, got %d", m.Active())
	}
	m.OnTransition(accepted("r3"))
	if m.Active() != 0 {
		t.Fatal("closed manager must not start new sessions")
	}
}

type cancelOnAccept struct {
	storage.RequestStore
	hook func(id string)
}

func (c *cancelOnAccept) Transition(ctx context.Context, id string, ch storage.Change) (*models.RecoveryRequest, error) {
	r, err := c.RequestStore.Transition(ctx, id, ch)
	if err == nil && ch.To == models.StatusAccepted {
		c.hook(id)
	}
	return r, err
}

func TestCancelRacingAcceptLeavesNoSession(t *testing.T) {
	ctx := context.Background()
	owner := models.Party{ID: "c1", Name: "Ann"}
	store := &cancelOnAccept{RequestStore: storage.NewMemoryStore()}
	svc := lifecycle.NewService(store)
	m := NewManager(time.Hour, nil, nil)
	defer m.Close()
	svc.Subscribe(m)

	done := make(chan struct{})
	store.hook = func(id string) {
		go func() {
			defer close(done)
			_, _ = svc.Cancel(ctx, owner, id)
		}()
		time.Sleep(50 * time.Millisecond)
	}

	r, err := svc.Submit(ctx, owner, lifecycle.SubmitInput{Pickup: "A"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := svc.Accept(ctx, models.Party{ID: "d1", Name: "Sam"}, r.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	<-done

	got, _ := store.Get(ctx, r.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if n := m.Active(); n != 0 {
		t.Fatalf("cancelled request must not keep a tracking session, active=%d", n)
	}
}
