package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
)

// Board keeps one Queue per driver and keeps them in step with the
// request lifecycle.
type Board struct {
	src      Source
	interval time.Duration
	logger   *slog.Logger
	notify   func(driverID string, s Snapshot)

	mu     sync.RWMutex
	queues map[string]*Queue
	closed bool
}

func NewBoard(src Source, interval time.Duration, logger *slog.Logger, notify func(driverID string, s Snapshot)) *Board {
	if logger == nil {
		logger = slog.Default()
	}
	return &Board{
		src:      src,
		interval: interval,
		logger:   logger,
		notify:   notify,
		queues:   make(map[string]*Queue),
	}
}

// Join returns the driver's queue, creating and polling it on first use.
func (b *Board) Join(ctx context.Context, driver models.Party) (*Queue, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, apperr.ErrInvalidState
	}
	if q, ok := b.queues[driver.ID]; ok {
		b.mu.Unlock()
		return q, nil
	}
	var notify func(Snapshot)
	if b.notify != nil {
		id := driver.ID
		notify = func(s Snapshot) { b.notify(id, s) }
	}
	q := New(driver, b.src, b.interval, b.logger, notify)
	b.queues[driver.ID] = q
	b.mu.Unlock()

	if _, err := q.Poll(ctx); err != nil && !errors.Is(err, apperr.ErrInvalidState) {
		return q, err
	}
	return q, nil
}

func (b *Board) Queue(driverID string) (*Queue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[driverID]
	return q, ok
}

func (b *Board) all() []*Queue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Queue, 0, len(b.queues))
	for _, q := range b.queues {
		out = append(out, q)
	}
	return out
}

// OnTransition pushes new requests to idle drivers, withdraws claimed or
// cancelled ones, and frees a driver whose job was cancelled by the customer.
func (b *Board) OnTransition(t models.Transition) {
	id := t.Request.ID
	for _, q := range b.all() {
		switch {
		case t.From == "" && t.To == models.StatusPending:
			q.offer(t.Request)
		case t.To == models.StatusCancelled:
			q.withdraw(id)
			if q.release(id) {
				b.logger.Info("held job cancelled by customer", "driver_id", q.driver.ID, "request_id", id)
			}
		case t.From == models.StatusPending:
			q.withdraw(id)
		}
	}
}

// Close stops every driver's poller.
func (b *Board) Close() {
	b.mu.Lock()
	b.closed = true
	qs := b.queues
	b.queues = make(map[string]*Queue)
	b.mu.Unlock()
	for _, q := range qs {
		q.Close()
	}
}
