// Package queue is the driver-side view of pending recovery requests.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
	"github.com/example/hilbu/internal/observability"
	"github.com/example/hilbu/internal/schedule"
)

const DefaultPollInterval = 20 * time.Second

// Source is the request lifecycle as seen by a driver.
type Source interface {
	Pending(ctx context.Context) ([]models.RecoveryRequest, error)
	Accept(ctx context.Context, driver models.Party, id string) (models.RecoveryRequest, error)
	Complete(ctx context.Context, driver models.Party, id string) (models.RecoveryRequest, error)
}

// Snapshot is what a driver's screen shows.
type Snapshot struct {
	DriverID string                   `json:"driver_id"`
	Online   bool                     `json:"online"`
	Requests []models.RecoveryRequest `json:"requests"`
	Job      *models.RecoveryRequest  `json:"job,omitempty"`
}

// Queue holds one driver's visible requests and at most one accepted job.
// It polls the source on a fixed interval while the driver is online and
// has no job.
type Queue struct {
	driver   models.Party
	src      Source
	interval time.Duration
	logger   *slog.Logger
	notify   func(Snapshot)

	mu       sync.Mutex
	online   bool
	visible  []models.RecoveryRequest
	rejected map[string]struct{}
	job      *models.RecoveryRequest
	poller   *schedule.Task
	closed   bool

	// claim is the request id being accepted; claimLost is set when it
	// is cancelled before the claim returns.
	claim     string
	claimLost bool
}

// New returns an online queue with its poller running. notify may be nil.
func New(driver models.Party, src Source, interval time.Duration, logger *slog.Logger, notify func(Snapshot)) *Queue {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		driver:   driver,
		src:      src,
		interval: interval,
		logger:   logger.With("component", "queue", "driver_id", driver.ID),
		notify:   notify,
		online:   true,
		rejected: make(map[string]struct{}),
	}
	observability.DriversOnline.Inc()
	q.mu.Lock()
	q.resumeLocked()
	q.mu.Unlock()
	return q
}

func (q *Queue) Driver() models.Party { return q.driver }

// Poll refreshes the visible list: pending requests minus the ones this
// driver rejected. It fails with ErrInvalidState while offline or holding
// a job.
func (q *Queue) Poll(ctx context.Context) ([]models.RecoveryRequest, error) {
	if err := q.pollable(); err != nil {
		return nil, err
	}
	pending, err := q.src.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("poll pending requests: %w", err)
	}

	q.mu.Lock()
	if err := q.pollableLocked(); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	visible := make([]models.RecoveryRequest, 0, len(pending))
	for _, r := range pending {
		if _, skip := q.rejected[r.ID]; !skip {
			visible = append(visible, r)
		}
	}
	q.visible = visible
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(snap)
	return snap.Requests, nil
}

func (q *Queue) pollable() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pollableLocked()
}

func (q *Queue) pollableLocked() error {
	switch {
	case q.closed:
		return fmt.Errorf("queue closed: %w", apperr.ErrInvalidState)
	case !q.online:
		return fmt.Errorf("driver is offline: %w", apperr.ErrInvalidState)
	case q.job != nil:
		return fmt.Errorf("driver has an accepted job: %w", apperr.ErrInvalidState)
	}
	return nil
}

// Accept claims a visible request. Claims are single-shot: a lost race
// returns ErrConflict and drops the request from view. A request the
// customer cancels while the claim is in flight is not held either.
func (q *Queue) Accept(ctx context.Context, id string) (models.RecoveryRequest, error) {
	q.mu.Lock()
	if q.job != nil || q.claim != "" {
		q.mu.Unlock()
		return models.RecoveryRequest{}, fmt.Errorf("driver already has a job: %w", apperr.ErrInvalidState)
	}
	if !q.online {
		q.mu.Unlock()
		return models.RecoveryRequest{}, fmt.Errorf("driver is offline: %w", apperr.ErrInvalidState)
	}
	if q.indexLocked(id) < 0 {
		q.mu.Unlock()
		return models.RecoveryRequest{}, fmt.Errorf("request %s not in queue: %w", id, apperr.ErrNotFound)
	}
	q.claim = id
	q.claimLost = false
	q.mu.Unlock()

	r, err := q.src.Accept(ctx, q.driver, id)

	q.mu.Lock()
	lost := q.claimLost
	q.claim = ""
	q.claimLost = false
	q.dropLocked(id)
	if err == nil && lost {
		err = fmt.Errorf("request %s was cancelled by the customer: %w", id, apperr.ErrConflict)
	}
	if err == nil {
		q.job = &r
		q.poller.Stop()
		q.poller = nil
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(snap)
	if err != nil {
		return models.RecoveryRequest{}, err
	}
	q.logger.Info("job accepted", "request_id", id)
	return r, nil
}

// Reject hides id from this driver only.
func (q *Queue) Reject(id string) error {
	q.mu.Lock()
	if q.indexLocked(id) < 0 {
		q.mu.Unlock()
		return fmt.Errorf("request %s not in queue: %w", id, apperr.ErrNotFound)
	}
	q.dropLocked(id)
	q.rejected[id] = struct{}{}
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(snap)
	return nil
}

// GoOffline halts polling. It fails with ErrInvalidState while a job is
// held and leaves the driver online.
func (q *Queue) GoOffline() error {
	q.mu.Lock()
	if q.job != nil || q.claim != "" {
		q.mu.Unlock()
		return fmt.Errorf("cannot go offline with an active job: %w", apperr.ErrInvalidState)
	}
	if q.online {
		q.online = false
		observability.DriversOnline.Dec()
	}
	q.poller.Stop()
	q.poller = nil
	q.visible = nil
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(snap)
	return nil
}

// GoOnline resumes polling and refreshes immediately.
func (q *Queue) GoOnline(ctx context.Context) ([]models.RecoveryRequest, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue closed: %w", apperr.ErrInvalidState)
	}
	if !q.online {
		q.online = true
		observability.DriversOnline.Inc()
	}
	q.resumeLocked()
	q.mu.Unlock()

	reqs, err := q.Poll(ctx)
	if errors.Is(err, apperr.ErrInvalidState) {
		return nil, nil
	}
	return reqs, err
}

// CompleteJob finishes the held job and resumes polling.
func (q *Queue) CompleteJob(ctx context.Context) (models.RecoveryRequest, error) {
	q.mu.Lock()
	if q.job == nil {
		q.mu.Unlock()
		return models.RecoveryRequest{}, fmt.Errorf("no accepted job: %w", apperr.ErrInvalidState)
	}
	id := q.job.ID
	q.mu.Unlock()

	r, err := q.src.Complete(ctx, q.driver, id)
	if err != nil {
		return models.RecoveryRequest{}, err
	}
	q.release(id)
	q.logger.Info("job completed", "request_id", id)
	if _, err := q.Poll(ctx); err != nil && !errors.Is(err, apperr.ErrInvalidState) {
		q.logger.Warn("poll after completion failed", "error", err)
	}
	return r, nil
}

// release clears the held job when it is id and resumes polling. A claim
// on id still in flight is marked lost so Accept will not hold it.
func (q *Queue) release(id string) bool {
	q.mu.Lock()
	if q.claim == id {
		q.claimLost = true
		q.mu.Unlock()
		return true
	}
	if q.job == nil || q.job.ID != id {
		q.mu.Unlock()
		return false
	}
	q.job = nil
	q.resumeLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(snap)
	return true
}

// offer shows a newly created request without waiting for the next poll.
func (q *Queue) offer(r models.RecoveryRequest) {
	q.mu.Lock()
	if q.pollableLocked() != nil || q.indexLocked(r.ID) >= 0 {
		q.mu.Unlock()
		return
	}
	if _, skip := q.rejected[r.ID]; skip {
		q.mu.Unlock()
		return
	}
	q.visible = append(q.visible, r)
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(snap)
}

// withdraw removes a request that is no longer pending.
func (q *Queue) withdraw(id string) {
	q.mu.Lock()
	if q.indexLocked(id) < 0 {
		q.mu.Unlock()
		return
	}
	q.dropLocked(id)
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.publish(snap)
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Close stops the poller. The queue refuses further polls.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if q.online {
		observability.DriversOnline.Dec()
	}
	q.poller.Stop()
	q.poller = nil
}

func (q *Queue) resumeLocked() {
	if q.closed || !q.online || q.job != nil || q.poller != nil {
		return
	}
	q.poller = schedule.Every(q.interval, q.tick)
}

func (q *Queue) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.Poll(ctx); err != nil && !errors.Is(err, apperr.ErrInvalidState) {
		q.logger.Warn("poll failed", "error", err)
	}
}

func (q *Queue) indexLocked(id string) int {
	for i, r := range q.visible {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) dropLocked(id string) {
	if i := q.indexLocked(id); i >= 0 {
		q.visible = append(q.visible[:i], q.visible[i+1:]...)
	}
}

func (q *Queue) snapshotLocked() Snapshot {
	s := Snapshot{
		DriverID: q.driver.ID,
		Online:   q.online,
		Requests: append([]models.RecoveryRequest{}, q.visible...),
	}
	if q.job != nil {
		job := *q.job
		s.Job = &job
	}
	return s
}

func (q *Queue) publish(s Snapshot) {
	if q.notify != nil {
		q.notify(s)
	}
}
