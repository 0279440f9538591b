package otp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/hilbu/internal/apperr"
)

// Challenges tracks the verification in progress for each phone number.
type Challenges struct {
	svc  *Service
	tick time.Duration

	mu     sync.Mutex
	active map[string]*Challenge
}

func NewChallenges(svc *Service) *Challenges {
	return &Challenges{svc: svc, tick: time.Second, active: make(map[string]*Challenge)}
}

// Begin sends a code to phone and starts a fresh challenge, replacing any
// earlier one for the same number. While the earlier challenge is still
// counting down no new code is sent and ErrInvalidState is returned.
func (c *Challenges) Begin(ctx context.Context, phone string, guest bool) (*Challenge, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	prev := c.active[phone]
	c.mu.Unlock()
	if prev != nil {
		if st := prev.State(); !st.CanResend {
			return nil, fmt.Errorf("code already sent, retry in %ds: %w", st.Countdown, apperr.ErrInvalidState)
		}
	}
	if err := c.svc.Send(ctx, phone); err != nil {
		return nil, err
	}
	ch := NewChallenge(phone, guest, c.svc, c.svc, WithTickInterval(c.tick))
	ch.Start()

	c.mu.Lock()
	old := c.active[phone]
	c.active[phone] = ch
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return ch, nil
}

func (c *Challenges) Get(phone string) (*Challenge, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.active[phone]
	if !ok {
		return nil, fmt.Errorf("no verification in progress for this number: %w", apperr.ErrNotFound)
	}
	return ch, nil
}

// Finish drops the challenge for phone once it has been verified.
func (c *Challenges) Finish(phone string) {
	phone, _ = NormalizePhone(phone)
	c.mu.Lock()
	ch := c.active[phone]
	delete(c.active, phone)
	c.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

func (c *Challenges) Close() {
	c.mu.Lock()
	active := c.active
	c.active = make(map[string]*Challenge)
	c.mu.Unlock()
	for _, ch := range active {
		ch.Close()
	}
}
