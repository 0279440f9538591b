// Package otp issues one-time phone verification codes and models the
// six-cell code entry a user goes through to submit one.
package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/observability"
	"github.com/example/hilbu/internal/schedule"
)

const (
	CodeLength     = 6
	CountdownStart = 60
)

// Outcome is where a successful verification leads.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeRegister sends the user on to complete their profile.
	OutcomeRegister
	// OutcomeMain sends a guest straight into the app.
	OutcomeMain
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRegister:
		return "register"
	case OutcomeMain:
		return "main"
	default:
		return "none"
	}
}

type Verifier interface {
	Verify(ctx context.Context, phone, code string) (bool, error)
}

type Sender interface {
	Send(ctx context.Context, phone string) error
}

// State is a copy of the entry form.
type State struct {
	Cells     [CodeLength]string `json:"cells"`
	Focus     int                `json:"focus"`
	Countdown int                `json:"countdown"`
	CanResend bool               `json:"can_resend"`
}

// Challenge is one verification attempt for a phone number.
type Challenge struct {
	phone    string
	guest    bool
	verifier Verifier
	sender   Sender
	tick     time.Duration

	mu        sync.Mutex
	cells     [CodeLength]string
	focus     int
	countdown int
	canResend bool
	timer     *schedule.Task
	closed    bool
}

type ChallengeOption func(*Challenge)

// WithTickInterval shortens the one-second countdown step, for tests.
func WithTickInterval(d time.Duration) ChallengeOption {
	return func(c *Challenge) { c.tick = d }
}

func NewChallenge(phone string, guest bool, v Verifier, s Sender, opts ...ChallengeOption) *Challenge {
	c := &Challenge{
		phone:     phone,
		guest:     guest,
		verifier:  v,
		sender:    s,
		tick:      time.Second,
		countdown: CountdownStart,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins the resend countdown.
func (c *Challenge) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked()
}

func (c *Challenge) startLocked() {
	if c.closed || c.timer != nil {
		return
	}
	c.timer = schedule.Every(c.tick, c.countDown)
}

func (c *Challenge) countDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.countdown > 1 {
		c.countdown--
		return
	}
	c.countdown = 0
	c.canResend = true
	c.timer.Stop()
	c.timer = nil
}

// OnDigit writes the first character of text into cell i. A filled cell
// moves focus forward; filling the last cell submits the code.
func (c *Challenge) OnDigit(ctx context.Context, i int, text string) (Outcome, error) {
	if i < 0 || i >= CodeLength {
		return OutcomeNone, apperr.Validation("cell %d out of range", i)
	}
	digit := ""
	if r, _ := utf8.DecodeRuneInString(text); text != "" {
		if r < '0' || r > '9' {
			return OutcomeNone, apperr.Validation("cell accepts digits only")
		}
		digit = string(r)
	}

	c.mu.Lock()
	c.cells[i] = digit
	c.focus = i
	if digit != "" && i < CodeLength-1 {
		c.focus = i + 1
	}
	c.mu.Unlock()

	if digit != "" && i == CodeLength-1 {
		return c.Verify(ctx)
	}
	return OutcomeNone, nil
}

// OnBackspace clears a filled cell in place. On an empty cell it moves
// focus back one cell without clearing it.
func (c *Challenge) OnBackspace(i int) error {
	if i < 0 || i >= CodeLength {
		return apperr.Validation("cell %d out of range", i)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focus = i
	switch {
	case c.cells[i] != "":
		c.cells[i] = ""
	case i > 0:
		c.focus = i - 1
	}
	return nil
}

// Verify submits the entered code. A rejected code leaves the cells as
// they are.
func (c *Challenge) Verify(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	code := strings.Join(c.cells[:], "")
	c.mu.Unlock()

	if len(code) != CodeLength {
		return OutcomeNone, apperr.ErrIncompleteCode
	}
	ok, err := c.verifier.Verify(ctx, c.phone, code)
	if err != nil {
		result := "error"
		if errors.Is(err, apperr.ErrInvalidState) {
			result = "locked"
		}
		observability.OTPVerification.WithLabelValues(result).Inc()
		return OutcomeNone, fmt.Errorf("verify code: %w", err)
	}
	if !ok {
		observability.OTPVerification.WithLabelValues("invalid").Inc()
		return OutcomeNone, apperr.ErrInvalidCode
	}
	observability.OTPVerification.WithLabelValues("ok").Inc()
	if c.guest {
		return OutcomeMain, nil
	}
	return OutcomeRegister, nil
}

// Resend asks for a fresh code once the countdown has run out and
// restarts it. Entered digits are kept.
func (c *Challenge) Resend(ctx context.Context) error {
	c.mu.Lock()
	if !c.canResend {
		left := c.countdown
		c.mu.Unlock()
		return fmt.Errorf("resend available in %ds: %w", left, apperr.ErrInvalidState)
	}
	c.mu.Unlock()

	if c.sender != nil {
		if err := c.sender.Send(ctx, c.phone); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.countdown = CountdownStart
	c.canResend = false
	c.startLocked()
	return nil
}

func (c *Challenge) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{Cells: c.cells, Focus: c.focus, Countdown: c.countdown, CanResend: c.canResend}
}

// Close stops the countdown.
func (c *Challenge) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.timer.Stop()
	c.timer = nil
}
