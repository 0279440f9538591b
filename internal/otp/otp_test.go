package otp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/hilbu/internal/apperr"
)

type fakeVerifier struct {
	mu    sync.Mutex
	calls []string
	ok    bool
}

func (f *fakeVerifier) Verify(_ context.Context, _, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, code)
	return f.ok, nil
}

type fakeSender struct{ sent int }

func (f *fakeSender) Send(context.Context, string) error { f.sent++; return nil }

func TestDigitAdvancesFocus(t *testing.T) {
	c := NewChallenge("55512345", false, &fakeVerifier{ok: true}, nil)
	ctx := context.Background()
	for i := 0; i < CodeLength-1; i++ {
		if _, err := c.OnDigit(ctx, i, "7"); err != nil {
			t.Fatalf("digit %d: %v", i, err)
		}
		if got := c.State().Focus; got != i+1 {
			t.Fatalf("after cell %d focus should be %d, got %d", i, i+1, got)
		}
	}
}

func TestDigitKeepsFirstCharacterOnly(t *testing.T) {
	c := NewChallenge("55512345", false, &fakeVerifier{}, nil)
	if _, err := c.OnDigit(context.Background(), 2, "987"); err != nil {
		t.Fatalf("digit: %v", err)
	}
	if got := c.State().Cells[2]; got != "9" {
		t.Fatalf("expected first character, got %q", got)
	}
	if _, err := c.OnDigit(context.Background(), 0, "x"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for non-digit, got %v", err)
	}
	if _, err := c.OnDigit(context.Background(), 6, "1"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for out of range cell, got %v", err)
	}
}

func TestLastDigitAutoVerifies(t *testing.T) {
	v := &fakeVerifier{ok: true}
	c := NewChallenge("55512345", true, v, nil)
	ctx := context.Background()
	var out Outcome
	var err error
	for i, d := range []string{"1", "2", "3", "4", "5", "6"} {
		out, err = c.OnDigit(ctx, i, d)
		if err != nil {
			t.Fatalf("digit %d: %v", i, err)
		}
	}
	if len(v.calls) != 1 || v.calls[0] != "123456" {
		t.Fatalf("expected a single automatic verify with 123456, got %v", v.calls)
	}
	if out != OutcomeMain {
		t.Fatalf("guest should go to main, got %s", out)
	}
}

func TestVerifyOutcomes(t *testing.T) {
	ctx := context.Background()
	fill := func(c *Challenge, upto int) {
		for i := 0; i < upto; i++ {
			c.cells[i] = "4"
		}
	}

	c := NewChallenge("55512345", false, &fakeVerifier{ok: true}, nil)
	fill(c, 5)
	if _, err := c.Verify(ctx); !errors.Is(err, apperr.ErrIncompleteCode) {
		t.Fatalf("expected incomplete code, got %v", err)
	}
	fill(c, 6)
	if out, err := c.Verify(ctx); err != nil || out != OutcomeRegister {
		t.Fatalf("non-guest should go to register, got %s err=%v", out, err)
	}

	bad := NewChallenge("55512345", false, &fakeVerifier{ok: false}, nil)
	fill(bad, 6)
	if _, err := bad.Verify(ctx); !errors.Is(err, apperr.ErrInvalidCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	st := bad.State()
	if got := strings.Join(st.Cells[:], ""); got != "444444" {
		t.Fatalf("failed verify must keep cells, got %q", got)
	}
}

func TestBackspace(t *testing.T) {
	c := NewChallenge("55512345", false, &fakeVerifier{}, nil)
	ctx := context.Background()
	_, _ = c.OnDigit(ctx, 0, "1")
	_, _ = c.OnDigit(ctx, 1, "2")

	if err := c.OnBackspace(2); err != nil {
		t.Fatalf("backspace: %v", err)
	}
	st := c.State()
	if st.Focus != 1 || st.Cells[1] != "2" {
		t.Fatalf("empty backspace should move focus back without clearing, got %+v", st)
	}
	_ = c.OnBackspace(1)
	st = c.State()
	if st.Focus != 1 || st.Cells[1] != "" {
		t.Fatalf("backspace on a filled cell should clear it in place, got %+v", st)
	}
	_ = c.OnBackspace(0)
	_ = c.OnBackspace(0)
	if st := c.State(); st.Focus != 0 {
		t.Fatalf("focus cannot move before the first cell, got %d", st.Focus)
	}
}

func TestCountdownAndResend(t *testing.T) {
	s := &fakeSender{}
	c := NewChallenge("55512345", false, &fakeVerifier{}, s, WithTickInterval(time.Millisecond))
	defer c.Close()
	ctx := context.Background()
	_, _ = c.OnDigit(ctx, 0, "3")

	if err := c.Resend(ctx); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("resend before countdown ends: expected ErrInvalidState, got %v", err)
	}
	c.Start()
	deadline := time.Now().Add(2 * time.Second)
	for !c.State().CanResend {
		if time.Now().After(deadline) {
			t.Fatal("countdown never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st := c.State(); st.Countdown != 0 {
		t.Fatalf("expected countdown 0, got %d", st.Countdown)
	}
	c.Close()
	if err := c.Resend(ctx); err != nil {
		t.Fatalf("resend: %v", err)
	}
	st := c.State()
	if st.Countdown != CountdownStart || st.CanResend || s.sent != 1 {
		t.Fatalf("unexpected state after resend %+v sent=%d", st, s.sent)
	}
	if st.Cells[0] != "3" {
		t.Fatal("resend keeps entered digits")
	}
}

type capturedSMS struct {
	to, body string
}

func (c *capturedSMS) SendSMS(_ context.Context, to, body string) error {
	c.to, c.body = to, body
	return nil
}

func TestServiceSendAndVerify(t *testing.T) {
	sms := &capturedSMS{}
	svc := NewService(NewMemoryStore(), sms, time.Minute, nil)
	ctx := context.Background()

	if err := svc.Send(ctx, "1234"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("short phone: expected ErrValidation, got %v", err)
	}
	if err := svc.Send(ctx, " 96550001234 "); err != nil {
		t.Fatalf("send: %v", err)
	}
	if sms.to != "96550001234" {
		t.Fatalf("unexpected recipient %q", sms.to)
	}
	code := sms.body[len(sms.body)-CodeLength:]

	if ok, _ := svc.Verify(ctx, "96550001234", "000000x"); ok {
		t.Fatal("wrong code must not verify")
	}
	if ok, err := svc.Verify(ctx, "96550001234", code); !ok || err != nil {
		t.Fatalf("expected code to verify, ok=%v err=%v", ok, err)
	}
	if ok, _ := svc.Verify(ctx, "96550001234", code); ok {
		t.Fatal("a code is single use")
	}
}

func TestMemoryStoreExpires(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now()
	m.now = func() time.Time { return now }
	ctx := context.Background()
	_ = m.Put(ctx, "p", "123456", time.Minute)
	if _, ok, _ := m.Get(ctx, "p"); !ok {
		t.Fatal("expected code before expiry")
	}
	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "p"); ok {
		t.Fatal("expected code to expire")
	}
}

func TestWrongGuessesBurnCode(t *testing.T) {
	sms := &capturedSMS{}
	svc := NewService(NewMemoryStore(), sms, time.Minute, nil)
	ctx := context.Background()
	phone := "96550001234"
	if err := svc.Send(ctx, phone); err != nil {
		t.Fatalf("send: %v", err)
	}
	code := sms.body[len(sms.body)-CodeLength:]
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 1; i < MaxAttempts; i++ {
		if ok, err := svc.Verify(ctx, phone, wrong); ok || err != nil {
			t.Fatalf("attempt %d: expected plain rejection, ok=%v err=%v", i, ok, err)
		}
	}
	if _, err := svc.Verify(ctx, phone, wrong); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("attempt %d: expected ErrInvalidState, got %v", MaxAttempts, err)
	}
	for i := 0; i < 100; i++ {
		if ok, _ := svc.Verify(ctx, phone, code); ok {
			t.Fatal("a burned code must never verify")
		}
	}

	if err := svc.Send(ctx, phone); err != nil {
		t.Fatalf("resend: %v", err)
	}
	fresh := sms.body[len(sms.body)-CodeLength:]
	if ok, err := svc.Verify(ctx, phone, fresh); !ok || err != nil {
		t.Fatalf("a new code starts with a clean count, ok=%v err=%v", ok, err)
	}
}

func TestBeginWaitsForCountdown(t *testing.T) {
	sms := &capturedSMS{}
	chs := NewChallenges(NewService(NewMemoryStore(), sms, time.Minute, nil))
	defer chs.Close()
	ctx := context.Background()
	if _, err := chs.Begin(ctx, "96550001234", false); err != nil {
		t.Fatalf("begin: %v", err)
	}
	first := sms.body
	if _, err := chs.Begin(ctx, "96550001234", false); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("second begin during countdown: expected ErrInvalidState, got %v", err)
	}
	if sms.body != first {
		t.Fatal("no new code may be sent during the countdown")
	}
	chs.Finish("96550001234")
	if _, err := chs.Begin(ctx, "96550001234", true); err != nil {
		t.Fatalf("begin after finish: %v", err)
	}
}
