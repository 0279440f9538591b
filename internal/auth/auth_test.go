package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/hilbu/internal/apperr"
)

func TestLoginRoundTrip(t *testing.T) {
	s := NewService("test-secret", time.Hour, nil)
	s.AllowDrivers("96550001234")
	sess, err := s.CompleteLogin("96550001234", RoleDriver, false)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	p, err := s.Authenticate(sess.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if p.UserID != sess.User.ID || p.Role != RoleDriver || p.Guest {
		t.Fatalf("unexpected principal %+v", p)
	}
	if p.Name != "96550001234" {
		t.Fatalf("unregistered users are named by phone, got %q", p.Name)
	}

	again, _ := s.CompleteLogin("96550001234", RoleCustomer, false)
	if again.User.ID != sess.User.ID {
		t.Fatal("same phone must map to the same account")
	}
}

func TestGuestSession(t *testing.T) {
	s := NewService("test-secret", time.Hour, nil)
	sess, err := s.StartGuest()
	if err != nil {
		t.Fatalf("guest: %v", err)
	}
	p, err := s.Authenticate(sess.Token)
	if err != nil || !p.Guest || p.Role != RoleCustomer || p.Name != "Guest" {
		t.Fatalf("unexpected guest principal %+v err=%v", p, err)
	}
}

func TestRegister(t *testing.T) {
	s := NewService("test-secret", time.Hour, nil)
	sess, _ := s.CompleteLogin("96550001234", RoleCustomer, false)

	if _, err := s.Register(sess.User.ID, "", "a@b.com"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("missing name: expected ErrValidation, got %v", err)
	}
	if _, err := s.Register(sess.User.ID, "Ann", "not-an-email"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("bad email: expected ErrValidation, got %v", err)
	}
	if _, err := s.Register("ghost", "Ann", "ann@example.com"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("unknown user: expected ErrNotFound, got %v", err)
	}
	u, err := s.Register(sess.User.ID, "Ann Smith", "ann@example.com")
	if err != nil || !u.Registered || u.FullName != "Ann Smith" {
		t.Fatalf("unexpected user %+v err=%v", u, err)
	}
	p, _ := s.Authenticate(sess.Token)
	if p.Name != "Ann Smith" {
		t.Fatalf("principal should pick up the registered name, got %q", p.Name)
	}
	info, _ := s.UserInfo(sess.User.ID)
	if info.Email != "ann@example.com" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestLogoutRevokes(t *testing.T) {
	s := NewService("test-secret", time.Hour, nil)
	sess, _ := s.CompleteLogin("96550001234", RoleCustomer, false)
	p, _ := s.Authenticate(sess.Token)
	s.Logout(p)
	if _, err := s.Authenticate(sess.Token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected revoked token to be refused, got %v", err)
	}
}

func TestRejectsForeignAndExpiredTokens(t *testing.T) {
	a := NewService("secret-a", time.Hour, nil)
	b := NewService("secret-b", time.Hour, nil)
	sess, _ := a.StartGuest()
	if _, err := b.Authenticate(sess.Token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("foreign signature: expected ErrUnauthorized, got %v", err)
	}
	if _, err := a.Authenticate("garbage"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("garbage: expected ErrUnauthorized, got %v", err)
	}

	now := time.Now()
	a.now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := a.Authenticate(sess.Token); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expired: expected ErrUnauthorized, got %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := WithPrincipal(context.Background(), Principal{UserID: "u1", Role: RoleDriver})
	p, ok := FromContext(ctx)
	if !ok || p.UserID != "u1" {
		t.Fatalf("unexpected principal %+v", p)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context has no principal")
	}
}

func TestDriverLoginNeedsAllowedPhone(t *testing.T) {
	s := NewService("test-secret", time.Hour, nil)
	if _, err := s.CompleteLogin("96550009999", RoleDriver, false); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := s.CompleteLogin("96550009999", RoleCustomer, false); err != nil {
		t.Fatalf("the same phone may still sign in as a customer: %v", err)
	}
	s.AllowDrivers(" 96550009999 ")
	if _, err := s.CompleteLogin("96550009999", RoleDriver, false); err != nil {
		t.Fatalf("allowed driver: %v", err)
	}
}
