// Package auth manages accounts and signed session tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
)

const DefaultSessionTTL = 24 * time.Hour

type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
)

func (r Role) Valid() bool { return r == RoleCustomer || r == RoleDriver }

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID  string
	Name    string
	Role    Role
	Guest   bool
	TokenID string
	Expires time.Time
}

// Party is the principal as a lifecycle actor.
func (p Principal) Party() models.Party { return models.Party{ID: p.UserID, Name: p.Name} }

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Role      Role        `json:"role"`
	User      models.User `json:"user"`
}

type claims struct {
	Role  Role   `json:"role"`
	Guest bool   `json:"guest"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	validate *validator.Validate
	logger   *slog.Logger

	mu      sync.RWMutex
	users   map[string]*models.User
	byPhone map[string]string
	revoked map[string]time.Time
	drivers map[string]struct{}
}

func NewService(secret string, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
		validate: validator.New(),
		logger:   logger.With("component", "auth"),
		users:    make(map[string]*models.User),
		byPhone:  make(map[string]string),
		revoked:  make(map[string]time.Time),
		drivers:  make(map[string]struct{}),
	}
}

// AllowDrivers lists the phone numbers that may sign in as drivers.
func (s *Service) AllowDrivers(phones ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range phones {
		if p = strings.TrimSpace(p); p != "" {
			s.drivers[p] = struct{}{}
		}
	}
}

// StartGuest creates an anonymous customer account and signs it in.
func (s *Service) StartGuest() (Session, error) {
	u := &models.User{ID: uuid.NewString(), Guest: true, CreatedAt: s.now()}
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return s.issue(*u, RoleCustomer)
}

// CompleteLogin signs in the account behind a verified phone number,
// creating it on first login.
func (s *Service) CompleteLogin(phone string, role Role, guest bool) (Session, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Session{}, apperr.Validation("phone is required")
	}
	if role == "" {
		role = RoleCustomer
	}
	if !role.Valid() {
		return Session{}, apperr.Validation("unknown role %q", role)
	}
	if role == RoleDriver {
		s.mu.RLock()
		_, ok := s.drivers[phone]
		s.mu.RUnlock()
		if !ok {
			s.logger.Warn("driver login refused", "phone_suffix", phoneSuffix(phone))
			return Session{}, fmt.Errorf("phone is not registered as a driver: %w", apperr.ErrForbidden)
		}
	}

	s.mu.Lock()
	var u *models.User
	if id, ok := s.byPhone[phone]; ok {
		u = s.users[id]
	} else {
		u = &models.User{ID: uuid.NewString(), Phone: phone, CreatedAt: s.now()}
		s.users[u.ID] = u
		s.byPhone[phone] = u.ID
	}
	u.Guest = guest
	snapshot := *u
	s.mu.Unlock()

	s.logger.Info("login completed", "user_id", snapshot.ID, "role", role, "guest", guest)
	return s.issue(snapshot, role)
}

// Register completes the profile of userID. Both fields are required.
func (s *Service) Register(userID, fullName, email string) (models.User, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)
	if fullName == "" || email == "" {
		return models.User{}, apperr.Validation("full name and email are required")
	}
	if err := s.validate.Var(email, "email"); err != nil {
		return models.User{}, apperr.Validation("invalid email address")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	u.FullName = fullName
	u.Email = email
	u.Registered = true
	u.Guest = false
	return *u, nil
}

func (s *Service) UserInfo(userID string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	return *u, nil
}

// Logout revokes the session. The token is refused from then on.
func (s *Service) Logout(p Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for jti, exp := range s.revoked {
		if now.After(exp) {
			delete(s.revoked, jti)
		}
	}
	s.revoked[p.TokenID] = p.Expires
	s.logger.Info("logout", "user_id", p.UserID)
}

// Authenticate validates a bearer token.
func (s *Service) Authenticate(token string) (Principal, error) {
	c := &claims{}
	tok, err := jwt.ParseWithClaims(token, c, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !tok.Valid {
		return Principal{}, fmt.Errorf("invalid token: %w", apperr.ErrUnauthorized)
	}
	if c.Subject == "" || !c.Role.Valid() {
		return Principal{}, fmt.Errorf("invalid claims: %w", apperr.ErrUnauthorized)
	}

	s.mu.RLock()
	_, revoked := s.revoked[c.ID]
	u, known := s.users[c.Subject]
	name := c.Name
	if known {
		name = u.DisplayName()
	}
	s.mu.RUnlock()
	if revoked {
		return Principal{}, fmt.Errorf("session revoked: %w", apperr.ErrUnauthorized)
	}

	p := Principal{UserID: c.Subject, Name: name, Role: c.Role, Guest: c.Guest, TokenID: c.ID}
	if c.ExpiresAt != nil {
		p.Expires = c.ExpiresAt.Time
	}
	return p, nil
}

func (s *Service) issue(u models.User, role Role) (Session, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	c := claims{
		Role:  role,
		Guest: u.Guest,
		Name:  u.DisplayName(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}
	return Session{Token: token, ExpiresAt: exp, Role: role, User: u}, nil
}

func phoneSuffix(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[len(phone)-4:]
}
