package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/observability"
)

const (
	DefaultTTL     = 5 * time.Minute
	MinPhoneLength = 8
	// MaxAttempts wrong guesses burn the outstanding code.
	MaxAttempts = 5
)

// CodeStore keeps the outstanding code per phone number together with the
// number of wrong guesses made against it. Put resets the count.
type CodeStore interface {
	Put(ctx context.Context, phone, code string, ttl time.Duration) error
	Get(ctx context.Context, phone string) (string, bool, error)
	Fail(ctx context.Context, phone string, ttl time.Duration) (int, error)
	Delete(ctx context.Context, phone string) error
}

// SMS delivers a text message.
type SMS interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Service issues and checks codes. It is both the Sender and the Verifier
// of a Challenge.
type Service struct {
	store  CodeStore
	sms    SMS
	ttl    time.Duration
	logger *slog.Logger
}

func NewService(store CodeStore, sms SMS, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, sms: sms, ttl: ttl, logger: logger.With("component", "otp")}
}

// NormalizePhone trims the number and enforces the minimum length.
func NormalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if len(phone) < MinPhoneLength {
		return "", apperr.Validation("phone number must have at least %d characters", MinPhoneLength)
	}
	return phone, nil
}

// Send generates a fresh code for phone, replacing any outstanding one.
func (s *Service) Send(ctx context.Context, phone string) error {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return err
	}
	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	if err := s.store.Put(ctx, phone, code, s.ttl); err != nil {
		return fmt.Errorf("store code: %w", err)
	}
	body := fmt.Sprintf("Your verification code is %s", code)
	if err := s.sms.SendSMS(ctx, phone, body); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	observability.OTPSent.Inc()
	s.logger.Info("otp sent", "phone_suffix", suffix(phone))
	return nil
}

// Verify reports whether code matches the outstanding one. A match
// consumes the code. The MaxAttempts-th wrong guess deletes it and
// returns ErrInvalidState; a new code has to be sent.
func (s *Service) Verify(ctx context.Context, phone, code string) (bool, error) {
	phone = strings.TrimSpace(phone)
	want, ok, err := s.store.Get(ctx, phone)
	if err != nil {
		return false, fmt.Errorf("load code: %w", err)
	}
	if !ok {
		return false, nil
	}
	if subtle.ConstantTimeCompare([]byte(want), []byte(code)) != 1 {
		n, err := s.store.Fail(ctx, phone, s.ttl)
		if err != nil {
			return false, fmt.Errorf("count failed attempt: %w", err)
		}
		if n < MaxAttempts {
			return false, nil
		}
		if err := s.store.Delete(ctx, phone); err != nil {
			return false, fmt.Errorf("burn code: %w", err)
		}
		s.logger.Warn("otp locked after failed attempts", "phone_suffix", suffix(phone), "attempts", n)
		return false, fmt.Errorf("too many wrong codes, request a new one: %w", apperr.ErrInvalidState)
	}
	if err := s.store.Delete(ctx, phone); err != nil {
		s.logger.Warn("consume code failed", "phone_suffix", suffix(phone), "error", err)
	}
	return true, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func suffix(phone string) string {
	if len(phone) <= 4 {
		return phone
	}
	return phone[len(phone)-4:]
}

// MemoryStore is the in-process CodeStore.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]memoryCode
	now   func() time.Time
}

type memoryCode struct {
	code    string
	expires time.Time
	fails   int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]memoryCode), now: time.Now}
}

func (m *MemoryStore) Put(_ context.Context, phone, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[phone] = memoryCode{code: code, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, phone string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[phone]
	if !ok {
		return "", false, nil
	}
	if !m.now().Before(c.expires) {
		delete(m.codes, phone)
		return "", false, nil
	}
	return c.code, true, nil
}

func (m *MemoryStore) Fail(_ context.Context, phone string, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[phone]
	if !ok {
		return 0, nil
	}
	c.fails++
	m.codes[phone] = c
	return c.fails, nil
}

func (m *MemoryStore) Delete(_ context.Context, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, phone)
	return nil
}

// RedisStore keeps codes under otp:<phone> and the wrong-guess count under
// otp:attempts:<phone>, both with a native TTL.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func codeKey(phone string) string     { return "otp:" + phone }
func attemptsKey(phone string) string { return "otp:attempts:" + phone }

func (r *RedisStore) Put(ctx context.Context, phone, code string, ttl time.Duration) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, codeKey(phone), code, ttl)
		pipe.Del(ctx, attemptsKey(phone))
		return nil
	})
	return err
}

func (r *RedisStore) Fail(ctx context.Context, phone string, ttl time.Duration) (int, error) {
	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, attemptsKey(phone))
		pipe.Expire(ctx, attemptsKey(phone), ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (r *RedisStore) Get(ctx context.Context, phone string) (string, bool, error) {
	v, err := r.client.Get(ctx, codeKey(phone)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Delete(ctx context.Context, phone string) error {
	return r.client.Del(ctx, codeKey(phone), attemptsKey(phone)).Err()
}
