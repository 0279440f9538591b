// Package app builds the service graph once at startup. Every component
// receives what it needs from here; nothing is reached through globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/hilbu/internal/auth"
	"github.com/example/hilbu/internal/config"
	"github.com/example/hilbu/internal/dispatch"
	"github.com/example/hilbu/internal/geo"
	"github.com/example/hilbu/internal/ingest"
	"github.com/example/hilbu/internal/lifecycle"
	"github.com/example/hilbu/internal/matcher"
	"github.com/example/hilbu/internal/otp"
	"github.com/example/hilbu/internal/payments"
	"github.com/example/hilbu/internal/queue"
	"github.com/example/hilbu/internal/storage"
	"github.com/example/hilbu/internal/support"
	"github.com/example/hilbu/internal/tracking"
)

type App struct {
	Config config.ServerConfig
	Logger *slog.Logger

	Store      storage.RequestStore
	Positions  geo.PositionStore
	Lifecycle  *lifecycle.Service
	Matcher    *matcher.Simulator
	Roster     *matcher.Roster
	Tracking   *tracking.Manager
	Board      *queue.Board
	Drivers    *dispatch.WSRegistry
	OTP        *otp.Service
	Challenges *otp.Challenges
	Auth       *auth.Service
	Payments   *payments.Books
	Support    *support.Desk

	closers []func() error
}

// New wires the service. Each backend is optional: without PG_DSN,
// REDIS_ADDR, KAFKA_BROKERS, STRIPE_API_KEY or Twilio credentials the
// in-memory or logging stand-in is used.
func New(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.Store = ps
		a.closers = append(a.closers, ps.Close)
		logger.Info("request store: postgres")
	} else {
		a.Store = storage.NewMemoryStore()
		logger.Info("request store: memory")
	}

	var codes otp.CodeStore = otp.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rg := geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rg.Ping(pingCtx)
		cancel()
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Positions = rg
		a.closers = append(a.closers, rg.Close)

		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		codes = otp.NewRedisStore(rc)
		a.closers = append(a.closers, rc.Close)
	} else {
		a.Positions = geo.NewIndex()
	}

	var sms otp.SMS = otp.LogSMS{Logger: logger}
	if cfg.TwilioEnabled() {
		sms = otp.NewTwilioSMS(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)
	}
	a.OTP = otp.NewService(codes, sms, cfg.OTPTTL, logger)
	a.Challenges = otp.NewChallenges(a.OTP)
	a.Auth = auth.NewService(cfg.JWTSecret, cfg.SessionTTL, logger)
	a.Auth.AllowDrivers(cfg.DriverPhones...)
	a.Payments = payments.NewBooks()
	a.Support = support.NewDesk(support.DefaultDelay)

	var charger payments.Charger = payments.NopCharger{}
	if cfg.StripeAPIKey != "" {
		charger = payments.NewStripeClient(cfg.StripeAPIKey)
	}
	a.Lifecycle = lifecycle.NewService(a.Store,
		lifecycle.WithCharger(charger),
		lifecycle.WithMethods(a.Payments),
		lifecycle.WithLogger(logger),
	)

	sinks := []tracking.PositionSink{a.Positions}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaPositionsTopic, logger)
		a.closers = append(a.closers, kp.Close)
		a.Lifecycle.Subscribe(kp)
		sinks = append(sinks, kp)
	}

	a.Roster = matcher.NewRoster()
	a.Tracking = tracking.NewManager(cfg.TrackingTick, a.Roster, logger, sinks...)
	a.Lifecycle.Subscribe(a.Tracking)

	a.Drivers = dispatch.NewWSRegistry(logger)
	a.Board = queue.NewBoard(a.Lifecycle, cfg.QueuePoll, logger, func(driverID string, s queue.Snapshot) {
		if err := a.Drivers.Push(driverID, s); err != nil && !errors.Is(err, dispatch.ErrNoSession) {
			logger.Debug("queue push failed", "driver_id", driverID, "error", err)
		}
	})
	a.Lifecycle.Subscribe(a.Board)

	if cfg.SimulateDispatch {
		a.Matcher = matcher.NewSimulator(a.Lifecycle, cfg.MatchDelay, logger)
		a.Lifecycle.Subscribe(a.Matcher)
	}
	return a, nil
}

// Close tears components down in reverse order of construction.
func (a *App) Close() error {
	if a.Matcher != nil {
		a.Matcher.Stop()
	}
	if a.Board != nil {
		a.Board.Close()
	}
	if a.Tracking != nil {
		a.Tracking.Close()
	}
	if a.Drivers != nil {
		a.Drivers.Close()
	}
	if a.Support != nil {
		a.Support.Close()
	}
	if a.Challenges != nil {
		a.Challenges.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Migrate applies script when requests are stored in Postgres.
func (a *App) Migrate(ctx context.Context, script string) error {
	ps, ok := a.Store.(*storage.PostgresStore)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return ps.Migrate(ctx, script)
}
