package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are loaded from environment variables with defaults that let the
// binary run locally with every backend in memory.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers        []string
	KafkaEventsTopic    string
	KafkaPositionsTopic string

	PGDSN         string
	RunMigrations bool

	LogLevel string

	JWTSecret    string
	SessionTTL   time.Duration
	DriverPhones []string

	MatchDelay       time.Duration
	SimulateDispatch bool
	TrackingTick     time.Duration
	QueuePoll        time.Duration
	OTPTTL           time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFrom       string

	StripeAPIKey string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		RedisGeoKey:         "drivers_geo",
		KafkaEventsTopic:    "recovery-events",
		KafkaPositionsTopic: "driver-positions",
		LogLevel:            "info",
		JWTSecret:           "dev-secret",
		SessionTTL:          24 * time.Hour,
		MatchDelay:          3 * time.Second,
		SimulateDispatch:    true,
		TrackingTick:        3 * time.Second,
		QueuePoll:           20 * time.Second,
		OTPTTL:              5 * time.Minute,
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaEventsTopic, "KAFKA_EVENTS_TOPIC")
	setStringFromEnv(&cfg.KafkaPositionsTopic, "KAFKA_POSITIONS_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setDurationFromEnv(&cfg.SessionTTL, "SESSION_TTL", &errs)
	if phones := os.Getenv("DRIVER_PHONES"); phones != "" {
		cfg.DriverPhones = splitAndTrim(phones)
	}

	setDurationFromEnv(&cfg.MatchDelay, "MATCH_DELAY", &errs)
	setBoolFromEnv(&cfg.SimulateDispatch, "SIMULATE_DISPATCH", &errs)
	setDurationFromEnv(&cfg.TrackingTick, "TRACKING_TICK", &errs)
	setDurationFromEnv(&cfg.QueuePoll, "QUEUE_POLL", &errs)
	setDurationFromEnv(&cfg.OTPTTL, "OTP_TTL", &errs)

	cfg.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.TwilioFrom = os.Getenv("TWILIO_FROM")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	for key, d := range map[string]time.Duration{
		"MATCH_DELAY":   cfg.MatchDelay,
		"TRACKING_TICK": cfg.TrackingTick,
		"QUEUE_POLL":    cfg.QueuePoll,
		"OTP_TTL":       cfg.OTPTTL,
		"SESSION_TTL":   cfg.SessionTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be > 0", key))
		}
	}
	if cfg.TwilioAccountSID != "" && (cfg.TwilioAuthToken == "" || cfg.TwilioFrom == "") {
		errs = append(errs, fmt.Errorf("TWILIO_AUTH_TOKEN and TWILIO_FROM are required with TWILIO_ACCOUNT_SID"))
	}

	return cfg, errors.Join(errs...)
}

// TwilioEnabled reports whether OTP codes go out by SMS.
func (c ServerConfig) TwilioEnabled() bool { return c.TwilioAccountSID != "" }

// ConsumerConfig configures the driver position consumer.
type ConsumerConfig struct {
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroupID  string
	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "driver-positions",
		KafkaGroupID: "position-indexer",
		RedisAddr:    "localhost:6379",
		RedisGeoKey:  "drivers_geo",
		LogLevel:     "info",
	}
	var errs []error

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_POSITIONS_TOPIC")
	setStringFromEnv(&cfg.KafkaGroupID, "KAFKA_GROUP_ID")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must not be empty"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setBoolFromEnv(target *bool, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = b
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
