// Command consumer indexes driver positions published by the API into
// Redis so they survive API restarts and can be queried by location.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/hilbu/internal/config"
	"github.com/example/hilbu/internal/geo"
	"github.com/example/hilbu/internal/logging"
	"github.com/example/hilbu/internal/models"
)

var (
	msgsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "position_consumer_messages_total",
		Help: "Driver position messages consumed",
	})
	msgsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "position_consumer_invalid_total",
		Help: "Position messages that could not be decoded",
	})
	redisUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "position_consumer_redis_updates_total",
		Help: "Positions written to redis",
	})
	redisErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "position_consumer_redis_errors_total",
		Help: "Positions dropped after redis retries ran out",
	})
)

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve metrics and health on")
	flag.Parse()

	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	go serveHealth(metricsAddr, rc, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("consumer listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroupID)
	consume(ctx, r, &redisAdapter{c: rc}, cfg.RedisGeoKey, logger)
	logger.Info("shutting down consumer")
}

func serveHealth(addr string, rc *redis.Client, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := rc.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// MessageReader is the part of kafka.Reader the loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// consume reads until ctx is done, backing off on broker errors.
func consume(ctx context.Context, r MessageReader, rc RedisUpdater, geoKey string, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka read failed", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		d, err := decodePosition(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid position message", "offset", m.Offset, "error", err)
			continue
		}
		if err := updateRedisWithRetry(ctx, rc, geoKey, d, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("redis update failed", "driver_id", d.ID, "error", err)
			continue
		}
		redisUpdates.Inc()
	}
}

func decodePosition(b []byte) (models.Driver, error) {
	var d models.Driver
	if err := json.Unmarshal(b, &d); err != nil {
		return models.Driver{}, err
	}
	if d.ID == "" {
		return models.Driver{}, errors.New("driver id is required")
	}
	if d.Loc.Lat < -90 || d.Loc.Lat > 90 || d.Loc.Lng < -180 || d.Loc.Lng > 180 {
		return models.Driver{}, fmt.Errorf("position %v out of range", d.Loc)
	}
	if d.Updated.IsZero() {
		d.Updated = time.Now()
	}
	return d, nil
}

// RedisUpdater is the subset of redis operations the consumer writes with.
type RedisUpdater interface {
	GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	return r.c.GeoAdd(ctx, key, loc).Err()
}

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return r.c.HSet(ctx, key, values).Err()
}

// updateRedisWithRetry writes the GEO entry and the metadata hash, retrying
// the pair with doubling delay.
func updateRedisWithRetry(ctx context.Context, rc RedisUpdater, geoKey string, d models.Driver, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = rc.GeoAdd(ctx, geoKey, &redis.GeoLocation{Longitude: d.Loc.Lng, Latitude: d.Loc.Lat, Name: d.ID})
		if err != nil {
			continue
		}
		if err = rc.HSet(ctx, geo.MetaKey(d.ID), geo.MetaFields(d, d.Updated)); err == nil {
			return nil
		}
	}
	return err
}
