package config

import (
	"strings"
	"testing"
	"time"
)

func TestServerDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.MatchDelay != 3*time.Second || cfg.TrackingTick != 3*time.Second || cfg.QueuePoll != 20*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if !cfg.SimulateDispatch || cfg.TwilioEnabled() {
		t.Fatalf("unexpected feature defaults %+v", cfg)
	}
}

func TestServerOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("MATCH_DELAY", "500ms")
	t.Setenv("SIMULATE_DISPATCH", "false")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DRIVER_PHONES", "96550000001, 96550000002")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if len(cfg.DriverPhones) != 2 || cfg.DriverPhones[1] != "96550000002" {
		t.Fatalf("unexpected driver phones %v", cfg.DriverPhones)
	}
	if cfg.MatchDelay != 500*time.Millisecond || cfg.SimulateDispatch || !cfg.RunMigrations || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func TestServerErrorsAccumulate(t *testing.T) {
	t.Setenv("MATCH_DELAY", "soon")
	t.Setenv("SIMULATE_DISPATCH", "maybe")
	t.Setenv("QUEUE_POLL", "0s")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"MATCH_DELAY", "SIMULATE_DISPATCH", "QUEUE_POLL", "TWILIO_AUTH_TOKEN"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %q", want, err)
		}
	}
}

func TestConsumerConfig(t *testing.T) {
	t.Setenv("KAFKA_POSITIONS_TOPIC", "positions-v2")
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KafkaTopic != "positions-v2" || cfg.KafkaGroupID != "position-indexer" || cfg.RedisGeoKey != "drivers_geo" {
		t.Fatalf("unexpected consumer config %+v", cfg)
	}
}
