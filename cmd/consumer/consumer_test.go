package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/hilbu/internal/geo"
	"github.com/example/hilbu/internal/logging"
	"github.com/example/hilbu/internal/models"
)

// fakeUpdater implements RedisUpdater for tests
type fakeUpdater struct {
	mu       sync.Mutex
	failGeo  int // GeoAdd failures before succeeding
	failH    int // HSet failures before succeeding
	geoCalls int
	hCalls   int
	geoKeys  []string
	hashKeys []string
	last     map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(_ context.Context, key string, _ *redis.GeoLocation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	f.geoKeys = append(f.geoKeys, key)
	return nil
}

func (f *fakeUpdater) HSet(_ context.Context, key string, values map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.hashKeys = append(f.hashKeys, key)
	f.last = values
	return nil
}

func (f *fakeUpdater) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hashKeys)
}

func testDriver() models.Driver {
	return models.Driver{ID: "d1", Name: "John Driver", Loc: models.Coord{Lat: 29.37, Lng: 47.97}, Rating: 4.8, Online: true, Updated: time.Now()}
}

func TestUpdateRedisWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	start := time.Now()
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", testDriver(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls != 3 || f.hCalls != 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("expected doubling backoff between attempts")
	}
	if f.hashKeys[0] != geo.MetaKey("d1") || f.last["vehicle"] != "" || f.last["online"] != "true" {
		t.Fatalf("unexpected metadata write %v %v", f.hashKeys, f.last)
	}
}

func TestUpdateRedisWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	if err := updateRedisWithRetry(context.Background(), f, "drivers_geo", testDriver(), 3, 5*time.Millisecond); err == nil {
		t.Fatal("expected error after retries")
	}
	if f.hCalls != 0 {
		t.Fatalf("metadata should not be written without a position, got %d", f.hCalls)
	}
}

func TestUpdateRedisWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeUpdater{failGeo: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := updateRedisWithRetry(ctx, f, "drivers_geo", testDriver(), 3, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDecodePosition(t *testing.T) {
	if _, err := decodePosition([]byte(`{"id":"d1","loc":{"lat":29.3,"lng":47.9}}`)); err != nil {
		t.Fatalf("valid message: %v", err)
	}
	for _, raw := range []string{`not json`, `{"loc":{"lat":1,"lng":2}}`, `{"id":"d1","loc":{"lat":91,"lng":0}}`} {
		if _, err := decodePosition([]byte(raw)); err == nil {
			t.Fatalf("expected %q to be rejected", raw)
		}
	}
}

type sliceReader struct {
	msgs []kafka.Message
	done context.CancelFunc
}

func (s *sliceReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		s.done()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func TestConsumeSkipsInvalidMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &sliceReader{done: cancel, msgs: []kafka.Message{
		{Value: []byte(`{"id":"d1","loc":{"lat":29.3,"lng":47.9}}`)},
		{Value: []byte(`garbage`)},
		{Value: []byte(`{"id":"d2","loc":{"lat":29.4,"lng":48.0}}`)},
	}}
	f := &fakeUpdater{}
	consume(ctx, r, f, "positions", logging.Discard())
	if f.writes() != 2 {
		t.Fatalf("expected two indexed positions, got %d", f.writes())
	}
	for _, k := range f.geoKeys {
		if k != "positions" {
			t.Fatalf("unexpected geo key %q", k)
		}
	}
}
