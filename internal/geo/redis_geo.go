package geo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/hilbu/internal/models"
)

// RedisGeo implements PositionStore using Redis GEO commands plus a
// metadata hash per driver.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) RecordPosition(ctx context.Context, d models.Driver) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lng, Latitude: d.Loc.Lat, Name: d.ID}).Err(); err != nil {
		return fmt.Errorf("geoadd %s: %w", d.ID, err)
	}
	updated := d.Updated
	if updated.IsZero() {
		updated = time.Now()
	}
	return r.client.HSet(ctx, MetaKey(d.ID), MetaFields(d, updated)).Err()
}

func (r *RedisGeo) Position(ctx context.Context, driverID string) (models.Driver, bool, error) {
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Driver{}, false, nil
		}
		return models.Driver{}, false, err
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.Driver{}, false, nil
	}
	d := models.Driver{ID: driverID, Loc: models.Coord{Lat: pos[0].Latitude, Lng: pos[0].Longitude}}
	m, err := r.client.HGetAll(ctx, MetaKey(driverID)).Result()
	if err != nil {
		return d, true, nil
	}
	d.Name = m["name"]
	d.Vehicle = m["vehicle"]
	d.RequestID = m["request_id"]
	d.Online = m["online"] == "true"
	if f, err := strconv.ParseFloat(m["rating"], 64); err == nil {
		d.Rating = f
	}
	if ts, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
		d.Updated = ts
	}
	return d, true, nil
}

func (r *RedisGeo) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisGeo) Close() error { return r.client.Close() }

// MetaKey is the hash holding a driver's non-positional fields.
func MetaKey(id string) string { return "driver:meta:" + id }

// MetaFields is the hash payload written next to the GEO entry.
func MetaFields(d models.Driver, updated time.Time) map[string]interface{} {
	return map[string]interface{}{
		"name":       d.Name,
		"vehicle":    d.Vehicle,
		"rating":     strconv.FormatFloat(d.Rating, 'f', -1, 64),
		"online":     strconv.FormatBool(d.Online),
		"request_id": d.RequestID,
		"updated":    updated.UTC().Format(time.RFC3339),
	}
}
