package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/hilbu/internal/models"
)

// EarthRadiusKm is the mean earth radius used for every distance in the service.
const EarthRadiusKm = 6371.0

// PositionStore keeps the last reported position of each driver.
type PositionStore interface {
	RecordPosition(ctx context.Context, d models.Driver) error
	Position(ctx context.Context, driverID string) (models.Driver, bool, error)
}

// Index is the in-process PositionStore.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) RecordPosition(_ context.Context, d models.Driver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.Updated.IsZero() {
		d.Updated = time.Now()
	}
	g.drivers[d.ID] = d
	return nil
}

func (g *Index) Position(_ context.Context, driverID string) (models.Driver, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[driverID]
	return d, ok, nil
}

// HaversineKm is the great-circle distance between a and b in kilometres:
// d = 2·R·asin(√(sin²(Δlat/2) + cos(lat1)·cos(lat2)·sin²(Δlon/2)))
func HaversineKm(a, b models.Coord) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// ETAMinutes scales distance linearly (20 min per km) and never reports
// less than one minute. It is not a routed estimate.
func ETAMinutes(distanceKm float64) int {
	eta := int(math.Round(distanceKm * 20))
	if eta < 1 {
		return 1
	}
	return eta
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
