package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/hilbu/internal/apperr"
	"github.com/example/hilbu/internal/models"
)

const uniqueViolation = "23505"

const selectColumns = `id, customer_id, customer_name, pickup, dropoff, vehicle_details, lat, lng, status,
	driver_id, driver_name, amount_fils, payment_method, payment_ref, created_at, accepted_at, completed_at, cancelled_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate executes a migration script against the store's database.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Create(ctx context.Context, r *models.RecoveryRequest) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := p.db.ExecContext(ctx, `INSERT INTO recovery_requests
		(id, customer_id, customer_name, pickup, dropoff, vehicle_details, lat, lng, status, amount_fils, payment_method, payment_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.CustomerID, r.CustomerName, r.Pickup, r.Dropoff, r.VehicleDetails, r.Location.Lat, r.Location.Lng,
		string(r.Status), r.AmountFils, r.PaymentMethod, r.PaymentRef, r.Timestamp)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			if pqErr.Constraint == "recovery_requests_pkey" {
				return fmt.Errorf("request %s: %w", r.ID, apperr.ErrConflict)
			}
			return fmt.Errorf("customer %s already has an active request: %w", r.CustomerID, apperr.ErrInvalidState)
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.RecoveryRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	r, err := scanRequest(p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM recovery_requests WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	return r, err
}

func (p *PostgresStore) ActiveFor(ctx context.Context, customerID string) (*models.RecoveryRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	r, err := scanRequest(p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM recovery_requests
		WHERE customer_id = $1 AND status IN ('pending', 'accepted') LIMIT 1`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active request for %s: %w", customerID, apperr.ErrNotFound)
	}
	return r, err
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string) ([]*models.RecoveryRequest, error) {
	return p.list(ctx, `SELECT `+selectColumns+` FROM recovery_requests WHERE customer_id = $1 ORDER BY created_at DESC`, customerID)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.RequestStatus) ([]*models.RecoveryRequest, error) {
	return p.list(ctx, `SELECT `+selectColumns+` FROM recovery_requests WHERE status = $1 ORDER BY created_at ASC`, string(status))
}

func (p *PostgresStore) list(ctx context.Context, query string, arg any) ([]*models.RecoveryRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*models.RecoveryRequest, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transition performs the status compare-and-set in a single UPDATE. When
// no row matches it looks the request up again to tell NotFound from Conflict.
func (p *PostgresStore) Transition(ctx context.Context, id string, c Change) (*models.RecoveryRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	r, err := scanRequest(p.db.QueryRowContext(ctx, `UPDATE recovery_requests SET
			status = $3,
			driver_id = CASE WHEN $3 = 'accepted' THEN $4 ELSE driver_id END,
			driver_name = CASE WHEN $3 = 'accepted' THEN $5 ELSE driver_name END,
			accepted_at = CASE WHEN $3 = 'accepted' THEN $6 ELSE accepted_at END,
			completed_at = CASE WHEN $3 = 'completed' THEN $6 ELSE completed_at END,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN $6 ELSE cancelled_at END
		WHERE id = $1 AND status = $2
			AND ($3 <> 'completed' OR $4 = '' OR driver_id = $4)
		RETURNING `+selectColumns,
		id, string(c.From), string(c.To), c.DriverID, c.DriverName, c.At))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	current, getErr := p.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("request %s is %s, not %s: %w", id, current.Status, c.From, apperr.ErrConflict)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*models.RecoveryRequest, error) {
	var r models.RecoveryRequest
	var status string
	var acceptedAt, completedAt, cancelledAt sql.NullTime
	err := row.Scan(&r.ID, &r.CustomerID, &r.CustomerName, &r.Pickup, &r.Dropoff, &r.VehicleDetails,
		&r.Location.Lat, &r.Location.Lng, &status, &r.DriverID, &r.DriverName, &r.AmountFils,
		&r.PaymentMethod, &r.PaymentRef, &r.Timestamp, &acceptedAt, &completedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	r.Status = models.RequestStatus(status)
	r.AcceptedAt = nullTime(acceptedAt)
	r.CompletedAt = nullTime(completedAt)
	r.CancelledAt = nullTime(cancelledAt)
	return &r, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
