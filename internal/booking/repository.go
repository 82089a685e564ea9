package booking

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"evcharge/internal/db"

	"github.com/jmoiron/sqlx"
)

const bookingColumns = `id, code, user_id, charging_point_id, station_id, status, start_time, end_time,
	actual_start_time, actual_end_time, energy_consumed, total_cost, qr_code, notes, created_at, updated_at`

const activeCond = `status IN ('pending', 'confirmed', 'in_progress')`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

// Create inserts b. Violations of the exclusivity indexes surface as the
// same errors the service returns for its own pre-checks.
func (r *repository) Create(ctx context.Context, q sqlx.ExtContext, b *Booking) error {
	row := q.QueryRowxContext(ctx,
		`INSERT INTO bookings (code, user_id, charging_point_id, station_id, status, start_time, end_time, qr_code, notes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		b.Code, b.UserID, b.ChargingPointID, b.StationID, b.Status, b.StartTime, b.EndTime, b.QRCode, b.Notes,
	)
	if err := row.Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt); err != nil {
		if constraint, ok := db.UniqueViolation(err); ok {
			switch constraint {
			case "bookings_one_active_per_user":
				return ErrActiveBookingExists
			case "bookings_one_active_per_point":
				return ErrChargingPointOccupied
			case "bookings_code_key":
				return ErrDuplicateCode
			}
		}
		return err
	}
	return nil
}

func (r *repository) get(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*Booking, error) {
	var b Booking
	if err := sqlx.GetContext(ctx, q, &b, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Booking, error) {
	return r.get(ctx, r.db, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

func (r *repository) GetByCode(ctx context.Context, code string) (*Booking, error) {
	return r.get(ctx, r.db, `SELECT `+bookingColumns+` FROM bookings WHERE code = $1`, code)
}

func (r *repository) LockByID(ctx context.Context, q sqlx.ExtContext, id int64) (*Booking, error) {
	return r.get(ctx, q, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

func (r *repository) Update(ctx context.Context, q sqlx.ExtContext, b *Booking) error {
	row := q.QueryRowxContext(ctx,
		`UPDATE bookings
		 SET status = $1, start_time = $2, end_time = $3, actual_start_time = $4, actual_end_time = $5,
		     energy_consumed = $6, total_cost = $7, notes = $8, updated_at = NOW()
		 WHERE id = $9
		 RETURNING updated_at`,
		b.Status, b.StartTime, b.EndTime, b.ActualStartTime, b.ActualEndTime,
		b.EnergyConsumed, b.TotalCost, b.Notes, b.ID,
	)
	if err := row.Scan(&b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBookingNotFound
		}
		return err
	}
	return nil
}

func (r *repository) HasActiveForUser(ctx context.Context, q sqlx.ExtContext, userID int64) (bool, error) {
	return db.Exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM bookings WHERE user_id = $1 AND `+activeCond+`)`, userID)
}

func (r *repository) HasActiveForPoint(ctx context.Context, q sqlx.ExtContext, chargingPointID int64) (bool, error) {
	return db.Exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM bookings WHERE charging_point_id = $1 AND `+activeCond+`)`, chargingPointID)
}

func (r *repository) GetActiveByUser(ctx context.Context, userID int64) (*Booking, error) {
	b, err := r.get(ctx, r.db, `SELECT `+bookingColumns+` FROM bookings WHERE user_id = $1 AND `+activeCond, userID)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, ErrNoActiveBooking
	}
	return b, err
}

func (r *repository) GetActiveByPoint(ctx context.Context, chargingPointID int64) (*Booking, error) {
	b, err := r.get(ctx, r.db, `SELECT `+bookingColumns+` FROM bookings WHERE charging_point_id = $1 AND `+activeCond, chargingPointID)
	if errors.Is(err, ErrBookingNotFound) {
		return nil, ErrNoActiveBooking
	}
	return b, err
}

func (r *repository) list(ctx context.Context, query string, args ...interface{}) ([]Booking, error) {
	bookings := []Booking{}
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, err
	}
	return bookings, nil
}

func (r *repository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE user_id = $1
		 ORDER BY start_time DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
}

func (r *repository) ListByPoint(ctx context.Context, chargingPointID int64, limit, offset int) ([]Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE charging_point_id = $1
		 ORDER BY start_time DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		chargingPointID, limit, offset,
	)
}

func (r *repository) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE status = $1
		 ORDER BY start_time DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		status, limit, offset,
	)
}

// ListStalePending returns pending bookings that should have started
// before the cutoff, oldest first.
func (r *repository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE status = 'pending' AND start_time < $1
		 ORDER BY start_time ASC
		 LIMIT $2`,
		before, limit,
	)
}
