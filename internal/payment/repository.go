package payment

import (
	"context"
	"database/sql"
	"errors"

	"evcharge/internal/db"

	"github.com/jmoiron/sqlx"
)

const paymentColumns = `id, code, booking_id, user_id, amount, currency, method, status, transaction_id,
	description, refund_of_id, is_deleted, created_at, updated_at, processed_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, q sqlx.ExtContext, p *Payment) error {
	row := q.QueryRowxContext(ctx,
		`INSERT INTO payments (code, booking_id, user_id, amount, currency, method, status, transaction_id, description, refund_of_id, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id, created_at, updated_at`,
		p.Code, p.BookingID, p.UserID, p.Amount, p.Currency, p.Method, p.Status,
		p.TransactionID, p.Description, p.RefundOfID, p.ProcessedAt,
	)
	if err := row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if constraint, ok := db.UniqueViolation(err); ok && constraint == "payments_code_key" {
			return ErrDuplicateCode
		}
		return err
	}
	return nil
}

func (r *repository) get(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*Payment, error) {
	var p Payment
	if err := sqlx.GetContext(ctx, q, &p, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*Payment, error) {
	return r.get(ctx, r.db, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND is_deleted = FALSE`, id)
}

func (r *repository) GetByCode(ctx context.Context, code string) (*Payment, error) {
	return r.get(ctx, r.db, `SELECT `+paymentColumns+` FROM payments WHERE code = $1 AND is_deleted = FALSE`, code)
}

func (r *repository) LockByID(ctx context.Context, q sqlx.ExtContext, id int64) (*Payment, error) {
	return r.get(ctx, q, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`, id)
}

func (r *repository) UpdateStatus(ctx context.Context, q sqlx.ExtContext, p *Payment) error {
	_, err := q.ExecContext(ctx,
		`UPDATE payments
		 SET status = $1, transaction_id = $2, processed_at = $3, updated_at = NOW()
		 WHERE id = $4`,
		p.Status, p.TransactionID, p.ProcessedAt, p.ID,
	)
	return err
}

func (r *repository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Payment, error) {
	payments := []Payment{}
	err := r.db.SelectContext(ctx, &payments,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE user_id = $1 AND is_deleted = FALSE
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) ListByBooking(ctx context.Context, bookingID int64) ([]Payment, error) {
	payments := []Payment{}
	err := r.db.SelectContext(ctx, &payments,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE booking_id = $1 AND is_deleted = FALSE
		 ORDER BY created_at DESC, id DESC`,
		bookingID,
	)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Payment, error) {
	payments := []Payment{}
	err := r.db.SelectContext(ctx, &payments,
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE status = $1 AND is_deleted = FALSE
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		status, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) SoftDelete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payments SET is_deleted = TRUE, updated_at = NOW() WHERE id = $1 AND is_deleted = FALSE`,
		id,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}
