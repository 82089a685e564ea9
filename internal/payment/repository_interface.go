package payment

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Create(ctx context.Context, q sqlx.ExtContext, p *Payment) error
	GetByID(ctx context.Context, id int64) (*Payment, error)
	GetByCode(ctx context.Context, code string) (*Payment, error)
	LockByID(ctx context.Context, q sqlx.ExtContext, id int64) (*Payment, error)
	UpdateStatus(ctx context.Context, q sqlx.ExtContext, p *Payment) error
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Payment, error)
	ListByBooking(ctx context.Context, bookingID int64) ([]Payment, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Payment, error)
	SoftDelete(ctx context.Context, id int64) error
}
