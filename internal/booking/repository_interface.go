package booking

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Create(ctx context.Context, q sqlx.ExtContext, b *Booking) error
	GetByID(ctx context.Context, id int64) (*Booking, error)
	GetByCode(ctx context.Context, code string) (*Booking, error)
	LockByID(ctx context.Context, q sqlx.ExtContext, id int64) (*Booking, error)
	Update(ctx context.Context, q sqlx.ExtContext, b *Booking) error
	HasActiveForUser(ctx context.Context, q sqlx.ExtContext, userID int64) (bool, error)
	HasActiveForPoint(ctx context.Context, q sqlx.ExtContext, chargingPointID int64) (bool, error)
	GetActiveByUser(ctx context.Context, userID int64) (*Booking, error)
	GetActiveByPoint(ctx context.Context, chargingPointID int64) (*Booking, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Booking, error)
	ListByPoint(ctx context.Context, chargingPointID int64, limit, offset int) ([]Booking, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Booking, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Booking, error)
}
