package booking

import (
	"time"

	"evcharge/internal/apperr"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ActiveStatuses hold a charging point. Keep in sync with the partial
// unique indexes on bookings.
var ActiveStatuses = []Status{StatusPending, StatusConfirmed, StatusInProgress}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", apperr.New(apperr.ErrInvalidInput, "unknown booking status: "+s)
	}
}

// CanTransitionTo is the booking state machine.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusInProgress || next == StatusCancelled
	case StatusInProgress:
		return next == StatusCompleted || next == StatusCancelled
	case StatusCompleted, StatusCancelled:
		return false
	default:
		return false
	}
}

func (s Status) IsActive() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress:
		return true
	default:
		return false
	}
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Booking struct {
	ID              int64               `db:"id" json:"id"`
	Code            string              `db:"code" json:"code"`
	UserID          int64               `db:"user_id" json:"user_id"`
	ChargingPointID int64               `db:"charging_point_id" json:"charging_point_id"`
	StationID       int64               `db:"station_id" json:"station_id"`
	Status          Status              `db:"status" json:"status"`
	StartTime       time.Time           `db:"start_time" json:"start_time"`
	EndTime         *time.Time          `db:"end_time" json:"end_time,omitempty"`
	ActualStartTime *time.Time          `db:"actual_start_time" json:"actual_start_time,omitempty"`
	ActualEndTime   *time.Time          `db:"actual_end_time" json:"actual_end_time,omitempty"`
	EnergyConsumed  decimal.NullDecimal `db:"energy_consumed" json:"energy_consumed" swaggertype:"string"`
	TotalCost       decimal.NullDecimal `db:"total_cost" json:"total_cost" swaggertype:"string"`
	QRCode          string              `db:"qr_code" json:"qr_code"`
	Notes           string              `db:"notes" json:"notes"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

type CreateInput struct {
	UserID          int64
	ChargingPointID int64
	StartTime       time.Time
	EndTime         *time.Time
	Notes           string
	// Code is an optional client idempotency key.
	Code string
}

// UpdateInput carries only the fields to change.
type UpdateInput struct {
	StartTime *time.Time
	EndTime   *time.Time
	Notes     *string
	Status    *Status
}

type CreateBookingRequest struct {
	ChargingPointID int64      `json:"charging_point_id" binding:"required,gt=0" example:"7"`
	StartTime       time.Time  `json:"start_time" binding:"required" example:"2024-05-01T10:00:00Z"`
	EndTime         *time.Time `json:"end_time" example:"2024-05-01T11:00:00Z"`
	Notes           string     `json:"notes" binding:"max=500"`
	Code            string     `json:"code" binding:"omitempty,max=64"`
}

type UpdateBookingRequest struct {
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Notes     *string    `json:"notes" binding:"omitempty,max=500"`
	Status    *string    `json:"status" binding:"omitempty,oneof=confirmed cancelled" example:"confirmed"`
}
