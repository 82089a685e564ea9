package settlement

import (
	"context"
	"fmt"

	"evcharge/internal/apperr"
	"evcharge/internal/auth"
	"evcharge/internal/booking"
	"evcharge/internal/logger"
	"evcharge/internal/payment"
)

var (
	ErrForbidden       = apperr.New(apperr.ErrForbidden, "booking belongs to another user")
	ErrNotCompleted    = apperr.New(apperr.ErrInvalidState, "only completed bookings can be settled")
	ErrNothingToSettle = apperr.New(apperr.ErrInvalidState, "booking has no cost to settle")
	ErrTooManyAttempts = apperr.New(apperr.ErrInvalidState, "booking has too many failed or cancelled settlement payments")
)

// CodePrefix marks the payment that settles a booking. The payment code is
// derived from the booking code so settling twice replays the same payment.
// A failed or cancelled attempt is followed by "PAY-<code>-2", "-3" and so on.
const CodePrefix = "PAY-"

const maxAttempts = 5

// AttemptCode returns the payment code of the n-th settlement attempt.
func AttemptCode(bookingCode string, n int) string {
	if n <= 1 {
		return CodePrefix + bookingCode
	}
	return fmt.Sprintf("%s%s-%d", CodePrefix, bookingCode, n)
}

func dead(p *payment.Payment) bool {
	return p.Status == payment.StatusFailed || p.Status == payment.StatusCancelled
}

type Bookings interface {
	Get(ctx context.Context, id int64) (*booking.Booking, error)
}

type Payments interface {
	Create(ctx context.Context, in payment.CreateInput) (*payment.Payment, error)
	Complete(ctx context.Context, id int64, transactionID string) (bool, error)
	GetByID(ctx context.Context, id int64) (*payment.Payment, error)
}

type Service interface {
	// Settle creates the payment for a completed booking. Wallet payments
	// are charged immediately; other methods stay pending until the
	// gateway callback completes them.
	Settle(ctx context.Context, caller auth.Identity, bookingID int64, method string) (*payment.Payment, error)
}

type service struct {
	bookings Bookings
	payments Payments
}

func NewService(bookings Bookings, payments Payments) Service {
	return &service{bookings: bookings, payments: payments}
}

func (s *service) Settle(ctx context.Context, caller auth.Identity, bookingID int64, method string) (*payment.Payment, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !caller.CanAccess(b.UserID) {
		return nil, ErrForbidden
	}
	if b.Status != booking.StatusCompleted {
		return nil, ErrNotCompleted
	}
	if !b.TotalCost.Valid || !b.TotalCost.Decimal.IsPositive() {
		return nil, ErrNothingToSettle
	}

	p, err := s.issue(ctx, b, method)
	if err != nil {
		return nil, err
	}

	if p.Method != payment.MethodWallet || p.Status != payment.StatusPending {
		return p, nil
	}

	// insufficient funds leaves the payment pending; settling again after a
	// top-up retries the charge
	if _, err := s.payments.Complete(ctx, p.ID, ""); err != nil {
		logger.WithError(err).Warn("wallet settlement failed", "booking_code", b.Code, "payment_code", p.Code)
		return nil, err
	}

	settled, err := s.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	logger.Info("booking settled", "booking_code", b.Code, "payment_code", settled.Code, "status", settled.Status)
	return settled, nil
}

// issue replays the live settlement payment of b, or creates one. Failed and
// cancelled attempts are skipped so the booking can still be settled.
func (s *service) issue(ctx context.Context, b *booking.Booking, method string) (*payment.Payment, error) {
	for n := 1; n <= maxAttempts; n++ {
		p, err := s.payments.Create(ctx, payment.CreateInput{
			UserID:      b.UserID,
			BookingID:   b.ID,
			Amount:      b.TotalCost.Decimal,
			Method:      method,
			Description: "Charging session " + b.Code,
			Code:        AttemptCode(b.Code, n),
		})
		if err != nil {
			return nil, err
		}
		if !dead(p) {
			return p, nil
		}
		logger.Debug("skipping dead settlement payment", "payment_code", p.Code, "status", p.Status)
	}
	return nil, ErrTooManyAttempts
}
