package payment

import (
	"context"
	"errors"
	"time"

	"evcharge/internal/apperr"
	"evcharge/internal/codegen"
	"evcharge/internal/db"
	"evcharge/internal/logger"
	"evcharge/internal/metrics"
	"evcharge/internal/wallet"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	ErrPaymentNotFound     = apperr.New(apperr.ErrNotFound, "payment not found")
	ErrInvalidAmount       = apperr.New(apperr.ErrInvalidAmount, "amount must be positive")
	ErrRefundExceedsAmount = apperr.New(apperr.ErrInvalidAmount, "refund amount exceeds the payment amount")
	ErrDuplicateCode       = apperr.New(apperr.ErrConflict, "payment code already in use")
	ErrNotRefundable       = apperr.New(apperr.ErrInvalidState, "only completed payments can be refunded")
	ErrCannotFail          = apperr.New(apperr.ErrInvalidState, "only pending or processing payments can fail")
	ErrCannotCancel        = apperr.New(apperr.ErrInvalidState, "only pending payments can be cancelled")
	ErrNotCompletable      = apperr.New(apperr.ErrInvalidState, "payment is not pending")
)

const maxCodeAttempts = 3

type Service interface {
	Create(ctx context.Context, in CreateInput) (*Payment, error)
	// Complete reports false without error when the payment is missing,
	// deleted or no longer pending.
	Complete(ctx context.Context, id int64, transactionID string) (bool, error)
	Fail(ctx context.Context, id int64) (*Payment, error)
	Cancel(ctx context.Context, id int64) (*Payment, error)
	Refund(ctx context.Context, id int64, amount decimal.Decimal, reason string) (*Payment, error)
	GetByID(ctx context.Context, id int64) (*Payment, error)
	GetByCode(ctx context.Context, code string) (*Payment, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Payment, error)
	ListByBooking(ctx context.Context, bookingID int64) ([]Payment, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Payment, error)
	Delete(ctx context.Context, id int64) error
}

type service struct {
	repo   Repository
	ledger wallet.TxLedger
	tx     db.Transactor
	now    func() time.Time
}

func NewService(repo Repository, ledger wallet.TxLedger, tx db.Transactor) Service {
	return &service{repo: repo, ledger: ledger, tx: tx, now: time.Now}
}

func (s *service) Create(ctx context.Context, in CreateInput) (*Payment, error) {
	method, err := ParseMethod(in.Method)
	if err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if in.Code != "" {
		if existing, ok, err := s.replay(ctx, in); ok || err != nil {
			return existing, err
		}
	}

	for attempt := 1; ; attempt++ {
		p := &Payment{
			Code:        in.Code,
			BookingID:   in.BookingID,
			UserID:      in.UserID,
			Amount:      in.Amount,
			Currency:    CurrencyVND,
			Method:      method,
			Status:      StatusPending,
			Description: in.Description,
		}
		if p.Code == "" {
			p.Code = codegen.New(codegen.PrefixPayment, s.now())
		}

		err := s.tx.WithinTx(ctx, func(ctx context.Context, q sqlx.ExtContext) error {
			if method == MethodWallet {
				if err := s.ledger.EnsureWallet(ctx, q, in.UserID); err != nil {
					return err
				}
			}
			return s.repo.Create(ctx, q, p)
		})

		switch {
		case err == nil:
			logger.Info("payment created", "code", p.Code, "booking_id", p.BookingID, "method", p.Method)
			metrics.RecordPayment(string(p.Method), string(p.Status))
			return p, nil
		case errors.Is(err, ErrDuplicateCode) && in.Code != "":
			// lost a race against the same key
			if existing, ok, rerr := s.replay(ctx, in); ok || rerr != nil {
				return existing, rerr
			}
			return nil, err
		case errors.Is(err, ErrDuplicateCode) && attempt < maxCodeAttempts:
			continue
		default:
			return nil, err
		}
	}
}

// replay resolves a client-supplied code. The same user gets the existing
// payment back; anyone else gets a conflict.
func (s *service) replay(ctx context.Context, in CreateInput) (*Payment, bool, error) {
	existing, err := s.GetByCode(ctx, in.Code)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if existing.UserID != in.UserID {
		return nil, false, ErrDuplicateCode
	}
	return existing, true, nil
}

func (s *service) Complete(ctx context.Context, id int64, transactionID string) (bool, error) {
	var completed *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q sqlx.ExtContext) error {
		p, err := s.repo.LockByID(ctx, q, id)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				return nil
			}
			return err
		}
		if p.Status != StatusPending {
			return nil
		}

		if p.Method == MethodWallet {
			if _, err := s.ledger.DeductTx(ctx, q, p.UserID, p.Amount, "Payment "+p.Code, &p.ID); err != nil {
				return err
			}
		}

		now := s.now()
		p.Status = StatusCompleted
		p.ProcessedAt = &now
		if transactionID != "" {
			p.TransactionID = &transactionID
		}
		if err := s.repo.UpdateStatus(ctx, q, p); err != nil {
			return err
		}
		completed = p
		return nil
	})
	if err != nil {
		logger.WithError(err).Warn("payment completion failed", "payment_id", id)
		return false, err
	}
	if completed == nil {
		return false, nil
	}

	logger.Info("payment completed", "code", completed.Code, "amount", completed.Amount.String())
	metrics.RecordPayment(string(completed.Method), string(completed.Status))
	return true, nil
}

// transition locks the payment and moves it to next when allowed reports
// true for its current status.
func (s *service) transition(ctx context.Context, id int64, next Status, allowed func(Status) bool, rejected error) (*Payment, error) {
	var p *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q sqlx.ExtContext) error {
		var err error
		p, err = s.repo.LockByID(ctx, q, id)
		if err != nil {
			return err
		}
		if !allowed(p.Status) {
			return rejected
		}

		now := s.now()
		p.Status = next
		p.ProcessedAt = &now
		return s.repo.UpdateStatus(ctx, q, p)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordPayment(string(p.Method), string(p.Status))
	return p, nil
}

func (s *service) Fail(ctx context.Context, id int64) (*Payment, error) {
	return s.transition(ctx, id, StatusFailed, func(st Status) bool {
		return st == StatusPending || st == StatusProcessing
	}, ErrCannotFail)
}

func (s *service) Cancel(ctx context.Context, id int64) (*Payment, error) {
	return s.transition(ctx, id, StatusCancelled, func(st Status) bool {
		return st == StatusPending
	}, ErrCannotCancel)
}

func (s *service) Refund(ctx context.Context, id int64, amount decimal.Decimal, reason string) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	for attempt := 1; ; attempt++ {
		refund, err := s.refundOnce(ctx, id, amount, reason)
		switch {
		case err == nil:
			logger.Info("payment refunded", "refund_code", refund.Code, "original_id", id, "amount", amount.String())
			metrics.RecordPayment(string(refund.Method), string(StatusRefunded))
			return refund, nil
		case errors.Is(err, ErrDuplicateCode) && attempt < maxCodeAttempts:
			// generated code collided; the whole unit of work was rolled back
			continue
		default:
			return nil, err
		}
	}
}

func (s *service) refundOnce(ctx context.Context, id int64, amount decimal.Decimal, reason string) (*Payment, error) {
	var refund *Payment
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q sqlx.ExtContext) error {
		p, err := s.repo.LockByID(ctx, q, id)
		if err != nil {
			return err
		}
		if p.Status != StatusCompleted {
			return ErrNotRefundable
		}
		if amount.GreaterThan(p.Amount) {
			return ErrRefundExceedsAmount
		}

		now := s.now()
		refund = &Payment{
			Code:        codegen.New(codegen.PrefixRefund, now),
			BookingID:   p.BookingID,
			UserID:      p.UserID,
			Amount:      amount.Neg(),
			Currency:    p.Currency,
			Method:      p.Method,
			Status:      StatusCompleted,
			Description: "Refund: " + reason,
			RefundOfID:  &p.ID,
			ProcessedAt: &now,
		}
		if err := s.repo.Create(ctx, q, refund); err != nil {
			return err
		}

		p.Status = StatusRefunded
		if err := s.repo.UpdateStatus(ctx, q, p); err != nil {
			return err
		}

		if p.Method == MethodWallet {
			if _, err := s.ledger.RefundTx(ctx, q, p.UserID, amount, "Refund for payment "+p.Code, &p.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refund, nil
}

func (s *service) GetByID(ctx context.Context, id int64) (*Payment, error) {
	return db.Read(ctx, s.tx, func(ctx context.Context) (*Payment, error) {
		return s.repo.GetByID(ctx, id)
	})
}

func (s *service) GetByCode(ctx context.Context, code string) (*Payment, error) {
	return db.Read(ctx, s.tx, func(ctx context.Context) (*Payment, error) {
		return s.repo.GetByCode(ctx, code)
	})
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *service) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Payment, error) {
	limit, offset = normalizePage(limit, offset)
	return db.Read(ctx, s.tx, func(ctx context.Context) ([]Payment, error) {
		return s.repo.ListByUser(ctx, userID, limit, offset)
	})
}

func (s *service) ListByBooking(ctx context.Context, bookingID int64) ([]Payment, error) {
	return db.Read(ctx, s.tx, func(ctx context.Context) ([]Payment, error) {
		return s.repo.ListByBooking(ctx, bookingID)
	})
}

func (s *service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Payment, error) {
	limit, offset = normalizePage(limit, offset)
	return db.Read(ctx, s.tx, func(ctx context.Context) ([]Payment, error) {
		return s.repo.ListByStatus(ctx, status, limit, offset)
	})
}

func (s *service) Delete(ctx context.Context, id int64) error {
	ctx, cancel := s.tx.Bound(ctx)
	defer cancel()

	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	logger.Info("payment deleted", "payment_id", id)
	return nil
}
