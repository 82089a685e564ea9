package booking

import (
	"context"
	"errors"
	"time"

	"evcharge/internal/apperr"
	"evcharge/internal/catalog"
	"evcharge/internal/codegen"
	"evcharge/internal/db"
	"evcharge/internal/logger"
	"evcharge/internal/metrics"
	"evcharge/internal/pricing"
	"evcharge/internal/qr"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	ErrBookingNotFound        = apperr.New(apperr.ErrNotFound, "booking not found")
	ErrNoActiveBooking        = apperr.New(apperr.ErrNotFound, "no active booking")
	ErrActiveBookingExists    = apperr.New(apperr.ErrConflict, "user already has an active booking")
	ErrChargingPointOccupied  = apperr.New(apperr.ErrConflict, "charging point is currently occupied")
	ErrDuplicateCode          = apperr.New(apperr.ErrConflict, "booking code already in use")
	ErrBookingTerminal        = apperr.New(apperr.ErrInvalidState, "booking is already completed or cancelled")
	ErrCannotCancelInProgress = apperr.New(apperr.ErrInvalidState, "cannot cancel a booking in progress")
	ErrNotPending             = apperr.New(apperr.ErrInvalidState, "booking must be pending to be confirmed")
	ErrNotConfirmed           = apperr.New(apperr.ErrInvalidState, "booking must be confirmed before starting charging")
	ErrNotInProgress          = apperr.New(apperr.ErrInvalidState, "booking is not in progress")
	ErrInvalidTransition      = apperr.New(apperr.ErrInvalidState, "status change not allowed")
	ErrStatusNotEditable      = apperr.New(apperr.ErrInvalidInput, "status can only be changed to confirmed or cancelled")
	ErrInvalidTimeRange       = apperr.New(apperr.ErrInvalidInput, "end time must be after start time")
)

const (
	maxCodeAttempts = 3
	expireBatchSize = 100
)

type Service interface {
	Create(ctx context.Context, in CreateInput) (*Booking, error)
	Get(ctx context.Context, id int64) (*Booking, error)
	GetByCode(ctx context.Context, code string) (*Booking, error)
	Update(ctx context.Context, id int64, in UpdateInput) (*Booking, error)
	Confirm(ctx context.Context, id int64) (*Booking, error)
	Cancel(ctx context.Context, id int64) (*Booking, error)
	StartCharging(ctx context.Context, id int64) (*Booking, error)
	StopCharging(ctx context.Context, id int64) (*Booking, error)
	GetActiveByUser(ctx context.Context, userID int64) (*Booking, error)
	GetActiveByChargingPoint(ctx context.Context, chargingPointID int64) (*Booking, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Booking, error)
	ListByChargingPoint(ctx context.Context, chargingPointID int64, limit, offset int) ([]Booking, error)
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Booking, error)
	// ExpirePending cancels pending bookings whose start time is before
	// cutoff and returns how many were cancelled.
	ExpirePending(ctx context.Context, cutoff time.Time) (int, error)
	QRImage(b *Booking) ([]byte, error)
}

type service struct {
	repo    Repository
	tx      db.Transactor
	catalog catalog.Client
	pricing pricing.Calculator
	qr      qr.Generator
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, catalogClient catalog.Client, calc pricing.Calculator, qrGen qr.Generator) Service {
	return &service{
		repo:    repo,
		tx:      tx,
		catalog: catalogClient,
		pricing: calc,
		qr:      qrGen,
		now:     time.Now,
	}
}

func (s *service) Create(ctx context.Context, in CreateInput) (*Booking, error) {
	if in.EndTime != nil && !in.EndTime.After(in.StartTime) {
		return nil, ErrInvalidTimeRange
	}

	if in.Code != "" {
		if existing, ok, err := s.replay(ctx, in); ok || err != nil {
			return existing, err
		}
	}

	point, err := s.catalog.GetChargingPoint(ctx, in.ChargingPointID)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		b := &Booking{
			Code:            in.Code,
			UserID:          in.UserID,
			ChargingPointID: in.ChargingPointID,
			StationID:       point.StationID,
			Status:          StatusPending,
			StartTime:       in.StartTime,
			EndTime:         in.EndTime,
			Notes:           in.Notes,
		}
		if b.Code == "" {
			b.Code = codegen.New(codegen.PrefixBooking, s.now())
		}
		b.QRCode = s.qr.Payload(b.Code)

		err := s.tx.WithinTx(ctx, func(ctx context.Context, q sqlx.ExtContext) error {
			busy, err := s.repo.HasActiveForUser(ctx, q, in.UserID)
			if err != nil {
				return err
			}
			if busy {
				return ErrActiveBookingExists
			}

			occupied, err := s.repo.HasActiveForPoint(ctx, q, in.ChargingPointID)
			if err != nil {
				return err
			}
			if occupied {
				return ErrChargingPointOccupied
			}

			return s.repo.Create(ctx, q, b)
		})

		switch {
		case err == nil:
			logger.Info("booking created", "code", b.Code, "user_id", b.UserID, "charging_point_id", b.ChargingPointID)
			metrics.RecordBookingTransition(string(StatusPending))
			return b, nil
		case errors.Is(err, ErrActiveBookingExists):
			metrics.RecordBookingConflict("user_active")
			return nil, err
		case errors.Is(err, ErrChargingPointOccupied):
			metrics.RecordBookingConflict("point_occupied")
			return nil, err
		case errors.Is(err, ErrDuplicateCode) && in.Code != "":
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

// replay resolves a client-supplied code: the owner gets the existing
// booking back, anyone else a conflict.
func (s *service) replay(ctx context.Context, in CreateInput) (*Booking, bool, error) {
	existing, err := db.Read(ctx, s.tx, func(ctx context.Context) (*Booking, error) {
		return s.repo.GetByCode(ctx, in.Code)
	})
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if existing.UserID != in.UserID {
		return nil, false, ErrDuplicateCode
	}
	return existing, true, nil
}

func (s *service) Get(ctx context.Context, id int64) (*Booking, error) {
	return db.Read(ctx, s.tx, func(ctx context.Context) (*Booking, error) {
		return s.repo.GetByID(ctx, id)
	})
}

func (s *service) GetByCode(ctx context.Context, code string) (*Booking, error) {
	return db.Read(ctx, s.tx, func(ctx context.Context) (*Booking, error) {
		return s.repo.GetByCode(ctx, code)
	})
}

// mutate locks the booking and persists whatever fn changes.
func (s *service) mutate(ctx context.Context, id int64, fn func(b *Booking) error) (*Booking, error) {
	var b *Booking
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q sqlx.ExtContext) error {
		var err error
		b, err = s.repo.LockByID(ctx, q, id)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		return s.repo.Update(ctx, q, b)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) Update(ctx context.Context, id int64, in UpdateInput) (*Booking, error) {
	if in.Status != nil && *in.Status != StatusConfirmed && *in.Status != StatusCancelled {
		return nil, ErrStatusNotEditable
	}

	b, err := s.mutate(ctx, id, func(b *Booking) error {
		if b.Status.IsTerminal() {
			return ErrBookingTerminal
		}

		if in.StartTime != nil {
			b.StartTime = *in.StartTime
		}
		if in.EndTime != nil {
			b.EndTime = in.EndTime
		}
		if b.EndTime != nil && !b.EndTime.After(b.StartTime) {
			return ErrInvalidTimeRange
		}
		if in.Notes != nil {
			b.Notes = *in.Notes
		}
		if in.Status != nil && *in.Status != b.Status {
			if !b.Status.CanTransitionTo(*in.Status) {
				return ErrInvalidTransition
			}
			b.Status = *in.Status
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if in.Status != nil {
		metrics.RecordBookingTransition(string(b.Status))
	}
	logger.Info("booking updated", "code", b.Code, "status", b.Status)
	return b, nil
}

func (s *service) Confirm(ctx context.Context, id int64) (*Booking, error) {
	b, err := s.mutate(ctx, id, func(b *Booking) error {
		if b.Status != StatusPending {
			return ErrNotPending
		}
		b.Status = StatusConfirmed
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordBookingTransition(string(StatusConfirmed))
	return b, nil
}

func cancel(b *Booking) error {
	switch {
	case b.Status == StatusInProgress:
		return ErrCannotCancelInProgress
	case b.Status.IsTerminal():
		return ErrBookingTerminal
	}
	b.Status = StatusCancelled
	return nil
}

func (s *service) Cancel(ctx context.Context, id int64) (*Booking, error) {
	b, err := s.mutate(ctx, id, cancel)
	if err != nil {
		return nil, err
	}

	logger.Info("booking cancelled", "code", b.Code)
	metrics.RecordBookingTransition(string(StatusCancelled))
	return b, nil
}

func (s *service) StartCharging(ctx context.Context, id int64) (*Booking, error) {
	b, err := s.mutate(ctx, id, func(b *Booking) error {
		if b.Status != StatusConfirmed {
			return ErrNotConfirmed
		}
		now := s.now()
		b.Status = StatusInProgress
		b.ActualStartTime = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("charging started", "code", b.Code, "charging_point_id", b.ChargingPointID)
	metrics.RecordBookingTransition(string(StatusInProgress))
	return b, nil
}

func (s *service) StopCharging(ctx context.Context, id int64) (*Booking, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}

	// pricing falls back to defaults so a catalog outage cannot block a stop
	var pricePerKwh, maxPower decimal.Decimal
	if point, err := s.catalog.GetChargingPoint(ctx, current.ChargingPointID); err == nil {
		pricePerKwh, maxPower = point.PricePerKwh, point.MaxPower
	} else {
		logger.WithError(err).Warn("pricing with defaults, catalog lookup failed", "charging_point_id", current.ChargingPointID)
	}

	b, err := s.mutate(ctx, id, func(b *Booking) error {
		if b.Status != StatusInProgress {
			return ErrNotInProgress
		}

		now := s.now()
		start := now
		if b.ActualStartTime != nil {
			start = *b.ActualStartTime
		}

		quote, err := s.pricing.Calculate(pricing.Session{
			Start:       start,
			End:         now,
			PricePerKwh: pricePerKwh,
			MaxPowerKW:  maxPower,
		})
		if err != nil {
			return err
		}

		b.Status = StatusCompleted
		b.ActualEndTime = &now
		b.EnergyConsumed = decimal.NewNullDecimal(quote.EnergyKWh)
		b.TotalCost = decimal.NewNullDecimal(quote.Cost)
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info("charging stopped", "code", b.Code,
		"energy_kwh", b.EnergyConsumed.Decimal.String(),
		"total_cost", b.TotalCost.Decimal.String(),
	)
	metrics.RecordBookingTransition(string(StatusCompleted))
	metrics.RecordEnergyDelivered(b.EnergyConsumed.Decimal.InexactFloat64())
	return b, nil
}

func (s *service) GetActiveByUser(ctx context.Context, userID int64) (*Booking, error) {
	return db.Read(ctx, s.tx, func(ctx context.Context) (*Booking, error) {
		return s.repo.GetActiveByUser(ctx, userID)
	})
}

func (s *service) GetActiveByChargingPoint(ctx context.Context, chargingPointID int64) (*Booking, error) {
	return db.Read(ctx, s.tx, func(ctx context.Context) (*Booking, error) {
		return s.repo.GetActiveByPoint(ctx, chargingPointID)
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

func (s *service) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Booking, error) {
	limit, offset = normalizePage(limit, offset)
	return db.Read(ctx, s.tx, func(ctx context.Context) ([]Booking, error) {
		return s.repo.ListByUser(ctx, userID, limit, offset)
	})
}

func (s *service) ListByChargingPoint(ctx context.Context, chargingPointID int64, limit, offset int) ([]Booking, error) {
	limit, offset = normalizePage(limit, offset)
	return db.Read(ctx, s.tx, func(ctx context.Context) ([]Booking, error) {
		return s.repo.ListByPoint(ctx, chargingPointID, limit, offset)
	})
}

func (s *service) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Booking, error) {
	limit, offset = normalizePage(limit, offset)
	return db.Read(ctx, s.tx, func(ctx context.Context) ([]Booking, error) {
		return s.repo.ListByStatus(ctx, status, limit, offset)
	})
}

func (s *service) ExpirePending(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := db.Read(ctx, s.tx, func(ctx context.Context) ([]Booking, error) {
		return s.repo.ListStalePending(ctx, cutoff, expireBatchSize)
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range stale {
		_, err := s.mutate(ctx, candidate.ID, func(b *Booking) error {
			// confirmed since it was listed
			if b.Status != StatusPending {
				return ErrNotPending
			}
			b.Status = StatusCancelled
			b.Notes = appendNote(b.Notes, "expired: not confirmed before start time")
			return nil
		})
		switch {
		case err == nil:
			expired++
			metrics.RecordBookingTransition(string(StatusCancelled))
		case errors.Is(err, ErrNotPending):
		default:
			logger.WithError(err).Warn("failed to expire booking", "booking_id", candidate.ID)
		}
	}

	if expired > 0 {
		logger.Info("expired stale pending bookings", "count", expired)
	}
	metrics.RecordExpiredBookings(expired)
	return expired, nil
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

func (s *service) QRImage(b *Booking) ([]byte, error) {
	payload := b.QRCode
	if payload == "" {
		payload = s.qr.Payload(b.Code)
	}
	return s.qr.Image(payload)
}
