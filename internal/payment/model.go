package payment

import (
	"time"

	"evcharge/internal/apperr"

	"github.com/shopspring/decimal"
)

const CurrencyVND = "VND"

type Method string

const (
	MethodWallet       Method = "wallet"
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodEWallet      Method = "ewallet"
	MethodCash         Method = "cash"
	MethodVoucher      Method = "voucher"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodWallet, MethodCard, MethodBankTransfer, MethodEWallet, MethodCash, MethodVoucher:
		return m, nil
	default:
		return "", apperr.New(apperr.ErrInvalidMethod, "unsupported payment method: "+s)
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
	StatusCancelled  Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled:
		return st, nil
	default:
		return "", apperr.New(apperr.ErrInvalidInput, "unknown payment status: "+s)
	}
}

// Payment settles a booking. Refund lines carry a negative Amount and point
// at the original through RefundOfID.
type Payment struct {
	ID            int64           `db:"id" json:"id"`
	Code          string          `db:"code" json:"code"`
	BookingID     int64           `db:"booking_id" json:"booking_id"`
	UserID        int64           `db:"user_id" json:"user_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Currency      string          `db:"currency" json:"currency"`
	Method        Method          `db:"method" json:"method"`
	Status        Status          `db:"status" json:"status"`
	TransactionID *string         `db:"transaction_id" json:"transaction_id,omitempty"`
	Description   string          `db:"description" json:"description"`
	RefundOfID    *int64          `db:"refund_of_id" json:"refund_of_id,omitempty"`
	IsDeleted     bool            `db:"is_deleted" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
	ProcessedAt   *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

type CreateInput struct {
	UserID      int64
	BookingID   int64
	Amount      decimal.Decimal
	Method      string
	Description string
	// Code is an optional client idempotency key.
	Code string
}

type CreatePaymentRequest struct {
	BookingID   int64           `json:"booking_id" binding:"required,gt=0" example:"1"`
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"150000"`
	Method      string          `json:"method" binding:"required" example:"wallet"`
	Description string          `json:"description" binding:"max=255"`
	Code        string          `json:"code" binding:"omitempty,max=64"`
}

type CompletePaymentRequest struct {
	TransactionID string `json:"transaction_id" binding:"max=128" example:"GW-8812"`
	NotifyEmail   string `json:"notify_email" binding:"omitempty,email"`
}

type RefundPaymentRequest struct {
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"50000"`
	Reason      string          `json:"reason" binding:"required,max=255" example:"charger fault"`
	NotifyEmail string          `json:"notify_email" binding:"omitempty,email"`
}
