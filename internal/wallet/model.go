package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxWithdrawal TransactionType = "withdrawal"
	TxPayment    TransactionType = "payment"
	TxRefund     TransactionType = "refund"
	TxBonus      TransactionType = "bonus"
)

// Wallet is a user's prepaid balance. Balance always equals
// TotalDeposited - TotalSpent; refunds reduce TotalSpent.
type Wallet struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	Balance        decimal.Decimal `db:"balance" json:"balance"`
	TotalDeposited decimal.Decimal `db:"total_deposited" json:"total_deposited"`
	TotalSpent     decimal.Decimal `db:"total_spent" json:"total_spent"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Transaction is an append-only ledger row. Amount is signed.
type Transaction struct {
	ID               int64           `db:"id" json:"id"`
	WalletID         int64           `db:"wallet_id" json:"wallet_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Type             TransactionType `db:"type" json:"type"`
	Description      string          `db:"description" json:"description"`
	RelatedPaymentID *int64          `db:"related_payment_id" json:"related_payment_id,omitempty"`
	BalanceAfter     decimal.Decimal `db:"balance_after" json:"balance_after"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

type TransactionFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

type AmountRequest struct {
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"100000"`
	Description string          `json:"description" binding:"max=255" example:"top up"`
}

type TransferRequest struct {
	ToUserID    int64           `json:"to_user_id" binding:"required,gt=0" example:"2"`
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"20000"`
	Description string          `json:"description" binding:"max=255"`
}

type BalanceResponse struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}
