package wallet

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type Repository interface {
	GetByUserID(ctx context.Context, userID int64) (*Wallet, error)
	Ensure(ctx context.Context, q sqlx.ExtContext, userID int64) error
	LockByUserID(ctx context.Context, q sqlx.ExtContext, userID int64) (*Wallet, error)
	UpdateBalance(ctx context.Context, q sqlx.ExtContext, w *Wallet) error
	InsertTransaction(ctx context.Context, q sqlx.ExtContext, t *Transaction) error
	ListTransactions(ctx context.Context, walletID int64, filter TransactionFilter) ([]Transaction, error)
}
