package wallet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const walletColumns = `id, user_id, balance, total_deposited, total_spent, is_active, created_at, updated_at`

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByUserID(ctx context.Context, userID int64) (*Wallet, error) {
	var w Wallet
	err := r.db.GetContext(ctx, &w, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *repository) Ensure(ctx context.Context, q sqlx.ExtContext, userID int64) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO wallets (user_id)
		 VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	return err
}

func (r *repository) LockByUserID(ctx context.Context, q sqlx.ExtContext, userID int64) (*Wallet, error) {
	var w Wallet
	err := sqlx.GetContext(ctx, q, &w,
		`SELECT `+walletColumns+`
		 FROM wallets
		 WHERE user_id = $1
		 FOR UPDATE`,
		userID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *repository) UpdateBalance(ctx context.Context, q sqlx.ExtContext, w *Wallet) error {
	_, err := q.ExecContext(ctx,
		`UPDATE wallets
		 SET balance = $1, total_deposited = $2, total_spent = $3, updated_at = NOW()
		 WHERE id = $4`,
		w.Balance, w.TotalDeposited, w.TotalSpent, w.ID,
	)
	return err
}

func (r *repository) InsertTransaction(ctx context.Context, q sqlx.ExtContext, t *Transaction) error {
	return sqlx.GetContext(ctx, q, t,
		`INSERT INTO wallet_transactions (wallet_id, amount, type, description, related_payment_id, balance_after)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, wallet_id, amount, type, description, related_payment_id, balance_after, created_at`,
		t.WalletID, t.Amount, t.Type, t.Description, t.RelatedPaymentID, t.BalanceAfter,
	)
}

func (r *repository) ListTransactions(ctx context.Context, walletID int64, filter TransactionFilter) ([]Transaction, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	conds := []string{"wallet_id = $1"}
	args := []interface{}{walletID}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)

	query := fmt.Sprintf(`
		SELECT id, wallet_id, amount, type, description, related_payment_id, balance_after, created_at
		FROM wallet_transactions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(conds, " AND "), len(args)-1, len(args))

	txs := []Transaction{}
	if err := r.db.SelectContext(ctx, &txs, query, args...); err != nil {
		return nil, err
	}
	return txs, nil
}
