package wallet

import (
	"context"
	"errors"

	"evcharge/internal/apperr"
	"evcharge/internal/db"
	"evcharge/internal/metrics"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	ErrWalletNotFound      = apperr.New(apperr.ErrNotFound, "wallet not found")
	ErrInvalidAmount       = apperr.New(apperr.ErrInvalidAmount, "amount must be positive")
	ErrSelfTransfer        = apperr.New(apperr.ErrInvalidAmount, "cannot transfer to the same wallet")
	ErrInsufficientBalance = apperr.New(apperr.ErrInsufficientFunds, "insufficient wallet balance")
	ErrWalletInactive      = apperr.New(apperr.ErrInvalidState, "wallet is inactive")
)

// TxLedger exposes ledger postings that join a caller's transaction.
type TxLedger interface {
	EnsureWallet(ctx context.Context, q sqlx.ExtContext, userID int64) error
	DeductTx(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal, description string, relatedPaymentID *int64) (*Wallet, error)
	RefundTx(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal, description string, relatedPaymentID *int64) (*Wallet, error)
}

type Service interface {
	TxLedger
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetWallet(ctx context.Context, userID int64) (*Wallet, error)
	Deposit(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*Wallet, error)
	Bonus(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*Wallet, error)
	Deduct(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*Wallet, error)
	Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*Wallet, error)
	Refund(ctx context.Context, userID int64, amount decimal.Decimal, relatedPaymentID *int64, description string) (*Wallet, error)
	Transfer(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal, description string) error
	ListTransactions(ctx context.Context, userID int64, filter TransactionFilter) ([]Transaction, error)
}

type service struct {
	repo Repository
	tx   db.Transactor
}

func NewService(repo Repository, tx db.Transactor) Service {
	return &service{repo: repo, tx: tx}
}

type posting struct {
	txType           TransactionType
	amount           decimal.Decimal
	description      string
	relatedPaymentID *int64
}

// apply mutates w in memory for p and returns the signed ledger amount.
func apply(w *Wallet, p posting) (decimal.Decimal, error) {
	if !w.IsActive {
		return decimal.Zero, ErrWalletInactive
	}

	switch p.txType {
	case TxDeposit, TxBonus:
		w.Balance = w.Balance.Add(p.amount)
		w.TotalDeposited = w.TotalDeposited.Add(p.amount)
		return p.amount, nil
	case TxPayment, TxWithdrawal:
		if w.Balance.LessThan(p.amount) {
			return decimal.Zero, ErrInsufficientBalance
		}
		w.Balance = w.Balance.Sub(p.amount)
		w.TotalSpent = w.TotalSpent.Add(p.amount)
		return p.amount.Neg(), nil
	case TxRefund:
		// TotalSpent may go negative when refunds exceed lifetime spend.
		w.Balance = w.Balance.Add(p.amount)
		w.TotalSpent = w.TotalSpent.Sub(p.amount)
		return p.amount, nil
	default:
		return decimal.Zero, apperr.New(apperr.ErrInvalidInput, "unknown transaction type "+string(p.txType))
	}
}

func isDebit(t TransactionType) bool {
	return t == TxPayment || t == TxWithdrawal
}

func (s *service) persist(ctx context.Context, q sqlx.ExtContext, w *Wallet, signed decimal.Decimal, p posting) error {
	if err := s.repo.UpdateBalance(ctx, q, w); err != nil {
		return err
	}

	return s.repo.InsertTransaction(ctx, q, &Transaction{
		WalletID:         w.ID,
		Amount:           signed,
		Type:             p.txType,
		Description:      p.description,
		RelatedPaymentID: p.relatedPaymentID,
		BalanceAfter:     w.Balance,
	})
}

// post locks the user's wallet inside q and records p. Debits never create
// a wallet; a missing wallet has no funds.
func (s *service) post(ctx context.Context, q sqlx.ExtContext, userID int64, p posting) (*Wallet, error) {
	if !p.amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	if !isDebit(p.txType) {
		if err := s.repo.Ensure(ctx, q, userID); err != nil {
			return nil, err
		}
	}

	w, err := s.repo.LockByUserID(ctx, q, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) && isDebit(p.txType) {
			return nil, ErrInsufficientBalance
		}
		return nil, err
	}

	signed, err := apply(w, p)
	if err != nil {
		return nil, err
	}

	if err := s.persist(ctx, q, w, signed, p); err != nil {
		return nil, err
	}

	return w, nil
}

func (s *service) postInTx(ctx context.Context, userID int64, p posting) (*Wallet, error) {
	var w *Wallet
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q sqlx.ExtContext) error {
		var err error
		w, err = s.post(ctx, q, userID, p)
		return err
	})
	recordOperation(p.txType, err)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func recordOperation(t TransactionType, err error) {
	result := "success"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrInsufficientFunds):
		result = "insufficient_funds"
	case errors.Is(err, apperr.ErrInvalidAmount):
		result = "invalid_amount"
	default:
		result = "error"
	}
	metrics.RecordWalletOperation(string(t), result)
}

func (s *service) EnsureWallet(ctx context.Context, q sqlx.ExtContext, userID int64) error {
	return s.repo.Ensure(ctx, q, userID)
}

func (s *service) DeductTx(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal, description string, relatedPaymentID *int64) (*Wallet, error) {
	w, err := s.post(ctx, q, userID, posting{
		txType:           TxPayment,
		amount:           amount,
		description:      description,
		relatedPaymentID: relatedPaymentID,
	})
	recordOperation(TxPayment, err)
	return w, err
}

func (s *service) RefundTx(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal, description string, relatedPaymentID *int64) (*Wallet, error) {
	w, err := s.post(ctx, q, userID, posting{
		txType:           TxRefund,
		amount:           amount,
		description:      description,
		relatedPaymentID: relatedPaymentID,
	})
	recordOperation(TxRefund, err)
	return w, err
}

func (s *service) byUser(ctx context.Context, userID int64) (*Wallet, error) {
	return db.Read(ctx, s.tx, func(ctx context.Context) (*Wallet, error) {
		return s.repo.GetByUserID(ctx, userID)
	})
}

func (s *service) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	w, err := s.byUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (s *service) GetWallet(ctx context.Context, userID int64) (*Wallet, error) {
	w, err := s.byUser(ctx, userID)
	if err == nil || !errors.Is(err, ErrWalletNotFound) {
		return w, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, q sqlx.ExtContext) error {
		return s.repo.Ensure(ctx, q, userID)
	})
	if err != nil {
		return nil, err
	}
	return s.byUser(ctx, userID)
}

func (s *service) Deposit(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*Wallet, error) {
	return s.postInTx(ctx, userID, posting{txType: TxDeposit, amount: amount, description: description})
}

func (s *service) Bonus(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*Wallet, error) {
	return s.postInTx(ctx, userID, posting{txType: TxBonus, amount: amount, description: description})
}

func (s *service) Deduct(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*Wallet, error) {
	return s.postInTx(ctx, userID, posting{txType: TxPayment, amount: amount, description: description})
}

func (s *service) Withdraw(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*Wallet, error) {
	return s.postInTx(ctx, userID, posting{txType: TxWithdrawal, amount: amount, description: description})
}

func (s *service) Refund(ctx context.Context, userID int64, amount decimal.Decimal, relatedPaymentID *int64, description string) (*Wallet, error) {
	return s.postInTx(ctx, userID, posting{
		txType:           TxRefund,
		amount:           amount,
		description:      description,
		relatedPaymentID: relatedPaymentID,
	})
}

// Transfer moves amount between two wallets in one transaction. Rows are
// locked in ascending user id order so opposite transfers cannot deadlock.
func (s *service) Transfer(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal, description string) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if fromUserID == toUserID {
		return ErrSelfTransfer
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, q sqlx.ExtContext) error {
		if err := s.repo.Ensure(ctx, q, toUserID); err != nil {
			return err
		}

		first, second := fromUserID, toUserID
		if second < first {
			first, second = second, first
		}

		locked := make(map[int64]*Wallet, 2)
		for _, id := range []int64{first, second} {
			w, err := s.repo.LockByUserID(ctx, q, id)
			if err != nil {
				if errors.Is(err, ErrWalletNotFound) && id == fromUserID {
					return ErrInsufficientBalance
				}
				return err
			}
			locked[id] = w
		}

		out := posting{txType: TxWithdrawal, amount: amount, description: description}
		in := posting{txType: TxDeposit, amount: amount, description: description}

		src, dst := locked[fromUserID], locked[toUserID]
		outSigned, err := apply(src, out)
		if err != nil {
			return err
		}
		inSigned, err := apply(dst, in)
		if err != nil {
			return err
		}

		if err := s.persist(ctx, q, src, outSigned, out); err != nil {
			return err
		}
		return s.persist(ctx, q, dst, inSigned, in)
	})

	recordOperation("transfer", err)
	return err
}

func (s *service) ListTransactions(ctx context.Context, userID int64, filter TransactionFilter) ([]Transaction, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, apperr.New(apperr.ErrInvalidInput, "to must not be before from")
	}

	w, err := s.byUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return []Transaction{}, nil
		}
		return nil, err
	}

	return db.Read(ctx, s.tx, func(ctx context.Context) ([]Transaction, error) {
		return s.repo.ListTransactions(ctx, w.ID, filter)
	})
}
