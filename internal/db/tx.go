package db

import (
	"context"
	"errors"
	"time"

	"evcharge/internal/apperr"
	"evcharge/internal/logger"
	"evcharge/internal/metrics"

	"github.com/cenkalti/backoff/v3"
	"github.com/jmoiron/sqlx"
)

// Transactor runs fn inside a single database transaction. The transaction
// commits when fn returns nil and rolls back otherwise. fn receives the
// bounded context and must pass it to every statement it runs.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx sqlx.ExtContext) error) error
	// Bound applies the unit-of-work timeout to reads made outside a
	// transaction.
	Bound(ctx context.Context) (context.Context, context.CancelFunc)
}

type TxManager struct {
	db         *sqlx.DB
	timeout    time.Duration
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

type TxOption func(*TxManager)

// WithTimeout bounds every unit of work, retries included, and every
// statement run through the context handed to the unit of work.
func WithTimeout(d time.Duration) TxOption {
	return func(m *TxManager) { m.timeout = d }
}

func WithMaxRetries(n uint64) TxOption {
	return func(m *TxManager) { m.maxRetries = n }
}

func WithBackOff(fn func() backoff.BackOff) TxOption {
	return func(m *TxManager) { m.newBackOff = fn }
}

func NewTxManager(db *sqlx.DB, opts ...TxOption) *TxManager {
	m := &TxManager{
		db:         db,
		timeout:    5 * time.Second,
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *TxManager) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx sqlx.ExtContext) error) error {
	ctx, cancel := m.Bound(ctx)
	defer cancel()

	op := func() error {
		err := m.runOnce(ctx, fn)
		if err == nil || IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(m.newBackOff(), m.maxRetries), ctx)
	err := backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		metrics.RecordTxRetry()
		logger.Warn("retrying transaction", "error", err, "wait_ms", wait.Milliseconds())
	})
	if err == nil {
		return nil
	}
	// drivers report a statement cut off by the deadline in their own terms
	if IsTransient(err) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Transient(err)
	}
	return err
}

func (m *TxManager) runOnce(ctx context.Context, fn func(ctx context.Context, tx sqlx.ExtContext) error) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Read runs a lookup outside a transaction under the unit-of-work timeout.
// A lookup cut off by the deadline fails as transient.
func Read[T any](ctx context.Context, t Transactor, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := t.Bound(ctx)
	defer cancel()

	v, err := fn(ctx)
	if err != nil && (IsTransient(err) || errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return v, apperr.Transient(err)
	}
	return v, err
}
