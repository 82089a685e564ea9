package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"evcharge/internal/apperr"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/cenkalti/backoff/v3"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTxMock(t *testing.T) (*TxManager, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	m := NewTxManager(sqlxDB,
		WithTimeout(time.Second),
		WithMaxRetries(2),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }),
	)

	return m, mock, func() { sqlxDB.Close() }
}

func TestWithinTx_Commit(t *testing.T) {
	m, mock, close := setupTxMock(t)
	defer close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE wallets").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		_, err := tx.ExecContext(ctx, "UPDATE wallets SET balance = 1")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RollbackOnDomainError(t *testing.T) {
	m, mock, close := setupTxMock(t)
	defer close()

	errDomain := apperr.New(apperr.ErrInsufficientFunds, "insufficient wallet balance")

	mock.ExpectBegin()
	mock.ExpectRollback()

	calls := 0
	err := m.WithinTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		calls++
		return errDomain
	})

	assert.ErrorIs(t, err, errDomain)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_RetriesDeadlock(t *testing.T) {
	m, mock, close := setupTxMock(t)
	defer close()

	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()

	calls := 0
	err := m.WithinTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		calls++
		if calls == 1 {
			return &pq.Error{Code: "40P01", Message: "deadlock detected"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_ExhaustedRetriesAreTransient(t *testing.T) {
	m, mock, close := setupTxMock(t)
	defer close()

	for i := 0; i < 3; i++ {
		mock.ExpectBegin()
		mock.ExpectRollback()
	}

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		return &pq.Error{Code: "40001", Message: "could not serialize access"}
	})

	assert.ErrorIs(t, err, apperr.ErrTransient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithinTx_StatementHonoursTimeout(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(sqlDB, "sqlmock")
	defer sqlxDB.Close()

	m := NewTxManager(sqlxDB, WithTimeout(50*time.Millisecond), WithMaxRetries(2))

	mock.ExpectBegin()
	// a row lock held by someone else
	mock.ExpectQuery("SELECT (.+) FROM wallets").
		WillDelayFor(5 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectRollback()

	start := time.Now()
	err = m.WithinTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		rows, err := tx.QueryxContext(ctx, "SELECT id FROM wallets WHERE user_id = $1 FOR UPDATE", 1)
		if err != nil {
			return err
		}
		return rows.Close()
	})

	assert.ErrorIs(t, err, apperr.ErrTransient)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWithinTx_HandsBoundedContextToFn(t *testing.T) {
	m, mock, close := setupTxMock(t)
	defer close()

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := m.WithinTx(context.Background(), func(ctx context.Context, tx sqlx.ExtContext) error {
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
		return nil
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRead(t *testing.T) {
	m, _, close := setupTxMock(t)
	defer close()

	t.Run("applies the timeout", func(t *testing.T) {
		got, err := Read(context.Background(), m, func(ctx context.Context) (int, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, got)
	})

	t.Run("deadline is transient", func(t *testing.T) {
		_, err := Read(context.Background(), m, func(ctx context.Context) (int, error) {
			return 0, context.DeadlineExceeded
		})
		assert.ErrorIs(t, err, apperr.ErrTransient)
	})

	t.Run("domain errors pass through", func(t *testing.T) {
		errMissing := apperr.New(apperr.ErrNotFound, "wallet not found")
		_, err := Read(context.Background(), m, func(ctx context.Context) (int, error) {
			return 0, errMissing
		})
		assert.ErrorIs(t, err, errMissing)
		assert.False(t, errors.Is(err, apperr.ErrTransient))
	})

	t.Run("statement cut off by the deadline", func(t *testing.T) {
		sqlDB, mock, err := sqlmock.New()
		require.NoError(t, err)
		sqlxDB := sqlx.NewDb(sqlDB, "sqlmock")
		defer sqlxDB.Close()

		short := NewTxManager(sqlxDB, WithTimeout(50*time.Millisecond))
		mock.ExpectQuery("SELECT (.+) FROM bookings").
			WillDelayFor(5 * time.Second).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		start := time.Now()
		_, err = Read(context.Background(), short, func(ctx context.Context) (int64, error) {
			var id int64
			err := sqlx.GetContext(ctx, sqlxDB, &id, "SELECT id FROM bookings WHERE id = $1", 1)
			return id, err
		})
		assert.ErrorIs(t, err, apperr.ErrTransient)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&pq.Error{Code: "40001"}))
	assert.True(t, IsTransient(&pq.Error{Code: "55P03"}))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(&pq.Error{Code: "23505"}))
	assert.False(t, IsTransient(errors.New("boom")))
}

func TestUniqueViolation(t *testing.T) {
	constraint, ok := UniqueViolation(&pq.Error{Code: "23505", Constraint: "bookings_one_active_per_point"})
	assert.True(t, ok)
	assert.Equal(t, "bookings_one_active_per_point", constraint)

	_, ok = UniqueViolation(errors.New("boom"))
	assert.False(t, ok)
}

func TestExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	defer sqlxDB.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := Exists(context.Background(), sqlxDB, "SELECT EXISTS(SELECT 1 FROM bookings WHERE user_id = $1)", 7)
	require.NoError(t, err)
	assert.True(t, exists)
}
