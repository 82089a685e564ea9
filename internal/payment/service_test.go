package payment

import (
	"context"
	"errors"
	"strings"
	"testing"

	"evcharge/internal/apperr"
	"evcharge/internal/wallet"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context, tx sqlx.ExtContext) error) error {
	return fn(ctx, nil)
}

func (passthroughTx) Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(ctx)
}

type MockRepository struct{ mock.Mock }

func (m *MockRepository) Create(ctx context.Context, q sqlx.ExtContext, p *Payment) error {
	return m.Called(ctx, q, p).Error(0)
}

func (m *MockRepository) GetByID(ctx context.Context, id int64) (*Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockRepository) GetByCode(ctx context.Context, code string) (*Payment, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockRepository) LockByID(ctx context.Context, q sqlx.ExtContext, id int64) (*Payment, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockRepository) UpdateStatus(ctx context.Context, q sqlx.ExtContext, p *Payment) error {
	return m.Called(ctx, q, p).Error(0)
}

func (m *MockRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Payment, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]Payment), args.Error(1)
}

func (m *MockRepository) ListByBooking(ctx context.Context, bookingID int64) ([]Payment, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]Payment), args.Error(1)
}

func (m *MockRepository) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Payment, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]Payment), args.Error(1)
}

func (m *MockRepository) SoftDelete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type MockLedger struct{ mock.Mock }

func (m *MockLedger) EnsureWallet(ctx context.Context, q sqlx.ExtContext, userID int64) error {
	return m.Called(ctx, q, userID).Error(0)
}

func (m *MockLedger) DeductTx(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal, description string, relatedPaymentID *int64) (*wallet.Wallet, error) {
	args := m.Called(ctx, q, userID, amount, description, relatedPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

func (m *MockLedger) RefundTx(ctx context.Context, q sqlx.ExtContext, userID int64, amount decimal.Decimal, description string, relatedPaymentID *int64) (*wallet.Wallet, error) {
	args := m.Called(ctx, q, userID, amount, description, relatedPaymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*wallet.Wallet), args.Error(1)
}

func newTestService() (*service, *MockRepository, *MockLedger) {
	repo := new(MockRepository)
	ledger := new(MockLedger)
	svc := NewService(repo, ledger, passthroughTx{}).(*service)
	return svc, repo, ledger
}

func amt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestCreate_Validation(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{UserID: 1, BookingID: 1, Amount: amt(10), Method: "bitcoin"})
	assert.ErrorIs(t, err, apperr.ErrInvalidMethod)

	_, err = svc.Create(ctx, CreateInput{UserID: 1, BookingID: 1, Amount: decimal.Zero, Method: "card"})
	assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreate_WalletEnsuresWallet(t *testing.T) {
	svc, repo, ledger := newTestService()

	ledger.On("EnsureWallet", mock.Anything, mock.Anything, int64(1)).Return(nil)
	repo.On("Create", mock.Anything, mock.Anything, mock.MatchedBy(func(p *Payment) bool {
		return strings.HasPrefix(p.Code, "PAY") &&
			p.Status == StatusPending &&
			p.Currency == CurrencyVND &&
			p.Method == MethodWallet &&
			p.Amount.Equal(amt(150000))
	})).Return(nil)

	p, err := svc.Create(context.Background(), CreateInput{UserID: 1, BookingID: 9, Amount: amt(150000), Method: "wallet"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), p.BookingID)
	ledger.AssertExpectations(t)
	repo.AssertExpectations(t)
}

func TestCreate_CardSkipsWallet(t *testing.T) {
	svc, repo, ledger := newTestService()

	repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := svc.Create(context.Background(), CreateInput{UserID: 1, BookingID: 9, Amount: amt(10), Method: "card"})
	require.NoError(t, err)
	ledger.AssertNotCalled(t, "EnsureWallet", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreate_IdempotentCode(t *testing.T) {
	ctx := context.Background()
	existing := &Payment{ID: 4, Code: "client-key-1", UserID: 1, Status: StatusPending}

	t.Run("same user replays", func(t *testing.T) {
		svc, repo, _ := newTestService()
		repo.On("GetByCode", mock.Anything, "client-key-1").Return(existing, nil)

		p, err := svc.Create(ctx, CreateInput{UserID: 1, BookingID: 2, Amount: amt(10), Method: "card", Code: "client-key-1"})
		require.NoError(t, err)
		assert.Equal(t, int64(4), p.ID)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("other user conflicts", func(t *testing.T) {
		svc, repo, _ := newTestService()
		repo.On("GetByCode", mock.Anything, "client-key-1").Return(existing, nil)

		_, err := svc.Create(ctx, CreateInput{UserID: 2, BookingID: 2, Amount: amt(10), Method: "card", Code: "client-key-1"})
		assert.ErrorIs(t, err, apperr.ErrConflict)
	})

	t.Run("race on insert replays", func(t *testing.T) {
		svc, repo, _ := newTestService()
		repo.On("GetByCode", mock.Anything, "client-key-1").Return(nil, ErrPaymentNotFound).Once()
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(ErrDuplicateCode).Once()
		repo.On("GetByCode", mock.Anything, "client-key-1").Return(existing, nil).Once()

		p, err := svc.Create(ctx, CreateInput{UserID: 1, BookingID: 2, Amount: amt(10), Method: "card", Code: "client-key-1"})
		require.NoError(t, err)
		assert.Equal(t, int64(4), p.ID)
	})
}

func TestCreate_RetriesGeneratedCodeCollision(t *testing.T) {
	svc, repo, _ := newTestService()

	repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(ErrDuplicateCode).Twice()
	repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := svc.Create(context.Background(), CreateInput{UserID: 1, BookingID: 2, Amount: amt(10), Method: "cash"})
	require.NoError(t, err)
	repo.AssertNumberOfCalls(t, "Create", 3)
}

func TestComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("wallet payment deducts in the same unit of work", func(t *testing.T) {
		svc, repo, ledger := newTestService()
		p := &Payment{ID: 5, Code: "PAY1", UserID: 1, Amount: amt(50000), Method: MethodWallet, Status: StatusPending}

		repo.On("LockByID", mock.Anything, mock.Anything, int64(5)).Return(p, nil)
		ledger.On("DeductTx", mock.Anything, mock.Anything, int64(1), amt(50000), "Payment PAY1", &p.ID).Return(&wallet.Wallet{}, nil)
		repo.On("UpdateStatus", mock.Anything, mock.Anything, mock.MatchedBy(func(u *Payment) bool {
			return u.Status == StatusCompleted && u.ProcessedAt != nil && u.TransactionID != nil && *u.TransactionID == "TX-1"
		})).Return(nil)

		ok, err := svc.Complete(ctx, 5, "TX-1")
		require.NoError(t, err)
		assert.True(t, ok)
		ledger.AssertExpectations(t)
	})

	t.Run("insufficient funds leaves payment pending", func(t *testing.T) {
		svc, repo, ledger := newTestService()
		p := &Payment{ID: 5, Code: "PAY1", UserID: 1, Amount: amt(150000), Method: MethodWallet, Status: StatusPending}

		repo.On("LockByID", mock.Anything, mock.Anything, int64(5)).Return(p, nil)
		ledger.On("DeductTx", mock.Anything, mock.Anything, int64(1), amt(150000), "Payment PAY1", &p.ID).
			Return(nil, wallet.ErrInsufficientBalance)

		ok, err := svc.Complete(ctx, 5, "")
		assert.False(t, ok)
		assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
		assert.Equal(t, StatusPending, p.Status)
		repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("second completion is a no-op", func(t *testing.T) {
		svc, repo, ledger := newTestService()
		p := &Payment{ID: 5, UserID: 1, Amount: amt(10), Method: MethodWallet, Status: StatusCompleted}

		repo.On("LockByID", mock.Anything, mock.Anything, int64(5)).Return(p, nil)

		ok, err := svc.Complete(ctx, 5, "")
		require.NoError(t, err)
		assert.False(t, ok)
		ledger.AssertNotCalled(t, "DeductTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing payment", func(t *testing.T) {
		svc, repo, _ := newTestService()
		repo.On("LockByID", mock.Anything, mock.Anything, int64(5)).Return(nil, ErrPaymentNotFound)

		ok, err := svc.Complete(ctx, 5, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("card payment has no wallet effect", func(t *testing.T) {
		svc, repo, ledger := newTestService()
		p := &Payment{ID: 6, UserID: 1, Amount: amt(10), Method: MethodCard, Status: StatusPending}

		repo.On("LockByID", mock.Anything, mock.Anything, int64(6)).Return(p, nil)
		repo.On("UpdateStatus", mock.Anything, mock.Anything, p).Return(nil)

		ok, err := svc.Complete(ctx, 6, "")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Nil(t, p.TransactionID)
		ledger.AssertNotCalled(t, "DeductTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestFailAndCancel(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		from    Status
		op      func(s Service) (*Payment, error)
		wantErr error
		want    Status
	}{
		{"fail pending", StatusPending, func(s Service) (*Payment, error) { return s.Fail(ctx, 1) }, nil, StatusFailed},
		{"fail processing", StatusProcessing, func(s Service) (*Payment, error) { return s.Fail(ctx, 1) }, nil, StatusFailed},
		{"fail completed", StatusCompleted, func(s Service) (*Payment, error) { return s.Fail(ctx, 1) }, ErrCannotFail, ""},
		{"fail refunded", StatusRefunded, func(s Service) (*Payment, error) { return s.Fail(ctx, 1) }, ErrCannotFail, ""},
		{"cancel pending", StatusPending, func(s Service) (*Payment, error) { return s.Cancel(ctx, 1) }, nil, StatusCancelled},
		{"cancel processing", StatusProcessing, func(s Service) (*Payment, error) { return s.Cancel(ctx, 1) }, ErrCannotCancel, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, ledger := newTestService()
			repo.On("LockByID", mock.Anything, mock.Anything, int64(1)).
				Return(&Payment{ID: 1, Method: MethodWallet, Status: tt.from}, nil)
			repo.On("UpdateStatus", mock.Anything, mock.Anything, mock.Anything).Return(nil)

			p, err := tt.op(svc)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, apperr.ErrInvalidState)
				repo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Status)
			assert.Empty(t, ledger.Calls)
		})
	}
}

func TestRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("wallet refund", func(t *testing.T) {
		svc, repo, ledger := newTestService()
		p := &Payment{ID: 5, Code: "PAY1", BookingID: 9, UserID: 1, Amount: amt(100000), Currency: CurrencyVND, Method: MethodWallet, Status: StatusCompleted}

		repo.On("LockByID", mock.Anything, mock.Anything, int64(5)).Return(p, nil)
		repo.On("Create", mock.Anything, mock.Anything, mock.MatchedBy(func(r *Payment) bool {
			return strings.HasPrefix(r.Code, "RF") &&
				r.Amount.Equal(amt(-40000)) &&
				r.Status == StatusCompleted &&
				r.RefundOfID != nil && *r.RefundOfID == 5 &&
				r.BookingID == 9 &&
				r.Description == "Refund: charger fault"
		})).Return(nil)
		repo.On("UpdateStatus", mock.Anything, mock.Anything, p).Return(nil)
		ledger.On("RefundTx", mock.Anything, mock.Anything, int64(1), amt(40000), "Refund for payment PAY1", &p.ID).Return(&wallet.Wallet{}, nil)

		refund, err := svc.Refund(ctx, 5, amt(40000), "charger fault")
		require.NoError(t, err)
		assert.True(t, refund.Amount.IsNegative())
		assert.Equal(t, StatusRefunded, p.Status)
		ledger.AssertExpectations(t)
	})

	t.Run("card refund has no wallet effect", func(t *testing.T) {
		svc, repo, ledger := newTestService()
		p := &Payment{ID: 5, UserID: 1, Amount: amt(100000), Method: MethodCard, Status: StatusCompleted}

		repo.On("LockByID", mock.Anything, mock.Anything, int64(5)).Return(p, nil)
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		repo.On("UpdateStatus", mock.Anything, mock.Anything, p).Return(nil)

		_, err := svc.Refund(ctx, 5, amt(100000), "cancelled")
		require.NoError(t, err)
		assert.Empty(t, ledger.Calls)
	})

	t.Run("rejections", func(t *testing.T) {
		svc, repo, _ := newTestService()
		repo.On("LockByID", mock.Anything, mock.Anything, int64(1)).Return(&Payment{ID: 1, Amount: amt(100), Status: StatusPending}, nil)
		repo.On("LockByID", mock.Anything, mock.Anything, int64(2)).Return(&Payment{ID: 2, Amount: amt(100), Status: StatusCompleted}, nil)

		_, err := svc.Refund(ctx, 1, amt(10), "x")
		assert.ErrorIs(t, err, ErrNotRefundable)

		_, err = svc.Refund(ctx, 2, amt(101), "x")
		assert.ErrorIs(t, err, ErrRefundExceedsAmount)
		assert.ErrorIs(t, err, apperr.ErrInvalidAmount)

		_, err = svc.Refund(ctx, 2, decimal.Zero, "x")
		assert.ErrorIs(t, err, ErrInvalidAmount)

		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("code collision regenerates the refund code", func(t *testing.T) {
		svc, repo, ledger := newTestService()
		p := &Payment{ID: 5, Code: "PAY1", UserID: 1, Amount: amt(100000), Method: MethodWallet, Status: StatusCompleted}

		var codes []string
		repo.On("LockByID", mock.Anything, mock.Anything, int64(5)).Return(p, nil)
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { codes = append(codes, args.Get(2).(*Payment).Code) }).
			Return(ErrDuplicateCode).Once()
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { codes = append(codes, args.Get(2).(*Payment).Code) }).
			Return(nil).Once()
		repo.On("UpdateStatus", mock.Anything, mock.Anything, p).Return(nil).Once()
		ledger.On("RefundTx", mock.Anything, mock.Anything, int64(1), amt(100000), mock.Anything, mock.Anything).Return(&wallet.Wallet{}, nil).Once()

		refund, err := svc.Refund(ctx, 5, amt(100000), "charger fault")
		require.NoError(t, err)
		require.Len(t, codes, 2)
		assert.Equal(t, codes[1], refund.Code)
		assert.Equal(t, StatusRefunded, p.Status)
		ledger.AssertExpectations(t)
	})

	t.Run("code collisions are bounded", func(t *testing.T) {
		svc, repo, ledger := newTestService()
		p := &Payment{ID: 5, Code: "PAY1", UserID: 1, Amount: amt(100000), Method: MethodWallet, Status: StatusCompleted}

		repo.On("LockByID", mock.Anything, mock.Anything, int64(5)).Return(p, nil)
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(ErrDuplicateCode)

		_, err := svc.Refund(ctx, 5, amt(100000), "charger fault")
		assert.ErrorIs(t, err, ErrDuplicateCode)
		repo.AssertNumberOfCalls(t, "Create", maxCodeAttempts)
		assert.Equal(t, StatusCompleted, p.Status)
		assert.Empty(t, ledger.Calls)
	})

	t.Run("ledger failure is returned", func(t *testing.T) {
		svc, repo, ledger := newTestService()
		p := &Payment{ID: 5, Code: "PAY1", UserID: 1, Amount: amt(10), Method: MethodWallet, Status: StatusCompleted}

		repo.On("LockByID", mock.Anything, mock.Anything, int64(5)).Return(p, nil)
		repo.On("Create", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		repo.On("UpdateStatus", mock.Anything, mock.Anything, p).Return(nil)
		ledger.On("RefundTx", mock.Anything, mock.Anything, int64(1), amt(10), mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

		_, err := svc.Refund(ctx, 5, amt(10), "x")
		assert.EqualError(t, err, "boom")
	})
}

func TestQueries(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	repo.On("ListByUser", mock.Anything, int64(1), 50, 0).Return([]Payment{{ID: 1}}, nil)
	repo.On("ListByStatus", mock.Anything, StatusPending, 10, 5).Return([]Payment{}, nil)
	repo.On("SoftDelete", mock.Anything, int64(3)).Return(ErrPaymentNotFound)

	ps, err := svc.ListByUser(ctx, 1, 0, -1)
	require.NoError(t, err)
	assert.Len(t, ps, 1)

	_, err = svc.ListByStatus(ctx, StatusPending, 10, 5)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, 3), apperr.ErrNotFound)
}

func TestParseMethod(t *testing.T) {
	for _, m := range []string{"wallet", "card", "bank_transfer", "ewallet", "cash", "voucher"} {
		got, err := ParseMethod(m)
		require.NoError(t, err)
		assert.Equal(t, Method(m), got)
	}

	_, err := ParseMethod("Wallet")
	assert.ErrorIs(t, err, apperr.ErrInvalidMethod)
}
