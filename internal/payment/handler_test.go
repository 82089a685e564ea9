package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"evcharge/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct{ mock.Mock }

func (m *MockService) Create(ctx context.Context, in CreateInput) (*Payment, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockService) Complete(ctx context.Context, id int64, transactionID string) (bool, error) {
	args := m.Called(ctx, id, transactionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) payment(args mock.Arguments) (*Payment, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Payment), args.Error(1)
}

func (m *MockService) Fail(ctx context.Context, id int64) (*Payment, error) {
	return m.payment(m.Called(ctx, id))
}

func (m *MockService) Cancel(ctx context.Context, id int64) (*Payment, error) {
	return m.payment(m.Called(ctx, id))
}

func (m *MockService) Refund(ctx context.Context, id int64, amount decimal.Decimal, reason string) (*Payment, error) {
	return m.payment(m.Called(ctx, id, amount, reason))
}

func (m *MockService) GetByID(ctx context.Context, id int64) (*Payment, error) {
	return m.payment(m.Called(ctx, id))
}

func (m *MockService) GetByCode(ctx context.Context, code string) (*Payment, error) {
	return m.payment(m.Called(ctx, code))
}

func (m *MockService) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]Payment, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]Payment), args.Error(1)
}

func (m *MockService) ListByBooking(ctx context.Context, bookingID int64) ([]Payment, error) {
	args := m.Called(ctx, bookingID)
	return args.Get(0).([]Payment), args.Error(1)
}

func (m *MockService) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]Payment, error) {
	args := m.Called(ctx, status, limit, offset)
	return args.Get(0).([]Payment), args.Error(1)
}

func (m *MockService) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type MockNotifier struct{ mock.Mock }

func (m *MockNotifier) SendPaymentReceipt(ctx context.Context, to, code string, amount decimal.Decimal, method string) error {
	return m.Called(ctx, to, code, amount, method).Error(0)
}

func (m *MockNotifier) SendRefundNotice(ctx context.Context, to, code string, amount decimal.Decimal, reason string) error {
	return m.Called(ctx, to, code, amount, reason).Error(0)
}

func setupRouter(svc Service, notifier Notifier, userID int64, role string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Set("user_email", "driver@example.com")
		c.Set("user_role", role)
		c.Next()
	})

	h := NewHandler(svc, notifier)
	r.POST("/payments", h.CreatePayment)
	r.GET("/payments/me", h.ListMyPayments)
	r.GET("/payments/code/:code", h.GetPaymentByCode)
	r.GET("/payments/booking/:bookingID", h.ListBookingPayments)
	r.GET("/payments/status/:status", h.ListPaymentsByStatus)
	r.GET("/payments/:id", h.GetPayment)
	r.POST("/payments/:id/complete", h.CompletePayment)
	r.POST("/payments/:id/cancel", h.CancelPayment)
	r.POST("/payments/:id/refund", h.RefundPayment)
	r.DELETE("/payments/:id", h.DeletePayment)
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreatePayment(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc, nil, 1, auth.RoleDriver)

	svc.On("Create", mock.Anything, mock.MatchedBy(func(in CreateInput) bool {
		return in.UserID == 1 && in.BookingID == 9 && in.Method == "wallet" && in.Amount.Equal(decimal.NewFromInt(1500))
	})).Return(&Payment{ID: 3, Code: "PAY1", UserID: 1, Status: StatusPending}, nil)

	w := do(r, http.MethodPost, "/payments", map[string]any{"booking_id": 9, "amount": "1500", "method": "wallet"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPost, "/payments", map[string]any{"amount": "1500", "method": "wallet"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePayment_InvalidMethod(t *testing.T) {
	svc := new(MockService)
	r := setupRouter(svc, nil, 1, auth.RoleDriver)

	_, parseErr := ParseMethod("crypto")
	svc.On("Create", mock.Anything, mock.Anything).Return(nil, parseErr)

	w := do(r, http.MethodPost, "/payments", map[string]any{"booking_id": 9, "amount": "1500", "method": "crypto"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unsupported payment method")
}

func TestGetPayment_Ownership(t *testing.T) {
	svc := new(MockService)
	svc.On("GetByID", mock.Anything, int64(3)).Return(&Payment{ID: 3, UserID: 2}, nil)
	svc.On("GetByID", mock.Anything, int64(4)).Return(nil, ErrPaymentNotFound)

	w := do(setupRouter(svc, nil, 1, auth.RoleDriver), http.MethodGet, "/payments/3", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(setupRouter(svc, nil, 1, auth.RoleCSStaff), http.MethodGet, "/payments/3", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(setupRouter(svc, nil, 2, auth.RoleDriver), http.MethodGet, "/payments/4", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(setupRouter(svc, nil, 2, auth.RoleDriver), http.MethodGet, "/payments/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListBookingPayments_FiltersForeign(t *testing.T) {
	svc := new(MockService)
	svc.On("ListByBooking", mock.Anything, int64(9)).Return([]Payment{{ID: 1, UserID: 1}, {ID: 2, UserID: 2}}, nil)

	w := do(setupRouter(svc, nil, 1, auth.RoleDriver), http.MethodGet, "/payments/booking/9", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
}

func TestListPaymentsByStatus_UnknownStatus(t *testing.T) {
	w := do(setupRouter(new(MockService), nil, 1, auth.RoleAdmin), http.MethodGet, "/payments/status/lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompletePayment(t *testing.T) {
	t.Run("completes and sends receipt", func(t *testing.T) {
		svc := new(MockService)
		notifier := new(MockNotifier)
		p := &Payment{ID: 3, Code: "PAY1", UserID: 1, Amount: decimal.NewFromInt(1500), Method: MethodWallet, Status: StatusCompleted}

		svc.On("Complete", mock.Anything, int64(3), "GW-1").Return(true, nil)
		svc.On("GetByID", mock.Anything, int64(3)).Return(p, nil)
		notifier.On("SendPaymentReceipt", mock.Anything, "driver@example.com", "PAY1", p.Amount, "wallet").Return(nil)

		w := do(setupRouter(svc, notifier, 9, auth.RoleAdmin), http.MethodPost, "/payments/3/complete",
			map[string]any{"transaction_id": "GW-1", "notify_email": "driver@example.com"})
		assert.Equal(t, http.StatusOK, w.Code)
		notifier.AssertExpectations(t)
	})

	t.Run("already completed", func(t *testing.T) {
		svc := new(MockService)
		svc.On("Complete", mock.Anything, int64(3), "").Return(false, nil)
		svc.On("GetByID", mock.Anything, int64(3)).Return(&Payment{ID: 3, Status: StatusCompleted}, nil)

		w := do(setupRouter(svc, nil, 9, auth.RoleAdmin), http.MethodPost, "/payments/3/complete", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "payment is not pending")
	})

	t.Run("rejects bad notify email", func(t *testing.T) {
		w := do(setupRouter(new(MockService), nil, 9, auth.RoleAdmin), http.MethodPost, "/payments/3/complete",
			map[string]any{"notify_email": "not-an-email"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCancelPayment(t *testing.T) {
	svc := new(MockService)
	svc.On("GetByID", mock.Anything, int64(3)).Return(&Payment{ID: 3, UserID: 1, Status: StatusCompleted}, nil)
	svc.On("Cancel", mock.Anything, int64(3)).Return(nil, ErrCannotCancel)

	w := do(setupRouter(svc, nil, 1, auth.RoleDriver), http.MethodPost, "/payments/3/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(setupRouter(svc, nil, 2, auth.RoleDriver), http.MethodPost, "/payments/3/cancel", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	svc.AssertNumberOfCalls(t, "Cancel", 1)
}

func TestRefundPayment(t *testing.T) {
	svc := new(MockService)
	notifier := new(MockNotifier)
	refund := &Payment{ID: 8, Code: "RF1", Amount: decimal.NewFromInt(-500), Status: StatusCompleted}

	svc.On("Refund", mock.Anything, int64(3), decimal.NewFromInt(500), "charger fault").Return(refund, nil)
	notifier.On("SendRefundNotice", mock.Anything, "driver@example.com", "RF1", mock.Anything, "charger fault").Return(nil)

	w := do(setupRouter(svc, notifier, 9, auth.RoleAdmin), http.MethodPost, "/payments/3/refund",
		map[string]any{"amount": "500", "reason": "charger fault", "notify_email": "driver@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	notifier.AssertExpectations(t)

	w = do(setupRouter(svc, notifier, 9, auth.RoleAdmin), http.MethodPost, "/payments/3/refund", map[string]any{"amount": "500"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletePayment(t *testing.T) {
	svc := new(MockService)
	svc.On("Delete", mock.Anything, int64(3)).Return(nil)
	svc.On("Delete", mock.Anything, int64(4)).Return(ErrPaymentNotFound)

	r := setupRouter(svc, nil, 9, auth.RoleAdmin)
	assert.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/payments/3", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/payments/4", nil).Code)
}
