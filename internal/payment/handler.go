package payment

import (
	"context"
	"net/http"
	"strconv"

	"evcharge/internal/api"
	"evcharge/internal/apperr"
	"evcharge/internal/auth"
	"evcharge/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Notifier delivers payment emails. Delivery is best effort.
type Notifier interface {
	SendPaymentReceipt(ctx context.Context, to, code string, amount decimal.Decimal, method string) error
	SendRefundNotice(ctx context.Context, to, code string, amount decimal.Decimal, reason string) error
}

type Handler struct {
	svc      Service
	notifier Notifier
}

func NewHandler(svc Service, notifier Notifier) *Handler {
	return &Handler{svc: svc, notifier: notifier}
}

var errPaymentForbidden = apperr.New(apperr.ErrForbidden, "payment belongs to another user")

func paymentID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid payment ID"})
		return 0, false
	}
	return id, true
}

func page(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

// load fetches a payment and checks the caller may see it.
func (h *Handler) load(c *gin.Context, id int64) (*Payment, bool) {
	identity, ok := auth.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return nil, false
	}

	p, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		api.RespondError(c, err)
		return nil, false
	}
	if !identity.CanAccess(p.UserID) {
		api.RespondError(c, errPaymentForbidden)
		return nil, false
	}
	return p, true
}

// CreatePayment godoc
// @Summary      Create a payment for a booking
// @Description  A client supplied code makes the request idempotent.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      CreatePaymentRequest  true  "Payment"
// @Success      201      {object}  Payment
// @Failure      400      {object}  api.ErrorResponse
// @Failure      409      {object}  api.ErrorResponse
// @Router       /payments [post]
func (h *Handler) CreatePayment(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	p, err := h.svc.Create(c.Request.Context(), CreateInput{
		UserID:      userID,
		BookingID:   req.BookingID,
		Amount:      req.Amount,
		Method:      req.Method,
		Description: req.Description,
		Code:        req.Code,
	})
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

// GetPayment godoc
// @Summary      Get a payment
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Payment ID"
// @Success      200  {object}  Payment
// @Failure      403  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Router       /payments/{id} [get]
func (h *Handler) GetPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	if p, ok := h.load(c, id); ok {
		c.JSON(http.StatusOK, p)
	}
}

// GetPaymentByCode godoc
// @Summary      Get a payment by code
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        code  path      string  true  "Payment code"
// @Success      200   {object}  Payment
// @Failure      404   {object}  api.ErrorResponse
// @Router       /payments/code/{code} [get]
func (h *Handler) GetPaymentByCode(c *gin.Context) {
	identity, ok := auth.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	p, err := h.svc.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	if !identity.CanAccess(p.UserID) {
		api.RespondError(c, errPaymentForbidden)
		return
	}

	c.JSON(http.StatusOK, p)
}

// ListMyPayments godoc
// @Summary      List my payments
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        limit   query  int  false  "Page size"  default(50)
// @Param        offset  query  int  false  "Offset"     default(0)
// @Success      200     {array}  Payment
// @Router       /payments/me [get]
func (h *Handler) ListMyPayments(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	limit, offset := page(c)
	payments, err := h.svc.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, payments)
}

// ListBookingPayments godoc
// @Summary      List payments for a booking
// @Description  Drivers only see their own payments.
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        bookingID  path  int  true  "Booking ID"
// @Success      200        {array}  Payment
// @Router       /payments/booking/{bookingID} [get]
func (h *Handler) ListBookingPayments(c *gin.Context) {
	identity, ok := auth.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	bookingID, err := strconv.ParseInt(c.Param("bookingID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid booking ID"})
		return
	}

	payments, err := h.svc.ListByBooking(c.Request.Context(), bookingID)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	visible := payments[:0]
	for _, p := range payments {
		if identity.CanAccess(p.UserID) {
			visible = append(visible, p)
		}
	}

	c.JSON(http.StatusOK, visible)
}

// ListPaymentsByStatus godoc
// @Summary      List payments by status (staff)
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        status  path   string  true   "Status"
// @Param        limit   query  int     false  "Page size"  default(50)
// @Param        offset  query  int     false  "Offset"     default(0)
// @Success      200     {array}   Payment
// @Failure      400     {object}  api.ErrorResponse
// @Router       /payments/status/{status} [get]
func (h *Handler) ListPaymentsByStatus(c *gin.Context) {
	status, err := ParseStatus(c.Param("status"))
	if err != nil {
		api.RespondError(c, err)
		return
	}

	limit, offset := page(c)
	payments, err := h.svc.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, payments)
}

// CompletePayment godoc
// @Summary      Mark a pending payment completed (staff)
// @Description  Wallet payments are deducted in the same transaction.
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                     true   "Payment ID"
// @Param        request  body      CompletePaymentRequest  false  "Gateway reference"
// @Success      200      {object}  Payment
// @Failure      400      {object}  api.ErrorResponse
// @Router       /payments/{id}/complete [post]
func (h *Handler) CompletePayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	var req CompletePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			api.RespondBindError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	completed, err := h.svc.Complete(ctx, id, req.TransactionID)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	p, err := h.svc.GetByID(ctx, id)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	if !completed {
		api.RespondError(c, ErrNotCompletable)
		return
	}

	if req.NotifyEmail != "" && h.notifier != nil {
		if err := h.notifier.SendPaymentReceipt(ctx, req.NotifyEmail, p.Code, p.Amount, string(p.Method)); err != nil {
			logger.WithError(err).Warn("failed to queue payment receipt", "code", p.Code)
		}
	}

	c.JSON(http.StatusOK, p)
}

// FailPayment godoc
// @Summary      Mark a payment failed (staff)
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Payment ID"
// @Success      200  {object}  Payment
// @Failure      400  {object}  api.ErrorResponse
// @Router       /payments/{id}/fail [post]
func (h *Handler) FailPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	p, err := h.svc.Fail(c.Request.Context(), id)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

// CancelPayment godoc
// @Summary      Cancel a pending payment
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Payment ID"
// @Success      200  {object}  Payment
// @Failure      400  {object}  api.ErrorResponse
// @Failure      403  {object}  api.ErrorResponse
// @Router       /payments/{id}/cancel [post]
func (h *Handler) CancelPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}
	if _, ok := h.load(c, id); !ok {
		return
	}

	p, err := h.svc.Cancel(c.Request.Context(), id)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

// RefundPayment godoc
// @Summary      Refund a completed payment (admin)
// @Tags         payments
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                   true  "Payment ID"
// @Param        request  body      RefundPaymentRequest  true  "Refund"
// @Success      200      {object}  Payment  "the refund line"
// @Failure      400      {object}  api.ErrorResponse
// @Router       /payments/{id}/refund [post]
func (h *Handler) RefundPayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	var req RefundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	refund, err := h.svc.Refund(ctx, id, req.Amount, req.Reason)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	if req.NotifyEmail != "" && h.notifier != nil {
		if err := h.notifier.SendRefundNotice(ctx, req.NotifyEmail, refund.Code, refund.Amount.Neg(), req.Reason); err != nil {
			logger.WithError(err).Warn("failed to queue refund notice", "code", refund.Code)
		}
	}

	c.JSON(http.StatusOK, refund)
}

// DeletePayment godoc
// @Summary      Soft delete a payment (admin)
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Payment ID"
// @Success      200  {object}  api.MessageResponse
// @Failure      404  {object}  api.ErrorResponse
// @Router       /payments/{id} [delete]
func (h *Handler) DeletePayment(c *gin.Context) {
	id, ok := paymentID(c)
	if !ok {
		return
	}

	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "payment deleted"})
}
