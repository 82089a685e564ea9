package settlement

import (
	"net/http"
	"strconv"

	"evcharge/internal/api"
	"evcharge/internal/auth"
	"evcharge/internal/logger"
	"evcharge/internal/payment"

	"github.com/gin-gonic/gin"
)

type SettleRequest struct {
	Method string `json:"method" binding:"required" example:"wallet"`
}

type Handler struct {
	svc      Service
	notifier payment.Notifier
}

func NewHandler(svc Service, notifier payment.Notifier) *Handler {
	return &Handler{svc: svc, notifier: notifier}
}

// SettleBooking godoc
// @Summary      Pay for a completed charging session
// @Description  Creates the payment for the booking's total cost. Wallet payments are charged immediately. Repeating the call returns the same payment.
// @Tags         bookings
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int            true  "Booking ID"
// @Param        request  body      SettleRequest  true  "Payment method"
// @Success      200      {object}  payment.Payment
// @Failure      400      {object}  api.ErrorResponse
// @Failure      403      {object}  api.ErrorResponse
// @Failure      404      {object}  api.ErrorResponse
// @Router       /bookings/{id}/settle [post]
func (h *Handler) SettleBooking(c *gin.Context) {
	caller, ok := auth.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	bookingID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || bookingID <= 0 {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid booking ID"})
		return
	}

	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	p, err := h.svc.Settle(ctx, caller, bookingID, req.Method)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	if p.Status == payment.StatusCompleted && p.UserID == caller.UserID && caller.Email != "" && h.notifier != nil {
		if err := h.notifier.SendPaymentReceipt(ctx, caller.Email, p.Code, p.Amount, string(p.Method)); err != nil {
			logger.WithError(err).Warn("failed to queue payment receipt", "code", p.Code)
		}
	}

	c.JSON(http.StatusOK, p)
}
