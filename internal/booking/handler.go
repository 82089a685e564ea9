package booking

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"evcharge/internal/api"
	"evcharge/internal/apperr"
	"evcharge/internal/auth"
	"evcharge/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Notifier delivers booking emails. Delivery is best effort.
type Notifier interface {
	SendBookingConfirmation(ctx context.Context, to, code string, start time.Time) error
	SendChargingReceipt(ctx context.Context, to, code string, energyKWh, cost decimal.Decimal) error
}

type Handler struct {
	svc      Service
	notifier Notifier
}

func NewHandler(svc Service, notifier Notifier) *Handler {
	return &Handler{svc: svc, notifier: notifier}
}

var errBookingForbidden = apperr.New(apperr.ErrForbidden, "booking belongs to another user")

func parseID(c *gin.Context, param, what string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(param), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid " + what})
		return 0, false
	}
	return id, true
}

func page(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
	}
	return id, ok
}

// authorize loads the booking in the :id param and checks ownership.
func (h *Handler) authorize(c *gin.Context) (*Booking, auth.Identity, bool) {
	caller, ok := identity(c)
	if !ok {
		return nil, caller, false
	}
	id, ok := parseID(c, "id", "booking ID")
	if !ok {
		return nil, caller, false
	}

	b, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		api.RespondError(c, err)
		return nil, caller, false
	}
	if !caller.CanAccess(b.UserID) {
		api.RespondError(c, errBookingForbidden)
		return nil, caller, false
	}
	return b, caller, true
}

// CreateBooking godoc
// @Summary      Reserve a charging point
// @Description  Fails with 409 when the caller already has an active booking or the point is occupied. A client supplied code makes the request idempotent.
// @Tags         bookings
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      CreateBookingRequest  true  "Booking"
// @Success      201      {object}  Booking
// @Failure      400      {object}  api.ErrorResponse
// @Failure      404      {object}  api.ErrorResponse
// @Failure      409      {object}  api.ErrorResponse
// @Router       /bookings [post]
func (h *Handler) CreateBooking(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	ctx := c.Request.Context()
	b, err := h.svc.Create(ctx, CreateInput{
		UserID:          caller.UserID,
		ChargingPointID: req.ChargingPointID,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		Notes:           req.Notes,
		Code:            req.Code,
	})
	if err != nil {
		api.RespondError(c, err)
		return
	}

	if caller.Email != "" && h.notifier != nil {
		if err := h.notifier.SendBookingConfirmation(ctx, caller.Email, b.Code, b.StartTime); err != nil {
			logger.WithError(err).Warn("failed to queue booking confirmation", "code", b.Code)
		}
	}

	c.JSON(http.StatusCreated, b)
}

// GetBooking godoc
// @Summary      Get a booking
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Booking ID"
// @Success      200  {object}  Booking
// @Failure      403  {object}  api.ErrorResponse
// @Failure      404  {object}  api.ErrorResponse
// @Router       /bookings/{id} [get]
func (h *Handler) GetBooking(c *gin.Context) {
	if b, _, ok := h.authorize(c); ok {
		c.JSON(http.StatusOK, b)
	}
}

// GetBookingByCode godoc
// @Summary      Get a booking by code
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        code  path      string  true  "Booking code"
// @Success      200   {object}  Booking
// @Failure      404   {object}  api.ErrorResponse
// @Router       /bookings/code/{code} [get]
func (h *Handler) GetBookingByCode(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	b, err := h.svc.GetByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		api.RespondError(c, err)
		return
	}
	if !caller.CanAccess(b.UserID) {
		api.RespondError(c, errBookingForbidden)
		return
	}

	c.JSON(http.StatusOK, b)
}

// ListMyBookings godoc
// @Summary      List my bookings
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        limit   query  int  false  "Page size"  default(50)
// @Param        offset  query  int  false  "Offset"     default(0)
// @Success      200     {array}  Booking
// @Router       /bookings/me [get]
func (h *Handler) ListMyBookings(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	limit, offset := page(c)
	bookings, err := h.svc.ListByUser(c.Request.Context(), caller.UserID, limit, offset)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, bookings)
}

// GetMyActiveBooking godoc
// @Summary      Get my active booking
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  Booking
// @Failure      404  {object}  api.ErrorResponse
// @Router       /bookings/active [get]
func (h *Handler) GetMyActiveBooking(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}

	b, err := h.svc.GetActiveByUser(c.Request.Context(), caller.UserID)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, b)
}

// GetUserActiveBooking godoc
// @Summary      Get a user's active booking (staff)
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        userID  path      int  true  "User ID"
// @Success      200     {object}  Booking
// @Failure      404     {object}  api.ErrorResponse
// @Router       /admin/users/{userID}/active-booking [get]
func (h *Handler) GetUserActiveBooking(c *gin.Context) {
	userID, ok := parseID(c, "userID", "user ID")
	if !ok {
		return
	}

	b, err := h.svc.GetActiveByUser(c.Request.Context(), userID)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, b)
}

// GetPointActiveBooking godoc
// @Summary      Get the active booking on a charging point
// @Description  Drivers only see the booking when it is their own.
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        pointID  path      int  true  "Charging point ID"
// @Success      200      {object}  Booking
// @Failure      403      {object}  api.ErrorResponse
// @Failure      404      {object}  api.ErrorResponse
// @Router       /charging-points/{pointID}/active-booking [get]
func (h *Handler) GetPointActiveBooking(c *gin.Context) {
	caller, ok := identity(c)
	if !ok {
		return
	}
	pointID, ok := parseID(c, "pointID", "charging point ID")
	if !ok {
		return
	}

	b, err := h.svc.GetActiveByChargingPoint(c.Request.Context(), pointID)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	if !caller.CanAccess(b.UserID) {
		api.RespondError(c, errBookingForbidden)
		return
	}

	c.JSON(http.StatusOK, b)
}

// ListPointBookings godoc
// @Summary      List bookings for a charging point (staff)
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        pointID  path   int  true   "Charging point ID"
// @Param        limit    query  int  false  "Page size"  default(50)
// @Param        offset   query  int  false  "Offset"     default(0)
// @Success      200      {array}  Booking
// @Router       /charging-points/{pointID}/bookings [get]
func (h *Handler) ListPointBookings(c *gin.Context) {
	pointID, ok := parseID(c, "pointID", "charging point ID")
	if !ok {
		return
	}

	limit, offset := page(c)
	bookings, err := h.svc.ListByChargingPoint(c.Request.Context(), pointID, limit, offset)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, bookings)
}

// ListBookingsByStatus godoc
// @Summary      List bookings by status (staff)
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        status  path   string  true   "Status"
// @Param        limit   query  int     false  "Page size"  default(50)
// @Param        offset  query  int     false  "Offset"     default(0)
// @Success      200     {array}   Booking
// @Failure      400     {object}  api.ErrorResponse
// @Router       /bookings/status/{status} [get]
func (h *Handler) ListBookingsByStatus(c *gin.Context) {
	status, err := ParseStatus(c.Param("status"))
	if err != nil {
		api.RespondError(c, err)
		return
	}

	limit, offset := page(c)
	bookings, err := h.svc.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, bookings)
}

// UpdateBooking godoc
// @Summary      Update a booking (staff)
// @Description  Only supplied fields change. Status may only move to confirmed or cancelled.
// @Tags         bookings
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                   true  "Booking ID"
// @Param        request  body      UpdateBookingRequest  true  "Fields to change"
// @Success      200      {object}  Booking
// @Failure      400      {object}  api.ErrorResponse
// @Router       /bookings/{id} [put]
func (h *Handler) UpdateBooking(c *gin.Context) {
	id, ok := parseID(c, "id", "booking ID")
	if !ok {
		return
	}

	var req UpdateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}

	in := UpdateInput{StartTime: req.StartTime, EndTime: req.EndTime, Notes: req.Notes}
	if req.Status != nil {
		status, err := ParseStatus(*req.Status)
		if err != nil {
			api.RespondError(c, err)
			return
		}
		in.Status = &status
	}

	b, err := h.svc.Update(c.Request.Context(), id, in)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, b)
}

type transitionFunc func(ctx context.Context, id int64) (*Booking, error)

func (h *Handler) transition(c *gin.Context, fn transitionFunc) (*Booking, auth.Identity, bool) {
	b, caller, ok := h.authorize(c)
	if !ok {
		return nil, caller, false
	}

	updated, err := fn(c.Request.Context(), b.ID)
	if err != nil {
		api.RespondError(c, err)
		return nil, caller, false
	}
	return updated, caller, true
}

// ConfirmBooking godoc
// @Summary      Confirm a pending booking
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Booking ID"
// @Success      200  {object}  Booking
// @Failure      400  {object}  api.ErrorResponse
// @Router       /bookings/{id}/confirm [post]
func (h *Handler) ConfirmBooking(c *gin.Context) {
	if b, _, ok := h.transition(c, h.svc.Confirm); ok {
		c.JSON(http.StatusOK, b)
	}
}

// CancelBooking godoc
// @Summary      Cancel a booking
// @Description  Bookings in progress must be stopped instead.
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Booking ID"
// @Success      200  {object}  Booking
// @Failure      400  {object}  api.ErrorResponse
// @Failure      403  {object}  api.ErrorResponse
// @Router       /bookings/{id}/cancel [post]
func (h *Handler) CancelBooking(c *gin.Context) {
	if b, _, ok := h.transition(c, h.svc.Cancel); ok {
		c.JSON(http.StatusOK, b)
	}
}

// StartCharging godoc
// @Summary      Start charging
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Booking ID"
// @Success      200  {object}  Booking
// @Failure      400  {object}  api.ErrorResponse
// @Router       /bookings/{id}/start [post]
func (h *Handler) StartCharging(c *gin.Context) {
	if b, _, ok := h.transition(c, h.svc.StartCharging); ok {
		c.JSON(http.StatusOK, b)
	}
}

// StopCharging godoc
// @Summary      Stop charging
// @Description  Completes the booking and records energy consumed and total cost.
// @Tags         bookings
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Booking ID"
// @Success      200  {object}  Booking
// @Failure      400  {object}  api.ErrorResponse
// @Router       /bookings/{id}/stop [post]
func (h *Handler) StopCharging(c *gin.Context) {
	b, caller, ok := h.transition(c, h.svc.StopCharging)
	if !ok {
		return
	}

	if caller.UserID == b.UserID && caller.Email != "" && h.notifier != nil {
		if err := h.notifier.SendChargingReceipt(c.Request.Context(), caller.Email, b.Code, b.EnergyConsumed.Decimal, b.TotalCost.Decimal); err != nil {
			logger.WithError(err).Warn("failed to queue charging receipt", "code", b.Code)
		}
	}

	c.JSON(http.StatusOK, b)
}

// GetBookingQR godoc
// @Summary      Booking QR code
// @Tags         bookings
// @Security     BearerAuth
// @Produce      jpeg
// @Param        id   path  int  true  "Booking ID"
// @Success      200  {file}  binary
// @Failure      404  {object}  api.ErrorResponse
// @Router       /bookings/{id}/qr [get]
func (h *Handler) GetBookingQR(c *gin.Context) {
	b, _, ok := h.authorize(c)
	if !ok {
		return
	}

	img, err := h.svc.QRImage(b)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.Data(http.StatusOK, "image/jpeg", img)
}
