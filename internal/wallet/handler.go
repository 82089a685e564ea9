package wallet

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"evcharge/internal/api"
	"evcharge/internal/apperr"
	"evcharge/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// GetWallet godoc
// @Summary      Get my wallet
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  Wallet
// @Failure      401  {object}  api.ErrorResponse
// @Router       /wallet [get]
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	w, err := h.svc.GetWallet(c.Request.Context(), userID)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

// GetBalance godoc
// @Summary      Get my balance
// @Description  Returns 0 when the wallet has not been created yet.
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  BalanceResponse
// @Router       /wallet/balance [get]
func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	balance, err := h.svc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// Deposit godoc
// @Summary      Deposit into my wallet
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      AmountRequest  true  "Amount"
// @Success      200      {object}  Wallet
// @Failure      400      {object}  api.ErrorResponse
// @Router       /wallet/deposit [post]
func (h *Handler) Deposit(c *gin.Context) {
	h.post(c, h.svc.Deposit, "top up")
}

// Withdraw godoc
// @Summary      Withdraw from my wallet
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      AmountRequest  true  "Amount"
// @Success      200      {object}  Wallet
// @Failure      400      {object}  api.ErrorResponse
// @Router       /wallet/withdraw [post]
func (h *Handler) Withdraw(c *gin.Context) {
	h.post(c, h.svc.Withdraw, "withdrawal")
}

type postFunc func(ctx context.Context, userID int64, amount decimal.Decimal, description string) (*Wallet, error)

func (h *Handler) post(c *gin.Context, fn postFunc, defaultDescription string) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	if req.Description == "" {
		req.Description = defaultDescription
	}

	w, err := fn(c.Request.Context(), userID, req.Amount, req.Description)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

// Transfer godoc
// @Summary      Transfer to another user's wallet
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      TransferRequest  true  "Transfer"
// @Success      200      {object}  api.MessageResponse
// @Failure      400      {object}  api.ErrorResponse
// @Router       /wallet/transfer [post]
func (h *Handler) Transfer(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	if req.Description == "" {
		req.Description = "transfer"
	}

	if err := h.svc.Transfer(c.Request.Context(), userID, req.ToUserID, req.Amount, req.Description); err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.MessageResponse{Message: "transfer completed"})
}

// ListTransactions godoc
// @Summary      List my wallet transactions
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Param        limit   query     int     false  "Page size"  default(50)
// @Param        offset  query     int     false  "Offset"     default(0)
// @Param        from    query     string  false  "RFC3339 or YYYY-MM-DD"
// @Param        to      query     string  false  "RFC3339 or YYYY-MM-DD"
// @Success      200     {array}   Transaction
// @Failure      400     {object}  api.ErrorResponse
// @Router       /wallet/transactions [get]
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, ok := auth.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	filter, err := parseFilter(c)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	txs, err := h.svc.ListTransactions(c.Request.Context(), userID, filter)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, txs)
}

// GetUserWallet godoc
// @Summary      Get a user's wallet (staff)
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        userID  path      int  true  "User ID"
// @Success      200     {object}  Wallet
// @Failure      404     {object}  api.ErrorResponse
// @Router       /admin/users/{userID}/wallet [get]
func (h *Handler) GetUserWallet(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid user ID"})
		return
	}

	w, err := h.svc.GetWallet(c.Request.Context(), userID)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

// Bonus godoc
// @Summary      Credit a bonus to a user's wallet (admin)
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        userID   path      int            true  "User ID"
// @Param        request  body      AmountRequest  true  "Amount"
// @Success      200      {object}  Wallet
// @Failure      400      {object}  api.ErrorResponse
// @Router       /admin/users/{userID}/wallet/bonus [post]
func (h *Handler) Bonus(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("userID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid user ID"})
		return
	}

	var req AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondBindError(c, err)
		return
	}
	if req.Description == "" {
		req.Description = "bonus"
	}

	w, err := h.svc.Bonus(c.Request.Context(), userID, req.Amount, req.Description)
	if err != nil {
		api.RespondError(c, err)
		return
	}

	c.JSON(http.StatusOK, w)
}

func parseFilter(c *gin.Context) (TransactionFilter, error) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	filter := TransactionFilter{Limit: limit, Offset: offset}

	var err error
	if filter.From, err = parseTime(c.Query("from"), false); err != nil {
		return filter, err
	}
	if filter.To, err = parseTime(c.Query("to"), true); err != nil {
		return filter, err
	}
	return filter, nil
}

// parseTime accepts RFC3339 or a bare date. A bare upper bound covers the
// whole day.
func parseTime(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, apperr.New(apperr.ErrInvalidInput, "invalid date: "+s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
