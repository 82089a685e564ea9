package server

import (
	"context"
	"net/http"
	"time"

	"evcharge/internal/auth"
	"evcharge/internal/booking"
	"evcharge/internal/config"
	"evcharge/internal/payment"
	"evcharge/internal/settlement"
	"evcharge/internal/wallet"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Bookings   *booking.Handler
	Payments   *payment.Handler
	Wallets    *wallet.Handler
	Settlement *settlement.Handler
}

// Deps are the infrastructure probes the system endpoints need.
type Deps struct {
	DB            Pinger
	Notifications Enqueuer
}

type Server struct {
	router  *gin.Engine
	http    *http.Server
	limiter *RateLimiter
}

func New(cfg *config.Config, h Handlers, deps Deps) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(corsMiddleware())

	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 3*time.Minute)

	router.GET("/health", Health)
	router.GET("/ready", Ready(deps.DB))
	router.GET("/metrics", Metrics())
	SetupSwagger(router)

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)

	protected := router.Group("/")
	protected.Use(authMiddleware, limiter.Middleware())
	{
		protected.POST("/bookings", h.Bookings.CreateBooking)
		protected.GET("/bookings/me", h.Bookings.ListMyBookings)
		protected.GET("/bookings/active", h.Bookings.GetMyActiveBooking)
		protected.GET("/bookings/code/:code", h.Bookings.GetBookingByCode)
		protected.GET("/bookings/:id", h.Bookings.GetBooking)
		protected.GET("/bookings/:id/qr", h.Bookings.GetBookingQR)
		protected.POST("/bookings/:id/confirm", h.Bookings.ConfirmBooking)
		protected.POST("/bookings/:id/cancel", h.Bookings.CancelBooking)
		protected.POST("/bookings/:id/start", h.Bookings.StartCharging)
		protected.POST("/bookings/:id/stop", h.Bookings.StopCharging)
		protected.POST("/bookings/:id/settle", h.Settlement.SettleBooking)
		protected.GET("/charging-points/:pointID/active-booking", h.Bookings.GetPointActiveBooking)

		protected.POST("/payments", h.Payments.CreatePayment)
		protected.GET("/payments/me", h.Payments.ListMyPayments)
		protected.GET("/payments/code/:code", h.Payments.GetPaymentByCode)
		protected.GET("/payments/booking/:bookingID", h.Payments.ListBookingPayments)
		protected.GET("/payments/:id", h.Payments.GetPayment)
		protected.POST("/payments/:id/cancel", h.Payments.CancelPayment)

		protected.GET("/wallet", h.Wallets.GetWallet)
		protected.GET("/wallet/balance", h.Wallets.GetBalance)
		protected.POST("/wallet/deposit", h.Wallets.Deposit)
		protected.POST("/wallet/withdraw", h.Wallets.Withdraw)
		protected.POST("/wallet/transfer", h.Wallets.Transfer)
		protected.GET("/wallet/transactions", h.Wallets.ListTransactions)
	}

	staff := router.Group("/")
	staff.Use(authMiddleware, auth.RequireRole(auth.RoleAdmin, auth.RoleCSStaff), limiter.Middleware())
	{
		staff.GET("/bookings/status/:status", h.Bookings.ListBookingsByStatus)
		staff.PUT("/bookings/:id", h.Bookings.UpdateBooking)
		staff.GET("/charging-points/:pointID/bookings", h.Bookings.ListPointBookings)

		staff.GET("/payments/status/:status", h.Payments.ListPaymentsByStatus)
		staff.POST("/payments/:id/complete", h.Payments.CompletePayment)
		staff.POST("/payments/:id/fail", h.Payments.FailPayment)
	}

	admin := router.Group("/")
	admin.Use(authMiddleware, auth.RequireRole(auth.RoleAdmin), limiter.Middleware())
	{
		admin.POST("/payments/:id/refund", h.Payments.RefundPayment)
		admin.DELETE("/payments/:id", h.Payments.DeletePayment)

		admin.GET("/admin/users/:userID/active-booking", h.Bookings.GetUserActiveBooking)
		admin.GET("/admin/users/:userID/wallet", h.Wallets.GetUserWallet)
		admin.POST("/admin/users/:userID/wallet/bonus", h.Wallets.Bonus)
		admin.POST("/admin/notifications/test", TestNotification(deps.Notifications))
	}

	return &Server{
		router:  router,
		limiter: limiter,
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Close()
	return s.http.Shutdown(ctx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
