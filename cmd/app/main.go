package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evcharge/internal/booking"
	"evcharge/internal/catalog"
	"evcharge/internal/config"
	"evcharge/internal/db"
	"evcharge/internal/logger"
	"evcharge/internal/notify"
	"evcharge/internal/payment"
	"evcharge/internal/pricing"
	"evcharge/internal/qr"
	"evcharge/internal/scheduler"
	"evcharge/internal/server"
	"evcharge/internal/settlement"
	"evcharge/internal/wallet"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// @title EV Charge API
// @version 1.0
// @description Charging point bookings, payments and prepaid wallets.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	logger.Init()
	logger.Info("Starting EV Charge application")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Connecting to database...")
	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, cfg.MigrationsPath); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Migrations completed")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	txm := db.NewTxManager(database,
		db.WithTimeout(cfg.DBOpTimeout),
		db.WithMaxRetries(cfg.TxMaxRetries),
	)

	catalogClient := newCatalog(cfg, rdb)

	calc, err := pricing.NewAveragePower(pricing.Options{
		AveragePowerKW:     decimal.NewFromFloat(cfg.AveragePowerKW),
		BaseFee:            decimal.NewFromFloat(cfg.BaseFee),
		DefaultPricePerKwh: decimal.NewFromFloat(cfg.DefaultPricePerKwh),
		DiscountPercent:    decimal.NewFromFloat(cfg.DiscountPercent),
	})
	if err != nil {
		logger.Fatalf("Invalid pricing configuration: %v", err)
	}

	sender, err := notify.NewSMTPSender(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
	})
	if err != nil {
		logger.Fatalf("Failed to configure SMTP: %v", err)
	}
	notifications := notify.New(rdb, sender)
	defer notifications.Close()

	walletSvc := wallet.NewService(wallet.NewRepository(database), txm)
	paymentSvc := payment.NewService(payment.NewRepository(database), walletSvc, txm)
	bookingSvc := booking.NewService(booking.NewRepository(database), txm, catalogClient, calc, qr.NewGenerator(os.TempDir()))
	settlementSvc := settlement.NewService(bookingSvc, paymentSvc)

	jobs, err := scheduler.New(bookingSvc, notifications, scheduler.Options{
		PendingTTL:     cfg.PendingBookingTTL,
		ExpiryInterval: cfg.BookingExpiryInterval,
	})
	if err != nil {
		logger.Fatalf("Failed to create scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go notifications.Start(ctx)
	jobs.Start()

	srv := server.New(cfg, server.Handlers{
		Bookings:   booking.NewHandler(bookingSvc, notifications),
		Payments:   payment.NewHandler(paymentSvc, notifications),
		Wallets:    wallet.NewHandler(walletSvc),
		Settlement: settlement.NewHandler(settlementSvc, notifications),
	}, server.Deps{DB: database, Notifications: notifications})

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case err := <-serverErrChan:
		logger.Errorf("Server error: %v", err)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}
	if err := jobs.Shutdown(); err != nil {
		logger.Errorf("Error stopping scheduler: %v", err)
	}
	cancel()

	logger.Info("Server stopped")
}

// newCatalog uses the remote catalog behind a redis cache when CATALOG_URL
// is set and the static file otherwise.
func newCatalog(cfg *config.Config, rdb *redis.Client) catalog.Client {
	if cfg.CatalogURL != "" {
		remote := catalog.NewHTTPClient(cfg.CatalogURL, cfg.CatalogTimeout, cfg.CatalogBreakerThreshold)
		logger.Info("Using remote charging point catalog", "url", cfg.CatalogURL)
		return catalog.NewCachedClient(remote, rdb, cfg.CatalogCacheTTL)
	}

	static, err := catalog.LoadStaticFile(cfg.CatalogFile)
	if err != nil {
		logger.WithError(err).Warn("No charging point catalog loaded, every lookup will miss", "file", cfg.CatalogFile)
		return catalog.NewStaticClient()
	}
	logger.Info("Using static charging point catalog", "file", cfg.CatalogFile)
	return static
}
