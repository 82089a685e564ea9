package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evcharge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evcharge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	BookingTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evcharge_booking_transitions_total",
			Help: "Total number of booking status transitions, by resulting status",
		},
		[]string{"status"},
	)

	BookingConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evcharge_booking_conflicts_total",
			Help: "Total number of rejected bookings due to an active booking",
		},
		[]string{"reason"},
	)

	EnergyDeliveredKWh = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evcharge_energy_delivered_kwh_total",
			Help: "Total energy billed on completed charging sessions",
		},
	)

	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evcharge_payments_total",
			Help: "Total number of payment status changes",
		},
		[]string{"method", "status"},
	)

	WalletOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evcharge_wallet_operations_total",
			Help: "Total number of wallet ledger operations",
		},
		[]string{"type", "result"},
	)

	TxRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evcharge_db_tx_retries_total",
			Help: "Total number of retried database transactions",
		},
	)

	CatalogLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evcharge_catalog_lookups_total",
			Help: "Total number of charging point catalog lookups",
		},
		[]string{"source", "result"},
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evcharge_notifications_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"status"},
	)

	NotificationQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evcharge_notification_queue_length",
			Help: "Current length of the notification queue",
		},
	)

	ExpiredBookingsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evcharge_expired_bookings_total",
			Help: "Total number of pending bookings cancelled by the expiry job",
		},
	)
)

func RecordHTTPRequest(method, path, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
}

func RecordBookingTransition(status string) {
	BookingTransitionsTotal.WithLabelValues(status).Inc()
}

func RecordBookingConflict(reason string) {
	BookingConflictsTotal.WithLabelValues(reason).Inc()
}

func RecordEnergyDelivered(kwh float64) {
	EnergyDeliveredKWh.Add(kwh)
}

func RecordPayment(method, status string) {
	PaymentsTotal.WithLabelValues(method, status).Inc()
}

func RecordWalletOperation(opType, result string) {
	WalletOperationsTotal.WithLabelValues(opType, result).Inc()
}

func RecordTxRetry() {
	TxRetriesTotal.Inc()
}

func RecordCatalogLookup(source, result string) {
	CatalogLookupsTotal.WithLabelValues(source, result).Inc()
}

func RecordNotification(status string) {
	NotificationsSentTotal.WithLabelValues(status).Inc()
}

func RecordExpiredBookings(n int) {
	ExpiredBookingsTotal.Add(float64(n))
}
