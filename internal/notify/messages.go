package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const signature = "\n\n- EV Charge"

func vnd(amount decimal.Decimal) string {
	return amount.StringFixed(0) + " VND"
}

func (s *Service) SendBookingConfirmation(ctx context.Context, to, code string, start time.Time) error {
	body := fmt.Sprintf("Your charging point is reserved.\n\nBooking: %s\nStart: %s\n\nShow the QR code for this booking when you arrive.",
		code, start.UTC().Format("Jan 2, 2006 at 15:04 UTC"))
	return s.Enqueue(ctx, to, "Booking received - "+code, body+signature)
}

func (s *Service) SendChargingReceipt(ctx context.Context, to, code string, energyKWh, cost decimal.Decimal) error {
	body := fmt.Sprintf("Your charging session has finished.\n\nBooking: %s\nEnergy: %s kWh\nCost: %s",
		code, energyKWh.StringFixed(3), vnd(cost))
	return s.Enqueue(ctx, to, "Charging receipt - "+code, body+signature)
}

func (s *Service) SendPaymentReceipt(ctx context.Context, to, code string, amount decimal.Decimal, method string) error {
	body := fmt.Sprintf("We received your payment.\n\nPayment: %s\nAmount: %s\nMethod: %s",
		code, vnd(amount), method)
	return s.Enqueue(ctx, to, "Payment receipt - "+code, body+signature)
}

func (s *Service) SendRefundNotice(ctx context.Context, to, code string, amount decimal.Decimal, reason string) error {
	body := fmt.Sprintf("A refund has been issued.\n\nPayment: %s\nAmount: %s\nReason: %s",
		code, vnd(amount), reason)
	return s.Enqueue(ctx, to, "Refund issued - "+code, body+signature)
}
