// Package catalog resolves charging points and their pricing metadata from
// the station catalog. The catalog is owned by another service; this
// package only reads from it.
package catalog

import (
	"context"

	"evcharge/internal/apperr"

	"github.com/shopspring/decimal"
)

var ErrChargingPointNotFound = apperr.New(apperr.ErrNotFound, "charging point not found")

type ChargingPoint struct {
	ID           int64           `json:"id"`
	StationID    int64           `json:"station_id"`
	Name         string          `json:"name,omitempty"`
	PricePerKwh  decimal.Decimal `json:"price_per_kwh"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	MaxPower     decimal.Decimal `json:"max_power"`
}

type Client interface {
	GetChargingPoint(ctx context.Context, id int64) (*ChargingPoint, error)
}
