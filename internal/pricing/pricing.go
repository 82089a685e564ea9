package pricing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Session is the billable part of a completed charge.
type Session struct {
	Start       time.Time
	End         time.Time
	PricePerKwh decimal.Decimal
	MaxPowerKW  decimal.Decimal
}

type Quote struct {
	EnergyKWh decimal.Decimal
	Cost      decimal.Decimal
}

// Calculator prices a charging session.
type Calculator interface {
	Calculate(s Session) (Quote, error)
}

type Options struct {
	AveragePowerKW     decimal.Decimal
	BaseFee            decimal.Decimal
	DefaultPricePerKwh decimal.Decimal
	DiscountPercent    decimal.Decimal
}

type averagePower struct {
	opts Options
}

var hundred = decimal.NewFromInt(100)

// NewAveragePower estimates delivered energy from session duration and a
// nominal charging power, capped by the point's rated maximum.
func NewAveragePower(opts Options) (Calculator, error) {
	if !opts.AveragePowerKW.IsPositive() {
		return nil, fmt.Errorf("average power must be positive, got %s", opts.AveragePowerKW)
	}
	if opts.BaseFee.IsNegative() || opts.DefaultPricePerKwh.IsNegative() {
		return nil, fmt.Errorf("prices must not be negative")
	}
	if opts.DiscountPercent.IsNegative() || opts.DiscountPercent.GreaterThan(hundred) {
		return nil, fmt.Errorf("discount must be within 0..100, got %s", opts.DiscountPercent)
	}
	return &averagePower{opts: opts}, nil
}

func (c *averagePower) Calculate(s Session) (Quote, error) {
	if s.End.Before(s.Start) {
		return Quote{}, fmt.Errorf("session ends before it starts")
	}

	hours := decimal.NewFromFloat(s.End.Sub(s.Start).Hours())

	power := c.opts.AveragePowerKW
	if s.MaxPowerKW.IsPositive() && s.MaxPowerKW.LessThan(power) {
		power = s.MaxPowerKW
	}
	energy := hours.Mul(power).Round(3)

	price := s.PricePerKwh
	if !price.IsPositive() {
		price = c.opts.DefaultPricePerKwh
	}

	cost := c.opts.BaseFee.Add(energy.Mul(price))
	if c.opts.DiscountPercent.IsPositive() {
		cost = cost.Mul(hundred.Sub(c.opts.DiscountPercent)).Div(hundred)
	}

	return Quote{EnergyKWh: energy, Cost: cost.Round(0)}, nil
}
