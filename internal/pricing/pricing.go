// Package pricing converts tax-exclusive prices into tax-inclusive totals.
// Values are never rounded here except by Round, which callers apply once
// when an order is built for persistence.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"dairyflow/backend/internal/domain"
)

var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

func CGST(priceExclTax, cgstPct decimal.Decimal) decimal.Decimal {
	return priceExclTax.Mul(cgstPct).Div(hundred)
}

func SGST(priceExclTax, sgstPct decimal.Decimal) decimal.Decimal {
	return priceExclTax.Mul(sgstPct).Div(hundred)
}

func TotalTax(priceExclTax, cgstPct, sgstPct decimal.Decimal) decimal.Decimal {
	return CGST(priceExclTax, cgstPct).Add(SGST(priceExclTax, sgstPct))
}

func PriceInclTax(priceExclTax, cgstPct, sgstPct decimal.Decimal) decimal.Decimal {
	return priceExclTax.Add(TotalTax(priceExclTax, cgstPct, sgstPct))
}

// LineTotal is the tax-inclusive unit price times quantity.
func LineTotal(item domain.OrderItem) decimal.Decimal {
	return PriceInclTax(item.UnitPrice, item.CGSTPercent, item.SGSTPercent).Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// Round rounds to two places, half away from zero.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(2)
}

// Fees are flat per-order charges in rupees, at most two decimal places.
type Fees struct {
	PlatformFee decimal.Decimal
	DeliveryFee decimal.Decimal
}

func (f Fees) Total() decimal.Decimal {
	return f.PlatformFee.Add(f.DeliveryFee)
}

func (f Fees) Validate() error {
	if f.PlatformFee.IsNegative() {
		return fmt.Errorf("%w: platform fee %s", ErrInvalidAmount, f.PlatformFee)
	}
	if f.DeliveryFee.IsNegative() {
		return fmt.Errorf("%w: delivery fee %s", ErrInvalidAmount, f.DeliveryFee)
	}
	// Fees are stored as given next to the rounded total, so they must
	// already be whole paise.
	if !f.PlatformFee.Equal(Round(f.PlatformFee)) {
		return fmt.Errorf("%w: platform fee %s has more than two decimal places", ErrInvalidAmount, f.PlatformFee)
	}
	if !f.DeliveryFee.Equal(Round(f.DeliveryFee)) {
		return fmt.Errorf("%w: delivery fee %s has more than two decimal places", ErrInvalidAmount, f.DeliveryFee)
	}
	return nil
}

type Quote struct {
	Subtotal    decimal.Decimal
	PlatformFee decimal.Decimal
	DeliveryFee decimal.Decimal
	Raw         decimal.Decimal
	Total       decimal.Decimal
}

type Calculator struct {
	fees Fees
}

func NewCalculator(fees Fees) (*Calculator, error) {
	if err := fees.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{fees: fees}, nil
}

func (c *Calculator) Fees() Fees {
	return c.fees
}

// OrderTotal returns the unrounded sum of line totals plus both fees.
func (c *Calculator) OrderTotal(items []domain.OrderItem) (decimal.Decimal, error) {
	subtotal, err := Subtotal(items)
	if err != nil {
		return decimal.Zero, err
	}
	return subtotal.Add(c.fees.Total()), nil
}

func (c *Calculator) Quote(items []domain.OrderItem) (Quote, error) {
	raw, err := c.OrderTotal(items)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Subtotal:    raw.Sub(c.fees.Total()),
		PlatformFee: c.fees.PlatformFee,
		DeliveryFee: c.fees.DeliveryFee,
		Raw:         raw,
		Total:       Round(raw),
	}, nil
}

func Subtotal(items []domain.OrderItem) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, item := range items {
		if err := validateItem(item); err != nil {
			return decimal.Zero, err
		}
		sum = sum.Add(LineTotal(item))
	}
	return sum, nil
}

func validateItem(item domain.OrderItem) error {
	switch {
	case item.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d for %s", ErrInvalidAmount, item.Quantity, item.ProductID)
	case item.UnitPrice.IsNegative():
		return fmt.Errorf("%w: unit price %s for %s", ErrInvalidAmount, item.UnitPrice, item.ProductID)
	case item.CGSTPercent.IsNegative(), item.SGSTPercent.IsNegative():
		return fmt.Errorf("%w: tax percent for %s", ErrInvalidAmount, item.ProductID)
	}
	return nil
}
