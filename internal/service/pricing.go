package service

import (
	"storefront/config"
	"storefront/internal/models"
)

// PricedLine is anything with a unit-price snapshot and a quantity.
type PricedLine struct {
	UnitPrice int64
	Quantity  int
}

// Totals is the monetary breakdown of a cart or order, in cents.
type Totals struct {
	ItemCount    int   `json:"item_count"`
	Subtotal     int64 `json:"subtotal"`
	ShippingCost int64 `json:"shipping_cost"`
	Tax          int64 `json:"tax"`
	Total        int64 `json:"total"`
}

// Pricer computes totals. The same Pricer instance serves both the cart
// preview and the checkout transaction, so the displayed and charged amounts
// can never drift.
type Pricer struct {
	freeShippingThreshold int64
	flatShippingCost      int64
	taxRatePercent        int64
}

// NewPricer creates a Pricer from shop configuration.
func NewPricer(cfg config.ShopConfig) Pricer {
	return Pricer{
		freeShippingThreshold: cfg.FreeShippingThreshold,
		flatShippingCost:      cfg.FlatShippingCost,
		taxRatePercent:        cfg.TaxRatePercent,
	}
}

// ComputeTotals derives subtotal, shipping, tax and total from line
// snapshots. Deterministic and identical however often it is called:
// subtotal is the sum of line totals, shipping is waived at the free-shipping
// threshold, tax is the subtotal times the rate rounded half-up to the cent.
func (p Pricer) ComputeTotals(lines []PricedLine) Totals {
	var t Totals
	for _, line := range lines {
		t.ItemCount += line.Quantity
		t.Subtotal += line.UnitPrice * int64(line.Quantity)
	}

	if t.Subtotal > 0 && t.Subtotal < p.freeShippingThreshold {
		t.ShippingCost = p.flatShippingCost
	}

	t.Tax = (t.Subtotal*p.taxRatePercent + 50) / 100

	t.Total = t.Subtotal + t.ShippingCost + t.Tax
	return t
}

// LinesFromCartItems converts cart lines for pricing.
func LinesFromCartItems(items []models.CartItem) []PricedLine {
	lines := make([]PricedLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, PricedLine{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	return lines
}

// LinesFromOrderItems converts order lines for pricing.
func LinesFromOrderItems(items []models.OrderItem) []PricedLine {
	lines := make([]PricedLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, PricedLine{UnitPrice: item.UnitPrice, Quantity: item.Quantity})
	}
	return lines
}
