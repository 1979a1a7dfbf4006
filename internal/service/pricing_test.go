package service

import (
	"testing"

	"storefront/config"
	"storefront/internal/models"

	"github.com/stretchr/testify/assert"
)

func testPricer() Pricer {
	return NewPricer(config.ShopConfig{
		FreeShippingThreshold: 5000,
		FlatShippingCost:      500,
		TaxRatePercent:        22,
	})
}

func TestComputeTotalsBelowFreeShipping(t *testing.T) {
	p := testPricer()

	// 2x 1000 below the threshold: flat shipping applies
	totals := p.ComputeTotals([]PricedLine{{UnitPrice: 1000, Quantity: 2}})

	assert.Equal(t, 2, totals.ItemCount)
	assert.Equal(t, int64(2000), totals.Subtotal)
	assert.Equal(t, int64(500), totals.ShippingCost)
	assert.Equal(t, int64(440), totals.Tax)
	assert.Equal(t, int64(2940), totals.Total)
}

func TestComputeTotalsFreeShipping(t *testing.T) {
	p := testPricer()

	totals := p.ComputeTotals([]PricedLine{{UnitPrice: 3000, Quantity: 2}})

	assert.Equal(t, int64(6000), totals.Subtotal)
	assert.Equal(t, int64(0), totals.ShippingCost)
	assert.Equal(t, int64(1320), totals.Tax)
	assert.Equal(t, int64(7320), totals.Total)
}

func TestComputeTotalsAtThreshold(t *testing.T) {
	p := testPricer()

	// exactly at the threshold shipping is free
	totals := p.ComputeTotals([]PricedLine{{UnitPrice: 5000, Quantity: 1}})

	assert.Equal(t, int64(0), totals.ShippingCost)
}

func TestComputeTotalsEmpty(t *testing.T) {
	p := testPricer()

	totals := p.ComputeTotals(nil)

	assert.Equal(t, Totals{}, totals)
}

func TestComputeTotalsTaxRoundsHalfUp(t *testing.T) {
	p := testPricer()

	// 1023 * 22% = 225.06 cents -> 225
	totals := p.ComputeTotals([]PricedLine{{UnitPrice: 1023, Quantity: 1}})
	assert.Equal(t, int64(225), totals.Tax)

	// 1025 * 22% = 225.50 cents -> 226
	totals = p.ComputeTotals([]PricedLine{{UnitPrice: 1025, Quantity: 1}})
	assert.Equal(t, int64(226), totals.Tax)
}

func TestComputeTotalsDeterministic(t *testing.T) {
	p := testPricer()
	lines := []PricedLine{{UnitPrice: 1999, Quantity: 3}, {UnitPrice: 250, Quantity: 1}}

	first := p.ComputeTotals(lines)
	second := p.ComputeTotals(lines)

	assert.Equal(t, first, second)
}

func TestLinesFromCartItems(t *testing.T) {
	items := []models.CartItem{
		{UnitPrice: 1000, Quantity: 2},
		{UnitPrice: 500, Quantity: 1},
	}

	lines := LinesFromCartItems(items)

	assert.Len(t, lines, 2)
	assert.Equal(t, PricedLine{UnitPrice: 1000, Quantity: 2}, lines[0])
}
