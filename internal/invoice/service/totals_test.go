package service

import (
	"testing"
	"time"

	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLineDefaults(t *testing.T) {
	line, err := buildLine(invoicedomain.LineInput{
		Description:    "Plan charge",
		UnitPriceCents: 5000,
	})
	require.NoError(t, err)

	assert.Equal(t, invoicedomain.LineTypeItem, line.Type)
	assert.Equal(t, float64(1), line.Quantity)
	assert.Equal(t, int64(5000), line.AmountCents)
}

func TestBuildLineQuantityTimesUnitPrice(t *testing.T) {
	line, err := buildLine(invoicedomain.LineInput{
		Quantity:       2,
		UnitPriceCents: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), line.AmountCents)

	// fractional quantities round half-up
	line, err = buildLine(invoicedomain.LineInput{
		Quantity:       2.5,
		UnitPriceCents: 333,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(833), line.AmountCents)
}

func TestBuildLinePercentageDiscount(t *testing.T) {
	dt := invoicedomain.DiscountPercentage
	dv := 10.0
	line, err := buildLine(invoicedomain.LineInput{
		Quantity:       1,
		UnitPriceCents: 10000,
		DiscountType:   &dt,
		DiscountValue:  &dv,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1000), line.DiscountCents)
	assert.Equal(t, int64(9000), line.AmountCents)
}

func TestBuildLineFixedDiscount(t *testing.T) {
	dt := invoicedomain.DiscountFixed
	dv := 250.0
	line, err := buildLine(invoicedomain.LineInput{
		Quantity:       1,
		UnitPriceCents: 10000,
		DiscountType:   &dt,
		DiscountValue:  &dv,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(250), line.DiscountCents)
	assert.Equal(t, int64(9750), line.AmountCents)
}

func TestBuildLineRejectsUnknownType(t *testing.T) {
	_, err := buildLine(invoicedomain.LineInput{Type: "subscription", UnitPriceCents: 100})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidLine)

	bad := invoicedomain.DiscountType("bogus")
	dv := 1.0
	_, err = buildLine(invoicedomain.LineInput{UnitPriceCents: 100, DiscountType: &bad, DiscountValue: &dv})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidLine)
}

func TestCalculateTotals(t *testing.T) {
	lines := []invoicedomain.Line{
		{Type: invoicedomain.LineTypeItem, AmountCents: 10000, TaxRatePercent: 10},
		{Type: invoicedomain.LineTypeItem, AmountCents: 5000, DiscountCents: 500},
		{Type: invoicedomain.LineTypeTax, AmountCents: 250},
	}

	var inv invoicedomain.Invoice
	calculateTotals(&inv, lines)

	assert.Equal(t, int64(15000), inv.SubtotalCents)
	assert.Equal(t, int64(500), inv.DiscountTotalCents)
	// 10% of the first line plus the explicit tax line
	assert.Equal(t, int64(1250), inv.TaxTotalCents)
	assert.Equal(t, int64(16250), inv.TotalCents)
	assert.Equal(t, int64(16250), inv.AmountDueCents)
}

func TestCalculateTotalsIgnoresCreditMemoLines(t *testing.T) {
	lines := []invoicedomain.Line{
		{Type: invoicedomain.LineTypeItem, AmountCents: 10000},
		{Type: invoicedomain.LineTypeCredit, AmountCents: -4000},
	}

	var inv invoicedomain.Invoice
	inv.AmountPaidCents = 6000
	calculateTotals(&inv, lines)

	// refund memo lines stay out of the financial summary
	assert.Equal(t, int64(10000), inv.SubtotalCents)
	assert.Equal(t, int64(10000), inv.TotalCents)
	assert.Equal(t, int64(4000), inv.AmountDueCents)
}

func TestAmountDueNeverNegative(t *testing.T) {
	assert.Equal(t, int64(0), amountDue(1000, 1500))
	assert.Equal(t, int64(0), amountDue(1000, 1000))
	assert.Equal(t, int64(400), amountDue(1000, 600))
}

func TestDeriveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	inv := invoicedomain.Invoice{Status: invoicedomain.StatusDraft, TotalCents: 10000, AmountDueCents: 0}
	deriveStatus(&inv, now)
	assert.Equal(t, invoicedomain.StatusPaid, inv.Status)

	inv = invoicedomain.Invoice{Status: invoicedomain.StatusSent, TotalCents: 10000, AmountPaidCents: 6000, AmountDueCents: 4000}
	deriveStatus(&inv, now)
	assert.Equal(t, invoicedomain.StatusPartial, inv.Status)

	inv = invoicedomain.Invoice{
		Status:         invoicedomain.StatusSent,
		TotalCents:     10000,
		AmountDueCents: 10000,
		DueAt:          now.Add(-24 * time.Hour),
	}
	deriveStatus(&inv, now)
	assert.Equal(t, invoicedomain.StatusOverdue, inv.Status)

	// not yet due: sent stays sent
	inv = invoicedomain.Invoice{
		Status:         invoicedomain.StatusSent,
		TotalCents:     10000,
		AmountDueCents: 10000,
		DueAt:          now.Add(24 * time.Hour),
	}
	deriveStatus(&inv, now)
	assert.Equal(t, invoicedomain.StatusSent, inv.Status)
}

func TestDeriveStatusLeavesTerminalStates(t *testing.T) {
	now := time.Now().UTC()

	for _, status := range []invoicedomain.Status{
		invoicedomain.StatusVoid,
		invoicedomain.StatusRefunded,
		invoicedomain.StatusDisputed,
	} {
		inv := invoicedomain.Invoice{Status: status, AmountDueCents: 0}
		deriveStatus(&inv, now)
		assert.Equal(t, status, inv.Status)
	}
}
