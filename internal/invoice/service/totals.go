package service

import (
	"time"

	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/pkg/money"
)

// buildLine computes a line's discount and final amount in minor units,
// rounding at every arithmetic step.
func buildLine(input invoicedomain.LineInput) (invoicedomain.Line, error) {
	if input.Quantity == 0 {
		input.Quantity = 1
	}
	if input.Type == "" {
		input.Type = invoicedomain.LineTypeItem
	}
	switch input.Type {
	case invoicedomain.LineTypeItem, invoicedomain.LineTypeTax, invoicedomain.LineTypeCredit:
	default:
		return invoicedomain.Line{}, invoicedomain.ErrInvalidLine
	}

	amount := money.Round(input.Quantity * float64(input.UnitPriceCents))

	var discount int64
	if input.DiscountType != nil && input.DiscountValue != nil {
		switch *input.DiscountType {
		case invoicedomain.DiscountPercentage:
			discount = money.Percent(amount, *input.DiscountValue)
		case invoicedomain.DiscountFixed:
			// Fixed discounts are expressed in minor units.
			discount = money.Round(*input.DiscountValue)
		default:
			return invoicedomain.Line{}, invoicedomain.ErrInvalidLine
		}
	}
	amount -= discount

	return invoicedomain.Line{
		Type:           input.Type,
		Description:    input.Description,
		Quantity:       input.Quantity,
		UnitPriceCents: input.UnitPriceCents,
		DiscountType:   input.DiscountType,
		DiscountValue:  input.DiscountValue,
		DiscountCents:  discount,
		TaxRatePercent: input.TaxRatePercent,
		AmountCents:    amount,
	}, nil
}

// calculateTotals folds the line items into the financial summary. Tax-type
// lines feed the tax total but not the subtotal; credit-type lines are memo
// entries for refunds and stay out of both.
func calculateTotals(inv *invoicedomain.Invoice, lines []invoicedomain.Line) {
	var subtotal, discountTotal, taxTotal int64

	for _, line := range lines {
		discountTotal += line.DiscountCents

		switch line.Type {
		case invoicedomain.LineTypeTax:
			taxTotal += line.AmountCents
		case invoicedomain.LineTypeCredit:
		default:
			subtotal += line.AmountCents
			if line.TaxRatePercent > 0 {
				taxTotal += money.Percent(line.AmountCents, line.TaxRatePercent)
			}
		}
	}

	inv.SubtotalCents = subtotal
	inv.DiscountTotalCents = discountTotal
	inv.TaxTotalCents = taxTotal
	inv.TotalCents = subtotal + taxTotal
	inv.AmountDueCents = amountDue(inv.TotalCents, inv.AmountPaidCents)
}

func amountDue(total, paid int64) int64 {
	due := total - paid
	if due < 0 {
		return 0
	}
	return due
}

// deriveStatus reapplies the status table after a mutation. Terminal states
// set by explicit operations are left alone.
func deriveStatus(inv *invoicedomain.Invoice, now time.Time) {
	if inv.Status.Terminal() {
		return
	}

	switch {
	case inv.AmountDueCents == 0:
		inv.Status = invoicedomain.StatusPaid
	case inv.AmountPaidCents > 0 && inv.AmountPaidCents < inv.TotalCents:
		inv.Status = invoicedomain.StatusPartial
	case inv.Status == invoicedomain.StatusSent && now.After(inv.DueAt):
		inv.Status = invoicedomain.StatusOverdue
	}
}
