package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	notifdomain "github.com/smallbiznis/faktur/internal/notification/domain"
	"github.com/smallbiznis/faktur/pkg/money"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) RecordPayment(ctx context.Context, req invoicedomain.RecordPaymentRequest) (invoicedomain.Invoice, error) {
	inv, err := s.loadForOrg(ctx, req.InvoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	if inv.Status == invoicedomain.StatusVoid {
		return invoicedomain.Invoice{}, invoicedomain.ErrAlreadyVoid
	}
	if req.AmountCents <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}
	if req.AmountCents > inv.AmountDueCents {
		return invoicedomain.Invoice{}, invoicedomain.ErrExcessPayment
	}

	now := s.clock.Now().UTC()
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = uuid.NewString()
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn := invoicedomain.Transaction{
			ID:          s.genID.Generate(),
			OrgID:       inv.OrgID,
			InvoiceID:   inv.ID,
			Kind:        invoicedomain.TransactionPayment,
			AmountCents: req.AmountCents,
			Method:      strings.TrimSpace(req.Method),
			Reference:   reference,
			CreatedAt:   now,
		}
		if err := s.transactionRepo.WithTrx(tx).Create(ctx, &txn); err != nil {
			return err
		}

		inv.AmountPaidCents += req.AmountCents
		inv.AmountDueCents = amountDue(inv.TotalCents, inv.AmountPaidCents)
		deriveStatus(inv, now)

		return s.persist(ctx, tx, inv, now)
	}); err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.audit(ctx, inv.OrgID, "invoice.record_payment", inv.ID, map[string]any{
		"amount_cents": req.AmountCents,
		"reference":    reference,
		"status":       string(inv.Status),
	})

	return *inv, nil
}

// ApplyCredit applies at most the outstanding balance and reports how much of
// the credit is left over.
func (s *Service) ApplyCredit(ctx context.Context, req invoicedomain.ApplyCreditRequest) (invoicedomain.ApplyCreditResult, error) {
	inv, err := s.loadForOrg(ctx, req.InvoiceID)
	if err != nil {
		return invoicedomain.ApplyCreditResult{}, err
	}

	if inv.Status == invoicedomain.StatusVoid {
		return invoicedomain.ApplyCreditResult{}, invoicedomain.ErrAlreadyVoid
	}
	if req.AmountCents <= 0 {
		return invoicedomain.ApplyCreditResult{}, invoicedomain.ErrInvalidAmount
	}
	if inv.AmountDueCents == 0 {
		return invoicedomain.ApplyCreditResult{}, invoicedomain.ErrAlreadyPaid
	}

	applied := req.AmountCents
	if applied > inv.AmountDueCents {
		applied = inv.AmountDueCents
	}

	now := s.clock.Now().UTC()
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txn := invoicedomain.Transaction{
			ID:          s.genID.Generate(),
			OrgID:       inv.OrgID,
			InvoiceID:   inv.ID,
			Kind:        invoicedomain.TransactionCredit,
			AmountCents: applied,
			Reference:   strings.TrimSpace(req.CreditTransactionID),
			CreatedAt:   now,
		}
		if err := s.transactionRepo.WithTrx(tx).Create(ctx, &txn); err != nil {
			return err
		}

		inv.AmountPaidCents += applied
		inv.CreditAppliedCents += applied
		inv.AmountDueCents = amountDue(inv.TotalCents, inv.AmountPaidCents)
		deriveStatus(inv, now)

		return s.persist(ctx, tx, inv, now)
	}); err != nil {
		return invoicedomain.ApplyCreditResult{}, err
	}

	s.audit(ctx, inv.OrgID, "invoice.apply_credit", inv.ID, map[string]any{
		"applied_cents": applied,
	})

	return invoicedomain.ApplyCreditResult{
		AppliedCents:   applied,
		RemainingCents: req.AmountCents - applied,
	}, nil
}

func (s *Service) Void(ctx context.Context, req invoicedomain.VoidRequest) (invoicedomain.Invoice, error) {
	inv, err := s.loadForOrg(ctx, req.InvoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	if inv.Status == invoicedomain.StatusVoid {
		return invoicedomain.Invoice{}, invoicedomain.ErrAlreadyVoid
	}
	if inv.AmountPaidCents > 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrHasPayments
	}

	now := s.clock.Now().UTC()
	reason := strings.TrimSpace(req.Reason)
	inv.Status = invoicedomain.StatusVoid
	inv.VoidReason = &reason
	inv.VoidedAt = &now

	if err := s.persist(ctx, s.db, inv, now); err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.audit(ctx, inv.OrgID, "invoice.void", inv.ID, map[string]any{"reason": reason})
	return *inv, nil
}

// Refund returns part of what was paid. The refund is documented as a
// negative credit-type line; credit lines stay out of the totals so the
// original charge history is preserved.
func (s *Service) Refund(ctx context.Context, req invoicedomain.RefundRequest) (invoicedomain.Invoice, error) {
	inv, err := s.loadForOrg(ctx, req.InvoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	if inv.Status == invoicedomain.StatusVoid {
		return invoicedomain.Invoice{}, invoicedomain.ErrAlreadyVoid
	}
	if req.AmountCents <= 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidAmount
	}
	if req.AmountCents > inv.AmountPaidCents {
		return invoicedomain.Invoice{}, invoicedomain.ErrExcessRefund
	}

	now := s.clock.Now().UTC()
	reason := strings.TrimSpace(req.Reason)

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var position int64
		if err := tx.WithContext(ctx).
			Model(&invoicedomain.Line{}).
			Where("invoice_id = ?", inv.ID).
			Count(&position).Error; err != nil {
			return err
		}

		description := "Refund"
		if reason != "" {
			description = "Refund: " + reason
		}
		line := invoicedomain.Line{
			ID:             s.genID.Generate(),
			OrgID:          inv.OrgID,
			InvoiceID:      inv.ID,
			Position:       int(position) + 1,
			Type:           invoicedomain.LineTypeCredit,
			Description:    description,
			Quantity:       1,
			UnitPriceCents: -req.AmountCents,
			AmountCents:    -req.AmountCents,
			CreatedAt:      now,
		}
		if err := s.lineRepo.WithTrx(tx).Create(ctx, &line); err != nil {
			return err
		}

		txn := invoicedomain.Transaction{
			ID:          s.genID.Generate(),
			OrgID:       inv.OrgID,
			InvoiceID:   inv.ID,
			Kind:        invoicedomain.TransactionRefund,
			AmountCents: -req.AmountCents,
			Reference:   uuid.NewString(),
			CreatedAt:   now,
		}
		if err := s.transactionRepo.WithTrx(tx).Create(ctx, &txn); err != nil {
			return err
		}

		inv.AmountPaidCents -= req.AmountCents
		inv.AmountDueCents = amountDue(inv.TotalCents, inv.AmountPaidCents)
		if inv.AmountPaidCents == 0 {
			inv.Status = invoicedomain.StatusRefunded
		} else {
			inv.Status = invoicedomain.StatusPartial
		}

		return s.persist(ctx, tx, inv, now)
	}); err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.audit(ctx, inv.OrgID, "invoice.refund", inv.ID, map[string]any{
		"amount_cents": req.AmountCents,
		"reason":       reason,
	})

	return *inv, nil
}

// Dispute marks a contested charge. Payments already on the invoice stay
// recorded; the status freezes until the dispute resolves out of band.
func (s *Service) Dispute(ctx context.Context, req invoicedomain.DisputeRequest) (invoicedomain.Invoice, error) {
	inv, err := s.loadForOrg(ctx, req.InvoiceID)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	switch inv.Status {
	case invoicedomain.StatusVoid:
		return invoicedomain.Invoice{}, invoicedomain.ErrAlreadyVoid
	case invoicedomain.StatusDisputed:
		return invoicedomain.Invoice{}, invoicedomain.ErrAlreadyDisputed
	case invoicedomain.StatusDraft:
		// Nothing was delivered yet, there is nothing to contest.
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidStatus
	}

	now := s.clock.Now().UTC()
	reason := strings.TrimSpace(req.Reason)
	inv.Status = invoicedomain.StatusDisputed
	inv.DisputeReason = &reason
	inv.DisputedAt = &now

	if err := s.persist(ctx, s.db, inv, now); err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.audit(ctx, inv.OrgID, "invoice.dispute", inv.ID, map[string]any{"reason": reason})
	return *inv, nil
}

func (s *Service) MarkAsSent(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	inv, err := s.loadForOrg(ctx, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	switch inv.Status {
	case invoicedomain.StatusPaid:
		return invoicedomain.Invoice{}, invoicedomain.ErrAlreadyPaid
	case invoicedomain.StatusVoid:
		return invoicedomain.Invoice{}, invoicedomain.ErrAlreadyVoid
	case invoicedomain.StatusDisputed:
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidStatus
	}

	now := s.clock.Now().UTC()
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event := invoicedomain.SendEvent{
			ID:        s.genID.Generate(),
			OrgID:     inv.OrgID,
			InvoiceID: inv.ID,
			Recipient: inv.CustomerEmail,
			SentAt:    now,
		}
		if err := tx.WithContext(ctx).Create(&event).Error; err != nil {
			return err
		}

		inv.SendCount++
		inv.LastSentAt = &now
		if inv.Status == invoicedomain.StatusDraft {
			inv.Status = invoicedomain.StatusSent
		}
		deriveStatus(inv, now)

		return s.persist(ctx, tx, inv, now)
	}); err != nil {
		return invoicedomain.Invoice{}, err
	}

	if err := s.notifier.Dispatch(ctx, notifdomain.Event{
		Type:      notifdomain.EventInvoiceSent,
		OrgID:     inv.OrgID,
		Recipient: inv.CustomerEmail,
		Subject:   "Invoice " + inv.Number,
		Data: map[string]any{
			"number":     inv.Number,
			"amount_due": money.Format(inv.AmountDueCents, inv.Currency),
			"due_at":     inv.DueAt.Format("2006-01-02"),
		},
	}); err != nil {
		s.log.Warn("invoice send notification failed",
			zap.Int64("invoice_id", int64(inv.ID)),
			zap.Error(err),
		)
	}

	s.audit(ctx, inv.OrgID, "invoice.mark_as_sent", inv.ID, map[string]any{
		"send_count": inv.SendCount,
	})

	return *inv, nil
}

// AddLine appends a line item and recomputes the totals. Only open invoices
// accept new lines.
func (s *Service) AddLine(ctx context.Context, req invoicedomain.AddLineRequest) (invoicedomain.Detail, error) {
	inv, err := s.loadForOrg(ctx, req.InvoiceID)
	if err != nil {
		return invoicedomain.Detail{}, err
	}

	switch inv.Status {
	case invoicedomain.StatusDraft, invoicedomain.StatusSent, invoicedomain.StatusPartial, invoicedomain.StatusOverdue:
	default:
		return invoicedomain.Detail{}, invoicedomain.ErrInvalidStatus
	}

	line, err := buildLine(req.Line)
	if err != nil {
		return invoicedomain.Detail{}, err
	}

	now := s.clock.Now().UTC()
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []invoicedomain.Line
		if err := tx.WithContext(ctx).
			Where("invoice_id = ?", inv.ID).
			Order("position ASC").
			Find(&existing).Error; err != nil {
			return err
		}

		line.ID = s.genID.Generate()
		line.OrgID = inv.OrgID
		line.InvoiceID = inv.ID
		line.Position = len(existing) + 1
		line.CreatedAt = now
		if err := s.lineRepo.WithTrx(tx).Create(ctx, &line); err != nil {
			return err
		}

		existing = append(existing, line)
		calculateTotals(inv, existing)
		deriveStatus(inv, now)

		return s.persist(ctx, tx, inv, now)
	}); err != nil {
		return invoicedomain.Detail{}, err
	}

	s.audit(ctx, inv.OrgID, "invoice.add_line", inv.ID, map[string]any{
		"amount_cents": line.AmountCents,
	})

	return s.detail(ctx, inv)
}

// MarkExported stamps the accounting export.
func (s *Service) MarkExported(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	inv, err := s.loadForOrg(ctx, id)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	now := s.clock.Now().UTC()
	inv.ExportedAt = &now
	if err := s.persist(ctx, s.db, inv, now); err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.audit(ctx, inv.OrgID, "invoice.mark_exported", inv.ID, nil)
	return *inv, nil
}

// SweepOverdue implements domain.Service.
func (s *Service) SweepOverdue(ctx context.Context, now time.Time) (int, error) {
	var invoices []invoicedomain.Invoice
	if err := s.db.WithContext(ctx).
		Where("status = ? AND due_at < ?", invoicedomain.StatusSent, now).
		Find(&invoices).Error; err != nil {
		return 0, err
	}

	flipped := 0
	for i := range invoices {
		inv := invoices[i]
		deriveStatus(&inv, now)
		if inv.Status != invoicedomain.StatusOverdue {
			continue
		}
		if err := s.persist(ctx, s.db, &inv, now); err != nil {
			if err == invoicedomain.ErrConflict {
				continue
			}
			return flipped, err
		}
		flipped++

		if err := s.notifier.Dispatch(ctx, notifdomain.Event{
			Type:      notifdomain.EventInvoiceOverdue,
			OrgID:     inv.OrgID,
			Recipient: inv.CustomerEmail,
			Subject:   "Invoice " + inv.Number + " is overdue",
			Data: map[string]any{
				"number":     inv.Number,
				"amount_due": money.Format(inv.AmountDueCents, inv.Currency),
			},
		}); err != nil {
			s.log.Warn("overdue notification failed",
				zap.Int64("invoice_id", int64(inv.ID)),
				zap.Error(err),
			)
		}
	}

	return flipped, nil
}
