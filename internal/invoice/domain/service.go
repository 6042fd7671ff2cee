package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/faktur/pkg/db/pagination"
)

type LineInput struct {
	Type           LineType      `json:"type"`
	Description    string        `json:"description"`
	Quantity       float64       `json:"quantity"`
	UnitPriceCents int64         `json:"unit_price_cents"`
	DiscountType   *DiscountType `json:"discount_type,omitempty"`
	DiscountValue  *float64      `json:"discount_value,omitempty"`
	TaxRatePercent float64       `json:"tax_rate_percent,omitempty"`
}

type CreateRequest struct {
	SubscriptionID string         `json:"subscription_id,omitempty"`
	Lines          []LineInput    `json:"lines"`
	DueInDays      int            `json:"due_in_days,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type CreateForSubscriptionRequest struct {
	SubscriptionID string    `json:"subscription_id"`
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	DueInDays      int       `json:"due_in_days,omitempty"`
}

type ListRequest struct {
	Status    string
	PageToken string
	PageSize  int32
}

type ListResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type RecordPaymentRequest struct {
	InvoiceID   string `json:"-"`
	AmountCents int64  `json:"amount_cents"`
	Method      string `json:"method,omitempty"`
	Reference   string `json:"reference,omitempty"`
}

type ApplyCreditRequest struct {
	InvoiceID           string `json:"-"`
	AmountCents         int64  `json:"amount_cents"`
	CreditTransactionID string `json:"credit_transaction_id,omitempty"`
}

type ApplyCreditResult struct {
	AppliedCents   int64 `json:"applied_cents"`
	RemainingCents int64 `json:"remaining_cents"`
}

type VoidRequest struct {
	InvoiceID string `json:"-"`
	Reason    string `json:"reason"`
}

type RefundRequest struct {
	InvoiceID   string `json:"-"`
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason,omitempty"`
}

type DisputeRequest struct {
	InvoiceID string `json:"-"`
	Reason    string `json:"reason"`
}

type AddLineRequest struct {
	InvoiceID string    `json:"-"`
	Line      LineInput `json:"line"`
}

type Detail struct {
	Invoice      Invoice       `json:"invoice"`
	Lines        []Line        `json:"lines"`
	Transactions []Transaction `json:"transactions"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Detail, error)
	// CreateForSubscription builds the period invoice: the base plan charge
	// plus every billable usage record in the window, which it marks
	// invoiced.
	CreateForSubscription(ctx context.Context, req CreateForSubscriptionRequest) (Detail, error)
	GetByID(ctx context.Context, id string) (Detail, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)

	RecordPayment(ctx context.Context, req RecordPaymentRequest) (Invoice, error)
	ApplyCredit(ctx context.Context, req ApplyCreditRequest) (ApplyCreditResult, error)
	Void(ctx context.Context, req VoidRequest) (Invoice, error)
	Refund(ctx context.Context, req RefundRequest) (Invoice, error)
	// Dispute freezes a delivered invoice while the customer contests the
	// charge; the status is terminal for derivation.
	Dispute(ctx context.Context, req DisputeRequest) (Invoice, error)
	MarkAsSent(ctx context.Context, id string) (Invoice, error)
	AddLine(ctx context.Context, req AddLineRequest) (Detail, error)
	MarkExported(ctx context.Context, id string) (Invoice, error)

	// SweepOverdue flips sent invoices past their due date. System-scoped.
	SweepOverdue(ctx context.Context, now time.Time) (int, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidLine         = errors.New("invalid_line")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrExcessPayment       = errors.New("excess_payment")
	ErrExcessRefund        = errors.New("excess_refund")
	ErrAlreadyVoid         = errors.New("already_void")
	ErrAlreadyPaid         = errors.New("already_paid")
	ErrAlreadyDisputed     = errors.New("already_disputed")
	ErrHasPayments         = errors.New("has_payments")
	ErrConflict            = errors.New("conflict")
)
