// Package domain contains the invoice models. Line items, payment
// transactions and send events are normalized child rows referencing the
// invoice; the invoice row carries the derived financial summary.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Type string

const (
	TypeSubscription Type = "subscription"
	TypeManual       Type = "manual"
)

type Status string

const (
	StatusDraft    Status = "draft"
	StatusSent     Status = "sent"
	StatusPaid     Status = "paid"
	StatusPartial  Status = "partial"
	StatusOverdue  Status = "overdue"
	StatusVoid     Status = "void"
	StatusRefunded Status = "refunded"
	StatusDisputed Status = "disputed"
)

// Terminal reports whether status can no longer be derived from amounts.
func (s Status) Terminal() bool {
	return s == StatusVoid || s == StatusRefunded || s == StatusDisputed
}

type LineType string

const (
	LineTypeItem   LineType = "item"
	LineTypeTax    LineType = "tax"
	LineTypeCredit LineType = "credit"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Invoice is the billing document. The customer block is snapshotted at
// creation and never updated afterwards.
type Invoice struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index:ix_invoices_org_month,priority:1"`
	SubscriptionID *snowflake.ID `json:"subscription_id,omitempty" gorm:"index"`

	Number    string `json:"number" gorm:"type:text;not null;uniqueIndex"`
	YearMonth string `json:"year_month" gorm:"type:text;not null;index:ix_invoices_org_month,priority:2"`
	Sequence  int    `json:"sequence" gorm:"not null"`

	Type   Type   `json:"type" gorm:"type:text;not null"`
	Status Status `json:"status" gorm:"type:text;not null;index"`

	Currency    string     `json:"currency" gorm:"type:text;not null"`
	IssuedAt    time.Time  `json:"issued_at" gorm:"not null"`
	DueAt       time.Time  `json:"due_at" gorm:"not null;index"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`

	CustomerName    string `json:"customer_name" gorm:"type:text;not null"`
	CustomerEmail   string `json:"customer_email" gorm:"type:text;not null"`
	CustomerTaxID   string `json:"customer_tax_id" gorm:"type:text"`
	CustomerCountry string `json:"customer_country" gorm:"type:text"`

	SubtotalCents      int64 `json:"subtotal_cents" gorm:"not null;default:0"`
	DiscountTotalCents int64 `json:"discount_total_cents" gorm:"not null;default:0"`
	TaxTotalCents      int64 `json:"tax_total_cents" gorm:"not null;default:0"`
	TotalCents         int64 `json:"total_cents" gorm:"not null;default:0"`
	AmountPaidCents    int64 `json:"amount_paid_cents" gorm:"not null;default:0"`
	AmountDueCents     int64 `json:"amount_due_cents" gorm:"not null;default:0"`
	CreditAppliedCents int64 `json:"credit_applied_cents" gorm:"not null;default:0"`

	SendCount  int        `json:"send_count" gorm:"not null;default:0"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`

	VoidReason *string    `json:"void_reason,omitempty" gorm:"type:text"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`

	DisputeReason *string    `json:"dispute_reason,omitempty" gorm:"type:text"`
	DisputedAt    *time.Time `json:"disputed_at,omitempty"`

	ExportedAt *time.Time `json:"exported_at,omitempty"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`

	Version   int64     `json:"version" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Line is one invoice line item.
type Line struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index"`
	InvoiceID snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	Position  int          `json:"position" gorm:"not null"`

	Type        LineType `json:"type" gorm:"type:text;not null"`
	Description string   `json:"description" gorm:"type:text;not null"`

	Quantity       float64 `json:"quantity" gorm:"not null;default:1"`
	UnitPriceCents int64   `json:"unit_price_cents" gorm:"not null"`

	DiscountType  *DiscountType `json:"discount_type,omitempty" gorm:"type:text"`
	DiscountValue *float64      `json:"discount_value,omitempty"`
	DiscountCents int64         `json:"discount_cents" gorm:"not null;default:0"`

	TaxRatePercent float64 `json:"tax_rate_percent" gorm:"not null;default:0"`

	// AmountCents = quantity*unitPrice − discount, in minor units.
	AmountCents int64 `json:"amount_cents" gorm:"not null"`

	UsageRecordID *snowflake.ID `json:"usage_record_id,omitempty" gorm:"index"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Line) TableName() string { return "invoice_lines" }

type TransactionKind string

const (
	TransactionPayment TransactionKind = "payment"
	TransactionRefund  TransactionKind = "refund"
	TransactionCredit  TransactionKind = "credit"
)

// Transaction is one payment, refund or credit applied to an invoice.
type Transaction struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID    `json:"organization_id" gorm:"column:org_id;not null;index"`
	InvoiceID snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	Kind      TransactionKind `json:"kind" gorm:"type:text;not null"`

	AmountCents int64  `json:"amount_cents" gorm:"not null"`
	Method      string `json:"method" gorm:"type:text"`
	Reference   string `json:"reference" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "invoice_transactions" }

// SendEvent is one delivery of the invoice to the customer.
type SendEvent struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID     snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index"`
	InvoiceID snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	Recipient string       `json:"recipient" gorm:"type:text;not null"`
	SentAt    time.Time    `json:"sent_at" gorm:"not null"`
}

// TableName sets the database table name.
func (SendEvent) TableName() string { return "invoice_send_events" }
