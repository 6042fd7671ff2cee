package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type RecordRequest struct {
	MeterCode      string     `json:"meter_code"`
	Quantity       float64    `json:"quantity"`
	Resource       string     `json:"resource,omitempty"`
	PeriodStart    time.Time  `json:"period_start"`
	PeriodEnd      time.Time  `json:"period_end"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	OccurredAt     *time.Time `json:"occurred_at,omitempty"`
}

type AdjustCostRequest struct {
	RecordID          string `json:"-"`
	AdjustedCostCents int64  `json:"adjusted_cost_cents"`
	Reason            string `json:"reason,omitempty"`
}

type ReviewRequest struct {
	RecordID string `json:"-"`
	Approve  bool   `json:"approve"`
	Reviewer string `json:"reviewer,omitempty"`
}

type AggregateRequest struct {
	MeterCode   string      `json:"meter_code"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	Granularity Granularity `json:"granularity"`
}

type SummaryRequest struct {
	MeterCode   string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

type MeterSummary struct {
	MeterCode      string  `json:"meter_code"`
	Unit           string  `json:"unit"`
	TotalQuantity  float64 `json:"total_quantity"`
	BillableCount  int64   `json:"billable_count"`
	TotalCostCents int64   `json:"total_cost_cents"`
}

type SummaryResponse struct {
	PeriodStart time.Time      `json:"period_start"`
	PeriodEnd   time.Time      `json:"period_end"`
	Meters      []MeterSummary `json:"meters"`
}

type Service interface {
	Record(ctx context.Context, req RecordRequest) (UsageRecord, error)
	GetByID(ctx context.Context, id string) (UsageRecord, error)

	Bill(ctx context.Context, id string) (UsageRecord, error)
	Dispute(ctx context.Context, id string) (UsageRecord, error)
	Waive(ctx context.Context, id string) (UsageRecord, error)
	AdjustCost(ctx context.Context, req AdjustCostRequest) (UsageRecord, error)
	Review(ctx context.Context, req ReviewRequest) (UsageRecord, error)

	Aggregate(ctx context.Context, req AggregateRequest) (UsageRecord, error)
	Summary(ctx context.Context, req SummaryRequest) (SummaryResponse, error)

	// Invoice engine hooks. MarkInvoicedIn runs inside the caller's
	// transaction so a rolled-back invoice never strands invoiced usage rows.
	ListBillableForSubscription(ctx context.Context, subscriptionID snowflake.ID, periodStart, periodEnd time.Time) ([]UsageRecord, error)
	MarkInvoiced(ctx context.Context, ids []snowflake.ID, invoiceID snowflake.ID) error
	MarkInvoicedIn(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) error

	// Sweep entry points, system-scoped.
	SweepRollups(ctx context.Context, now time.Time) (int, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidMetric       = errors.New("invalid_metric")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrInvalidRecord       = errors.New("invalid_usage_record")
	ErrRecordNotFound      = errors.New("usage_record_not_found")
	ErrNotBillable         = errors.New("not_billable")
	ErrInvalidBillingState = errors.New("invalid_billing_state")
	ErrAlreadyBilled       = errors.New("already_billed")
	ErrAlreadyInvoiced     = errors.New("already_invoiced")
	ErrNoRecordsToRollup   = errors.New("no_records_to_rollup")
	ErrConflict            = errors.New("conflict")
)
