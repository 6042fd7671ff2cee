// Package domain contains the usage record model for the metering pipeline.
// A record carries its measurement plus flattened billing, validation and
// aggregation sub-records so the ingest path stays a single-row write.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/smallbiznis/faktur/internal/meter/domain"
	"gorm.io/datatypes"
)

// BillingStatus tracks where a record sits in the billing flow.
type BillingStatus string

const (
	BillingUnbilled BillingStatus = "unbilled"
	BillingBilled   BillingStatus = "billed"
	BillingInvoiced BillingStatus = "invoiced"
	BillingDisputed BillingStatus = "disputed"
	BillingWaived   BillingStatus = "waived"
)

// ValidationStatus is the outcome of ingest validation.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationAnomaly ValidationStatus = "anomaly"
)

// Granularity of the record's time window.
type Granularity string

const (
	GranularityRaw     Granularity = "raw"
	GranularityHourly  Granularity = "hourly"
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// UsageRecord is one metered measurement or an aggregate rollup of many.
type UsageRecord struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index:ix_usage_org_meter,priority:1;uniqueIndex:ux_usage_org_idem,priority:1"`
	SubscriptionID *snowflake.ID `json:"subscription_id,omitempty" gorm:"index"`

	MeterCode   string                  `json:"meter_code" gorm:"type:text;not null;index:ix_usage_org_meter,priority:2"`
	Unit        string                  `json:"unit" gorm:"type:text;not null"`
	Category    string                  `json:"category" gorm:"type:text"`
	Aggregation meterdomain.Aggregation `json:"aggregation" gorm:"type:text;not null"`

	Quantity         float64 `json:"quantity" gorm:"not null"`
	PreviousQuantity float64 `json:"previous_quantity" gorm:"not null;default:0"`
	Delta            float64 `json:"delta" gorm:"not null;default:0"`

	Resource    string      `json:"resource" gorm:"type:text"`
	PeriodStart time.Time   `json:"period_start" gorm:"not null;index"`
	PeriodEnd   time.Time   `json:"period_end" gorm:"not null"`
	Granularity Granularity `json:"granularity" gorm:"type:text;not null;default:raw"`

	// Tenants may reuse each other's idempotency keys, so uniqueness is
	// scoped to the org together with the key.
	IdempotencyKey *string `json:"idempotency_key,omitempty" gorm:"type:text;uniqueIndex:ux_usage_org_idem,priority:2"`

	// Billing sub-record.
	BillingStatus       BillingStatus `json:"billing_status" gorm:"type:text;not null;default:unbilled;index"`
	RateCents           int64         `json:"rate_cents" gorm:"not null;default:0"`
	RatePer             float64       `json:"rate_per" gorm:"not null;default:1"`
	MinimumCents        int64         `json:"minimum_cents" gorm:"not null;default:0"`
	AllowanceApplied    float64       `json:"allowance_applied" gorm:"not null;default:0"`
	BillableQuantity    float64       `json:"billable_quantity" gorm:"not null;default:0"`
	Included            bool          `json:"included" gorm:"not null;default:false"`
	CalculatedCostCents int64         `json:"calculated_cost_cents" gorm:"not null;default:0"`
	AdjustedCostCents   *int64        `json:"adjusted_cost_cents,omitempty"`
	FinalCostCents      int64         `json:"final_cost_cents" gorm:"not null;default:0"`
	InvoiceID           *snowflake.ID `json:"invoice_id,omitempty" gorm:"index"`

	// Validation sub-record.
	ValidationStatus ValidationStatus `json:"validation_status" gorm:"type:text;not null;default:pending;index"`
	RangeOK          bool             `json:"range_ok" gorm:"not null;default:true"`
	DeltaOK          bool             `json:"delta_ok" gorm:"not null;default:true"`
	DuplicateOf      *snowflake.ID    `json:"duplicate_of,omitempty"`
	AnomalyDetected  bool             `json:"anomaly_detected" gorm:"not null;default:false"`
	AnomalyScore     float64          `json:"anomaly_score" gorm:"not null;default:0"`
	ReviewedAt       *time.Time       `json:"reviewed_at,omitempty"`
	ReviewedBy       *string          `json:"reviewed_by,omitempty" gorm:"type:text"`

	// Aggregation sub-record.
	IsAggregate bool              `json:"is_aggregate" gorm:"not null;default:false"`
	ParentID    *snowflake.ID     `json:"parent_id,omitempty" gorm:"index"`
	ChildCount  int               `json:"child_count" gorm:"not null;default:0"`
	Stats       datatypes.JSONMap `json:"stats,omitempty" gorm:"type:jsonb"`

	Version   int64     `json:"version" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// Billable reports whether the record can feed an invoice: validation passed
// and it is not fully covered by the included allowance.
func (r UsageRecord) Billable() bool {
	return r.ValidationStatus == ValidationValid && !r.Included
}
