// Package domain contains the plan catalog models. The catalog is read-only
// for the billing core: it is consulted at subscription creation, plan
// upgrade, and usage cost calculation.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type BillingInterval string

const (
	IntervalDay   BillingInterval = "day"
	IntervalWeek  BillingInterval = "week"
	IntervalMonth BillingInterval = "month"
	IntervalYear  BillingInterval = "year"
)

// Days returns the nominal day length of one interval unit.
func (i BillingInterval) Days() int {
	switch i {
	case IntervalDay:
		return 1
	case IntervalWeek:
		return 7
	case IntervalYear:
		return 365
	default:
		return 30
	}
}

// Plan is a sellable billing plan with recurring terms.
type Plan struct {
	ID            snowflake.ID      `json:"id" gorm:"primaryKey"`
	Code          string            `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name          string            `json:"name" gorm:"type:text;not null"`
	AmountCents   int64             `json:"amount_cents" gorm:"not null"`
	Currency      string            `json:"currency" gorm:"type:text;not null"`
	Interval      BillingInterval   `json:"interval" gorm:"type:text;not null"`
	IntervalCount int               `json:"interval_count" gorm:"not null;default:1"`
	TrialDays     int               `json:"trial_days" gorm:"not null;default:0"`
	Active        bool              `json:"active" gorm:"not null;default:true"`
	Metadata      datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	CreatedAt     time.Time         `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time         `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// PeriodDays is the nominal billing period length in days.
func (p Plan) PeriodDays() int {
	count := p.IntervalCount
	if count <= 0 {
		count = 1
	}
	return p.Interval.Days() * count
}

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// OverageRate prices metered usage beyond the included allowance.
type OverageRate struct {
	ID                snowflake.ID  `json:"id" gorm:"primaryKey"`
	PlanID            snowflake.ID  `json:"plan_id" gorm:"not null;index:ux_plan_meter,unique,priority:1"`
	MeterCode         string        `json:"meter_code" gorm:"type:text;not null;index:ux_plan_meter,unique,priority:2"`
	RateCents         int64         `json:"rate_cents" gorm:"not null"`
	Per               float64       `json:"per" gorm:"not null;default:1"`
	MinimumCents      int64         `json:"minimum_cents" gorm:"not null;default:0"`
	IncludedAllowance float64       `json:"included_allowance" gorm:"not null;default:0"`
	DiscountType      *DiscountType `json:"discount_type" gorm:"type:text"`
	DiscountValue     *float64      `json:"discount_value"`
	CreatedAt         time.Time     `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OverageRate) TableName() string { return "plan_overage_rates" }

// FeatureLimit caps a tracked feature for plan holders.
type FeatureLimit struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	PlanID      snowflake.ID `json:"plan_id" gorm:"not null;index:ux_plan_feature,unique,priority:1"`
	FeatureCode string       `json:"feature_code" gorm:"type:text;not null;index:ux_plan_feature,unique,priority:2"`
	Limit       int64        `json:"limit" gorm:"column:feature_limit;not null"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FeatureLimit) TableName() string { return "plan_feature_limits" }
