// Package domain contains the subscription lifecycle models. The subscription
// row holds the current snapshot; state changes, billing periods, reminders
// and plan changes are append-only child rows.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/faktur/internal/plan/domain"
	"gorm.io/datatypes"
)

// Status represents lifecycle states for a subscription.
type Status string

const (
	StatusPending   Status = "pending"
	StatusTrialing  Status = "trialing"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusPaused    Status = "paused"
)

// transitions is the declared lifecycle graph. cancelled and expired are
// terminal; plan changes keep the subscription active without a transition.
var transitions = map[Status][]Status{
	StatusPending:  {StatusActive, StatusCancelled},
	StatusTrialing: {StatusActive, StatusCancelled},
	StatusActive:   {StatusPastDue, StatusCancelled, StatusPaused, StatusExpired},
	StatusPastDue:  {StatusActive, StatusCancelled, StatusExpired},
	StatusPaused:   {StatusActive, StatusCancelled},
}

// CanTransition reports whether from → to is a declared transition.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Subscription captures a tenant's billing agreement with its lifecycle,
// payment and renewal metadata. Rows are never hard-deleted; cancellation is
// a terminal state retained for audit.
type Subscription struct {
	ID     snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID  snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index"`
	PlanID snowflake.ID `json:"plan_id" gorm:"not null;index"`

	Status         Status  `json:"status" gorm:"type:text;not null;index"`
	PreviousStatus *Status `json:"previous_status,omitempty" gorm:"type:text"`

	AmountCents   int64                      `json:"amount_cents" gorm:"not null"`
	Currency      string                     `json:"currency" gorm:"type:text;not null"`
	Interval      plandomain.BillingInterval `json:"interval" gorm:"type:text;not null"`
	IntervalCount int                        `json:"interval_count" gorm:"not null;default:1"`

	TrialStart *time.Time `json:"trial_start,omitempty"`
	TrialEnd   *time.Time `json:"trial_end,omitempty"`

	PeriodStart   time.Time  `json:"period_start" gorm:"not null"`
	PeriodEnd     time.Time  `json:"period_end" gorm:"not null;index"`
	NextRenewalAt *time.Time `json:"next_renewal_at,omitempty" gorm:"index"`
	AutoRenew     bool       `json:"auto_renew" gorm:"not null;default:true"`

	PaymentMethod         *string    `json:"payment_method,omitempty" gorm:"type:text"`
	FailedAttempts        int        `json:"failed_attempts" gorm:"not null;default:0"`
	LastFailureAt         *time.Time `json:"last_failure_at,omitempty"`
	LastFailureReason     *string    `json:"last_failure_reason,omitempty" gorm:"type:text"`
	NextRetryAt           *time.Time `json:"next_retry_at,omitempty" gorm:"index"`
	RequiresPaymentUpdate bool       `json:"requires_payment_update" gorm:"not null;default:false"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	CancelReason      *string    `json:"cancel_reason,omitempty" gorm:"type:text"`
	CancelFeedback    *string    `json:"cancel_feedback,omitempty" gorm:"type:text"`
	CancelEffectiveAt *time.Time `json:"cancel_effective_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`

	PauseReason *string    `json:"pause_reason,omitempty" gorm:"type:text"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	ResumeAt    *time.Time `json:"resume_at,omitempty"`

	PendingPlanID *snowflake.ID `json:"pending_plan_id,omitempty"`
	PendingPlanAt *time.Time    `json:"pending_plan_at,omitempty"`

	ChurnRiskScore   int               `json:"churn_risk_score" gorm:"not null;default:0"`
	ChurnRiskFactors datatypes.JSONMap `json:"churn_risk_factors,omitempty" gorm:"type:jsonb"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`

	// Version guards read-modify-write cycles; a stale write loses.
	Version   int64     `json:"version" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// PeriodDays is the subscription's billing period length in days.
func (s Subscription) PeriodDays() int {
	count := s.IntervalCount
	if count <= 0 {
		count = 1
	}
	return s.Interval.Days() * count
}

// StateHistory is one lifecycle transition.
type StateHistory struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index"`
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"not null;index"`
	Status         Status       `json:"status" gorm:"type:text;not null"`
	PreviousStatus *Status      `json:"previous_status,omitempty" gorm:"type:text"`
	Reason         *string      `json:"reason,omitempty" gorm:"type:text"`
	ChangedAt      time.Time    `json:"changed_at" gorm:"not null"`
}

// TableName sets the database table name.
func (StateHistory) TableName() string { return "subscription_state_history" }

// Period is a closed billing period kept for history.
type Period struct {
	ID             snowflake.ID  `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID  `json:"organization_id" gorm:"column:org_id;not null;index"`
	SubscriptionID snowflake.ID  `json:"subscription_id" gorm:"not null;index"`
	StartAt        time.Time     `json:"start_at" gorm:"not null"`
	EndAt          time.Time     `json:"end_at" gorm:"not null"`
	InvoiceID      *snowflake.ID `json:"invoice_id,omitempty"`
	ClosedAt       time.Time     `json:"closed_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Period) TableName() string { return "subscription_periods" }

// RenewalReminder records one dispatched reminder. The unique index makes
// reminder dispatch idempotent per renewal date and offset.
type RenewalReminder struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index"`
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"not null;index:ux_reminder,unique,priority:1"`
	RenewalAt      time.Time    `json:"renewal_at" gorm:"not null;index:ux_reminder,unique,priority:2"`
	OffsetDays     int          `json:"offset_days" gorm:"not null;index:ux_reminder,unique,priority:3"`
	SentAt         time.Time    `json:"sent_at" gorm:"not null"`
}

// TableName sets the database table name.
func (RenewalReminder) TableName() string { return "subscription_renewal_reminders" }

// FeatureUsage tracks consumption of a plan-limited feature.
type FeatureUsage struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index"`
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"not null;index:ux_feature_usage,unique,priority:1"`
	FeatureCode    string       `json:"feature_code" gorm:"type:text;not null;index:ux_feature_usage,unique,priority:2"`
	Used           int64        `json:"used" gorm:"not null;default:0"`
	Limit          int64        `json:"limit" gorm:"column:feature_limit;not null;default:0"`
	UpdatedAt      time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FeatureUsage) TableName() string { return "subscription_feature_usage" }

// PlanChange is one upgrade/downgrade, immediate or scheduled.
type PlanChange struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrgID          snowflake.ID `json:"organization_id" gorm:"column:org_id;not null;index"`
	SubscriptionID snowflake.ID `json:"subscription_id" gorm:"not null;index"`
	FromPlanID     snowflake.ID `json:"from_plan_id" gorm:"not null"`
	ToPlanID       snowflake.ID `json:"to_plan_id" gorm:"not null"`
	ProrationCents int64        `json:"proration_cents" gorm:"not null;default:0"`
	Immediate      bool         `json:"immediate" gorm:"not null"`
	EffectiveAt    time.Time    `json:"effective_at" gorm:"not null"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PlanChange) TableName() string { return "subscription_plan_changes" }
