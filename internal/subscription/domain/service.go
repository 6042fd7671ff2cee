package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/faktur/pkg/db/pagination"
)

type CreateRequest struct {
	PlanCode  string         `json:"plan_code"`
	AutoRenew *bool          `json:"auto_renew,omitempty"`
	StartAt   *time.Time     `json:"start_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type ListRequest struct {
	Status    string
	PageToken string
	PageSize  int32
}

type ListResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

type CancelRequest struct {
	SubscriptionID string `json:"-"`
	Reason         string `json:"reason"`
	Feedback       string `json:"feedback,omitempty"`
	Immediate      bool   `json:"immediate"`
}

type PauseRequest struct {
	SubscriptionID string     `json:"-"`
	ResumeAt       *time.Time `json:"resume_at,omitempty"`
	Reason         string     `json:"reason,omitempty"`
}

type UpgradePlanRequest struct {
	SubscriptionID string `json:"-"`
	NewPlanCode    string `json:"new_plan_code"`
	Immediate      bool   `json:"immediate"`
}

type UpgradePlanResponse struct {
	Subscription   Subscription `json:"subscription"`
	ProrationCents int64        `json:"proration_cents"`
	// Scheduled is true when the change waits for the next period boundary.
	Scheduled bool `json:"scheduled"`
}

type RecordPaymentRequest struct {
	SubscriptionID string `json:"-"`
	AmountCents    int64  `json:"amount_cents"`
	Method         string `json:"method,omitempty"`
	Reference      string `json:"reference,omitempty"`
}

type RecordFailedPaymentRequest struct {
	SubscriptionID string `json:"-"`
	Reason         string `json:"reason"`
}

type TrackFeatureUsageRequest struct {
	SubscriptionID string `json:"-"`
	FeatureCode    string `json:"feature_code"`
	Delta          int64  `json:"delta"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Subscription, error)
	GetByID(ctx context.Context, id string) (Subscription, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// GetActiveByOrg resolves the tenant's billable subscription (active,
	// trialing or past_due) for usage ingest.
	GetActiveByOrg(ctx context.Context) (Subscription, error)

	Activate(ctx context.Context, id string) (Subscription, error)
	Cancel(ctx context.Context, req CancelRequest) (Subscription, error)
	Pause(ctx context.Context, req PauseRequest) (Subscription, error)
	Resume(ctx context.Context, id string) (Subscription, error)
	UpgradePlan(ctx context.Context, req UpgradePlanRequest) (UpgradePlanResponse, error)

	RecordPayment(ctx context.Context, req RecordPaymentRequest) (Subscription, error)
	RecordFailedPayment(ctx context.Context, req RecordFailedPaymentRequest) (Subscription, error)

	TrackFeatureUsage(ctx context.Context, req TrackFeatureUsageRequest) error
	RecordActivity(ctx context.Context, id string) error
	StateHistory(ctx context.Context, id string) ([]StateHistory, error)

	// Sweep entry points, system-scoped (no org context).
	ListDuePeriods(ctx context.Context, now time.Time) ([]Subscription, error)
	RollPeriod(ctx context.Context, subscriptionID snowflake.ID, invoiceID *snowflake.ID, now time.Time) (Subscription, error)
	ListDueRetries(ctx context.Context, now time.Time) ([]Subscription, error)
	SweepRenewalReminders(ctx context.Context, now time.Time) (int, error)
	SweepResumes(ctx context.Context, now time.Time) (int, error)
}

var (
	ErrInvalidOrganization  = errors.New("invalid_organization")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidTransition    = errors.New("invalid_transition")
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidResumeDate    = errors.New("invalid_resume_date")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrAlreadyActive        = errors.New("already_active")
	ErrAlreadyCancelled     = errors.New("already_cancelled")
	ErrNotPaused            = errors.New("not_paused")
	ErrSamePlan             = errors.New("same_plan")
	ErrConflict             = errors.New("conflict")
)
