package rating

import (
	"context"

	"github.com/smallbiznis/faktur/internal/clock"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const churnWindowDays = 30

type ChurnReason struct {
	Reason string `json:"reason" gorm:"column:reason"`
	Count  int64  `json:"count" gorm:"column:count"`
}

type RevenueMetrics struct {
	MRRCents     int64         `json:"mrr_cents"`
	ARRCents     int64         `json:"arr_cents"`
	ActiveCount  int64         `json:"active_count"`
	PastDueCount int64         `json:"past_due_count"`
	ChurnReasons []ChurnReason `json:"churn_reasons"`
}

type RevenueService struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

type RevenueServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

func NewRevenueService(p RevenueServiceParam) *RevenueService {
	return &RevenueService{
		db:    p.DB,
		log:   p.Log.Named("rating.revenue"),
		clock: p.Clock,
	}
}

// Metrics computes the tenant's recurring revenue aggregates. Recurring
// revenue counts active and past_due subscriptions; past_due is still booked
// until it cancels or expires.
func (s *RevenueService) Metrics(ctx context.Context) (RevenueMetrics, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return RevenueMetrics{}, subscriptiondomain.ErrInvalidOrganization
	}

	type statusRow struct {
		Status subscriptiondomain.Status `gorm:"column:status"`
		Amount int64                     `gorm:"column:amount"`
		Count  int64                     `gorm:"column:count"`
	}

	var rows []statusRow
	if err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Select("status, COALESCE(SUM(amount_cents), 0) AS amount, COUNT(*) AS count").
		Where("org_id = ? AND status IN ?", orgID, []subscriptiondomain.Status{
			subscriptiondomain.StatusActive,
			subscriptiondomain.StatusPastDue,
		}).
		Group("status").
		Scan(&rows).Error; err != nil {
		return RevenueMetrics{}, err
	}

	result := RevenueMetrics{}
	for _, row := range rows {
		result.MRRCents += row.Amount
		switch row.Status {
		case subscriptiondomain.StatusActive:
			result.ActiveCount = row.Count
		case subscriptiondomain.StatusPastDue:
			result.PastDueCount = row.Count
		}
	}
	result.ARRCents = result.MRRCents * 12

	since := s.clock.Now().UTC().AddDate(0, 0, -churnWindowDays)
	var reasons []ChurnReason
	if err := s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Select("COALESCE(cancel_reason, '') AS reason, COUNT(*) AS count").
		Where("org_id = ? AND status = ? AND cancelled_at >= ?", orgID, subscriptiondomain.StatusCancelled, since).
		Group("cancel_reason").
		Order("count DESC").
		Scan(&reasons).Error; err != nil {
		return RevenueMetrics{}, err
	}
	result.ChurnReasons = reasons

	return result, nil
}

// Module wires the revenue calculator.
var Module = fx.Module("rating",
	fx.Provide(NewRevenueService),
)
