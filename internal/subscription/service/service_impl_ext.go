package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	notifdomain "github.com/smallbiznis/faktur/internal/notification/domain"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Service) RecordPayment(ctx context.Context, req subscriptiondomain.RecordPaymentRequest) (subscriptiondomain.Subscription, error) {
	sub, err := s.loadForOrg(ctx, req.SubscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	if req.AmountCents <= 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	sub.FailedAttempts = 0
	sub.LastFailureAt = nil
	sub.LastFailureReason = nil
	sub.NextRetryAt = nil
	sub.RequiresPaymentUpdate = false
	if method := strings.TrimSpace(req.Method); method != "" {
		sub.PaymentMethod = &method
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sub.Status == subscriptiondomain.StatusPastDue {
			if err := s.transition(ctx, tx, sub, subscriptiondomain.StatusActive, "payment_received", now); err != nil {
				return err
			}
		}
		if err := s.recomputeChurnRisk(ctx, tx, sub, now); err != nil {
			return err
		}
		return s.persist(ctx, tx, sub, now)
	}); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.metrics.IncPaymentOutcome("success")
	s.audit(ctx, sub.OrgID, "subscription.record_payment", sub.ID, map[string]any{
		"amount_cents": req.AmountCents,
		"reference":    req.Reference,
	})

	return *sub, nil
}

func (s *Service) RecordFailedPayment(ctx context.Context, req subscriptiondomain.RecordFailedPaymentRequest) (subscriptiondomain.Subscription, error) {
	sub, err := s.loadForOrg(ctx, req.SubscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now().UTC()
	cfg := s.billing.Current().ForOrg(sub.OrgID.String())

	sub.FailedAttempts++
	sub.LastFailureAt = &now
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		sub.LastFailureReason = &reason
	}

	retryAt := now.AddDate(0, 0, cfg.RetryOffsetDays(sub.FailedAttempts))
	sub.NextRetryAt = &retryAt

	becamePastDue := false
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sub.Status == subscriptiondomain.StatusActive && sub.FailedAttempts >= cfg.PastDueAfterFailures {
			sub.RequiresPaymentUpdate = true
			becamePastDue = true
			if err := s.transition(ctx, tx, sub, subscriptiondomain.StatusPastDue, "payment_failures", now); err != nil {
				return err
			}
		}
		if err := s.recomputeChurnRisk(ctx, tx, sub, now); err != nil {
			return err
		}
		return s.persist(ctx, tx, sub, now)
	}); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.metrics.IncPaymentOutcome("failure")
	s.audit(ctx, sub.OrgID, "subscription.record_failed_payment", sub.ID, map[string]any{
		"attempts": sub.FailedAttempts,
		"reason":   req.Reason,
	})

	if becamePastDue {
		s.notify(ctx, sub.OrgID, notifdomain.EventSubscriptionPastDue, map[string]any{
			"subscription_id": sub.ID.String(),
			"failed_attempts": sub.FailedAttempts,
		})
	}

	return *sub, nil
}

func (s *Service) TrackFeatureUsage(ctx context.Context, req subscriptiondomain.TrackFeatureUsageRequest) error {
	sub, err := s.loadForOrg(ctx, req.SubscriptionID)
	if err != nil {
		return err
	}

	featureCode := strings.TrimSpace(req.FeatureCode)
	if featureCode == "" {
		return subscriptiondomain.ErrInvalidSubscription
	}

	var limit int64
	limits, err := s.plansvc.FeatureLimits(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	for _, fl := range limits {
		if fl.FeatureCode == featureCode {
			limit = fl.Limit
			break
		}
	}

	now := s.clock.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		usage := subscriptiondomain.FeatureUsage{
			ID:             s.genID.Generate(),
			OrgID:          sub.OrgID,
			SubscriptionID: sub.ID,
			FeatureCode:    featureCode,
			Used:           req.Delta,
			Limit:          limit,
			UpdatedAt:      now,
		}
		if err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "subscription_id"}, {Name: "feature_code"}},
				DoUpdates: clause.Assignments(map[string]any{
					"used":          gorm.Expr("used + ?", req.Delta),
					"feature_limit": limit,
					"updated_at":    now,
				}),
			}).
			Create(&usage).Error; err != nil {
			return err
		}

		if err := s.recomputeChurnRisk(ctx, tx, sub, now); err != nil {
			return err
		}
		return s.persist(ctx, tx, sub, now)
	})
}

func (s *Service) RecordActivity(ctx context.Context, id string) error {
	sub, err := s.loadForOrg(ctx, id)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	sub.LastLoginAt = &now

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.recomputeChurnRisk(ctx, tx, sub, now); err != nil {
			return err
		}
		return s.persist(ctx, tx, sub, now)
	})
}

// recomputeChurnRisk rebuilds the weighted score from payment failures,
// inactivity and feature overage. Each term is capped before weighting.
func (s *Service) recomputeChurnRisk(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, now time.Time) error {
	paymentTerm := math.Min(float64(sub.FailedAttempts*10), 30) * 0.3

	inactivityTerm := 0.0
	if sub.LastLoginAt != nil {
		days := int(now.Sub(*sub.LastLoginAt).Hours() / 24)
		if days > 0 {
			inactivityTerm = math.Min(float64(days*2), 40) * 0.2
		}
	}

	overageTerm := 0.0
	var overLimit int64
	if err := tx.WithContext(ctx).
		Model(&subscriptiondomain.FeatureUsage{}).
		Where("subscription_id = ? AND feature_limit > 0 AND used > feature_limit", sub.ID).
		Count(&overLimit).Error; err != nil {
		return err
	}
	if overLimit > 0 {
		overageTerm = 20 * 0.1
	}

	sub.ChurnRiskScore = int(math.Round(paymentTerm + inactivityTerm + overageTerm))
	sub.ChurnRiskFactors = datatypes.JSONMap{
		"payment":    paymentTerm,
		"inactivity": inactivityTerm,
		"overage":    overageTerm,
	}
	return nil
}

// ListDuePeriods implements domain.Service. System-scoped.
func (s *Service) ListDuePeriods(ctx context.Context, now time.Time) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		Where("status IN ? AND period_end <= ?", []subscriptiondomain.Status{
			subscriptiondomain.StatusActive,
			subscriptiondomain.StatusPastDue,
		}, now).
		Order("period_end ASC").
		Find(&subs).Error
	return subs, err
}

// RollPeriod closes the current billing period and either advances it, applies
// a scheduled plan change, finalizes a deferred cancellation, or expires the
// subscription when auto-renew is off.
func (s *Service) RollPeriod(ctx context.Context, subscriptionID snowflake.ID, invoiceID *snowflake.ID, now time.Time) (subscriptiondomain.Subscription, error) {
	sub, err := s.loadByID(ctx, subscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	if sub.Status != subscriptiondomain.StatusActive && sub.Status != subscriptiondomain.StatusPastDue {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStatus
	}
	if sub.PeriodEnd.After(now) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidStatus
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		closed := subscriptiondomain.Period{
			ID:             s.genID.Generate(),
			OrgID:          sub.OrgID,
			SubscriptionID: sub.ID,
			StartAt:        sub.PeriodStart,
			EndAt:          sub.PeriodEnd,
			InvoiceID:      invoiceID,
			ClosedAt:       now,
		}
		if err := s.periodRepo.WithTrx(tx).Create(ctx, &closed); err != nil {
			return err
		}

		if sub.CancelEffectiveAt != nil && !sub.CancelEffectiveAt.After(now) {
			sub.CancelledAt = &now
			if err := s.transition(ctx, tx, sub, subscriptiondomain.StatusCancelled, "cancel_at_period_end", now); err != nil {
				return err
			}
			return s.persist(ctx, tx, sub, now)
		}

		if !sub.AutoRenew {
			if err := s.transition(ctx, tx, sub, subscriptiondomain.StatusExpired, "auto_renew_off", now); err != nil {
				return err
			}
			return s.persist(ctx, tx, sub, now)
		}

		if sub.PendingPlanID != nil && sub.PendingPlanAt != nil && !sub.PendingPlanAt.After(now) {
			plan, err := s.plansvc.GetByID(ctx, *sub.PendingPlanID)
			if err != nil {
				return err
			}
			sub.PlanID = plan.ID
			sub.AmountCents = plan.AmountCents
			sub.Interval = plan.Interval
			sub.IntervalCount = plan.IntervalCount
			sub.PendingPlanID = nil
			sub.PendingPlanAt = nil
		}

		newStart := sub.PeriodEnd
		newEnd := newStart.AddDate(0, 0, sub.PeriodDays())
		sub.PeriodStart = newStart
		sub.PeriodEnd = newEnd
		sub.NextRenewalAt = &newEnd

		return s.persist(ctx, tx, sub, now)
	}); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.audit(ctx, sub.OrgID, "subscription.roll_period", sub.ID, map[string]any{
		"status": string(sub.Status),
	})

	return *sub, nil
}

// ListDueRetries implements domain.Service. System-scoped.
func (s *Service) ListDueRetries(ctx context.Context, now time.Time) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ? AND status IN ?", now, []subscriptiondomain.Status{
			subscriptiondomain.StatusActive,
			subscriptiondomain.StatusPastDue,
		}).
		Order("next_retry_at ASC").
		Find(&subs).Error
	return subs, err
}

// SweepRenewalReminders dispatches reminders for upcoming renewals. Each
// subscription/renewal/offset triple is sent at most once.
func (s *Service) SweepRenewalReminders(ctx context.Context, now time.Time) (int, error) {
	var subs []subscriptiondomain.Subscription
	if err := s.db.WithContext(ctx).
		Where("status IN ? AND next_renewal_at IS NOT NULL AND next_renewal_at > ?", []subscriptiondomain.Status{
			subscriptiondomain.StatusActive,
			subscriptiondomain.StatusTrialing,
		}, now).
		Find(&subs).Error; err != nil {
		return 0, err
	}

	sent := 0
	for i := range subs {
		sub := &subs[i]
		cfg := s.billing.Current().ForOrg(sub.OrgID.String())
		renewalAt := sub.NextRenewalAt.UTC()
		daysLeft := int(math.Ceil(renewalAt.Sub(now).Hours() / 24))

		for _, offset := range cfg.ReminderOffsetsDays {
			if daysLeft > offset {
				continue
			}

			reminder := subscriptiondomain.RenewalReminder{
				ID:             s.genID.Generate(),
				OrgID:          sub.OrgID,
				SubscriptionID: sub.ID,
				RenewalAt:      renewalAt,
				OffsetDays:     offset,
				SentAt:         now,
			}
			res := s.db.WithContext(ctx).
				Clauses(clause.OnConflict{DoNothing: true}).
				Create(&reminder)
			if res.Error != nil {
				return sent, res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}

			s.notify(ctx, sub.OrgID, notifdomain.EventRenewalReminder, map[string]any{
				"subscription_id": sub.ID.String(),
				"renewal_at":      renewalAt.Format(time.RFC3339),
				"days_left":       offset,
			})
			sent++
		}
	}

	return sent, nil
}

// SweepResumes reactivates paused subscriptions whose resume date has passed.
func (s *Service) SweepResumes(ctx context.Context, now time.Time) (int, error) {
	var subs []subscriptiondomain.Subscription
	if err := s.db.WithContext(ctx).
		Where("status = ? AND resume_at IS NOT NULL AND resume_at <= ?", subscriptiondomain.StatusPaused, now).
		Find(&subs).Error; err != nil {
		return 0, err
	}

	resumed := 0
	for i := range subs {
		sub := subs[i]
		ctx := orgcontext.WithOrgID(ctx, sub.OrgID)
		if _, err := s.Resume(ctx, sub.ID.String()); err != nil {
			s.log.Warn("scheduled resume failed",
				zap.Int64("subscription_id", int64(sub.ID)),
				zap.Error(err),
			)
			continue
		}
		resumed++
	}

	return resumed, nil
}

func (s *Service) notify(ctx context.Context, orgID snowflake.ID, eventType notifdomain.EventType, data map[string]any) {
	profile, err := s.orgsvc.BillingProfile(ctx, orgID)
	if err != nil {
		s.log.Warn("billing profile lookup for notification failed",
			zap.Int64("org_id", int64(orgID)),
			zap.Error(err),
		)
		return
	}

	event := notifdomain.Event{
		Type:      eventType,
		OrgID:     orgID,
		Recipient: profile.Email,
		Subject:   subjectFor(eventType),
		Data:      data,
	}
	if err := s.notifier.Dispatch(ctx, event); err != nil {
		s.log.Warn("notification dispatch failed",
			zap.String("type", string(eventType)),
			zap.Int64("org_id", int64(orgID)),
			zap.Error(err),
		)
	}
}

func subjectFor(eventType notifdomain.EventType) string {
	switch eventType {
	case notifdomain.EventRenewalReminder:
		return "Your subscription renews soon"
	case notifdomain.EventSubscriptionPastDue:
		return "Action required: payment past due"
	case notifdomain.EventPaymentFailed:
		return "Payment attempt failed"
	default:
		return fmt.Sprintf("Billing notification: %s", eventType)
	}
}
