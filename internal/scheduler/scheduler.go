// Package scheduler runs the periodic billing sweeps: period rollover with
// invoice generation, payment retries, overdue scans, usage rollups, renewal
// reminders and usage retention. Every job is idempotent; a crashed run is
// simply picked up by the next tick.
package scheduler

import (
	"context"
	"errors"
	"time"

	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	"github.com/smallbiznis/faktur/internal/clock"
	"github.com/smallbiznis/faktur/internal/observability/metrics"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	paymentdomain "github.com/smallbiznis/faktur/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/faktur/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock

	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	UsageSvc        usagedomain.Service
	PaymentProvider paymentdomain.Provider
	Metrics         *metrics.Metrics
	Config          Config `optional:"true"`
}

type Scheduler struct {
	log   *zap.Logger
	cfg   Config
	clock clock.Clock

	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	usageSvc        usagedomain.Service
	paymentProvider paymentdomain.Provider
	metrics         *metrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.SubscriptionSvc == nil || p.InvoiceSvc == nil || p.UsageSvc == nil || p.Metrics == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:   p.Log.Named("scheduler"),
		cfg:   p.Config.withDefaults(),
		clock: p.Clock,

		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		usageSvc:        p.UsageSvc,
		paymentProvider: p.PaymentProvider,
		metrics:         p.Metrics,
	}, nil
}

// RunForever ticks until the context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes every sweep a single time.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.runJob(ctx, "period_rollover", s.sweepPeriods)
	s.runJob(ctx, "payment_retries", s.sweepPaymentRetries)
	s.runJob(ctx, "overdue_invoices", s.sweepOverdue)
	s.runJob(ctx, "usage_rollup", s.sweepUsageRollups)
	s.runJob(ctx, "renewal_reminders", s.sweepReminders)
	s.runJob(ctx, "scheduled_resumes", s.sweepResumes)
	s.runJob(ctx, "usage_retention", s.sweepRetention)
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	s.metrics.IncJobRun(name)
	log := s.log.With(zap.String("job", name))

	if err := fn(ctx); err != nil {
		s.metrics.IncJobError(name)
		log.Error("sweep failed", zap.Error(err))
	}
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
}

// sweepPeriods closes due billing periods: generate the period invoice, then
// roll the subscription forward (or cancel/expire it).
func (s *Scheduler) sweepPeriods(ctx context.Context) error {
	now := s.clock.Now().UTC()
	due, err := s.subscriptionSvc.ListDuePeriods(ctx, now)
	if err != nil {
		return err
	}

	for _, sub := range due {
		orgCtx := orgcontext.WithOrgID(ctx, sub.OrgID)

		detail, err := s.invoiceSvc.CreateForSubscription(orgCtx, invoicedomain.CreateForSubscriptionRequest{
			SubscriptionID: sub.ID.String(),
			PeriodStart:    sub.PeriodStart,
			PeriodEnd:      sub.PeriodEnd,
		})
		if err != nil {
			s.log.Warn("period invoice failed",
				zap.Int64("subscription_id", int64(sub.ID)),
				zap.Error(err),
			)
			continue
		}

		invoiceID := detail.Invoice.ID
		if _, err := s.subscriptionSvc.RollPeriod(ctx, sub.ID, &invoiceID, now); err != nil {
			s.log.Warn("period rollover failed",
				zap.Int64("subscription_id", int64(sub.ID)),
				zap.Error(err),
			)
			continue
		}

		if _, err := s.invoiceSvc.MarkAsSent(orgCtx, invoiceID.String()); err != nil {
			s.log.Warn("invoice send failed",
				zap.Int64("invoice_id", int64(invoiceID)),
				zap.Error(err),
			)
		}
	}

	return nil
}

// sweepPaymentRetries charges subscriptions whose retry window arrived and
// feeds the outcome back into the lifecycle manager.
func (s *Scheduler) sweepPaymentRetries(ctx context.Context) error {
	now := s.clock.Now().UTC()
	due, err := s.subscriptionSvc.ListDueRetries(ctx, now)
	if err != nil {
		return err
	}

	for _, sub := range due {
		orgCtx := orgcontext.WithOrgID(ctx, sub.OrgID)

		result, err := s.paymentProvider.Charge(ctx, paymentdomain.ChargeRequest{
			OrgID:       sub.OrgID,
			AmountCents: sub.AmountCents,
			Currency:    sub.Currency,
			Reference:   sub.ID.String(),
		})

		if err != nil || !result.Succeeded {
			reason := "charge_failed"
			if err != nil {
				reason = err.Error()
			} else if result.FailureCode != "" {
				reason = result.FailureCode
			}
			if _, err := s.subscriptionSvc.RecordFailedPayment(orgCtx, subscriptiondomain.RecordFailedPaymentRequest{
				SubscriptionID: sub.ID.String(),
				Reason:         reason,
			}); err != nil {
				s.log.Warn("failed payment record failed",
					zap.Int64("subscription_id", int64(sub.ID)),
					zap.Error(err),
				)
			}
			continue
		}

		if _, err := s.subscriptionSvc.RecordPayment(orgCtx, subscriptiondomain.RecordPaymentRequest{
			SubscriptionID: sub.ID.String(),
			AmountCents:    sub.AmountCents,
			Reference:      result.ProviderRef,
		}); err != nil {
			s.log.Warn("payment record failed",
				zap.Int64("subscription_id", int64(sub.ID)),
				zap.Error(err),
			)
		}
	}

	return nil
}

func (s *Scheduler) sweepOverdue(ctx context.Context) error {
	_, err := s.invoiceSvc.SweepOverdue(ctx, s.clock.Now().UTC())
	return err
}

func (s *Scheduler) sweepUsageRollups(ctx context.Context) error {
	_, err := s.usageSvc.SweepRollups(ctx, s.clock.Now().UTC())
	return err
}

func (s *Scheduler) sweepReminders(ctx context.Context) error {
	_, err := s.subscriptionSvc.SweepRenewalReminders(ctx, s.clock.Now().UTC())
	return err
}

func (s *Scheduler) sweepResumes(ctx context.Context) error {
	_, err := s.subscriptionSvc.SweepResumes(ctx, s.clock.Now().UTC())
	return err
}

func (s *Scheduler) sweepRetention(ctx context.Context) error {
	_, err := s.usageSvc.PurgeExpired(ctx, s.clock.Now().UTC())
	return err
}
