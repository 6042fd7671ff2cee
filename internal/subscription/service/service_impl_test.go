package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/faktur/internal/audit/domain"
	"github.com/smallbiznis/faktur/internal/clock"
	"github.com/smallbiznis/faktur/internal/config"
	notifdomain "github.com/smallbiznis/faktur/internal/notification/domain"
	"github.com/smallbiznis/faktur/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/faktur/internal/organization/domain"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	plandomain "github.com/smallbiznis/faktur/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type planStub struct {
	plans  []plandomain.Plan
	limits map[snowflake.ID][]plandomain.FeatureLimit
}

func (p *planStub) GetByID(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	for _, plan := range p.plans {
		if plan.ID == id {
			return plan, nil
		}
	}
	return plandomain.Plan{}, plandomain.ErrPlanNotFound
}

func (p *planStub) GetByCode(ctx context.Context, code string) (plandomain.Plan, error) {
	for _, plan := range p.plans {
		if plan.Code == code {
			return plan, nil
		}
	}
	return plandomain.Plan{}, plandomain.ErrPlanNotFound
}

func (p *planStub) List(ctx context.Context) ([]plandomain.Plan, error) {
	return p.plans, nil
}

func (p *planStub) OverageRate(ctx context.Context, planID snowflake.ID, meterCode string) (plandomain.OverageRate, error) {
	return plandomain.OverageRate{}, plandomain.ErrInvalidMetric
}

func (p *planStub) FeatureLimits(ctx context.Context, planID snowflake.ID) ([]plandomain.FeatureLimit, error) {
	return p.limits[planID], nil
}

type orgStub struct{}

func (o *orgStub) GetByID(ctx context.Context, id snowflake.ID) (orgdomain.Organization, error) {
	return orgdomain.Organization{ID: id, Name: "Acme", BillingEmail: "billing@acme.test", Currency: "USD", Active: true}, nil
}

func (o *orgStub) BillingProfile(ctx context.Context, id snowflake.ID) (orgdomain.BillingProfile, error) {
	return orgdomain.BillingProfile{Name: "Acme", Email: "billing@acme.test", Currency: "USD"}, nil
}

type auditStub struct{}

func (a *auditStub) AuditLog(ctx context.Context, orgID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (a *auditStub) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

type notifierStub struct {
	mu     sync.Mutex
	events []notifdomain.Event
}

func (n *notifierStub) Dispatch(ctx context.Context, event notifdomain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *notifierStub) CountByType(eventType notifdomain.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, event := range n.events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

type subscriptionFixture struct {
	svc      subscriptiondomain.Service
	db       *gorm.DB
	node     *snowflake.Node
	clk      *clock.FakeClock
	orgID    snowflake.ID
	plans    *planStub
	notifier *notifierStub

	basic plandomain.Plan
	pro   plandomain.Plan
	trial plandomain.Plan
}

func setupSubscriptionService(t *testing.T, start time.Time) *subscriptionFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.StateHistory{},
		&subscriptiondomain.Period{},
		&subscriptiondomain.RenewalReminder{},
		&subscriptiondomain.FeatureUsage{},
		&subscriptiondomain.PlanChange{},
	))

	node := mustNode(t)
	clk := clock.NewFakeClock(start)

	basic := plandomain.Plan{
		ID:            node.Generate(),
		Code:          "basic",
		Name:          "Basic",
		AmountCents:   1000,
		Currency:      "USD",
		Interval:      plandomain.IntervalMonth,
		IntervalCount: 1,
		Active:        true,
	}
	pro := plandomain.Plan{
		ID:            node.Generate(),
		Code:          "pro",
		Name:          "Pro",
		AmountCents:   2000,
		Currency:      "USD",
		Interval:      plandomain.IntervalMonth,
		IntervalCount: 1,
		Active:        true,
	}
	trial := plandomain.Plan{
		ID:            node.Generate(),
		Code:          "trial",
		Name:          "Trial",
		AmountCents:   1500,
		Currency:      "USD",
		Interval:      plandomain.IntervalMonth,
		IntervalCount: 1,
		TrialDays:     14,
		Active:        true,
	}

	plans := &planStub{
		plans: []plandomain.Plan{basic, pro, trial},
		limits: map[snowflake.ID][]plandomain.FeatureLimit{
			basic.ID: {{PlanID: basic.ID, FeatureCode: "seats", Limit: 100}},
		},
	}
	notifier := &notifierStub{}

	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),

		Plansvc:  plans,
		Orgsvc:   &orgStub{},
		Auditsvc: &auditStub{},
		Notifier: notifier,
		Metrics:  metrics.New(metrics.NewRegistry()),
	})

	return &subscriptionFixture{
		svc:      svc,
		db:       db,
		node:     node,
		clk:      clk,
		orgID:    node.Generate(),
		plans:    plans,
		notifier: notifier,
		basic:    basic,
		pro:      pro,
		trial:    trial,
	}
}

func (f *subscriptionFixture) ctx() context.Context {
	return orgcontext.WithOrgID(context.Background(), f.orgID)
}

func (f *subscriptionFixture) createActive(t *testing.T, planCode string) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.svc.Create(f.ctx(), subscriptiondomain.CreateRequest{PlanCode: planCode})
	require.NoError(t, err)
	active, err := f.svc.Activate(f.ctx(), sub.ID.String())
	require.NoError(t, err)
	return active
}

func TestCreateStartsPending(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)

	sub, err := f.svc.Create(f.ctx(), subscriptiondomain.CreateRequest{PlanCode: "basic"})
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.StatusPending, sub.Status)
	assert.Equal(t, int64(1000), sub.AmountCents)
	assert.True(t, sub.PeriodStart.Equal(start))
	assert.True(t, sub.PeriodEnd.Equal(start.AddDate(0, 0, 30)))
	assert.True(t, sub.AutoRenew)
	assert.Nil(t, sub.TrialEnd)

	history, err := f.svc.StateHistory(f.ctx(), sub.ID.String())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, subscriptiondomain.StatusPending, history[0].Status)
}

func TestCreateWithTrialStartsTrialing(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)

	sub, err := f.svc.Create(f.ctx(), subscriptiondomain.CreateRequest{PlanCode: "trial"})
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.StatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialEnd)
	assert.True(t, sub.TrialEnd.Equal(start.AddDate(0, 0, 14)))
}

func TestActivateIsNotRepeatable(t *testing.T) {
	f := setupSubscriptionService(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	sub := f.createActive(t, "basic")

	assert.Equal(t, subscriptiondomain.StatusActive, sub.Status)

	_, err := f.svc.Activate(f.ctx(), sub.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyActive)
}

func TestCancelImmediate(t *testing.T) {
	f := setupSubscriptionService(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	sub := f.createActive(t, "basic")

	cancelled, err := f.svc.Cancel(f.ctx(), subscriptiondomain.CancelRequest{
		SubscriptionID: sub.ID.String(),
		Reason:         "too expensive",
		Immediate:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCancelled, cancelled.Status)
	assert.False(t, cancelled.AutoRenew)
	require.NotNil(t, cancelled.CancelledAt)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "too expensive", *cancelled.CancelReason)

	_, err = f.svc.Cancel(f.ctx(), subscriptiondomain.CancelRequest{
		SubscriptionID: sub.ID.String(),
		Immediate:      true,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAlreadyCancelled)
}

func TestCancelAtPeriodEndDefersUntilRollover(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)
	sub := f.createActive(t, "basic")

	deferred, err := f.svc.Cancel(f.ctx(), subscriptiondomain.CancelRequest{
		SubscriptionID: sub.ID.String(),
		Reason:         "switching vendors",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, deferred.Status)
	require.NotNil(t, deferred.CancelEffectiveAt)
	assert.True(t, deferred.CancelEffectiveAt.Equal(sub.PeriodEnd))
	assert.Nil(t, deferred.CancelledAt)

	f.clk.Advance(31 * 24 * time.Hour)
	rolled, err := f.svc.RollPeriod(context.Background(), sub.ID, nil, f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusCancelled, rolled.Status)
	require.NotNil(t, rolled.CancelledAt)
}

func TestRollPeriodAdvancesWindow(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)
	sub := f.createActive(t, "basic")

	f.clk.Advance(30 * 24 * time.Hour)
	invoiceID := f.node.Generate()
	rolled, err := f.svc.RollPeriod(context.Background(), sub.ID, &invoiceID, f.clk.Now())
	require.NoError(t, err)

	assert.Equal(t, subscriptiondomain.StatusActive, rolled.Status)
	assert.True(t, rolled.PeriodStart.Equal(sub.PeriodEnd))
	assert.True(t, rolled.PeriodEnd.Equal(sub.PeriodEnd.AddDate(0, 0, 30)))

	var periods []subscriptiondomain.Period
	require.NoError(t, f.db.Where("subscription_id = ?", sub.ID).Find(&periods).Error)
	require.Len(t, periods, 1)
	require.NotNil(t, periods[0].InvoiceID)
	assert.Equal(t, invoiceID, *periods[0].InvoiceID)
	assert.True(t, periods[0].StartAt.Equal(sub.PeriodStart))
}

func TestRollPeriodRejectsEarlyRollover(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)
	sub := f.createActive(t, "basic")

	_, err := f.svc.RollPeriod(context.Background(), sub.ID, nil, f.clk.Now())
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
}

func TestRollPeriodExpiresWhenAutoRenewOff(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)

	autoRenew := false
	sub, err := f.svc.Create(f.ctx(), subscriptiondomain.CreateRequest{PlanCode: "basic", AutoRenew: &autoRenew})
	require.NoError(t, err)
	_, err = f.svc.Activate(f.ctx(), sub.ID.String())
	require.NoError(t, err)

	f.clk.Advance(30 * 24 * time.Hour)
	rolled, err := f.svc.RollPeriod(context.Background(), sub.ID, nil, f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusExpired, rolled.Status)
}

func TestUpgradePlanImmediateProration(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)
	sub := f.createActive(t, "basic")

	// Halfway through a 30 day period, half the price delta remains.
	f.clk.Advance(15 * 24 * time.Hour)
	resp, err := f.svc.UpgradePlan(f.ctx(), subscriptiondomain.UpgradePlanRequest{
		SubscriptionID: sub.ID.String(),
		NewPlanCode:    "pro",
		Immediate:      true,
	})
	require.NoError(t, err)

	assert.False(t, resp.Scheduled)
	assert.Equal(t, int64(500), resp.ProrationCents)
	assert.Equal(t, f.pro.ID, resp.Subscription.PlanID)
	assert.Equal(t, int64(2000), resp.Subscription.AmountCents)

	var changes []subscriptiondomain.PlanChange
	require.NoError(t, f.db.Where("subscription_id = ?", sub.ID).Find(&changes).Error)
	require.Len(t, changes, 1)
	assert.Equal(t, int64(500), changes[0].ProrationCents)
	assert.True(t, changes[0].Immediate)
}

func TestUpgradePlanDeferredAppliesAtRollover(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)
	sub := f.createActive(t, "basic")

	resp, err := f.svc.UpgradePlan(f.ctx(), subscriptiondomain.UpgradePlanRequest{
		SubscriptionID: sub.ID.String(),
		NewPlanCode:    "pro",
	})
	require.NoError(t, err)
	assert.True(t, resp.Scheduled)
	assert.Equal(t, int64(0), resp.ProrationCents)
	require.NotNil(t, resp.Subscription.PendingPlanID)
	assert.Equal(t, f.pro.ID, *resp.Subscription.PendingPlanID)
	assert.Equal(t, f.basic.ID, resp.Subscription.PlanID)

	f.clk.Advance(30 * 24 * time.Hour)
	rolled, err := f.svc.RollPeriod(context.Background(), sub.ID, nil, f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, f.pro.ID, rolled.PlanID)
	assert.Equal(t, int64(2000), rolled.AmountCents)
	assert.Nil(t, rolled.PendingPlanID)
}

func TestUpgradePlanRejectsSamePlan(t *testing.T) {
	f := setupSubscriptionService(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	sub := f.createActive(t, "basic")

	_, err := f.svc.UpgradePlan(f.ctx(), subscriptiondomain.UpgradePlanRequest{
		SubscriptionID: sub.ID.String(),
		NewPlanCode:    "basic",
		Immediate:      true,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSamePlan)
}

func TestFailedPaymentsEscalateToPastDue(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)
	sub := f.createActive(t, "basic")

	req := subscriptiondomain.RecordFailedPaymentRequest{
		SubscriptionID: sub.ID.String(),
		Reason:         "card_declined",
	}

	first, err := f.svc.RecordFailedPayment(f.ctx(), req)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, first.Status)
	assert.Equal(t, 1, first.FailedAttempts)
	require.NotNil(t, first.NextRetryAt)
	assert.True(t, first.NextRetryAt.Equal(f.clk.Now().UTC().AddDate(0, 0, 1)))

	_, err = f.svc.RecordFailedPayment(f.ctx(), req)
	require.NoError(t, err)

	third, err := f.svc.RecordFailedPayment(f.ctx(), req)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPastDue, third.Status)
	assert.True(t, third.RequiresPaymentUpdate)
	assert.Equal(t, 3, third.FailedAttempts)
	require.NotNil(t, third.NextRetryAt)
	assert.True(t, third.NextRetryAt.Equal(f.clk.Now().UTC().AddDate(0, 0, 5)))
	require.NotNil(t, third.LastFailureReason)
	assert.Equal(t, "card_declined", *third.LastFailureReason)

	assert.Equal(t, 1, f.notifier.CountByType(notifdomain.EventSubscriptionPastDue))
}

func TestRecordPaymentRecoversPastDue(t *testing.T) {
	f := setupSubscriptionService(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	sub := f.createActive(t, "basic")

	for i := 0; i < 3; i++ {
		_, err := f.svc.RecordFailedPayment(f.ctx(), subscriptiondomain.RecordFailedPaymentRequest{
			SubscriptionID: sub.ID.String(),
			Reason:         "card_declined",
		})
		require.NoError(t, err)
	}

	recovered, err := f.svc.RecordPayment(f.ctx(), subscriptiondomain.RecordPaymentRequest{
		SubscriptionID: sub.ID.String(),
		AmountCents:    1000,
		Method:         "card",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, recovered.Status)
	assert.Equal(t, 0, recovered.FailedAttempts)
	assert.False(t, recovered.RequiresPaymentUpdate)
	assert.Nil(t, recovered.NextRetryAt)
	assert.Nil(t, recovered.LastFailureReason)
}

func TestPauseAndResumeRecomputePeriod(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)
	sub := f.createActive(t, "basic")

	paused, err := f.svc.Pause(f.ctx(), subscriptiondomain.PauseRequest{
		SubscriptionID: sub.ID.String(),
		Reason:         "seasonal",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	resumed, err := f.svc.Resume(f.ctx(), sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, resumed.Status)
	assert.Nil(t, resumed.PausedAt)
	assert.True(t, resumed.PeriodStart.Equal(sub.PeriodEnd))
	assert.True(t, resumed.PeriodEnd.Equal(sub.PeriodEnd.AddDate(0, 0, 30)))
}

func TestPauseGuards(t *testing.T) {
	f := setupSubscriptionService(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))

	pending, err := f.svc.Create(f.ctx(), subscriptiondomain.CreateRequest{PlanCode: "basic"})
	require.NoError(t, err)
	_, err = f.svc.Pause(f.ctx(), subscriptiondomain.PauseRequest{SubscriptionID: pending.ID.String()})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidTransition)

	active := f.createActive(t, "pro")
	past := f.clk.Now().Add(-time.Hour)
	_, err = f.svc.Pause(f.ctx(), subscriptiondomain.PauseRequest{
		SubscriptionID: active.ID.String(),
		ResumeAt:       &past,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidResumeDate)

	_, err = f.svc.Resume(f.ctx(), active.ID.String())
	assert.ErrorIs(t, err, subscriptiondomain.ErrNotPaused)
}

func TestTrackFeatureUsageAccumulates(t *testing.T) {
	f := setupSubscriptionService(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	sub := f.createActive(t, "basic")

	require.NoError(t, f.svc.TrackFeatureUsage(f.ctx(), subscriptiondomain.TrackFeatureUsageRequest{
		SubscriptionID: sub.ID.String(),
		FeatureCode:    "seats",
		Delta:          60,
	}))
	require.NoError(t, f.svc.TrackFeatureUsage(f.ctx(), subscriptiondomain.TrackFeatureUsageRequest{
		SubscriptionID: sub.ID.String(),
		FeatureCode:    "seats",
		Delta:          50,
	}))

	var usage subscriptiondomain.FeatureUsage
	require.NoError(t, f.db.
		Where("subscription_id = ? AND feature_code = ?", sub.ID, "seats").
		First(&usage).Error)
	assert.Equal(t, int64(110), usage.Used)
	assert.Equal(t, int64(100), usage.Limit)

	// Over the limit counts toward churn risk.
	current, err := f.svc.GetByID(f.ctx(), sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, current.ChurnRiskScore)
}

func TestChurnRiskWeighsPaymentFailures(t *testing.T) {
	f := setupSubscriptionService(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	sub := f.createActive(t, "basic")

	failed, err := f.svc.RecordFailedPayment(f.ctx(), subscriptiondomain.RecordFailedPaymentRequest{
		SubscriptionID: sub.ID.String(),
		Reason:         "card_declined",
	})
	require.NoError(t, err)
	// One failure: min(10, 30) * 0.3 = 3.
	assert.Equal(t, 3, failed.ChurnRiskScore)
}

func TestSweepRenewalRemindersIsIdempotent(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)
	sub := f.createActive(t, "basic")

	// 27 days in, renewal is 3 days out: the 7 and 3 day offsets fire.
	f.clk.Advance(27 * 24 * time.Hour)
	sent, err := f.svc.SweepRenewalReminders(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 2, f.notifier.CountByType(notifdomain.EventRenewalReminder))

	sent, err = f.svc.SweepRenewalReminders(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	var reminders []subscriptiondomain.RenewalReminder
	require.NoError(t, f.db.Where("subscription_id = ?", sub.ID).Find(&reminders).Error)
	assert.Len(t, reminders, 2)
}

func TestSweepResumesReactivatesDuePauses(t *testing.T) {
	start := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	f := setupSubscriptionService(t, start)
	sub := f.createActive(t, "basic")

	resumeAt := start.Add(48 * time.Hour)
	_, err := f.svc.Pause(f.ctx(), subscriptiondomain.PauseRequest{
		SubscriptionID: sub.ID.String(),
		ResumeAt:       &resumeAt,
	})
	require.NoError(t, err)

	resumed, err := f.svc.SweepResumes(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, resumed)

	f.clk.Advance(72 * time.Hour)
	resumed, err = f.svc.SweepResumes(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	current, err := f.svc.GetByID(f.ctx(), sub.ID.String())
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusActive, current.Status)
}

func TestListFiltersByStatus(t *testing.T) {
	f := setupSubscriptionService(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))
	f.createActive(t, "basic")
	_, err := f.svc.Create(f.ctx(), subscriptiondomain.CreateRequest{PlanCode: "pro"})
	require.NoError(t, err)

	resp, err := f.svc.List(f.ctx(), subscriptiondomain.ListRequest{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, resp.Subscriptions, 1)
	assert.Equal(t, subscriptiondomain.StatusPending, resp.Subscriptions[0].Status)

	_, err = f.svc.List(f.ctx(), subscriptiondomain.ListRequest{Status: "bogus"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidStatus)
}

func TestRequiresOrgContext(t *testing.T) {
	f := setupSubscriptionService(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.Create(context.Background(), subscriptiondomain.CreateRequest{PlanCode: "basic"})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidOrganization)
}
