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
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	meterdomain "github.com/smallbiznis/faktur/internal/meter/domain"
	notifdomain "github.com/smallbiznis/faktur/internal/notification/domain"
	"github.com/smallbiznis/faktur/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/faktur/internal/organization/domain"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	plandomain "github.com/smallbiznis/faktur/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/faktur/internal/usage/domain"
	usageservice "github.com/smallbiznis/faktur/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type orgStub struct {
	profile orgdomain.BillingProfile
}

func (o *orgStub) GetByID(ctx context.Context, id snowflake.ID) (orgdomain.Organization, error) {
	return orgdomain.Organization{ID: id, Name: o.profile.Name, BillingEmail: o.profile.Email, Currency: o.profile.Currency}, nil
}

func (o *orgStub) BillingProfile(ctx context.Context, id snowflake.ID) (orgdomain.BillingProfile, error) {
	return o.profile, nil
}

type subscriptionStub struct {
	subscriptiondomain.Service

	sub subscriptiondomain.Subscription
}

func (s *subscriptionStub) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	parsed, err := snowflake.ParseString(id)
	if err != nil || parsed != s.sub.ID {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
	}
	return s.sub, nil
}

func (s *subscriptionStub) GetActiveByOrg(ctx context.Context) (subscriptiondomain.Subscription, error) {
	return s.sub, nil
}

type meterStub struct {
	meter meterdomain.Meter
}

func (m *meterStub) Create(ctx context.Context, req meterdomain.CreateRequest) (meterdomain.Meter, error) {
	return m.meter, nil
}

func (m *meterStub) GetByCode(ctx context.Context, code string) (meterdomain.Meter, error) {
	if code != m.meter.Code {
		return meterdomain.Meter{}, meterdomain.ErrMeterNotFound
	}
	return m.meter, nil
}

func (m *meterStub) List(ctx context.Context) ([]meterdomain.Meter, error) {
	return []meterdomain.Meter{m.meter}, nil
}

type planStub struct {
	rate plandomain.OverageRate
}

func (p *planStub) GetByID(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	return plandomain.Plan{}, plandomain.ErrPlanNotFound
}

func (p *planStub) GetByCode(ctx context.Context, code string) (plandomain.Plan, error) {
	return plandomain.Plan{}, plandomain.ErrPlanNotFound
}

func (p *planStub) List(ctx context.Context) ([]plandomain.Plan, error) {
	return nil, nil
}

func (p *planStub) OverageRate(ctx context.Context, planID snowflake.ID, meterCode string) (plandomain.OverageRate, error) {
	return p.rate, nil
}

func (p *planStub) FeatureLimits(ctx context.Context, planID snowflake.ID) ([]plandomain.FeatureLimit, error) {
	return nil, nil
}

type usageStub struct {
	usagedomain.Service

	mu        sync.Mutex
	billable  []usagedomain.UsageRecord
	invoiced  []snowflake.ID
	invoiceID snowflake.ID
}

func (u *usageStub) ListBillableForSubscription(ctx context.Context, subscriptionID snowflake.ID, periodStart, periodEnd time.Time) ([]usagedomain.UsageRecord, error) {
	return u.billable, nil
}

func (u *usageStub) MarkInvoicedIn(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.invoiced = append(u.invoiced, ids...)
	u.invoiceID = invoiceID
	return nil
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

func (n *notifierStub) Events() []notifdomain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notifdomain.Event, len(n.events))
	copy(out, n.events)
	return out
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

type invoiceFixture struct {
	svc      invoicedomain.Service
	db       *gorm.DB
	node     *snowflake.Node
	clk      *clock.FakeClock
	orgID    snowflake.ID
	sub      *subscriptionStub
	usage    *usageStub
	notifier *notifierStub
}

func setupInvoiceService(t *testing.T, start time.Time) *invoiceFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.Line{},
		&invoicedomain.Transaction{},
		&invoicedomain.SendEvent{},
	))

	node := mustNode(t)
	orgID := node.Generate()
	clk := clock.NewFakeClock(start)

	sub := &subscriptionStub{sub: subscriptiondomain.Subscription{
		ID:          node.Generate(),
		OrgID:       orgID,
		AmountCents: 2900,
		Currency:    "USD",
	}}
	usage := &usageStub{}
	notifier := &notifierStub{}

	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),

		Orgsvc:          &orgStub{profile: orgdomain.BillingProfile{Name: "Acme Corp", Email: "billing@acme.test", Currency: "USD"}},
		Subscriptionsvc: sub,
		Usagesvc:        usage,
		Auditsvc:        &auditStub{},
		Notifier:        notifier,
		Metrics:         metrics.New(metrics.NewRegistry()),
	})

	return &invoiceFixture{
		svc:      svc,
		db:       db,
		node:     node,
		clk:      clk,
		orgID:    orgID,
		sub:      sub,
		usage:    usage,
		notifier: notifier,
	}
}

func (f *invoiceFixture) ctx() context.Context {
	return orgcontext.WithOrgID(context.Background(), f.orgID)
}

func (f *invoiceFixture) createManual(t *testing.T, totalCents int64) invoicedomain.Detail {
	t.Helper()
	detail, err := f.svc.Create(f.ctx(), invoicedomain.CreateRequest{
		Lines: []invoicedomain.LineInput{{
			Description:    "Consulting",
			Quantity:       1,
			UnitPriceCents: totalCents,
		}},
	})
	require.NoError(t, err)
	return detail
}

func TestCreateAssignsSequentialNumbers(t *testing.T) {
	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	f := setupInvoiceService(t, start)

	first := f.createManual(t, 10000)
	second := f.createManual(t, 5000)

	assert.Equal(t, "INV-202603-0001", first.Invoice.Number)
	assert.Equal(t, "INV-202603-0002", second.Invoice.Number)
	assert.Equal(t, 1, first.Invoice.Sequence)
	assert.Equal(t, 2, second.Invoice.Sequence)
	assert.Equal(t, "202603", first.Invoice.YearMonth)
}

func TestCreateSnapshotsCustomerAndDueDate(t *testing.T) {
	start := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	f := setupInvoiceService(t, start)

	detail := f.createManual(t, 10000)

	assert.Equal(t, "Acme Corp", detail.Invoice.CustomerName)
	assert.Equal(t, "billing@acme.test", detail.Invoice.CustomerEmail)
	assert.Equal(t, "USD", detail.Invoice.Currency)
	assert.Equal(t, invoicedomain.StatusDraft, detail.Invoice.Status)
	assert.Equal(t, start.AddDate(0, 0, 14), detail.Invoice.DueAt)
	assert.Equal(t, int64(10000), detail.Invoice.TotalCents)
	assert.Equal(t, int64(10000), detail.Invoice.AmountDueCents)
}

func TestCreateRequiresLines(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.Create(f.ctx(), invoicedomain.CreateRequest{})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidLine)
}

func TestCreateForSubscriptionIncludesUsageLines(t *testing.T) {
	start := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	f := setupInvoiceService(t, start)

	recordA := usagedomain.UsageRecord{
		ID:               f.node.Generate(),
		MeterCode:        "api_calls",
		Unit:             "call",
		BillableQuantity: 1500,
		FinalCostCents:   750,
	}
	recordB := usagedomain.UsageRecord{
		ID:               f.node.Generate(),
		MeterCode:        "storage_gb",
		Unit:             "gb",
		BillableQuantity: 12,
		FinalCostCents:   600,
	}
	f.usage.billable = []usagedomain.UsageRecord{recordA, recordB}

	periodStart := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	detail, err := f.svc.CreateForSubscription(f.ctx(), invoicedomain.CreateForSubscriptionRequest{
		SubscriptionID: f.sub.sub.ID.String(),
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	})
	require.NoError(t, err)

	require.Len(t, detail.Lines, 3)
	assert.Equal(t, invoicedomain.TypeSubscription, detail.Invoice.Type)
	assert.Equal(t, int64(2900), detail.Lines[0].AmountCents)
	assert.Contains(t, detail.Lines[1].Description, "api_calls")
	assert.Equal(t, int64(2900+750+600), detail.Invoice.TotalCents)

	require.NotNil(t, detail.Invoice.PeriodStart)
	assert.True(t, detail.Invoice.PeriodStart.Equal(periodStart))

	assert.ElementsMatch(t, []snowflake.ID{recordA.ID, recordB.ID}, f.usage.invoiced)
	assert.Equal(t, detail.Invoice.ID, f.usage.invoiceID)
}

func TestCreateForSubscriptionRejectsInvertedPeriod(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.svc.CreateForSubscription(f.ctx(), invoicedomain.CreateForSubscriptionRequest{
		SubscriptionID: f.sub.sub.ID.String(),
		PeriodStart:    time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:      time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidInvoice)
}

// Wires the real usage service and the invoice service over one database
// handle, the way the application composes them. The usage status flip has
// to run inside the invoice transaction, so this must finish without the
// two services fighting over the write lock.
func TestCreateForSubscriptionFlipsUsageInSameStore(t *testing.T) {
	start := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&invoicedomain.Line{},
		&invoicedomain.Transaction{},
		&invoicedomain.SendEvent{},
		&usagedomain.UsageRecord{},
	))

	node := mustNode(t)
	orgID := node.Generate()
	clk := clock.NewFakeClock(start)
	billing := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	sub := &subscriptionStub{sub: subscriptiondomain.Subscription{
		ID:          node.Generate(),
		OrgID:       orgID,
		PlanID:      node.Generate(),
		Status:      subscriptiondomain.StatusActive,
		AmountCents: 2900,
		Currency:    "USD",
	}}

	usageSvc := usageservice.NewService(usageservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Billing: billing,

		Metersvc: &meterStub{meter: meterdomain.Meter{
			ID:          node.Generate(),
			OrgID:       orgID,
			Code:        "api_calls",
			Name:        "API Calls",
			Unit:        "call",
			Aggregation: meterdomain.AggregationSum,
			Active:      true,
		}},
		Plansvc:         &planStub{rate: plandomain.OverageRate{RateCents: 10, Per: 1}},
		Subscriptionsvc: sub,
		Auditsvc:        &auditStub{},
		Metrics:         metrics.New(metrics.NewRegistry()),
	})

	invoiceSvc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   clk,
		Billing: billing,

		Orgsvc:          &orgStub{profile: orgdomain.BillingProfile{Name: "Acme Corp", Email: "billing@acme.test", Currency: "USD"}},
		Subscriptionsvc: sub,
		Usagesvc:        usageSvc,
		Auditsvc:        &auditStub{},
		Notifier:        &notifierStub{},
		Metrics:         metrics.New(metrics.NewRegistry()),
	})

	ctx := orgcontext.WithOrgID(context.Background(), orgID)
	rec, err := usageSvc.Record(ctx, usagedomain.RecordRequest{
		MeterCode:   "api_calls",
		Quantity:    50,
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 0, 1),
	})
	require.NoError(t, err)

	detail, err := invoiceSvc.CreateForSubscription(ctx, invoicedomain.CreateForSubscriptionRequest{
		SubscriptionID: sub.sub.ID.String(),
		PeriodStart:    start,
		PeriodEnd:      start.AddDate(0, 1, 0),
	})
	require.NoError(t, err)
	require.Len(t, detail.Lines, 2)
	assert.Equal(t, int64(2900+500), detail.Invoice.TotalCents)

	var stored usagedomain.UsageRecord
	require.NoError(t, db.First(&stored, "id = ?", rec.ID).Error)
	assert.Equal(t, usagedomain.BillingInvoiced, stored.BillingStatus)
	require.NotNil(t, stored.InvoiceID)
	assert.Equal(t, detail.Invoice.ID, *stored.InvoiceID)

	billable, err := usageSvc.ListBillableForSubscription(ctx, sub.sub.ID, start, start.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Empty(t, billable)
}

func TestRecordPaymentLifecycle(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 10000)

	inv, err := f.svc.RecordPayment(f.ctx(), invoicedomain.RecordPaymentRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 6000,
		Method:      "card",
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusPartial, inv.Status)
	assert.Equal(t, int64(6000), inv.AmountPaidCents)
	assert.Equal(t, int64(4000), inv.AmountDueCents)

	inv, err = f.svc.RecordPayment(f.ctx(), invoicedomain.RecordPaymentRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 4000,
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusPaid, inv.Status)
	assert.Equal(t, int64(0), inv.AmountDueCents)

	full, err := f.svc.GetByID(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)
	assert.Len(t, full.Transactions, 2)
}

func TestRecordPaymentRejectsExcess(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 10000)

	_, err := f.svc.RecordPayment(f.ctx(), invoicedomain.RecordPaymentRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 10001,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrExcessPayment)

	_, err = f.svc.RecordPayment(f.ctx(), invoicedomain.RecordPaymentRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 0,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidAmount)

	unchanged, err := f.svc.GetByID(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)
	assert.Equal(t, int64(0), unchanged.Invoice.AmountPaidCents)
	assert.Empty(t, unchanged.Transactions)
}

func TestRefundPartialAddsCreditLine(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 10000)

	_, err := f.svc.RecordPayment(f.ctx(), invoicedomain.RecordPaymentRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 10000,
	})
	require.NoError(t, err)

	inv, err := f.svc.Refund(f.ctx(), invoicedomain.RefundRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 2500,
		Reason:      "overcharge",
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusPartial, inv.Status)
	assert.Equal(t, int64(7500), inv.AmountPaidCents)
	// Totals keep the original charge; the refund is a memo line.
	assert.Equal(t, int64(10000), inv.TotalCents)

	full, err := f.svc.GetByID(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)
	require.Len(t, full.Lines, 2)
	assert.Equal(t, invoicedomain.LineTypeCredit, full.Lines[1].Type)
	assert.Equal(t, int64(-2500), full.Lines[1].AmountCents)
	assert.Contains(t, full.Lines[1].Description, "overcharge")
}

func TestRefundFullMarksRefunded(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 10000)

	_, err := f.svc.RecordPayment(f.ctx(), invoicedomain.RecordPaymentRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 10000,
	})
	require.NoError(t, err)

	inv, err := f.svc.Refund(f.ctx(), invoicedomain.RefundRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 10000,
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusRefunded, inv.Status)

	_, err = f.svc.Refund(f.ctx(), invoicedomain.RefundRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 1,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrExcessRefund)
}

func TestVoidGuards(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 10000)

	_, err := f.svc.RecordPayment(f.ctx(), invoicedomain.RecordPaymentRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 100,
	})
	require.NoError(t, err)

	_, err = f.svc.Void(f.ctx(), invoicedomain.VoidRequest{InvoiceID: detail.Invoice.ID.String()})
	assert.ErrorIs(t, err, invoicedomain.ErrHasPayments)

	other := f.createManual(t, 3000)
	inv, err := f.svc.Void(f.ctx(), invoicedomain.VoidRequest{
		InvoiceID: other.Invoice.ID.String(),
		Reason:    "duplicate",
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusVoid, inv.Status)
	require.NotNil(t, inv.VoidReason)
	assert.Equal(t, "duplicate", *inv.VoidReason)
	require.NotNil(t, inv.VoidedAt)

	_, err = f.svc.Void(f.ctx(), invoicedomain.VoidRequest{InvoiceID: other.Invoice.ID.String()})
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyVoid)
}

func TestDisputeFreezesSentInvoice(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 10000)

	// Drafts were never delivered so there is nothing to contest.
	_, err := f.svc.Dispute(f.ctx(), invoicedomain.DisputeRequest{InvoiceID: detail.Invoice.ID.String()})
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStatus)

	_, err = f.svc.MarkAsSent(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)

	inv, err := f.svc.Dispute(f.ctx(), invoicedomain.DisputeRequest{
		InvoiceID: detail.Invoice.ID.String(),
		Reason:    "service not rendered",
	})
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusDisputed, inv.Status)
	require.NotNil(t, inv.DisputeReason)
	assert.Equal(t, "service not rendered", *inv.DisputeReason)
	require.NotNil(t, inv.DisputedAt)

	_, err = f.svc.Dispute(f.ctx(), invoicedomain.DisputeRequest{InvoiceID: detail.Invoice.ID.String()})
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyDisputed)

	// Disputed invoices cannot be re-sent.
	_, err = f.svc.MarkAsSent(f.ctx(), detail.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrInvalidStatus)
}

func TestApplyCreditCapsAtAmountDue(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 4000)

	result, err := f.svc.ApplyCredit(f.ctx(), invoicedomain.ApplyCreditRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 6000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), result.AppliedCents)
	assert.Equal(t, int64(2000), result.RemainingCents)

	full, err := f.svc.GetByID(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusPaid, full.Invoice.Status)
	assert.Equal(t, int64(4000), full.Invoice.CreditAppliedCents)

	_, err = f.svc.ApplyCredit(f.ctx(), invoicedomain.ApplyCreditRequest{
		InvoiceID:   detail.Invoice.ID.String(),
		AmountCents: 100,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyPaid)
}

func TestMarkAsSentTransitionsAndNotifies(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 10000)

	inv, err := f.svc.MarkAsSent(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusSent, inv.Status)
	assert.Equal(t, 1, inv.SendCount)
	require.NotNil(t, inv.LastSentAt)

	events := f.notifier.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notifdomain.EventInvoiceSent, events[0].Type)
	assert.Equal(t, "billing@acme.test", events[0].Recipient)

	var sendEvents int64
	require.NoError(t, f.db.Model(&invoicedomain.SendEvent{}).
		Where("invoice_id = ?", inv.ID).
		Count(&sendEvents).Error)
	assert.Equal(t, int64(1), sendEvents)

	// A resend bumps the counter without changing status.
	inv, err = f.svc.MarkAsSent(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusSent, inv.Status)
	assert.Equal(t, 2, inv.SendCount)
}

func TestMarkAsSentRejectsTerminalStates(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))

	paid := f.createManual(t, 500)
	_, err := f.svc.RecordPayment(f.ctx(), invoicedomain.RecordPaymentRequest{
		InvoiceID:   paid.Invoice.ID.String(),
		AmountCents: 500,
	})
	require.NoError(t, err)
	_, err = f.svc.MarkAsSent(f.ctx(), paid.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyPaid)

	voided := f.createManual(t, 500)
	_, err = f.svc.Void(f.ctx(), invoicedomain.VoidRequest{InvoiceID: voided.Invoice.ID.String()})
	require.NoError(t, err)
	_, err = f.svc.MarkAsSent(f.ctx(), voided.Invoice.ID.String())
	assert.ErrorIs(t, err, invoicedomain.ErrAlreadyVoid)
}

func TestAddLineRecomputesTotals(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 10000)

	updated, err := f.svc.AddLine(f.ctx(), invoicedomain.AddLineRequest{
		InvoiceID: detail.Invoice.ID.String(),
		Line: invoicedomain.LineInput{
			Description:    "Setup fee",
			Quantity:       1,
			UnitPriceCents: 2500,
		},
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 2)
	assert.Equal(t, 2, updated.Lines[1].Position)
	assert.Equal(t, int64(12500), updated.Invoice.TotalCents)
	assert.Equal(t, int64(12500), updated.Invoice.AmountDueCents)
}

func TestSweepOverdueFlipsSentInvoices(t *testing.T) {
	start := time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC)
	f := setupInvoiceService(t, start)
	detail := f.createManual(t, 10000)

	_, err := f.svc.MarkAsSent(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)

	// Not yet due.
	f.clk.Advance(24 * time.Hour)
	flipped, err := f.svc.SweepOverdue(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, flipped)

	f.clk.Advance(15 * 24 * time.Hour)
	flipped, err = f.svc.SweepOverdue(context.Background(), f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, flipped)

	full, err := f.svc.GetByID(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.StatusOverdue, full.Invoice.Status)

	var sawOverdue bool
	for _, event := range f.notifier.Events() {
		if event.Type == notifdomain.EventInvoiceOverdue {
			sawOverdue = true
		}
	}
	assert.True(t, sawOverdue)
}

func TestMarkExportedStampsTimestamp(t *testing.T) {
	f := setupInvoiceService(t, time.Date(2026, time.May, 2, 8, 0, 0, 0, time.UTC))
	detail := f.createManual(t, 1000)

	inv, err := f.svc.MarkExported(f.ctx(), detail.Invoice.ID.String())
	require.NoError(t, err)
	require.NotNil(t, inv.ExportedAt)
	assert.True(t, inv.ExportedAt.Equal(f.clk.Now().UTC()))
}
