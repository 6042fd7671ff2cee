package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/faktur/internal/audit/domain"
	"github.com/smallbiznis/faktur/internal/cache"
	"github.com/smallbiznis/faktur/internal/clock"
	"github.com/smallbiznis/faktur/internal/config"
	"github.com/smallbiznis/faktur/internal/feature"
	meterdomain "github.com/smallbiznis/faktur/internal/meter/domain"
	"github.com/smallbiznis/faktur/internal/observability/metrics"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	plandomain "github.com/smallbiznis/faktur/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/faktur/internal/usage/domain"
	"github.com/smallbiznis/faktur/pkg/money"
	"github.com/smallbiznis/faktur/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const resolverCacheTTL = 30 * time.Second

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	billing *config.BillingConfigHolder

	usageRepo repository.Repository[usagedomain.UsageRecord]

	metersvc        meterdomain.Service
	plansvc         plandomain.Service
	subscriptionsvc subscriptiondomain.Service
	auditsvc        auditdomain.Service
	metrics         *metrics.Metrics

	// Ingest hot-path caches; keys are org-scoped.
	meterCache *cache.TTL[string, meterdomain.Meter]
	subCache   *cache.TTL[snowflake.ID, subscriptiondomain.Subscription]
	rateCache  *cache.TTL[string, plandomain.OverageRate]
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Billing *config.BillingConfigHolder

	Metersvc        meterdomain.Service
	Plansvc         plandomain.Service
	Subscriptionsvc subscriptiondomain.Service
	Auditsvc        auditdomain.Service
	Metrics         *metrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,

		usageRepo: repository.ProvideStore[usagedomain.UsageRecord](p.DB),

		metersvc:        p.Metersvc,
		plansvc:         p.Plansvc,
		subscriptionsvc: p.Subscriptionsvc,
		auditsvc:        p.Auditsvc,
		metrics:         p.Metrics,

		meterCache: cache.New[string, meterdomain.Meter](resolverCacheTTL),
		subCache:   cache.New[snowflake.ID, subscriptiondomain.Subscription](resolverCacheTTL),
		rateCache:  cache.New[string, plandomain.OverageRate](resolverCacheTTL),
	}
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (usagedomain.UsageRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidOrganization
	}

	meterCode := strings.TrimSpace(req.MeterCode)
	if meterCode == "" {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidMetric
	}
	if req.Quantity < 0 {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidQuantity
	}
	if !req.PeriodStart.Before(req.PeriodEnd) {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidPeriod
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := s.usageRepo.FindOne(ctx, &usagedomain.UsageRecord{OrgID: orgID, IdempotencyKey: &key})
		if err != nil {
			return usagedomain.UsageRecord{}, err
		}
		if existing != nil {
			return *existing, nil
		}
	}

	meter, err := s.resolveMeter(ctx, orgID, meterCode)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	sub, err := s.resolveSubscription(ctx, orgID)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	rate, err := s.resolveRate(ctx, sub.PlanID, meterCode)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	now := s.clock.Now().UTC()
	previous, err := s.previousQuantity(ctx, orgID, meterCode, req.Resource)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	record := usagedomain.UsageRecord{
		ID:               s.genID.Generate(),
		OrgID:            orgID,
		SubscriptionID:   &sub.ID,
		MeterCode:        meterCode,
		Unit:             meter.Unit,
		Category:         meter.Category,
		Aggregation:      meter.Aggregation,
		Quantity:         req.Quantity,
		PreviousQuantity: previous,
		Delta:            req.Quantity - previous,
		Resource:         strings.TrimSpace(req.Resource),
		PeriodStart:      req.PeriodStart.UTC(),
		PeriodEnd:        req.PeriodEnd.UTC(),
		Granularity:      usagedomain.GranularityRaw,
		BillingStatus:    usagedomain.BillingUnbilled,
		ValidationStatus: usagedomain.ValidationPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		record.IdempotencyKey = &key
	}

	s.calculateCost(&record, rate)
	if err := s.runValidation(ctx, &record, meter); err != nil {
		return usagedomain.UsageRecord{}, err
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record)
	if res.Error != nil {
		return usagedomain.UsageRecord{}, res.Error
	}
	if res.RowsAffected == 0 && record.IdempotencyKey != nil {
		// Lost the idempotency race, return the winner.
		existing, err := s.usageRepo.FindOne(ctx, &usagedomain.UsageRecord{OrgID: orgID, IdempotencyKey: record.IdempotencyKey})
		if err != nil {
			return usagedomain.UsageRecord{}, err
		}
		if existing != nil {
			return *existing, nil
		}
	}

	switch record.ValidationStatus {
	case usagedomain.ValidationValid:
		s.metrics.IncUsageIngested(meterCode)
	case usagedomain.ValidationInvalid:
		s.metrics.IncUsageRejected(meterCode, "invalid")
	case usagedomain.ValidationAnomaly:
		s.metrics.IncUsageRejected(meterCode, "anomaly")
	}

	return record, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (usagedomain.UsageRecord, error) {
	record, err := s.loadForOrg(ctx, id)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}
	return *record, nil
}

// calculateCost fills the billing sub-record from the plan's overage rate.
func (s *Service) calculateCost(record *usagedomain.UsageRecord, rate plandomain.OverageRate) {
	record.RateCents = rate.RateCents
	record.RatePer = rate.Per
	record.MinimumCents = rate.MinimumCents

	billable := record.Quantity
	if rate.IncludedAllowance > 0 {
		billable = math.Max(0, record.Quantity-rate.IncludedAllowance)
		record.AllowanceApplied = record.Quantity - billable
		record.Included = billable == 0
	}
	record.BillableQuantity = billable

	per := rate.Per
	if per <= 0 {
		per = 1
	}

	cost := money.Round(billable / per * float64(rate.RateCents))
	if billable > 0 && cost < rate.MinimumCents {
		cost = rate.MinimumCents
	}

	if rate.DiscountType != nil && rate.DiscountValue != nil {
		switch *rate.DiscountType {
		case plandomain.DiscountPercentage:
			cost -= money.Percent(cost, *rate.DiscountValue)
		case plandomain.DiscountFixed:
			// Fixed discounts are expressed in minor units.
			cost -= money.Round(*rate.DiscountValue)
		}
		if cost < 0 {
			cost = 0
		}
	}

	record.CalculatedCostCents = cost
	record.FinalCostCents = cost
}

// runValidation applies range, delta-spike, duplicate and anomaly checks.
// An anomaly overrides the other outcomes so the record is held for review.
func (s *Service) runValidation(ctx context.Context, record *usagedomain.UsageRecord, meter meterdomain.Meter) error {
	status := usagedomain.ValidationValid

	record.RangeOK = true
	if meter.MinValue != nil && record.Quantity < *meter.MinValue {
		record.RangeOK = false
	}
	if meter.MaxValue != nil && record.Quantity > *meter.MaxValue {
		record.RangeOK = false
	}

	record.DeltaOK = true
	if meter.MaxDelta != nil && math.Abs(record.Delta) > *meter.MaxDelta {
		record.DeltaOK = false
	}

	if !record.RangeOK || !record.DeltaOK {
		status = usagedomain.ValidationInvalid
	}

	var duplicate usagedomain.UsageRecord
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND meter_code = ? AND period_start = ? AND period_end = ? AND resource = ? AND id <> ? AND is_aggregate = ?",
			record.OrgID, record.MeterCode, record.PeriodStart, record.PeriodEnd, record.Resource, record.ID, false).
		First(&duplicate).Error
	if err == nil {
		record.DuplicateOf = &duplicate.ID
		status = usagedomain.ValidationInvalid
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	cfg := s.billing.Current().ForOrg(record.OrgID.String())
	if record.PreviousQuantity > 0 && feature.InRollout(record.OrgID.String(), cfg.AnomalyReviewRolloutPercent) {
		changePct := math.Abs(record.Delta/record.PreviousQuantity) * 100
		if changePct > cfg.AnomalyDeltaPercent {
			record.AnomalyDetected = true
			record.AnomalyScore = math.Min(changePct/10, 100)
			status = usagedomain.ValidationAnomaly
		}
	}

	record.ValidationStatus = status
	return nil
}

func (s *Service) previousQuantity(ctx context.Context, orgID snowflake.ID, meterCode, resource string) (float64, error) {
	var last usagedomain.UsageRecord
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND meter_code = ? AND resource = ? AND is_aggregate = ?",
			orgID, meterCode, strings.TrimSpace(resource), false).
		Order("period_end DESC").
		First(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return last.Quantity, nil
}

func (s *Service) resolveMeter(ctx context.Context, orgID snowflake.ID, code string) (meterdomain.Meter, error) {
	key := orgID.String() + ":" + code
	if meter, ok := s.meterCache.Get(key); ok {
		return meter, nil
	}

	meter, err := s.metersvc.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, meterdomain.ErrMeterNotFound) {
			return meterdomain.Meter{}, usagedomain.ErrInvalidMetric
		}
		return meterdomain.Meter{}, err
	}

	s.meterCache.Set(key, meter)
	return meter, nil
}

func (s *Service) resolveSubscription(ctx context.Context, orgID snowflake.ID) (subscriptiondomain.Subscription, error) {
	if sub, ok := s.subCache.Get(orgID); ok {
		return sub, nil
	}

	sub, err := s.subscriptionsvc.GetActiveByOrg(ctx)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.subCache.Set(orgID, sub)
	return sub, nil
}

func (s *Service) resolveRate(ctx context.Context, planID snowflake.ID, meterCode string) (plandomain.OverageRate, error) {
	key := planID.String() + ":" + meterCode
	if rate, ok := s.rateCache.Get(key); ok {
		return rate, nil
	}

	rate, err := s.plansvc.OverageRate(ctx, planID, meterCode)
	if err != nil {
		if errors.Is(err, plandomain.ErrInvalidMetric) {
			return plandomain.OverageRate{}, usagedomain.ErrInvalidMetric
		}
		return plandomain.OverageRate{}, err
	}

	s.rateCache.Set(key, rate)
	return rate, nil
}

func (s *Service) loadForOrg(ctx context.Context, id string) (*usagedomain.UsageRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, usagedomain.ErrInvalidOrganization
	}

	recordID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || recordID == 0 {
		return nil, usagedomain.ErrInvalidRecord
	}

	item, err := s.usageRepo.FindOne(ctx, &usagedomain.UsageRecord{ID: recordID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, usagedomain.ErrRecordNotFound
	}
	return item, nil
}

// persist writes the full snapshot guarded by the version column.
func (s *Service) persist(ctx context.Context, tx *gorm.DB, record *usagedomain.UsageRecord, now time.Time) error {
	current := record.Version
	record.Version = current + 1
	record.UpdatedAt = now

	res := tx.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("id = ? AND version = ?", record.ID, current).
		Select("*").
		Omit("id", "created_at").
		Updates(record)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return usagedomain.ErrConflict
	}
	return nil
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	target := targetID.String()
	_ = s.auditsvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeSystem), nil, action, "usage_record", &target, metadata)
}

