package service

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/smallbiznis/faktur/internal/meter/domain"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	usagedomain "github.com/smallbiznis/faktur/internal/usage/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func (s *Service) Bill(ctx context.Context, id string) (usagedomain.UsageRecord, error) {
	record, err := s.loadForOrg(ctx, id)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	switch record.BillingStatus {
	case usagedomain.BillingBilled:
		return usagedomain.UsageRecord{}, usagedomain.ErrAlreadyBilled
	case usagedomain.BillingInvoiced:
		return usagedomain.UsageRecord{}, usagedomain.ErrAlreadyInvoiced
	case usagedomain.BillingUnbilled:
	default:
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidBillingState
	}

	if record.ValidationStatus != usagedomain.ValidationValid {
		return usagedomain.UsageRecord{}, usagedomain.ErrNotBillable
	}

	now := s.clock.Now().UTC()
	record.BillingStatus = usagedomain.BillingBilled
	if err := s.persist(ctx, s.db, record, now); err != nil {
		return usagedomain.UsageRecord{}, err
	}

	s.audit(ctx, record.OrgID, "usage.bill", record.ID, nil)
	return *record, nil
}

func (s *Service) Dispute(ctx context.Context, id string) (usagedomain.UsageRecord, error) {
	record, err := s.loadForOrg(ctx, id)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	if record.BillingStatus != usagedomain.BillingBilled && record.BillingStatus != usagedomain.BillingInvoiced {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidBillingState
	}

	now := s.clock.Now().UTC()
	record.BillingStatus = usagedomain.BillingDisputed
	if err := s.persist(ctx, s.db, record, now); err != nil {
		return usagedomain.UsageRecord{}, err
	}

	s.audit(ctx, record.OrgID, "usage.dispute", record.ID, nil)
	return *record, nil
}

func (s *Service) Waive(ctx context.Context, id string) (usagedomain.UsageRecord, error) {
	record, err := s.loadForOrg(ctx, id)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	switch record.BillingStatus {
	case usagedomain.BillingInvoiced:
		return usagedomain.UsageRecord{}, usagedomain.ErrAlreadyInvoiced
	case usagedomain.BillingUnbilled, usagedomain.BillingBilled:
	default:
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidBillingState
	}

	now := s.clock.Now().UTC()
	record.BillingStatus = usagedomain.BillingWaived
	if err := s.persist(ctx, s.db, record, now); err != nil {
		return usagedomain.UsageRecord{}, err
	}

	s.audit(ctx, record.OrgID, "usage.waive", record.ID, nil)
	return *record, nil
}

func (s *Service) AdjustCost(ctx context.Context, req usagedomain.AdjustCostRequest) (usagedomain.UsageRecord, error) {
	record, err := s.loadForOrg(ctx, req.RecordID)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	if record.BillingStatus == usagedomain.BillingInvoiced {
		return usagedomain.UsageRecord{}, usagedomain.ErrAlreadyInvoiced
	}
	if req.AdjustedCostCents < 0 {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidRecord
	}

	now := s.clock.Now().UTC()
	adjusted := req.AdjustedCostCents
	record.AdjustedCostCents = &adjusted
	record.FinalCostCents = adjusted
	if err := s.persist(ctx, s.db, record, now); err != nil {
		return usagedomain.UsageRecord{}, err
	}

	s.audit(ctx, record.OrgID, "usage.adjust_cost", record.ID, map[string]any{
		"adjusted_cost_cents": adjusted,
		"reason":              req.Reason,
	})
	return *record, nil
}

// Review resolves an anomaly hold. Approval makes the record billable.
func (s *Service) Review(ctx context.Context, req usagedomain.ReviewRequest) (usagedomain.UsageRecord, error) {
	record, err := s.loadForOrg(ctx, req.RecordID)
	if err != nil {
		return usagedomain.UsageRecord{}, err
	}

	if record.ValidationStatus != usagedomain.ValidationAnomaly && record.ValidationStatus != usagedomain.ValidationPending {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidRecord
	}

	now := s.clock.Now().UTC()
	record.ReviewedAt = &now
	if reviewer := strings.TrimSpace(req.Reviewer); reviewer != "" {
		record.ReviewedBy = &reviewer
	}
	if req.Approve {
		record.ValidationStatus = usagedomain.ValidationValid
	} else {
		record.ValidationStatus = usagedomain.ValidationInvalid
	}

	if err := s.persist(ctx, s.db, record, now); err != nil {
		return usagedomain.UsageRecord{}, err
	}

	s.audit(ctx, record.OrgID, "usage.review", record.ID, map[string]any{
		"approved": req.Approve,
	})
	return *record, nil
}

func (s *Service) Aggregate(ctx context.Context, req usagedomain.AggregateRequest) (usagedomain.UsageRecord, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidOrganization
	}

	meterCode := strings.TrimSpace(req.MeterCode)
	if meterCode == "" {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidMetric
	}
	if !req.PeriodStart.Before(req.PeriodEnd) {
		return usagedomain.UsageRecord{}, usagedomain.ErrInvalidPeriod
	}

	granularity := req.Granularity
	if granularity == "" || granularity == usagedomain.GranularityRaw {
		granularity = usagedomain.GranularityDaily
	}

	return s.aggregateWindow(ctx, orgID, meterCode, req.PeriodStart.UTC(), req.PeriodEnd.UTC(), granularity)
}

// aggregateWindow folds the window's billable raw records into one parent and
// marks the children billed so they can never be billed independently again.
func (s *Service) aggregateWindow(ctx context.Context, orgID snowflake.ID, meterCode string, periodStart, periodEnd time.Time, granularity usagedomain.Granularity) (usagedomain.UsageRecord, error) {
	var children []usagedomain.UsageRecord
	if err := s.db.WithContext(ctx).
		Where("org_id = ? AND meter_code = ? AND is_aggregate = ? AND parent_id IS NULL", orgID, meterCode, false).
		Where("billing_status = ? AND validation_status = ?", usagedomain.BillingUnbilled, usagedomain.ValidationValid).
		Where("period_start >= ? AND period_start < ?", periodStart, periodEnd).
		Order("period_start ASC").
		Find(&children).Error; err != nil {
		return usagedomain.UsageRecord{}, err
	}

	if len(children) == 0 {
		return usagedomain.UsageRecord{}, usagedomain.ErrNoRecordsToRollup
	}

	now := s.clock.Now().UTC()
	first := children[0]

	parent := usagedomain.UsageRecord{
		ID:               s.genID.Generate(),
		OrgID:            orgID,
		SubscriptionID:   first.SubscriptionID,
		MeterCode:        meterCode,
		Unit:             first.Unit,
		Category:         first.Category,
		Aggregation:      first.Aggregation,
		Resource:         first.Resource,
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		Granularity:      granularity,
		BillingStatus:    usagedomain.BillingUnbilled,
		ValidationStatus: usagedomain.ValidationValid,
		RateCents:        first.RateCents,
		RatePer:          first.RatePer,
		MinimumCents:     first.MinimumCents,
		IsAggregate:      true,
		ChildCount:       len(children),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	quantities := make([]float64, 0, len(children))
	var costSum int64
	for _, child := range children {
		quantities = append(quantities, child.Quantity)
		costSum += child.FinalCostCents
	}

	parent.Quantity = combineQuantities(first.Aggregation, children)
	parent.BillableQuantity = parent.Quantity
	parent.CalculatedCostCents = costSum
	parent.FinalCostCents = costSum
	parent.Stats = quantityStats(quantities)

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.usageRepo.WithTrx(tx).Create(ctx, &parent); err != nil {
			return err
		}

		ids := make([]snowflake.ID, 0, len(children))
		for _, child := range children {
			ids = append(ids, child.ID)
		}
		return tx.WithContext(ctx).
			Model(&usagedomain.UsageRecord{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"billing_status": usagedomain.BillingBilled,
				"parent_id":      parent.ID,
				"updated_at":     now,
			}).Error
	}); err != nil {
		return usagedomain.UsageRecord{}, err
	}

	s.audit(ctx, orgID, "usage.aggregate", parent.ID, map[string]any{
		"meter_code":  meterCode,
		"child_count": len(children),
	})

	return parent, nil
}

func combineQuantities(aggregation meterdomain.Aggregation, children []usagedomain.UsageRecord) float64 {
	switch aggregation {
	case meterdomain.AggregationMax:
		max := children[0].Quantity
		for _, child := range children[1:] {
			if child.Quantity > max {
				max = child.Quantity
			}
		}
		return max
	case meterdomain.AggregationAvg:
		var sum float64
		for _, child := range children {
			sum += child.Quantity
		}
		return sum / float64(len(children))
	case meterdomain.AggregationLast:
		return children[len(children)-1].Quantity
	default:
		var sum float64
		for _, child := range children {
			sum += child.Quantity
		}
		return sum
	}
}

func quantityStats(quantities []float64) datatypes.JSONMap {
	sorted := make([]float64, len(quantities))
	copy(sorted, quantities)
	sort.Float64s(sorted)

	n := len(sorted)
	var sum float64
	for _, q := range sorted {
		sum += q
	}

	percentile := func(p float64) float64 {
		idx := int(math.Floor(float64(n) * p))
		if idx >= n {
			idx = n - 1
		}
		return sorted[idx]
	}

	return datatypes.JSONMap{
		"min":   sorted[0],
		"max":   sorted[n-1],
		"sum":   sum,
		"count": n,
		"avg":   sum / float64(n),
		"p95":   percentile(0.95),
		"p99":   percentile(0.99),
	}
}

func (s *Service) Summary(ctx context.Context, req usagedomain.SummaryRequest) (usagedomain.SummaryResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return usagedomain.SummaryResponse{}, usagedomain.ErrInvalidOrganization
	}
	if !req.PeriodStart.Before(req.PeriodEnd) {
		return usagedomain.SummaryResponse{}, usagedomain.ErrInvalidPeriod
	}

	query := s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Select(`meter_code,
			MAX(unit) AS unit,
			SUM(quantity) AS total_quantity,
			SUM(CASE WHEN validation_status = 'valid' AND included = false THEN 1 ELSE 0 END) AS billable_count,
			SUM(CASE WHEN validation_status = 'valid' AND included = false THEN final_cost_cents ELSE 0 END) AS total_cost_cents`).
		Where("org_id = ? AND parent_id IS NULL", orgID).
		Where("period_start >= ? AND period_start < ?", req.PeriodStart.UTC(), req.PeriodEnd.UTC()).
		Group("meter_code").
		Order("meter_code ASC")

	if meterCode := strings.TrimSpace(req.MeterCode); meterCode != "" {
		query = query.Where("meter_code = ?", meterCode)
	}

	var meters []usagedomain.MeterSummary
	if err := query.Scan(&meters).Error; err != nil {
		return usagedomain.SummaryResponse{}, err
	}

	return usagedomain.SummaryResponse{
		PeriodStart: req.PeriodStart.UTC(),
		PeriodEnd:   req.PeriodEnd.UTC(),
		Meters:      meters,
	}, nil
}

// ListBillableForSubscription implements domain.Service. Aggregated children
// are excluded because aggregation already moved them to billed.
func (s *Service) ListBillableForSubscription(ctx context.Context, subscriptionID snowflake.ID, periodStart, periodEnd time.Time) ([]usagedomain.UsageRecord, error) {
	var records []usagedomain.UsageRecord
	err := s.db.WithContext(ctx).
		Where("subscription_id = ? AND billing_status = ? AND validation_status = ? AND included = ? AND parent_id IS NULL",
			subscriptionID, usagedomain.BillingUnbilled, usagedomain.ValidationValid, false).
		Where("period_start >= ? AND period_start < ?", periodStart, periodEnd).
		Order("period_start ASC").
		Find(&records).Error
	return records, err
}

// MarkInvoiced implements domain.Service.
func (s *Service) MarkInvoiced(ctx context.Context, ids []snowflake.ID, invoiceID snowflake.ID) error {
	return s.markInvoiced(ctx, s.db, ids, invoiceID)
}

// MarkInvoicedIn implements domain.Service. The invoice engine calls this
// from inside its own transaction so the status flip commits or rolls back
// together with the invoice.
func (s *Service) MarkInvoicedIn(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) error {
	return s.markInvoiced(ctx, tx, ids, invoiceID)
}

func (s *Service) markInvoiced(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	now := s.clock.Now().UTC()
	return db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"billing_status": usagedomain.BillingInvoiced,
			"invoice_id":     invoiceID,
			"updated_at":     now,
		}).Error
}

type rollupGroup struct {
	OrgID     snowflake.ID `gorm:"column:org_id"`
	MeterCode string       `gorm:"column:meter_code"`
	StartAt   time.Time    `gorm:"column:start_at"`
	EndAt     time.Time    `gorm:"column:end_at"`
}

// SweepRollups aggregates closed-window raw usage per tenant and meter.
// Safe to re-run: children already marked billed drop out of the next scan.
func (s *Service) SweepRollups(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Truncate(24 * time.Hour)

	var groups []rollupGroup
	if err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Select("org_id, meter_code, MIN(period_start) AS start_at, MAX(period_end) AS end_at").
		Where("is_aggregate = ? AND parent_id IS NULL AND billing_status = ? AND validation_status = ?",
			false, usagedomain.BillingUnbilled, usagedomain.ValidationValid).
		Where("period_end <= ?", cutoff).
		Group("org_id, meter_code").
		Scan(&groups).Error; err != nil {
		return 0, err
	}

	rolled := 0
	for _, group := range groups {
		groupCtx := orgcontext.WithOrgID(ctx, group.OrgID)
		if _, err := s.aggregateWindow(groupCtx, group.OrgID, group.MeterCode, group.StartAt, group.EndAt.Add(time.Nanosecond), usagedomain.GranularityDaily); err != nil {
			if err == usagedomain.ErrNoRecordsToRollup {
				continue
			}
			s.log.Warn("usage rollup failed",
				zap.Int64("org_id", int64(group.OrgID)),
				zap.String("meter_code", group.MeterCode),
				zap.Error(err),
			)
			continue
		}
		rolled++
	}

	return rolled, nil
}

// PurgeExpired deletes raw records that were already rolled into an aggregate
// and fell out of the tenant's retention window.
func (s *Service) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var orgIDs []snowflake.ID
	if err := s.db.WithContext(ctx).
		Model(&usagedomain.UsageRecord{}).
		Distinct("org_id").
		Where("parent_id IS NOT NULL").
		Pluck("org_id", &orgIDs).Error; err != nil {
		return 0, err
	}

	var purged int64
	for _, orgID := range orgIDs {
		cfg := s.billing.Current().ForOrg(orgID.String())
		cutoff := now.UTC().AddDate(0, 0, -cfg.UsageRetentionDays)

		res := s.db.WithContext(ctx).
			Where("org_id = ? AND parent_id IS NOT NULL AND created_at < ?", orgID, cutoff).
			Delete(&usagedomain.UsageRecord{})
		if res.Error != nil {
			return purged, res.Error
		}
		purged += res.RowsAffected
	}

	return purged, nil
}
