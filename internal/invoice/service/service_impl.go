package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/faktur/internal/audit/domain"
	"github.com/smallbiznis/faktur/internal/clock"
	"github.com/smallbiznis/faktur/internal/config"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	notifdomain "github.com/smallbiznis/faktur/internal/notification/domain"
	"github.com/smallbiznis/faktur/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/faktur/internal/organization/domain"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/faktur/internal/usage/domain"
	"github.com/smallbiznis/faktur/pkg/db/option"
	"github.com/smallbiznis/faktur/pkg/db/pagination"
	"github.com/smallbiznis/faktur/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultDueInDays = 14

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	billing *config.BillingConfigHolder

	invoiceRepo     repository.Repository[invoicedomain.Invoice]
	lineRepo        repository.Repository[invoicedomain.Line]
	transactionRepo repository.Repository[invoicedomain.Transaction]

	orgsvc          orgdomain.Service
	subscriptionsvc subscriptiondomain.Service
	usagesvc        usagedomain.Service
	auditsvc        auditdomain.Service
	notifier        notifdomain.Dispatcher
	metrics         *metrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Billing *config.BillingConfigHolder

	Orgsvc          orgdomain.Service
	Subscriptionsvc subscriptiondomain.Service
	Usagesvc        usagedomain.Service
	Auditsvc        auditdomain.Service
	Notifier        notifdomain.Dispatcher
	Metrics         *metrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,

		invoiceRepo:     repository.ProvideStore[invoicedomain.Invoice](p.DB),
		lineRepo:        repository.ProvideStore[invoicedomain.Line](p.DB),
		transactionRepo: repository.ProvideStore[invoicedomain.Transaction](p.DB),

		orgsvc:          p.Orgsvc,
		subscriptionsvc: p.Subscriptionsvc,
		usagesvc:        p.Usagesvc,
		auditsvc:        p.Auditsvc,
		notifier:        p.Notifier,
		metrics:         p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateRequest) (invoicedomain.Detail, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.Detail{}, invoicedomain.ErrInvalidOrganization
	}
	if len(req.Lines) == 0 {
		return invoicedomain.Detail{}, invoicedomain.ErrInvalidLine
	}

	var subscriptionID *snowflake.ID
	if raw := strings.TrimSpace(req.SubscriptionID); raw != "" {
		sub, err := s.subscriptionsvc.GetByID(ctx, raw)
		if err != nil {
			return invoicedomain.Detail{}, err
		}
		subscriptionID = &sub.ID
	}

	lines := make([]invoicedomain.Line, 0, len(req.Lines))
	for _, input := range req.Lines {
		line, err := buildLine(input)
		if err != nil {
			return invoicedomain.Detail{}, err
		}
		lines = append(lines, line)
	}

	return s.create(ctx, orgID, invoicedomain.TypeManual, subscriptionID, nil, nil, req.DueInDays, lines, nil, req.Metadata)
}

// CreateForSubscription implements domain.Service.
func (s *Service) CreateForSubscription(ctx context.Context, req invoicedomain.CreateForSubscriptionRequest) (invoicedomain.Detail, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.Detail{}, invoicedomain.ErrInvalidOrganization
	}
	if !req.PeriodStart.Before(req.PeriodEnd) {
		return invoicedomain.Detail{}, invoicedomain.ErrInvalidInvoice
	}

	sub, err := s.subscriptionsvc.GetByID(ctx, req.SubscriptionID)
	if err != nil {
		return invoicedomain.Detail{}, err
	}

	periodStart := req.PeriodStart.UTC()
	periodEnd := req.PeriodEnd.UTC()

	lines := []invoicedomain.Line{{
		Type:           invoicedomain.LineTypeItem,
		Description:    fmt.Sprintf("Plan charge %s to %s", periodStart.Format("2006-01-02"), periodEnd.Format("2006-01-02")),
		Quantity:       1,
		UnitPriceCents: sub.AmountCents,
		AmountCents:    sub.AmountCents,
	}}

	usageRecords, err := s.usagesvc.ListBillableForSubscription(ctx, sub.ID, periodStart, periodEnd)
	if err != nil {
		return invoicedomain.Detail{}, err
	}

	usageIDs := make([]snowflake.ID, 0, len(usageRecords))
	for _, record := range usageRecords {
		recordID := record.ID
		usageIDs = append(usageIDs, recordID)
		lines = append(lines, invoicedomain.Line{
			Type:           invoicedomain.LineTypeItem,
			Description:    fmt.Sprintf("Usage %s: %.2f %s", record.MeterCode, record.BillableQuantity, record.Unit),
			Quantity:       1,
			UnitPriceCents: record.FinalCostCents,
			AmountCents:    record.FinalCostCents,
			UsageRecordID:  &recordID,
		})
	}

	subID := sub.ID
	return s.create(ctx, orgID, invoicedomain.TypeSubscription, &subID, &periodStart, &periodEnd, req.DueInDays, lines, usageIDs, nil)
}

func (s *Service) create(
	ctx context.Context,
	orgID snowflake.ID,
	invoiceType invoicedomain.Type,
	subscriptionID *snowflake.ID,
	periodStart, periodEnd *time.Time,
	dueInDays int,
	lines []invoicedomain.Line,
	usageIDs []snowflake.ID,
	metadata map[string]any,
) (invoicedomain.Detail, error) {
	profile, err := s.orgsvc.BillingProfile(ctx, orgID)
	if err != nil {
		return invoicedomain.Detail{}, err
	}

	now := s.clock.Now().UTC()
	if dueInDays <= 0 {
		dueInDays = defaultDueInDays
	}

	inv := invoicedomain.Invoice{
		ID:              s.genID.Generate(),
		OrgID:           orgID,
		SubscriptionID:  subscriptionID,
		YearMonth:       now.Format("200601"),
		Type:            invoiceType,
		Status:          invoicedomain.StatusDraft,
		Currency:        profile.Currency,
		IssuedAt:        now,
		DueAt:           now.AddDate(0, 0, dueInDays),
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		CustomerName:    profile.Name,
		CustomerEmail:   profile.Email,
		CustomerTaxID:   profile.TaxID,
		CustomerCountry: profile.Country,
		Metadata:        datatypes.JSONMap(metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for i := range lines {
		lines[i].ID = s.genID.Generate()
		lines[i].OrgID = orgID
		lines[i].InvoiceID = inv.ID
		lines[i].Position = i + 1
		lines[i].CreatedAt = now
	}

	calculateTotals(&inv, lines)
	deriveStatus(&inv, now)

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sequence, err := s.nextSequence(ctx, tx, orgID, inv.YearMonth)
		if err != nil {
			return err
		}
		cfg := s.billing.Current().ForOrg(orgID.String())
		inv.Sequence = sequence
		inv.Number = fmt.Sprintf("%s-%s-%04d", cfg.InvoicePrefix, inv.YearMonth, sequence)

		if err := s.invoiceRepo.WithTrx(tx).Create(ctx, &inv); err != nil {
			return err
		}
		for i := range lines {
			if err := s.lineRepo.WithTrx(tx).Create(ctx, &lines[i]); err != nil {
				return err
			}
		}
		if len(usageIDs) > 0 {
			// Same tx: a failed invoice write must not leave usage rows
			// pointing at an invoice that never committed.
			if err := s.usagesvc.MarkInvoicedIn(ctx, tx, usageIDs, inv.ID); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return invoicedomain.Detail{}, err
	}

	s.metrics.IncInvoiceIssued()
	s.audit(ctx, orgID, "invoice.create", inv.ID, map[string]any{
		"number":      inv.Number,
		"total_cents": inv.TotalCents,
		"type":        string(invoiceType),
	})

	return invoicedomain.Detail{Invoice: inv, Lines: lines}, nil
}

// nextSequence finds the highest sequence in the tenant's calendar month and
// increments it.
func (s *Service) nextSequence(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, yearMonth string) (int, error) {
	var max *int
	if err := tx.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Select("MAX(sequence)").
		Where("org_id = ? AND year_month = ?", orgID, yearMonth).
		Scan(&max).Error; err != nil {
		return 0, err
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Detail, error) {
	inv, err := s.loadForOrg(ctx, id)
	if err != nil {
		return invoicedomain.Detail{}, err
	}
	return s.detail(ctx, inv)
}

func (s *Service) detail(ctx context.Context, inv *invoicedomain.Invoice) (invoicedomain.Detail, error) {
	var lines []invoicedomain.Line
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", inv.ID).
		Order("position ASC").
		Find(&lines).Error; err != nil {
		return invoicedomain.Detail{}, err
	}

	var transactions []invoicedomain.Transaction
	if err := s.db.WithContext(ctx).
		Where("invoice_id = ?", inv.ID).
		Order("created_at ASC").
		Find(&transactions).Error; err != nil {
		return invoicedomain.Detail{}, err
	}

	return invoicedomain.Detail{Invoice: *inv, Lines: lines, Transactions: transactions}, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListRequest) (invoicedomain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.ListResponse{}, invoicedomain.ErrInvalidOrganization
	}

	filter := &invoicedomain.Invoice{OrgID: orgID}
	if status := strings.TrimSpace(req.Status); status != "" {
		filter.Status = invoicedomain.Status(status)
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: int(req.PageSize)}
	if page.PageSize <= 0 {
		page.PageSize = 10
	}

	items, err := s.invoiceRepo.Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{}),
		option.ApplyPagination(page),
	)
	if err != nil {
		return invoicedomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(page.PageSize), func(item *invoicedomain.Invoice) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})
	if len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		invoices = append(invoices, *item)
	}

	return invoicedomain.ListResponse{PageInfo: *pageInfo, Invoices: invoices}, nil
}

func (s *Service) loadForOrg(ctx context.Context, id string) (*invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || invoiceID == 0 {
		return nil, invoicedomain.ErrInvalidInvoice
	}

	item, err := s.invoiceRepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return item, nil
}

// persist writes the full snapshot guarded by the version column.
func (s *Service) persist(ctx context.Context, tx *gorm.DB, inv *invoicedomain.Invoice, now time.Time) error {
	current := inv.Version
	inv.Version = current + 1
	inv.UpdatedAt = now

	res := tx.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ? AND version = ?", inv.ID, current).
		Select("*").
		Omit("id", "created_at").
		Updates(inv)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return invoicedomain.ErrConflict
	}
	return nil
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	target := targetID.String()
	_ = s.auditsvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeSystem), nil, action, "invoice", &target, metadata)
}

