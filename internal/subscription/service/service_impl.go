package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/faktur/internal/audit/domain"
	"github.com/smallbiznis/faktur/internal/clock"
	"github.com/smallbiznis/faktur/internal/config"
	notifdomain "github.com/smallbiznis/faktur/internal/notification/domain"
	"github.com/smallbiznis/faktur/internal/observability/metrics"
	orgdomain "github.com/smallbiznis/faktur/internal/organization/domain"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	plandomain "github.com/smallbiznis/faktur/internal/plan/domain"
	"github.com/smallbiznis/faktur/internal/rating"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	"github.com/smallbiznis/faktur/pkg/db/option"
	"github.com/smallbiznis/faktur/pkg/db/pagination"
	"github.com/smallbiznis/faktur/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	billing *config.BillingConfigHolder

	subscriptionRepo repository.Repository[subscriptiondomain.Subscription]
	historyRepo      repository.Repository[subscriptiondomain.StateHistory]
	periodRepo       repository.Repository[subscriptiondomain.Period]
	featureRepo      repository.Repository[subscriptiondomain.FeatureUsage]

	plansvc  plandomain.Service
	orgsvc   orgdomain.Service
	auditsvc auditdomain.Service
	notifier notifdomain.Dispatcher
	metrics  *metrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Billing *config.BillingConfigHolder

	Plansvc  plandomain.Service
	Orgsvc   orgdomain.Service
	Auditsvc auditdomain.Service
	Notifier notifdomain.Dispatcher
	Metrics  *metrics.Metrics
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		billing: p.Billing,

		subscriptionRepo: repository.ProvideStore[subscriptiondomain.Subscription](p.DB),
		historyRepo:      repository.ProvideStore[subscriptiondomain.StateHistory](p.DB),
		periodRepo:       repository.ProvideStore[subscriptiondomain.Period](p.DB),
		featureRepo:      repository.ProvideStore[subscriptiondomain.FeatureUsage](p.DB),

		plansvc:  p.Plansvc,
		orgsvc:   p.Orgsvc,
		auditsvc: p.Auditsvc,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateRequest) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}

	if _, err := s.orgsvc.GetByID(ctx, orgID); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	plan, err := s.plansvc.GetByCode(ctx, req.PlanCode)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	now := s.clock.Now().UTC()
	startAt := now
	if req.StartAt != nil && req.StartAt.After(now) {
		startAt = req.StartAt.UTC()
	}

	status := subscriptiondomain.StatusPending
	var trialStart, trialEnd *time.Time
	if plan.TrialDays > 0 {
		status = subscriptiondomain.StatusTrialing
		ts := startAt
		te := startAt.AddDate(0, 0, plan.TrialDays)
		trialStart, trialEnd = &ts, &te
	}

	periodEnd := startAt.AddDate(0, 0, plan.PeriodDays())
	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	sub := subscriptiondomain.Subscription{
		ID:            s.genID.Generate(),
		OrgID:         orgID,
		PlanID:        plan.ID,
		Status:        status,
		AmountCents:   plan.AmountCents,
		Currency:      plan.Currency,
		Interval:      plan.Interval,
		IntervalCount: plan.IntervalCount,
		TrialStart:    trialStart,
		TrialEnd:      trialEnd,
		PeriodStart:   startAt,
		PeriodEnd:     periodEnd,
		NextRenewalAt: &periodEnd,
		AutoRenew:     autoRenew,
		Metadata:      datatypes.JSONMap(req.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.subscriptionRepo.WithTrx(tx).Create(ctx, &sub); err != nil {
			return err
		}
		history := subscriptiondomain.StateHistory{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			SubscriptionID: sub.ID,
			Status:         status,
			ChangedAt:      now,
		}
		return s.historyRepo.WithTrx(tx).Create(ctx, &history)
	}); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.audit(ctx, sub.OrgID, "subscription.create", sub.ID, map[string]any{
		"plan_code": plan.Code,
		"status":    string(status),
	})

	return sub, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	sub, err := s.loadForOrg(ctx, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	return *sub, nil
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListRequest) (subscriptiondomain.ListResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.ListResponse{}, subscriptiondomain.ErrInvalidOrganization
	}

	filter := &subscriptiondomain.Subscription{OrgID: orgID}
	if status := strings.TrimSpace(req.Status); status != "" {
		parsed, err := parseStatus(status)
		if err != nil {
			return subscriptiondomain.ListResponse{}, err
		}
		filter.Status = parsed
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: int(req.PageSize)}
	if page.PageSize <= 0 {
		page.PageSize = 10
	}

	items, err := s.subscriptionRepo.Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{}),
		option.ApplyPagination(page),
	)
	if err != nil {
		return subscriptiondomain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, int32(page.PageSize), func(item *subscriptiondomain.Subscription) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		})
		return token
	})
	if len(items) > page.PageSize {
		items = items[:page.PageSize]
	}

	subs := make([]subscriptiondomain.Subscription, 0, len(items))
	for _, item := range items {
		subs = append(subs, *item)
	}

	return subscriptiondomain.ListResponse{PageInfo: *pageInfo, Subscriptions: subs}, nil
}

// GetActiveByOrg implements domain.Service.
func (s *Service) GetActiveByOrg(ctx context.Context) (subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidOrganization
	}

	var sub subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND status IN ?", orgID, []subscriptiondomain.Status{
			subscriptiondomain.StatusActive,
			subscriptiondomain.StatusTrialing,
			subscriptiondomain.StatusPastDue,
		}).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return subscriptiondomain.Subscription{}, subscriptiondomain.ErrSubscriptionNotFound
		}
		return subscriptiondomain.Subscription{}, err
	}

	return sub, nil
}

func (s *Service) Activate(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	sub, err := s.loadForOrg(ctx, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	if sub.Status == subscriptiondomain.StatusActive {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrAlreadyActive
	}

	now := s.clock.Now().UTC()
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.transition(ctx, tx, sub, subscriptiondomain.StatusActive, "activate", now); err != nil {
			return err
		}
		return s.persist(ctx, tx, sub, now)
	}); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.audit(ctx, sub.OrgID, "subscription.activate", sub.ID, nil)
	return *sub, nil
}

func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelRequest) (subscriptiondomain.Subscription, error) {
	sub, err := s.loadForOrg(ctx, req.SubscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	switch sub.Status {
	case subscriptiondomain.StatusCancelled:
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrAlreadyCancelled
	case subscriptiondomain.StatusExpired:
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTransition
	}

	now := s.clock.Now().UTC()
	reason := strings.TrimSpace(req.Reason)

	sub.AutoRenew = false
	sub.CancelReason = &reason
	if feedback := strings.TrimSpace(req.Feedback); feedback != "" {
		sub.CancelFeedback = &feedback
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.Immediate {
			sub.CancelEffectiveAt = &now
			sub.CancelledAt = &now
			if err := s.transition(ctx, tx, sub, subscriptiondomain.StatusCancelled, reason, now); err != nil {
				return err
			}
		} else {
			// Deferred cancellation keeps the subscription running until the
			// period boundary; the rollover sweep finalizes it.
			effective := sub.PeriodEnd
			sub.CancelEffectiveAt = &effective
		}
		return s.persist(ctx, tx, sub, now)
	}); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.audit(ctx, sub.OrgID, "subscription.cancel", sub.ID, map[string]any{
		"reason":    reason,
		"immediate": req.Immediate,
	})

	return *sub, nil
}

func (s *Service) Pause(ctx context.Context, req subscriptiondomain.PauseRequest) (subscriptiondomain.Subscription, error) {
	sub, err := s.loadForOrg(ctx, req.SubscriptionID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	if sub.Status != subscriptiondomain.StatusActive {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidTransition
	}

	now := s.clock.Now().UTC()
	if req.ResumeAt != nil && !req.ResumeAt.After(now) {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrInvalidResumeDate
	}

	sub.PausedAt = &now
	sub.ResumeAt = req.ResumeAt
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		sub.PauseReason = &reason
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.transition(ctx, tx, sub, subscriptiondomain.StatusPaused, strings.TrimSpace(req.Reason), now); err != nil {
			return err
		}
		return s.persist(ctx, tx, sub, now)
	}); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.audit(ctx, sub.OrgID, "subscription.pause", sub.ID, nil)
	return *sub, nil
}

func (s *Service) Resume(ctx context.Context, id string) (subscriptiondomain.Subscription, error) {
	sub, err := s.loadForOrg(ctx, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	if sub.Status != subscriptiondomain.StatusPaused {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrNotPaused
	}

	now := s.clock.Now().UTC()
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The stale period rolls into history and a fresh one starts from
		// its end date.
		closed := subscriptiondomain.Period{
			ID:             s.genID.Generate(),
			OrgID:          sub.OrgID,
			SubscriptionID: sub.ID,
			StartAt:        sub.PeriodStart,
			EndAt:          sub.PeriodEnd,
			ClosedAt:       now,
		}
		if err := s.periodRepo.WithTrx(tx).Create(ctx, &closed); err != nil {
			return err
		}

		newStart := sub.PeriodEnd
		newEnd := newStart.AddDate(0, 0, sub.PeriodDays())
		sub.PeriodStart = newStart
		sub.PeriodEnd = newEnd
		sub.NextRenewalAt = &newEnd
		sub.PausedAt = nil
		sub.ResumeAt = nil
		sub.PauseReason = nil

		if err := s.transition(ctx, tx, sub, subscriptiondomain.StatusActive, "resume", now); err != nil {
			return err
		}
		return s.persist(ctx, tx, sub, now)
	}); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	s.audit(ctx, sub.OrgID, "subscription.resume", sub.ID, nil)
	return *sub, nil
}

func (s *Service) UpgradePlan(ctx context.Context, req subscriptiondomain.UpgradePlanRequest) (subscriptiondomain.UpgradePlanResponse, error) {
	sub, err := s.loadForOrg(ctx, req.SubscriptionID)
	if err != nil {
		return subscriptiondomain.UpgradePlanResponse{}, err
	}

	if sub.Status != subscriptiondomain.StatusActive {
		return subscriptiondomain.UpgradePlanResponse{}, subscriptiondomain.ErrInvalidStatus
	}

	plan, err := s.plansvc.GetByCode(ctx, req.NewPlanCode)
	if err != nil {
		return subscriptiondomain.UpgradePlanResponse{}, err
	}
	if plan.ID == sub.PlanID {
		return subscriptiondomain.UpgradePlanResponse{}, subscriptiondomain.ErrSamePlan
	}

	now := s.clock.Now().UTC()
	var proration int64

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		change := subscriptiondomain.PlanChange{
			ID:             s.genID.Generate(),
			OrgID:          sub.OrgID,
			SubscriptionID: sub.ID,
			FromPlanID:     sub.PlanID,
			ToPlanID:       plan.ID,
			Immediate:      req.Immediate,
			CreatedAt:      now,
		}

		if req.Immediate {
			proration = rating.Prorate(sub.AmountCents, plan.AmountCents, sub.PeriodStart, sub.PeriodEnd, now)
			change.ProrationCents = proration
			change.EffectiveAt = now

			sub.PlanID = plan.ID
			sub.AmountCents = plan.AmountCents
			sub.Interval = plan.Interval
			sub.IntervalCount = plan.IntervalCount
			sub.PendingPlanID = nil
			sub.PendingPlanAt = nil
		} else {
			change.EffectiveAt = sub.PeriodEnd
			pendingID := plan.ID
			pendingAt := sub.PeriodEnd
			sub.PendingPlanID = &pendingID
			sub.PendingPlanAt = &pendingAt
		}

		if err := tx.WithContext(ctx).Create(&change).Error; err != nil {
			return err
		}
		return s.persist(ctx, tx, sub, now)
	}); err != nil {
		return subscriptiondomain.UpgradePlanResponse{}, err
	}

	s.audit(ctx, sub.OrgID, "subscription.upgrade_plan", sub.ID, map[string]any{
		"new_plan_code":   plan.Code,
		"immediate":       req.Immediate,
		"proration_cents": proration,
	})

	return subscriptiondomain.UpgradePlanResponse{
		Subscription:   *sub,
		ProrationCents: proration,
		Scheduled:      !req.Immediate,
	}, nil
}

func (s *Service) StateHistory(ctx context.Context, id string) ([]subscriptiondomain.StateHistory, error) {
	sub, err := s.loadForOrg(ctx, id)
	if err != nil {
		return nil, err
	}

	var rows []subscriptiondomain.StateHistory
	if err := s.db.WithContext(ctx).
		Where("subscription_id = ?", sub.ID).
		Order("changed_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// loadForOrg fetches a subscription scoped to the caller's tenant.
func (s *Service) loadForOrg(ctx context.Context, id string) (*subscriptiondomain.Subscription, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, subscriptiondomain.ErrInvalidOrganization
	}

	subscriptionID, err := s.parseID(id)
	if err != nil {
		return nil, err
	}

	item, err := s.subscriptionRepo.FindOne(ctx, &subscriptiondomain.Subscription{ID: subscriptionID, OrgID: orgID})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return item, nil
}

func (s *Service) loadByID(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	item, err := s.subscriptionRepo.FindOne(ctx, &subscriptiondomain.Subscription{ID: id})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return item, nil
}

// transition moves to the target state and appends a history row. The caller
// persists the subscription itself.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, target subscriptiondomain.Status, reason string, now time.Time) error {
	if !subscriptiondomain.CanTransition(sub.Status, target) {
		return subscriptiondomain.ErrInvalidTransition
	}

	previous := sub.Status
	sub.PreviousStatus = &previous
	sub.Status = target

	history := subscriptiondomain.StateHistory{
		ID:             s.genID.Generate(),
		OrgID:          sub.OrgID,
		SubscriptionID: sub.ID,
		Status:         target,
		PreviousStatus: &previous,
		ChangedAt:      now,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		history.Reason = &reason
	}
	return s.historyRepo.WithTrx(tx).Create(ctx, &history)
}

// persist writes the full snapshot guarded by the version column.
func (s *Service) persist(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, now time.Time) error {
	current := sub.Version
	sub.Version = current + 1
	sub.UpdatedAt = now

	res := tx.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND version = ?", sub.ID, current).
		Select("*").
		Omit("id", "created_at").
		Updates(sub)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return subscriptiondomain.ErrConflict
	}
	return nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, subscriptiondomain.ErrInvalidSubscription
	}
	return id, nil
}

func (s *Service) audit(ctx context.Context, orgID snowflake.ID, action string, targetID snowflake.ID, metadata map[string]any) {
	target := targetID.String()
	_ = s.auditsvc.AuditLog(ctx, &orgID, string(auditdomain.ActorTypeSystem), nil, action, "subscription", &target, metadata)
}

func parseStatus(value string) (subscriptiondomain.Status, error) {
	switch status := subscriptiondomain.Status(value); status {
	case subscriptiondomain.StatusPending,
		subscriptiondomain.StatusTrialing,
		subscriptiondomain.StatusActive,
		subscriptiondomain.StatusPastDue,
		subscriptiondomain.StatusCancelled,
		subscriptiondomain.StatusExpired,
		subscriptiondomain.StatusPaused:
		return status, nil
	default:
		return "", subscriptiondomain.ErrInvalidStatus
	}
}

