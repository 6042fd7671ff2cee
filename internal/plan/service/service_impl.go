package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/faktur/internal/plan/domain"
	"github.com/smallbiznis/faktur/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	planrepo    repository.Repository[plandomain.Plan]
	overagerepo repository.Repository[plandomain.OverageRate]
	limitrepo   repository.Repository[plandomain.FeatureLimit]
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("plan.service"),

		planrepo:    repository.ProvideStore[plandomain.Plan](p.DB),
		overagerepo: repository.ProvideStore[plandomain.OverageRate](p.DB),
		limitrepo:   repository.ProvideStore[plandomain.FeatureLimit](p.DB),
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (plandomain.Plan, error) {
	if id == 0 {
		return plandomain.Plan{}, plandomain.ErrInvalidPlan
	}

	item, err := s.planrepo.FindOne(ctx, &plandomain.Plan{ID: id})
	if err != nil {
		return plandomain.Plan{}, err
	}
	if item == nil || !item.Active {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}

	return *item, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (plandomain.Plan, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return plandomain.Plan{}, plandomain.ErrInvalidPlan
	}

	item, err := s.planrepo.FindOne(ctx, &plandomain.Plan{Code: code})
	if err != nil {
		return plandomain.Plan{}, err
	}
	if item == nil || !item.Active {
		return plandomain.Plan{}, plandomain.ErrPlanNotFound
	}

	return *item, nil
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	items, err := s.planrepo.Find(ctx, &plandomain.Plan{Active: true})
	if err != nil {
		return nil, err
	}

	plans := make([]plandomain.Plan, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		plans = append(plans, *item)
	}
	return plans, nil
}

func (s *Service) OverageRate(ctx context.Context, planID snowflake.ID, meterCode string) (plandomain.OverageRate, error) {
	meterCode = strings.TrimSpace(meterCode)
	if planID == 0 {
		return plandomain.OverageRate{}, plandomain.ErrInvalidPlan
	}
	if meterCode == "" {
		return plandomain.OverageRate{}, plandomain.ErrInvalidMetric
	}

	item, err := s.overagerepo.FindOne(ctx, &plandomain.OverageRate{
		PlanID:    planID,
		MeterCode: meterCode,
	})
	if err != nil {
		return plandomain.OverageRate{}, err
	}
	if item == nil {
		return plandomain.OverageRate{}, plandomain.ErrInvalidMetric
	}

	return *item, nil
}

func (s *Service) FeatureLimits(ctx context.Context, planID snowflake.ID) ([]plandomain.FeatureLimit, error) {
	if planID == 0 {
		return nil, plandomain.ErrInvalidPlan
	}

	items, err := s.limitrepo.Find(ctx, &plandomain.FeatureLimit{PlanID: planID})
	if err != nil {
		return nil, err
	}

	limits := make([]plandomain.FeatureLimit, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		limits = append(limits, *item)
	}
	return limits, nil
}

