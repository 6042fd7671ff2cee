package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/smallbiznis/faktur/internal/meter/domain"
	"github.com/smallbiznis/faktur/internal/orgcontext"
	"github.com/smallbiznis/faktur/pkg/db"
	"github.com/smallbiznis/faktur/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	meterrepo repository.Repository[meterdomain.Meter]
}

func NewService(p ServiceParam) meterdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("meter.service"),

		genID:     p.GenID,
		meterrepo: repository.ProvideStore[meterdomain.Meter](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req meterdomain.CreateRequest) (meterdomain.Meter, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return meterdomain.Meter{}, meterdomain.ErrInvalidOrganization
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return meterdomain.Meter{}, meterdomain.ErrInvalidCode
	}

	aggregation, err := parseAggregation(req.Aggregation)
	if err != nil {
		return meterdomain.Meter{}, err
	}

	now := time.Now().UTC()
	meter := meterdomain.Meter{
		ID:          s.genID.Generate(),
		OrgID:       orgID,
		Code:        code,
		Name:        strings.TrimSpace(req.Name),
		Unit:        strings.TrimSpace(req.Unit),
		Category:    strings.TrimSpace(req.Category),
		Aggregation: aggregation,
		MinValue:    req.MinValue,
		MaxValue:    req.MaxValue,
		MaxDelta:    req.MaxDelta,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.meterrepo.Create(ctx, &meter); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return meterdomain.Meter{}, meterdomain.ErrMeterExists
		}
		return meterdomain.Meter{}, err
	}

	return meter, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (meterdomain.Meter, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return meterdomain.Meter{}, meterdomain.ErrInvalidOrganization
	}

	code = strings.TrimSpace(code)
	if code == "" {
		return meterdomain.Meter{}, meterdomain.ErrInvalidCode
	}

	item, err := s.meterrepo.FindOne(ctx, &meterdomain.Meter{OrgID: orgID, Code: code})
	if err != nil {
		return meterdomain.Meter{}, err
	}
	if item == nil || !item.Active {
		return meterdomain.Meter{}, meterdomain.ErrMeterNotFound
	}

	return *item, nil
}

func (s *Service) List(ctx context.Context) ([]meterdomain.Meter, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, meterdomain.ErrInvalidOrganization
	}

	items, err := s.meterrepo.Find(ctx, &meterdomain.Meter{OrgID: orgID, Active: true})
	if err != nil {
		return nil, err
	}

	meters := make([]meterdomain.Meter, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		meters = append(meters, *item)
	}
	return meters, nil
}

func parseAggregation(value meterdomain.Aggregation) (meterdomain.Aggregation, error) {
	switch value {
	case meterdomain.AggregationSum,
		meterdomain.AggregationMax,
		meterdomain.AggregationAvg,
		meterdomain.AggregationLast:
		return value, nil
	case "":
		return meterdomain.AggregationSum, nil
	default:
		return "", meterdomain.ErrInvalidAggregation
	}
}

