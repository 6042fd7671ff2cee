package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/faktur/internal/organization/domain"
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

	orgrepo repository.Repository[orgdomain.Organization]
}

func NewService(p ServiceParam) orgdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("organization.service"),

		orgrepo: repository.ProvideStore[orgdomain.Organization](p.DB),
	}
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (orgdomain.Organization, error) {
	if id == 0 {
		return orgdomain.Organization{}, orgdomain.ErrInvalidOrganization
	}

	item, err := s.orgrepo.FindOne(ctx, &orgdomain.Organization{ID: id})
	if err != nil {
		return orgdomain.Organization{}, err
	}
	if item == nil {
		return orgdomain.Organization{}, orgdomain.ErrOrganizationNotFound
	}

	return *item, nil
}

func (s *Service) BillingProfile(ctx context.Context, id snowflake.ID) (orgdomain.BillingProfile, error) {
	org, err := s.GetByID(ctx, id)
	if err != nil {
		return orgdomain.BillingProfile{}, err
	}

	profile := orgdomain.BillingProfile{
		Name:     org.Name,
		Email:    org.BillingEmail,
		Currency: org.Currency,
	}
	if org.TaxID != nil {
		profile.TaxID = *org.TaxID
	}
	if org.Country != nil {
		profile.Country = *org.Country
	}
	return profile, nil
}

