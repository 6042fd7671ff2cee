package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (Plan, error)
	GetByCode(ctx context.Context, code string) (Plan, error)
	List(ctx context.Context) ([]Plan, error)
	// OverageRate resolves the metered rate for a plan/meter pair; returns
	// ErrInvalidMetric when the plan does not price the meter.
	OverageRate(ctx context.Context, planID snowflake.ID, meterCode string) (OverageRate, error)
	FeatureLimits(ctx context.Context, planID snowflake.ID) ([]FeatureLimit, error)
}

var (
	ErrPlanNotFound  = errors.New("plan_not_found")
	ErrInvalidPlan   = errors.New("invalid_plan")
	ErrInvalidMetric = errors.New("invalid_metric")
)
