package domain

import (
	"context"
	"errors"
)

type CreateRequest struct {
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	Unit        string      `json:"unit"`
	Category    string      `json:"category"`
	Aggregation Aggregation `json:"aggregation"`
	MinValue    *float64    `json:"min_value,omitempty"`
	MaxValue    *float64    `json:"max_value,omitempty"`
	MaxDelta    *float64    `json:"max_delta,omitempty"`
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (Meter, error)
	GetByCode(ctx context.Context, code string) (Meter, error)
	List(ctx context.Context) ([]Meter, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidCode         = errors.New("invalid_meter_code")
	ErrInvalidAggregation  = errors.New("invalid_aggregation")
	ErrMeterNotFound       = errors.New("meter_not_found")
	ErrMeterExists         = errors.New("meter_exists")
)
