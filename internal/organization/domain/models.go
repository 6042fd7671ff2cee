// Package domain contains the tenant registry models.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Organization is the owning tenant for subscriptions, invoices and usage.
type Organization struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	Name         string       `json:"name" gorm:"type:text;not null"`
	BillingEmail string       `json:"billing_email" gorm:"type:text;not null"`
	TaxID        *string      `json:"tax_id" gorm:"type:text"`
	Currency     string       `json:"currency" gorm:"type:text;not null"`
	Country      *string      `json:"country" gorm:"type:text"`
	Active       bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt    time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// BillingProfile is the point-in-time customer snapshot copied onto invoices.
type BillingProfile struct {
	Name     string
	Email    string
	TaxID    string
	Currency string
	Country  string
}

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (Organization, error)
	// BillingProfile returns the snapshot source for invoice creation.
	BillingProfile(ctx context.Context, id snowflake.ID) (BillingProfile, error)
}

var (
	ErrOrganizationNotFound = errors.New("organization_not_found")
	ErrInvalidOrganization  = errors.New("invalid_organization")
)
