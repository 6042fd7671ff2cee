// Package seed bootstraps the default tenant and a starter plan so a fresh
// install can bill immediately.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	meterdomain "github.com/smallbiznis/faktur/internal/meter/domain"
	organizationdomain "github.com/smallbiznis/faktur/internal/organization/domain"
	plandomain "github.com/smallbiznis/faktur/internal/plan/domain"
	"gorm.io/gorm"
)

const (
	defaultOrgName  = "Main"
	defaultOrgEmail = "billing@faktur.local"
	defaultCurrency = "USD"

	starterPlanCode = "starter"
	starterPlanName = "Starter"
)

// EnsureDefaultOrg seeds the default organization plus a starter plan and an
// api_calls meter. Safe to run on every startup.
func EnsureDefaultOrg(db *gorm.DB, orgID int64) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		org, err := ensureOrgTx(ctx, tx, node, orgID)
		if err != nil {
			return err
		}
		if err := ensureStarterPlanTx(ctx, tx, node); err != nil {
			return err
		}
		return ensureDefaultMeterTx(ctx, tx, node, org.ID)
	})
}

func ensureOrgTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID int64) (organizationdomain.Organization, error) {
	var org organizationdomain.Organization

	query := tx.WithContext(ctx)
	if orgID != 0 {
		query = query.Where("id = ?", orgID)
	} else {
		query = query.Where("name = ?", defaultOrgName)
	}

	err := query.First(&org).Error
	if err == nil {
		return org, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return organizationdomain.Organization{}, err
	}

	id := node.Generate()
	if orgID != 0 {
		id = snowflake.ID(orgID)
	}

	now := time.Now().UTC()
	org = organizationdomain.Organization{
		ID:           id,
		Name:         defaultOrgName,
		BillingEmail: defaultOrgEmail,
		Currency:     defaultCurrency,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.WithContext(ctx).Create(&org).Error; err != nil {
		return organizationdomain.Organization{}, err
	}
	return org, nil
}

func ensureStarterPlanTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	var plan plandomain.Plan
	err := tx.WithContext(ctx).Where("code = ?", starterPlanCode).First(&plan).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	plan = plandomain.Plan{
		ID:            node.Generate(),
		Code:          starterPlanCode,
		Name:          starterPlanName,
		AmountCents:   0,
		Currency:      defaultCurrency,
		Interval:      plandomain.IntervalMonth,
		IntervalCount: 1,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return tx.WithContext(ctx).Create(&plan).Error
}

func ensureDefaultMeterTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, orgID snowflake.ID) error {
	var meter meterdomain.Meter
	err := tx.WithContext(ctx).
		Where("org_id = ? AND code = ?", orgID, "api_calls").
		First(&meter).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	meter = meterdomain.Meter{
		ID:          node.Generate(),
		OrgID:       orgID,
		Code:        "api_calls",
		Name:        "API Calls",
		Unit:        "call",
		Category:    "api",
		Aggregation: meterdomain.AggregationSum,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return tx.WithContext(ctx).Create(&meter).Error
}
