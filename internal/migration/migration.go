// Package migration creates the billing schema on startup so the service is
// usable out of the box for local and self-hosted environments. The schema is
// derived from the gorm models, which keeps it portable across the supported
// postgres, mysql and sqlite dialects.
package migration

import (
	"errors"

	auditdomain "github.com/smallbiznis/faktur/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/faktur/internal/invoice/domain"
	meterdomain "github.com/smallbiznis/faktur/internal/meter/domain"
	orgdomain "github.com/smallbiznis/faktur/internal/organization/domain"
	plandomain "github.com/smallbiznis/faktur/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/faktur/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/faktur/internal/usage/domain"
	"gorm.io/gorm"
)

func RunMigrations(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}

	return conn.AutoMigrate(
		&orgdomain.Organization{},
		&plandomain.Plan{},
		&plandomain.OverageRate{},
		&plandomain.FeatureLimit{},
		&meterdomain.Meter{},
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.StateHistory{},
		&subscriptiondomain.Period{},
		&subscriptiondomain.RenewalReminder{},
		&subscriptiondomain.FeatureUsage{},
		&subscriptiondomain.PlanChange{},
		&invoicedomain.Invoice{},
		&invoicedomain.Line{},
		&invoicedomain.Transaction{},
		&invoicedomain.SendEvent{},
		&usagedomain.UsageRecord{},
		&auditdomain.AuditLog{},
	)
}
