package migration

import (
	"github.com/smallbiznis/faktur/internal/config"
	"github.com/smallbiznis/faktur/internal/seed"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if err := RunMigrations(conn); err != nil {
			return err
		}
		return seed.EnsureDefaultOrg(conn, cfg.DefaultOrgID)
	}),
)
