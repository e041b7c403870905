package migration

import (
	"github.com/Big-Dao/evcs-mgr-sub002/internal/config"
	tariffdomain "github.com/Big-Dao/evcs-mgr-sub002/internal/tariff/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType != "postgres" {
			// Versioned SQL migrations target postgres; dev databases are
			// kept in sync from the models.
			return conn.AutoMigrate(
				&tariffdomain.BillingPlan{},
				&tariffdomain.BillingPlanSegment{},
				&tariffdomain.BillingRate{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
