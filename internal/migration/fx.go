package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		if conn.Dialector.Name() != "postgres" {
			// AutoMigrate-style schemas on sqlite/mysql are a dev-only
			// convenience; the row-security policies require postgres.
			log.Warn("skipping migrations: row-level security requires postgres",
				zap.String("dialect", conn.Dialector.Name()),
			)
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
