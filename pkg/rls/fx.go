package rls

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module enforces the non-bypassing-role precondition at startup.
var Module = fx.Module("rls",
	fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
		if err := VerifyRuntimeRole(conn); err != nil {
			log.Error("row security precondition failed", zap.Error(err))
			return err
		}
		return nil
	}),
)
