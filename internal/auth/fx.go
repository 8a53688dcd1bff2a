package auth

import (
	"github.com/smallbiznis/tenantcore/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("auth",
	fx.Provide(func(cfg config.Config) *hmacValidator {
		return NewValidator(cfg.AuthJWTSecret, cfg.AuthOverrideSecret)
	}),
	fx.Provide(func(v *hmacValidator) TokenValidator { return v }),
	fx.Provide(func(v *hmacValidator) OverrideValidator { return v }),
)
