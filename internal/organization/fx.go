package organization

import (
	"github.com/smallbiznis/tenantcore/internal/organization/repository"
	"github.com/smallbiznis/tenantcore/internal/organization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("organization",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
