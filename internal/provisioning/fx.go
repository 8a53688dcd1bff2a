package provisioning

import (
	"github.com/smallbiznis/tenantcore/internal/provisioning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning",
	fx.Provide(service.NewService),
	fx.Provide(NewAsyncTrigger),
)
