package provisioning

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	orgdomain "github.com/smallbiznis/tenantcore/internal/organization/domain"
	"github.com/smallbiznis/tenantcore/internal/provisioning/domain"
	"go.uber.org/zap"
)

const triggerTimeout = 5 * time.Minute

// AsyncTrigger runs provisioning out-of-band from the request that
// created the organization. A run that loses the per-tenant lock is
// dropped here; the scheduler retry sweep picks the record up again.
type AsyncTrigger struct {
	svc domain.Service
	log *zap.Logger
}

func NewAsyncTrigger(svc domain.Service, log *zap.Logger) orgdomain.Provisioner {
	return &AsyncTrigger{
		svc: svc,
		log: log.Named("provisioning.trigger"),
	}
}

func (t *AsyncTrigger) Enqueue(orgID snowflake.ID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
		defer cancel()

		if _, err := t.svc.Provision(ctx, orgID); err != nil {
			if errors.Is(err, domain.ErrProvisionInProgress) {
				return
			}
			t.log.Error("async provisioning failed",
				zap.String("org_id", orgID.String()),
				zap.Error(err),
			)
		}
	}()
}
