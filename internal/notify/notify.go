// Package notify is the hand-off point to the external notification
// collaborator. Delivery is fire-and-forget: provisioning logs failures
// but never blocks on them.
package notify

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// AdminWelcome is the payload handed to the notification collaborator
// when a tenant finishes provisioning.
type AdminWelcome struct {
	OrgID       snowflake.ID
	OrgName     string
	AdminUserID snowflake.ID
}

type Notifier interface {
	NotifyAdminProvisioned(ctx context.Context, msg AdminWelcome) error
}

type logNotifier struct {
	log *zap.Logger
}

// NewLogNotifier emits notifications to the log. Deployments swap in a
// real delivery integration behind the same interface.
func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notify")}
}

func (n *logNotifier) NotifyAdminProvisioned(_ context.Context, msg AdminWelcome) error {
	n.log.Info("admin provisioned notification",
		zap.String("org_id", msg.OrgID.String()),
		zap.String("org_name", msg.OrgName),
		zap.String("admin_user_id", msg.AdminUserID.String()),
	)
	return nil
}

var Module = fx.Module("notify",
	fx.Provide(NewLogNotifier),
)
