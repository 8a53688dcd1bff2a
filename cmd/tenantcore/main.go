package main

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantcore/internal/audit"
	"github.com/smallbiznis/tenantcore/internal/auth"
	"github.com/smallbiznis/tenantcore/internal/authorization"
	"github.com/smallbiznis/tenantcore/internal/clock"
	"github.com/smallbiznis/tenantcore/internal/config"
	"github.com/smallbiznis/tenantcore/internal/logger"
	"github.com/smallbiznis/tenantcore/internal/metrics"
	"github.com/smallbiznis/tenantcore/internal/migration"
	"github.com/smallbiznis/tenantcore/internal/notify"
	"github.com/smallbiznis/tenantcore/internal/observability/tracing"
	"github.com/smallbiznis/tenantcore/internal/organization"
	"github.com/smallbiznis/tenantcore/internal/provisioning"
	"github.com/smallbiznis/tenantcore/internal/quota"
	"github.com/smallbiznis/tenantcore/internal/ratelimit"
	"github.com/smallbiznis/tenantcore/internal/scheduler"
	"github.com/smallbiznis/tenantcore/internal/server"
	"github.com/smallbiznis/tenantcore/pkg/db"
	"github.com/smallbiznis/tenantcore/pkg/rls"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		metrics.Module,
		tracing.Module,
		clock.Module,
		fx.Provide(newSnowflakeNode),
		db.Module,
		migration.Module,
		rls.Module,
		ratelimit.Module,
		notify.Module,

		// Tenancy domains
		auth.Module,
		audit.Module,
		quota.Module,
		organization.Module,
		provisioning.Module,
		authorization.Module,

		// Surfaces
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

// newSnowflakeNode builds the id generator. Each replica must run with a
// distinct SNOWFLAKE_NODE_ID or generated ids can collide.
func newSnowflakeNode() (*snowflake.Node, error) {
	nodeID := int64(1)
	if raw := os.Getenv("SNOWFLAKE_NODE_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, err
		}
		nodeID = parsed
	}
	return snowflake.NewNode(nodeID)
}
