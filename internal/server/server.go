// Package server is the HTTP surface of the tenancy core. The resolver
// middleware turns request credentials into a request-scoped tenant
// context; every handler below it reads the tenant from that context and
// nothing else.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/smallbiznis/tenantcore/internal/audit/domain"
	"github.com/smallbiznis/tenantcore/internal/auth"
	"github.com/smallbiznis/tenantcore/internal/authorization"
	"github.com/smallbiznis/tenantcore/internal/config"
	"github.com/smallbiznis/tenantcore/internal/metrics"
	organizationdomain "github.com/smallbiznis/tenantcore/internal/organization/domain"
	provisioningdomain "github.com/smallbiznis/tenantcore/internal/provisioning/domain"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine            *gin.Engine
	cfg               config.Config
	log               *zap.Logger
	genID             *snowflake.Node
	tokenValidator    auth.TokenValidator
	overrideValidator auth.OverrideValidator
	organizationSvc   organizationdomain.Service
	quotaSvc          quotadomain.Service
	authzSvc          authorization.Service
	auditSvc          auditdomain.Service
	provisioningSvc   provisioningdomain.Service
	metrics           *metrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	Log               *zap.Logger
	GenID             *snowflake.Node
	TokenValidator    auth.TokenValidator
	OverrideValidator auth.OverrideValidator
	OrganizationSvc   organizationdomain.Service
	QuotaSvc          quotadomain.Service
	AuthzSvc          authorization.Service
	AuditSvc          auditdomain.Service
	ProvisioningSvc   provisioningdomain.Service
	Metrics           *metrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		log:               p.Log.Named("http"),
		genID:             p.GenID,
		tokenValidator:    p.TokenValidator,
		overrideValidator: p.OverrideValidator,
		organizationSvc:   p.OrganizationSvc,
		quotaSvc:          p.QuotaSvc,
		authzSvc:          p.AuthzSvc,
		auditSvc:          p.AuditSvc,
		provisioningSvc:   p.ProvisioningSvc,
		metrics:           p.Metrics,
	}

	svc.registerAPIRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")
	api.Use(s.RequestContext())
	api.Use(s.TenantContext())

	// -------- Organizations --------
	api.POST("/orgs", s.CreateOrganization)
	api.GET("/orgs", s.ListOrganizations)
	api.GET("/orgs/:id", s.GetOrganization)
	api.DELETE("/orgs/:id", s.DeleteOrganization)

	// -------- Members --------
	api.GET("/orgs/:id/members/:userId/role", s.GetMemberRole)
	api.POST("/orgs/:id/members", s.AddMember)
	api.DELETE("/orgs/:id/members/:userId", s.RemoveMember)
	api.PATCH("/orgs/:id/members/:userId/role", s.UpdateMemberRole)

	// -------- Quota --------
	api.GET("/orgs/:id/quota", s.GetQuotaUsage)
	api.POST("/orgs/:id/quota/reserve", s.ReserveQuota)
	api.POST("/orgs/:id/quota/release", s.ReleaseQuota)

	// -------- Provisioning --------
	api.GET("/orgs/:id/provisioning", s.GetProvisioningStatus)
	api.POST("/orgs/:id/provisioning/retry", s.RetryProvisioning)

	// -------- Audit --------
	api.GET("/orgs/:id/audit-logs", s.ListAuditLogs)
}
