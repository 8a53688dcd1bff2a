package server

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	auditdomain "github.com/smallbiznis/tenantcore/internal/audit/domain"
	"github.com/smallbiznis/tenantcore/internal/auditcontext"
	"github.com/smallbiznis/tenantcore/internal/auth"
	organizationdomain "github.com/smallbiznis/tenantcore/internal/organization/domain"
	"github.com/smallbiznis/tenantcore/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	HeaderOrg      = "X-Org-ID"
	HeaderOverride = "X-Override-Token"
)

// RequestContext stamps every request with an id and the client
// attributes the audit trail records.
func (s *Server) RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		ctx := auditcontext.WithRequestID(c.Request.Context(), requestID)
		ctx = auditcontext.WithIPAddress(ctx, c.ClientIP())
		ctx = auditcontext.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// TenantContext is the resolver. It validates the bearer credential,
// re-validates membership against the store, and publishes the resolved
// tenant into the request context. Nothing downstream ever reads tenant
// identity from anywhere else.
//
// The X-Org-ID selector is only honored alongside a separately signed
// override token; with a regular credential the tenant is whatever the
// credential says, and a mismatched selector is rejected outright.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		identity, err := s.tokenValidator.Validate(token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		tc := orgcontext.Context{
			UserID: identity.UserID,
			OrgID:  identity.OrgID,
		}

		selector, selErr := parseOrgSelector(c.GetHeader(HeaderOrg))
		if selErr != nil {
			AbortWithError(c, invalidRequestError())
			return
		}

		if overrideToken := strings.TrimSpace(c.GetHeader(HeaderOverride)); overrideToken != "" {
			if s.metrics != nil {
				s.metrics.OverrideRequests.Inc()
			}
			override, err := s.overrideValidator.ValidateOverride(overrideToken)
			if err != nil || override.UserID != identity.UserID {
				s.auditOverrideDenied(c, identity.UserID, selector)
				AbortWithError(c, ErrForbidden)
				return
			}
			tc.PrivilegedOverride = true
			if selector != 0 {
				tc.OrgID = selector
			}
			s.log.Warn("privileged override accepted",
				zap.String("user_id", identity.UserID.String()),
				zap.String("org_id", tc.OrgID.String()),
				zap.String("reason", override.Reason),
				zap.String("path", c.Request.URL.Path),
			)
		} else if selector != 0 && selector != identity.OrgID {
			// A plain credential steering at a foreign tenant is an
			// isolation attempt, not a malformed request.
			s.auditSelectorMismatch(c, identity, selector)
			AbortWithError(c, ErrForbidden)
			return
		}

		if !tc.PrivilegedOverride && tc.OrgID != 0 {
			role, err := s.organizationSvc.RoleOf(c.Request.Context(), tc.OrgID, tc.UserID)
			if errors.Is(err, organizationdomain.ErrNotFound) {
				AbortWithError(c, ErrStaleCredential)
				return
			}
			if err != nil {
				AbortWithError(c, err)
				return
			}
			tc.Role = role
		}

		c.Request = c.Request.WithContext(orgcontext.WithContext(c.Request.Context(), tc))

		c.Next()

		s.auditRequest(c, tc)
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseOrgSelector(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return snowflake.ParseString(raw)
}

// auditRequest writes the per-request trail entry. Override sessions are
// recorded even before any tenant is selected; only anonymous context
// with no org at all has nothing to attribute.
func (s *Server) auditRequest(c *gin.Context, tc orgcontext.Context) {
	if tc.OrgID == 0 && !tc.PrivilegedOverride {
		return
	}

	err := s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		OrgID:    tc.OrgID,
		ActorID:  tc.UserID,
		Action:   "http.request",
		Target:   c.FullPath(),
		Path:     c.Request.URL.Path,
		Override: tc.PrivilegedOverride,
		Metadata: map[string]any{
			"method": c.Request.Method,
			"status": c.Writer.Status(),
		},
	})
	if err != nil {
		s.log.Warn("request audit write failed", zap.Error(err))
	}
}

func (s *Server) auditOverrideDenied(c *gin.Context, userID, selector snowflake.ID) {
	err := s.auditSvc.Record(c.Request.Context(), auditdomain.Entry{
		OrgID:    selector,
		ActorID:  userID,
		Action:   "override.denied",
		Target:   c.FullPath(),
		Path:     c.Request.URL.Path,
		Severity: auditdomain.SeverityWarning,
	})
	if err != nil {
		s.log.Warn("override-denied audit write failed", zap.Error(err))
	}
}

func (s *Server) auditSelectorMismatch(c *gin.Context, identity auth.Identity, selector snowflake.ID) {
	err := s.auditSvc.RecordIsolationViolation(c.Request.Context(), auditdomain.Entry{
		OrgID:   selector,
		ActorID: identity.UserID,
		Target:  c.FullPath(),
		Path:    c.Request.URL.Path,
		Metadata: map[string]any{
			"credential_org_id": identity.OrgID.String(),
		},
	})
	if err != nil {
		s.log.Warn("isolation-violation audit write failed", zap.Error(err))
	}
}

func parseOrgID(c *gin.Context) (snowflake.ID, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || orgID == 0 {
		return 0, ErrNotFound
	}
	return orgID, nil
}

// orgIDParam resolves the :id path segment against the active tenant. A
// foreign id under a regular credential reads as not-found, the same as
// an id that doesn't exist at all.
func (s *Server) orgIDParam(c *gin.Context) (snowflake.ID, error) {
	orgID, err := parseOrgID(c)
	if err != nil {
		return 0, err
	}

	tc, ok := orgcontext.FromContext(c.Request.Context())
	if !ok {
		return 0, ErrUnauthorized
	}
	if tc.PrivilegedOverride {
		return orgID, nil
	}
	if tc.OrgID != orgID {
		return 0, ErrNotFound
	}
	return orgID, nil
}
