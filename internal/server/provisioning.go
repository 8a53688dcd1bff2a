package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantcore/internal/authorization"
)

func (s *Server) GetProvisioningStatus(c *gin.Context) {
	orgID, err := s.orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), authorization.ObjectProvisioning, authorization.ActionProvisioningView); err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.provisioningSvc.Get(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// RetryProvisioning re-drives an interrupted or failed workflow inline.
// The run resumes from the first incomplete step; a Complete record is
// returned as-is.
func (s *Server) RetryProvisioning(c *gin.Context) {
	orgID, err := s.orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), authorization.ObjectProvisioning, authorization.ActionProvisioningTrigger); err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.provisioningSvc.Provision(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}
