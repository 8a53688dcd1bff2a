package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tenantcore/internal/audit/domain"
	"github.com/smallbiznis/tenantcore/internal/authorization"
)

type listAuditLogsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int32  `form:"page_size"`
	Action    string `form:"action"`
	Severity  string `form:"severity"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	if _, err := s.orgIDParam(c); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), authorization.ObjectAuditLog, authorization.ActionAuditLogView); err != nil {
		AbortWithError(c, err)
		return
	}

	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListRequest{
		Action:    strings.TrimSpace(query.Action),
		Severity:  strings.ToUpper(strings.TrimSpace(query.Severity)),
		PageToken: strings.TrimSpace(query.PageToken),
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
