package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantcore/internal/authorization"
	organizationdomain "github.com/smallbiznis/tenantcore/internal/organization/domain"
	"github.com/smallbiznis/tenantcore/internal/orgcontext"
	"github.com/smallbiznis/tenantcore/internal/tier"
	"github.com/smallbiznis/tenantcore/pkg/db/pagination"
)

type createOrganizationRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
	Tier string `json:"tier"`
}

func (s *Server) CreateOrganization(c *gin.Context) {
	tc, ok := orgcontext.FromContext(c.Request.Context())
	if !ok || tc.UserID == 0 {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.organizationSvc.Create(c.Request.Context(), organizationdomain.CreateOrganizationRequest{
		Name: strings.TrimSpace(req.Name),
		Slug: strings.TrimSpace(req.Slug),
		Tier: tier.Tier(strings.ToUpper(strings.TrimSpace(req.Tier))),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) GetOrganization(c *gin.Context) {
	orgID, err := parseOrgID(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	org, err := s.authzSvc.GetOrganization(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}

type listOrganizationsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

func (s *Server) ListOrganizations(c *gin.Context) {
	var query listOrganizationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.authzSvc.ListOrganizations(c.Request.Context(), organizationdomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Organizations, "page_info": resp.PageInfo})
}

func (s *Server) DeleteOrganization(c *gin.Context) {
	orgID, err := s.orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), authorization.ObjectOrganization, authorization.ActionOrganizationDelete); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.organizationSvc.SoftDelete(c.Request.Context(), orgID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
