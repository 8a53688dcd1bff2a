package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantcore/internal/authorization"
	"github.com/smallbiznis/tenantcore/internal/orgcontext"
)

type addMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (s *Server) AddMember(c *gin.Context) {
	orgID, err := s.orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil || userID == 0 {
		AbortWithError(c, newValidationError("user_id", "invalid_user", "invalid user id"))
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), authorization.ObjectMember, authorization.ActionMemberAdd); err != nil {
		AbortWithError(c, err)
		return
	}

	member, err := s.organizationSvc.AddMember(c.Request.Context(), orgID, userID, strings.ToUpper(strings.TrimSpace(req.Role)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, member)
}

func (s *Server) RemoveMember(c *gin.Context) {
	orgID, err := s.orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(c.Param("userId")))
	if err != nil || userID == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	// Leaving an organization is always allowed; removing someone else
	// goes through the role policy on top of the service's rank rules.
	tc, _ := orgcontext.FromContext(c.Request.Context())
	if userID != tc.UserID {
		if err := s.authzSvc.Authorize(c.Request.Context(), authorization.ObjectMember, authorization.ActionMemberRemove); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	if err := s.organizationSvc.RemoveMember(c.Request.Context(), orgID, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type updateMemberRoleRequest struct {
	Role string `json:"role"`
}

func (s *Server) UpdateMemberRole(c *gin.Context) {
	orgID, err := s.orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(c.Param("userId")))
	if err != nil || userID == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req updateMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.authzSvc.UpdateRole(c.Request.Context(), orgID, userID, strings.ToUpper(strings.TrimSpace(req.Role))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetMemberRole(c *gin.Context) {
	orgID, err := s.orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	userID, err := snowflake.ParseString(strings.TrimSpace(c.Param("userId")))
	if err != nil || userID == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), authorization.ObjectMember, authorization.ActionMemberView); err != nil {
		AbortWithError(c, err)
		return
	}

	role, err := s.organizationSvc.RoleOf(c.Request.Context(), orgID, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_id": userID.String(), "role": role})
}
