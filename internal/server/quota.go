package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/tenantcore/internal/authorization"
	quotadomain "github.com/smallbiznis/tenantcore/internal/quota/domain"
)

func (s *Server) GetQuotaUsage(c *gin.Context) {
	orgID, err := s.orgIDParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), authorization.ObjectQuota, authorization.ActionQuotaView); err != nil {
		AbortWithError(c, err)
		return
	}

	if raw := strings.TrimSpace(c.Query("resource")); raw != "" {
		resource := quotadomain.ResourceType(raw)
		counter, err := s.quotaSvc.Usage(c.Request.Context(), orgID, resource)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, counter)
		return
	}

	counters := make([]*quotadomain.UsageCounter, 0, len(quotadomain.All()))
	for _, resource := range quotadomain.All() {
		counter, err := s.quotaSvc.Usage(c.Request.Context(), orgID, resource)
		if errors.Is(err, quotadomain.ErrCounterNotFound) {
			continue
		}
		if err != nil {
			AbortWithError(c, err)
			return
		}
		counters = append(counters, counter)
	}

	c.JSON(http.StatusOK, gin.H{"data": counters})
}

type quotaMutationRequest struct {
	Resource string `json:"resource"`
	Amount   int64  `json:"amount"`
}

func (s *Server) ReserveQuota(c *gin.Context) {
	if _, err := s.orgIDParam(c); err != nil {
		AbortWithError(c, err)
		return
	}

	var req quotaMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	decision, err := s.authzSvc.CheckAndReserveQuota(c.Request.Context(), quotadomain.ResourceType(strings.TrimSpace(req.Resource)), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// A denied reservation is a well-formed answer, reported with the
	// usage that caused it.
	status := http.StatusOK
	if !decision.Granted {
		status = http.StatusTooManyRequests
	}
	c.JSON(status, decision)
}

func (s *Server) ReleaseQuota(c *gin.Context) {
	if _, err := s.orgIDParam(c); err != nil {
		AbortWithError(c, err)
		return
	}

	var req quotaMutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.authzSvc.ReleaseQuota(c.Request.Context(), quotadomain.ResourceType(strings.TrimSpace(req.Resource)), req.Amount); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
