package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
)

func (s *Server) ListSummaries(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	resp, err := s.kpiSvc.ListSummaries(c.Request.Context(), ownerID(c), n)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetSummary(c *gin.Context) {
	period := strings.TrimSpace(c.Param("period"))
	resp, err := s.kpiSvc.GetSummary(c.Request.Context(), ownerID(c), period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCurrent(c *gin.Context) {
	resp, err := s.kpiSvc.GetCurrent(c.Request.Context(), ownerID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBreakdowns(c *gin.Context) {
	period := strings.TrimSpace(c.Param("period"))
	resp, err := s.kpiSvc.GetBreakdowns(c.Request.Context(), ownerID(c), period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) EnqueueRebuild(c *gin.Context) {
	var req kpidomain.EnqueueRebuildRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}
	dryRun, err := parseOptionalBool(c.Query("dry_run"))
	if err != nil {
		AbortWithError(c, newValidationError("dry_run", "invalid_dry_run", "invalid dry run"))
		return
	}
	if dryRun != nil {
		req.DryRun = *dryRun
	}
	req.OwnerID = ownerID(c)
	req.PeriodKey = strings.TrimSpace(req.PeriodKey)

	resp, err := s.kpiSvc.EnqueueRebuild(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": resp})
}

func (s *Server) GetRebuild(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.kpiSvc.GetRebuild(c.Request.Context(), ownerID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
