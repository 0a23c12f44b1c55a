package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/mogcia-app/signal/internal/analytics/domain"
	kpidomain "github.com/mogcia-app/signal/internal/kpi/domain"
)

func (s *Server) ListEvents(c *gin.Context) {
	var query struct {
		Period    string `form:"period"`
		PageToken string `form:"page_token"`
		PageSize  string `form:"page_size"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "invalid page size"))
		return
	}
	req := analyticsdomain.ListRequest{
		OwnerID:   ownerID(c),
		PeriodKey: strings.TrimSpace(query.Period),
		PageToken: strings.TrimSpace(query.PageToken),
	}
	if pageSize != nil {
		req.PageSize = *pageSize
	}

	resp, err := s.analyticsSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Events, "next_page_token": resp.NextPageToken})
}

func (s *Server) PutEvent(c *gin.Context) {
	raw, ok := bindRawEvent(c)
	if !ok {
		return
	}

	resp, err := s.analyticsSvc.Put(c.Request.Context(), raw)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetEvent(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.analyticsSvc.Get(c.Request.Context(), ownerID(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateEvent(c *gin.Context) {
	raw, ok := bindRawEvent(c)
	if !ok {
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if raw.RecordID != "" && raw.RecordID != id {
		AbortWithError(c, newValidationError("record_id", "invalid_record_id", "record id does not match path"))
		return
	}
	raw.RecordID = id

	resp, err := s.analyticsSvc.Update(c.Request.Context(), raw)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteEvent(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if err := s.analyticsSvc.Delete(c.Request.Context(), ownerID(c), id, false); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// bindRawEvent decodes the request body and stamps it with the acting owner.
// A body naming a different owner is rejected.
func bindRawEvent(c *gin.Context) (kpidomain.RawEvent, bool) {
	var raw kpidomain.RawEvent
	if err := c.ShouldBindJSON(&raw); err != nil {
		AbortWithError(c, invalidRequestError())
		return kpidomain.RawEvent{}, false
	}

	owner := ownerID(c)
	raw.OwnerID = strings.TrimSpace(raw.OwnerID)
	if raw.OwnerID != "" && raw.OwnerID != owner {
		AbortWithError(c, analyticsdomain.ErrOwnerMismatch)
		return kpidomain.RawEvent{}, false
	}
	raw.OwnerID = owner
	raw.RecordID = strings.TrimSpace(raw.RecordID)
	return raw, true
}
