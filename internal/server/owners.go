package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	billingcycledomain "github.com/mogcia-app/signal/internal/billingcycle/domain"
)

func (s *Server) GetOwnerProfile(c *gin.Context) {
	resp, err := s.billingSvc.GetProfile(c.Request.Context(), ownerID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpsertOwnerProfile(c *gin.Context) {
	var req billingcycledomain.UpsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OwnerID = ownerID(c)

	resp, err := s.billingSvc.UpsertProfile(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
