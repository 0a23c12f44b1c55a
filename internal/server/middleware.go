package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mogcia-app/signal/internal/observability/logger"
	"github.com/mogcia-app/signal/internal/ownercontext"
	"go.uber.org/zap"
)

const contextOwnerIDKey = "owner_id"

// OwnerRequired resolves the acting owner from the request context or the
// owner header. Requests without one are rejected.
func OwnerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID, ok := ownercontext.OwnerIDFromContext(c.Request.Context())
		if !ok {
			ownerID = strings.TrimSpace(c.GetHeader(ownercontext.HeaderOwnerID))
		}
		if ownerID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Request = c.Request.WithContext(ownercontext.WithOwnerID(c.Request.Context(), ownerID))
		c.Set(contextOwnerIDKey, ownerID)
		c.Next()
	}
}

func ownerID(c *gin.Context) string {
	return c.GetString(contextOwnerIDKey)
}

// IngestRateLimited applies the per-owner event ingest limit. Limiter
// failures let the request through.
func (s *Server) IngestRateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.ingestLimit.Enabled() {
			c.Next()
			return
		}

		res, err := s.ingestLimit.AllowOwner(c.Request.Context(), ownerID(c))
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("ingest rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
