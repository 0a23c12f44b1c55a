package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTPMetricsMiddlewareCountsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newHTTPMetrics(prometheus.NewRegistry(), Config{})

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/kpi/summaries/:period", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/kpi/summaries/2024-01", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("/api/kpi/summaries/:period", http.MethodGet, "204"))
	if got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
}
