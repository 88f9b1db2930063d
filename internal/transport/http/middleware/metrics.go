package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/sync-scheduler/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics records request counts and latency per route. Websocket streams
// live for minutes, so only their count is recorded.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method

		metrics.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
		if c.Writer.Status() == http.StatusSwitchingProtocols {
			return
		}
		metrics.HTTPRequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
	}
}
