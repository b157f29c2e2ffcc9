package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
)

const RequestIDHeader = "X-Request-Id"

// RequestLog tags every request with an id and logs one line on completion.
func RequestLog(log *logger.Logger) gin.HandlerFunc {
	requestLogger := log.With("middleware", "RequestLog")
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set("request_id", requestID)

		start := time.Now()
		c.Next()

		requestLogger.Info("request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
