package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bft-labs/offsync/pkg/log"
)

// Logger logs every control API request once it completes.
func Logger(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []log.Field{
			log.String("method", c.Request.Method),
			log.String("path", c.Request.URL.Path),
			log.Int("status", c.Writer.Status()),
			log.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, log.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Warn("request failed", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
