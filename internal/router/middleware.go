package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	log "github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-ID"

// requestLogger tags every request with an ID and logs its outcome.
func requestLogger() gin.HandlerFunc {
	logger := log.WithField("package", "router")

	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = xid.New().String()
		}
		c.Writer.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		c.Next()

		fields := log.Fields{
			"request_id": requestID,
			"method":     c.Request.Method,
			"path":       c.Request.URL.RequestURI(),
			"status":     c.Writer.Status(),
			"elapsed":    time.Since(start).String(),
		}
		if c.Writer.Status() >= 500 {
			logger.WithFields(fields).Error("request failed")
			return
		}
		logger.WithFields(fields).Debug("request served")
	}
}
