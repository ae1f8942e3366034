package middleware

import (
	"strings"
	"time"

	"go-pos-ledger/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

const requestIDKey = "requestID"

// RequestID reuses a sane inbound X-Request-ID or mints a uuid, echoes it
// back and attaches it to the request logger.
func RequestID(logg *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(logg.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// RequestLogger writes one line per request once the handler chain is done.
func RequestLogger(logg *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ctx := logg.WithFields(c.Request.Context(), map[string]any{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		})
		if c.Writer.Status() >= 500 {
			var err error
			if last := c.Errors.Last(); last != nil {
				err = last.Err
			}
			logg.Warn(ctx, "request completed", err)
			return
		}
		logg.Info(ctx, "request completed")
	}
}

func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}
