package callback

import (
	"time"

	"github.com/go-training/sevenpass-client/pkg/core"

	"github.com/gin-gonic/gin"
)

// requestLogger tags the request context with a request ID and logs the
// outcome of every request. Query strings are never logged: they carry codes
// and state.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := core.WithRequestID(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", core.RequestIDFromCtx(ctx))

		c.Next()

		logger := core.LoggerFromCtx(ctx)
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			logger.Warn("Callback request failed", append(attrs, "error", c.Errors.String())...)
			return
		}
		logger.Info("Callback request", attrs...)
	}
}

// noStore keeps browsers and proxies from caching callback pages.
func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.Next()
}
