package logger

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Middleware 记录每次握手的结果
// 升级成功记为 101 Debug，被拒绝的握手按状态码记 Warn 或 Error
func Middleware(l Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		log := l.ErrorContext
		switch {
		case status < http.StatusBadRequest:
			log = l.DebugContext
		case status < http.StatusInternalServerError:
			log = l.WarnContext
		}
		log(c.Request.Context(), "Handshake",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
