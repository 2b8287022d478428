package tracing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/tokmz/wsroom/pkg/logger"
)

// MiddlewareOption 握手中间件选项
type MiddlewareOption func(*middleware)

// WithFilter 返回 false 的请求不创建 Span
func WithFilter(fn func(*gin.Context) bool) MiddlewareOption {
	return func(m *middleware) { m.filter = fn }
}

type middleware struct {
	filter func(*gin.Context) bool
}

// Middleware 握手链路追踪
// 从请求头提取上游 TraceContext 并开启 Server Span，TraceID 写入日志上下文，
// 响应头回写 traceparent，客户端可据此关联后续消息
func Middleware(opts ...MiddlewareOption) gin.HandlerFunc {
	m := &middleware{}
	for _, opt := range opts {
		opt(m)
	}

	return func(c *gin.Context) {
		if m.filter != nil && !m.filter(c) {
			c.Next()
			return
		}

		req := c.Request
		prop := otel.GetTextMapPropagator()
		ctx := prop.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
		// Provider 可能晚于中间件创建，每次请求取全局 Tracer
		ctx, span := otel.Tracer(tracerName).Start(ctx, req.Method+" "+req.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(req.Method),
				semconv.UserAgentOriginalKey.String(req.UserAgent()),
				AttrPath.String(req.URL.Path),
				attribute.String("client.ip", c.ClientIP()),
			),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			ctx = logger.WithTraceID(ctx, sc.TraceID().String())
		}
		c.Request = req.WithContext(ctx)
		// 升级成功后无法再写响应头
		prop.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}
