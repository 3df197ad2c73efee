package tracing

import (
	"regexp"

	"github.com/gin-gonic/gin"

	"github.com/nusapanel/panel/backend/internal/infrastructure/logging"
)

// Header names used for request correlation
const (
	RequestIDHeader = "X-Request-ID"
	SpanIDHeader    = "X-Span-ID"
)

// RequestIDKey is the gin context key holding the request ID
const RequestIDKey = "request_id"

// upstream IDs are echoed into logs and headers, so only plain tokens are kept
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// HTTPMiddleware creates Gin middleware that assigns every request an ID,
// echoes it back and logs the finished request as a span
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if upstream := c.GetHeader(RequestIDHeader); validRequestID.MatchString(upstream) {
			ctx = WithTraceID(ctx, TraceID(upstream))
		}

		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.path", c.Request.URL.Path)

		c.Request = c.Request.WithContext(ctx)
		c.Set(RequestIDKey, string(span.TraceID))

		c.Header(RequestIDHeader, string(span.TraceID))
		c.Header(SpanIDHeader, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		if tenant := c.GetString(logging.KeyTenant); tenant != "" {
			span.SetTag(logging.KeyTenant, tenant)
		}
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}

// RequestID returns the ID assigned to the request
func RequestID(c *gin.Context) string {
	if v := c.GetString(RequestIDKey); v != "" {
		return v
	}
	return string(GetTraceID(c.Request.Context()))
}
