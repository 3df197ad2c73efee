package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nusapanel/panel/backend/internal/api/middleware"
	"github.com/nusapanel/panel/backend/internal/infrastructure/logging"
	"github.com/nusapanel/panel/backend/internal/infrastructure/monitoring"
	"github.com/nusapanel/panel/backend/internal/infrastructure/tracing"
	"github.com/nusapanel/panel/backend/internal/providers/filesystem"
)

// HandlerMetrics records one metric sample and one log line per file operation
type HandlerMetrics struct {
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandlerMetrics creates a metrics wrapper
func NewHandlerMetrics(metrics *monitoring.Metrics, logger *zap.Logger) *HandlerMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandlerMetrics{metrics: metrics, logger: logger}
}

// TrackOperation starts timing op on path; call the returned func with the outcome
func (hm *HandlerMetrics) TrackOperation(c *gin.Context, op, path string) func(err error) {
	var timer *monitoring.Timer
	if hm.metrics != nil {
		timer = monitoring.NewTimer(hm.metrics, op)
	}
	return func(err error) {
		code := monitoring.CodeOK
		if err != nil {
			code = filesystem.KindOf(err).Code()
		}
		var fields []zap.Field
		if timer != nil {
			fields = append(fields, zap.Duration("duration", timer.Stop(code)))
		}
		fields = append(fields,
			logging.Op(op),
			logging.Tenant(middleware.TenantFrom(c)),
			logging.Path(path),
			logging.Code(code),
			logging.RequestID(tracing.RequestID(c)),
		)

		switch {
		case err == nil:
			hm.logger.Info("file operation", fields...)
		case filesystem.KindOf(err) == filesystem.KindPathTraversal:
			hm.logger.Warn("file operation rejected", fields...)
		case filesystem.KindOf(err) == filesystem.KindIOFailure:
			hm.logger.Error("file operation failed", append(fields, zap.Error(err))...)
		default:
			hm.logger.Info("file operation failed", fields...)
		}
	}
}

// AddBytesRead counts bytes served
func (hm *HandlerMetrics) AddBytesRead(n int64) {
	if hm.metrics != nil {
		hm.metrics.AddBytesRead(n)
	}
}

// AddBytesWritten counts bytes stored
func (hm *HandlerMetrics) AddBytesWritten(n int64) {
	if hm.metrics != nil {
		hm.metrics.AddBytesWritten(n)
	}
}
