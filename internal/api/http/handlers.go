package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nusapanel/panel/backend/internal/api/middleware"
	"github.com/nusapanel/panel/backend/internal/providers/filesystem"
)

// headroom for the JSON envelope around content
const jsonBodySlack = 64 << 10

// Handlers serves the file manager routes
type Handlers struct {
	service *filesystem.Service
	metrics *HandlerMetrics
	logger  *zap.Logger
}

// NewHandlers creates the route handlers
func NewHandlers(service *filesystem.Service, metrics *HandlerMetrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewHandlerMetrics(nil, logger)
	}
	return &Handlers{
		service: service,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterRoutes mounts the file routes on a group that already runs the tenant middleware
func (h *Handlers) RegisterRoutes(r gin.IRoutes) {
	r.GET("/list", h.List)
	r.GET("/stat", h.Stat)
	r.GET("/content", h.Read)
	r.PUT("/content", h.Write)
	r.POST("/create", h.Create)
	r.POST("/rename", h.Rename)
	r.POST("/copy", h.Copy)
	r.POST("/move", h.Move)
	r.POST("/delete", h.Delete)
	r.POST("/compress", h.Compress)
	r.POST("/extract", h.Extract)
	r.GET("/search", h.Search)
	r.POST("/upload", h.Upload)
	r.GET("/download", h.Download)
}

// sandbox returns the tenant sandbox bound by the middleware
func (h *Handlers) sandbox(c *gin.Context) (*filesystem.Sandbox, bool) {
	sb, ok := middleware.SandboxFrom(c)
	if !ok {
		h.logger.Error("file route reached without a tenant sandbox", zap.String("route", c.FullPath()))
		respondError(c, &filesystem.Error{Kind: filesystem.KindIOFailure})
		return nil, false
	}
	return sb, true
}

// bindJSON decodes a JSON body capped near the content limit, leaving room
// for base64 expansion and the surrounding fields
func (h *Handlers) bindJSON(c *gin.Context, obj any) error {
	limit := h.service.Limits.MaxUploadSize
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit/3*4+4+jsonBodySlack)
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &filesystem.Error{Kind: filesystem.KindTooLarge, Op: "bind", Err: err}
	}
	return badRequest(err)
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

func succeed(c *gin.Context, data any) {
	respondOK(c, http.StatusOK, data)
}

func created(c *gin.Context, data any) {
	respondOK(c, http.StatusCreated, data)
}
