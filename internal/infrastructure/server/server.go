package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	fileshttp "github.com/nusapanel/panel/backend/internal/api/http"
	"github.com/nusapanel/panel/backend/internal/api/middleware"
	"github.com/nusapanel/panel/backend/internal/infrastructure/config"
	"github.com/nusapanel/panel/backend/internal/infrastructure/logging"
	"github.com/nusapanel/panel/backend/internal/infrastructure/monitoring"
	"github.com/nusapanel/panel/backend/internal/infrastructure/tracing"
	"github.com/nusapanel/panel/backend/internal/providers/filesystem"
)

const serviceName = "nusapanel-files"

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
	registry   *prometheus.Registry
	tracer     *tracing.Tracer
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
	logger.Info("Initializing file manager",
		zap.String("port", cfg.Server.Port),
		zap.String("home_base", cfg.Files.HomeBase),
		zap.Bool("auth", cfg.Auth.Enabled()),
	)

	info, err := os.Stat(cfg.Files.HomeBase)
	if err != nil {
		return nil, fmt.Errorf("home base unavailable: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("home base %s is not a directory", cfg.Files.HomeBase)
	}
	if !cfg.Auth.Enabled() {
		logger.Warn("Token verification disabled, trusting the tenant header",
			zap.String("header", middleware.TenantHeader))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)
	tracer := tracing.New(serviceName, logger.Logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.CORSFromOrigins(cfg.CORS.Origins)))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/metrics/json", func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.Snapshot())
	})

	files := router.Group("/api/files")
	files.Use(middleware.Tenant(middleware.TenantConfig{
		HomeBase:  cfg.Files.HomeBase,
		JWTSecret: cfg.Auth.JWTSecret,
		JWTIssuer: cfg.Auth.JWTIssuer,
		Logger:    logger.Logger,
	}))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limit := middleware.DefaultRateLimitConfig()
		limit.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limit.Burst = cfg.RateLimit.Burst
		limit.OnLimited = metrics.IncRateLimited
		files.Use(middleware.RateLimit(limit))
	}

	service := filesystem.NewService(cfg.Files.Limits(), logger.Logger)
	handlers := fileshttp.NewHandlers(service, fileshttp.NewHandlerMetrics(metrics, logger.Logger), logger.Logger)
	handlers.RegisterRoutes(files)

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		httpServer: &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		registry: registry,
		tracer:   tracer,
	}, nil
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until Shutdown is called
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the tracer and logger
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Error("Failed to drain connections", zap.Error(err))
	}
	s.tracer.Close()
	_ = s.logger.Sync()
	return err
}
