package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/internal/metrics"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// 可转发的HTTP方法
var forwardMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
}

// Server 网关HTTP服务
type Server struct {
	e         *echo.Echo
	host      string
	port      int
	routes    *RouteCache
	forwarder *Forwarder
	metrics   *metrics.Metrics
	logger    config.Logger
}

// NewServer 创建网关HTTP服务，metrics可以为nil
func NewServer(cfg *config.Config, routes *RouteCache, forwarder *Forwarder, m *metrics.Metrics, logger config.Logger) *Server {
	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// 添加中间件
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.CORS())

	s := &Server{
		e:         e,
		host:      cfg.Gateway.ListenAddress,
		port:      cfg.Gateway.Port,
		routes:    routes,
		forwarder: forwarder,
		metrics:   m,
		logger:    logger,
	}

	var forwardMiddleware []echo.MiddlewareFunc
	if cfg.Gateway.RateLimit.RPS > 0 {
		forwardMiddleware = append(forwardMiddleware, RateLimitMiddleware(cfg.Gateway.RateLimit.RPS, cfg.Gateway.RateLimit.Burst))
		logger.Info("已启用转发限流",
			zap.Float64("rps", cfg.Gateway.RateLimit.RPS),
			zap.Int("burst", cfg.Gateway.RateLimit.Burst))
	}

	s.registerRoutes(forwardMiddleware)
	return s
}

// registerRoutes 注册路由，管理端点优先于转发路由匹配
func (s *Server) registerRoutes(forwardMiddleware []echo.MiddlewareFunc) {
	s.e.GET("/", s.root)
	s.e.GET("/health", s.health)
	s.e.GET("/actuator/health", s.health)
	s.e.GET("/services", s.listServices)
	s.e.POST("/refresh", s.refresh)

	if s.metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	s.e.Match(forwardMethods, "/:service", s.forwarder.Handle, forwardMiddleware...)
	s.e.Match(forwardMethods, "/:service/*", s.forwarder.Handle, forwardMiddleware...)
}

// Echo 返回底层的echo实例
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// root 网关概况
func (s *Server) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":            "API Gateway is running",
		"timestamp":          time.Now().Format(time.RFC3339Nano),
		"available_services": s.routes.Services(),
		"service_routes":     s.routes.Routes(),
	})
}

// health 健康检查
func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"timestamp":          time.Now().Format(time.RFC3339Nano),
		"available_services": s.routes.Services(),
	})
}

// listServices 当前路由表
func (s *Server) listServices(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"services": s.routes.Services(),
		"routes":   s.routes.Routes(),
	})
}

// refresh 手动刷新路由表，注册中心不可用时返回现有路由
func (s *Server) refresh(c echo.Context) error {
	if err := s.routes.Refresh(c.Request().Context()); err != nil {
		s.logger.Warn("手动刷新路由失败", zap.Error(err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":            "Services refreshed",
		"available_services": s.routes.Services(),
	})
}

// Start 以非阻塞方式启动服务
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("网关服务启动", zap.String("address", addr))

	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("网关服务启动失败", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭网关服务...")
	return s.e.Shutdown(ctx)
}
