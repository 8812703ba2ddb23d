package discovery

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server 注册中心HTTP服务
type Server struct {
	e      *echo.Echo
	host   string
	port   int
	logger config.Logger
}

// NewServer 创建注册中心HTTP服务
func NewServer(cfg *config.Config, handler *Handler, logger config.Logger) *Server {
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
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	// 注册路由
	handler.RegisterRoutes(e)

	return &Server{
		e:      e,
		host:   cfg.Discovery.ListenAddress,
		port:   cfg.Discovery.Port,
		logger: logger,
	}
}

// Echo 返回底层的echo实例
func (s *Server) Echo() *echo.Echo {
	return s.e
}

// Start 以非阻塞方式启动服务
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("注册中心API服务启动", zap.String("address", addr))

	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("注册中心API服务启动失败", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭注册中心API服务...")
	return s.e.Shutdown(ctx)
}
