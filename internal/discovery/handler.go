package discovery

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/internal/configstore"
	"github.com/hewenyu/kong-gateway/internal/metrics"
	"github.com/hewenyu/kong-gateway/internal/registry"
	"github.com/hewenyu/kong-gateway/pkg/apperror"
	"github.com/hewenyu/kong-gateway/pkg/model"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// RegisterRequest 服务注册请求
type RegisterRequest struct {
	Name       string `json:"name"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	InstanceID string `json:"instanceId"`
}

// RegisterResponse 服务注册响应
type RegisterResponse struct {
	Message    string `json:"message"`
	InstanceID string `json:"instanceId"`
}

// MessageResponse 只包含提示信息的响应
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// ActiveInstancesResponse 可用实例查询响应
type ActiveInstancesResponse struct {
	Service       string                  `json:"service"`
	Instances     []model.ServiceInstance `json:"instances"`
	InstanceCount int                     `json:"instance_count"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status             string `json:"status"`
	RegisteredServices int    `json:"registered_services"`
	Timestamp          string `json:"timestamp"`
}

// Handler 注册中心HTTP处理器
type Handler struct {
	registry *registry.Registry
	configs  configstore.Store
	metrics  *metrics.Metrics
	logger   config.Logger
}

// NewHandler 创建处理器，configs和metrics可以为nil
func NewHandler(reg *registry.Registry, configs configstore.Store, m *metrics.Metrics, logger config.Logger) *Handler {
	return &Handler{
		registry: reg,
		configs:  configs,
		metrics:  m,
		logger:   logger,
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.root)
	e.GET("/health", h.health)
	e.GET("/actuator/health", h.health)

	// 服务注册与发现
	e.POST("/register", h.register)
	e.PUT("/heartbeat/:name", h.heartbeat)
	e.GET("/services", h.listAll)
	e.GET("/services/:name", h.listActive)
	e.DELETE("/services/:name", h.deregister)

	// 业务服务配置
	if h.configs != nil {
		e.GET("/configs", h.listConfigs)
		e.GET("/configs/:name", h.getConfig)
		e.PUT("/configs/:name", h.putConfig)
	}

	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))
	}
}

// root 服务概况
func (h *Handler) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":             "Discovery Service is running",
		"registered_services": h.registry.Count(),
		"services":            h.registry.Names(),
	})
}

// health 健康检查
func (h *Handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:             "healthy",
		RegisteredServices: h.registry.Count(),
		Timestamp:          time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// register 注册服务实例
func (h *Handler) register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Warn("无效的注册请求", zap.Error(err))
		return h.fail(c, apperror.NewValidationError("Invalid request body"))
	}

	instanceID, updated, err := h.registry.Register(c.Request().Context(), registry.RegisterRequest{
		Name:       req.Name,
		Host:       req.Host,
		Port:       req.Port,
		InstanceID: req.InstanceID,
	})
	h.metrics.ObserveOperation("register", err)
	if err != nil {
		return h.fail(c, err)
	}

	message := fmt.Sprintf("Service '%s' registered", req.Name)
	if updated {
		message = fmt.Sprintf("Service '%s' updated", req.Name)
	}
	return c.JSON(http.StatusOK, RegisterResponse{
		Message:    message,
		InstanceID: instanceID,
	})
}

// heartbeat 接收心跳
func (h *Handler) heartbeat(c echo.Context) error {
	name := c.Param("name")
	err := h.registry.Heartbeat(c.Request().Context(), name, c.QueryParam("instance_id"))
	h.metrics.ObserveOperation("heartbeat", err)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Heartbeat received: %s", name),
	})
}

// listAll 返回全部服务，包括DOWN实例
func (h *Handler) listAll(c echo.Context) error {
	return c.JSON(http.StatusOK, h.registry.ListAll(c.Request().Context()))
}

// listActive 返回指定服务的UP实例
func (h *Handler) listActive(c echo.Context) error {
	name := c.Param("name")
	instances, err := h.registry.ListActive(c.Request().Context(), name)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, ActiveInstancesResponse{
		Service:       name,
		Instances:     instances,
		InstanceCount: len(instances),
	})
}

// deregister 注销服务或实例
func (h *Handler) deregister(c echo.Context) error {
	message, err := h.registry.Deregister(c.Request().Context(), c.Param("name"), c.QueryParam("instance_id"))
	h.metrics.ObserveOperation("deregister", err)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(http.StatusOK, MessageResponse{Message: message})
}

// listConfigs 返回已有配置的服务名
func (h *Handler) listConfigs(c echo.Context) error {
	names, err := h.configs.List(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string][]string{"configs": names})
}

// getConfig 获取业务服务配置
func (h *Handler) getConfig(c echo.Context) error {
	doc, err := h.configs.Get(c.Request().Context(), c.Param("name"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// putConfig 整体替换业务服务配置
func (h *Handler) putConfig(c echo.Context) error {
	name := c.Param("name")

	// 路径参数不能混进配置内容，这里不用c.Bind
	var doc configstore.Document
	if err := json.NewDecoder(c.Request().Body).Decode(&doc); err != nil || doc == nil {
		return h.fail(c, apperror.NewValidationError("Config must be a JSON object"))
	}

	if err := h.configs.Put(c.Request().Context(), name, doc); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Config for %s updated successfully", name),
	})
}

// fail 把错误转换为HTTP响应，内部错误只记录日志不返回细节
func (h *Handler) fail(c echo.Context, err error) error {
	status := apperror.HTTPStatus(err)
	if status >= http.StatusInternalServerError && !apperror.IsCode(err, apperror.CodeUnavailable) {
		h.logger.Error("请求处理失败",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{
		Detail: apperror.PublicMessage(err, "Internal server error"),
	})
}
