package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/internal/metrics"
	"github.com/hewenyu/kong-gateway/pkg/apperror"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Forwarder 把请求转发到路由表中对应服务的实例
//
// 每个请求的流程：解析服务名 -> 未命中时同步刷新一次路由表再查 -> 转发 -> 原样回传或返回映射后的错误。
// 不做重试，也没有熔断。
type Forwarder struct {
	routes  *RouteCache
	client  *http.Client
	timeout time.Duration
	metrics *metrics.Metrics
	logger  config.Logger
}

// NewForwarder 创建转发器，metrics可以为nil
func NewForwarder(routes *RouteCache, timeout time.Duration, m *metrics.Metrics, logger config.Logger) *Forwarder {
	return &Forwarder{
		routes: routes,
		client: &http.Client{
			// 后端的重定向交给调用方处理
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// Handle echo处理函数，匹配 /:service 和 /:service/*
func (f *Forwarder) Handle(c echo.Context) error {
	service := c.Param("service")
	rest := remainingPath(c.Request().URL)

	start := time.Now()
	err := f.Forward(c.Request().Context(), c.Response(), c.Request(), service, rest)

	status := c.Response().Status
	if err != nil {
		status = apperror.HTTPStatus(err)
	}
	f.observe(service, c.Request().Method, status, time.Since(start))

	if err != nil {
		if apperror.IsCode(err, apperror.CodeInternal) {
			f.logger.Error("转发请求出错",
				zap.String("service", service),
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.Error(err))
		}
		return c.JSON(status, map[string]string{
			"detail": apperror.PublicMessage(err, "Gateway internal error"),
		})
	}
	return nil
}

// Forward 解析路由并转发请求。成功时响应已写入w；返回错误时w未被写入。
func (f *Forwarder) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request, service, rest string) error {
	baseURL, err := f.resolve(ctx, service)
	if err != nil {
		return err
	}

	target := buildTargetURL(baseURL, rest, r.URL.RawQuery)

	// 只有约定携带请求体的方法才读取并转发请求体
	var body io.Reader
	if hasBody(r.Method) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return apperror.NewInternalError("Gateway internal error", fmt.Errorf("读取请求体失败: %w", err))
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return apperror.NewInternalError("Gateway internal error", fmt.Errorf("创建转发请求失败: %w", err))
	}
	copyRequestHeaders(outReq.Header, r.Header)

	f.logger.Debug("转发请求",
		zap.String("service", service),
		zap.String("method", r.Method),
		zap.String("target", target))

	resp, err := f.client.Do(outReq)
	if err != nil {
		return classifyError(service, err)
	}
	defer resp.Body.Close()

	// 后端的任何状态码都原样返回，包括4xx和5xx
	for key, values := range resp.Header {
		w.Header()[key] = append([]string(nil), values...)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// 状态码已经写出，只能记录日志
		f.logger.Warn("回传响应体失败", zap.String("service", service), zap.Error(err))
	}
	return nil
}

// resolve 查找路由，未命中时同步刷新一次
func (f *Forwarder) resolve(ctx context.Context, service string) (string, error) {
	if baseURL, ok := f.routes.Lookup(service); ok {
		return baseURL, nil
	}

	if err := f.routes.Refresh(ctx); err != nil {
		f.logger.Warn("按需刷新路由失败", zap.String("service", service), zap.Error(err))
	}

	if baseURL, ok := f.routes.Lookup(service); ok {
		return baseURL, nil
	}
	return "", apperror.NewNotFoundError(fmt.Sprintf("Service '%s' not found in discovery", service))
}

func (f *Forwarder) observe(service, method string, status int, elapsed time.Duration) {
	if f.metrics == nil {
		return
	}
	f.metrics.GatewayRequests.WithLabelValues(service, method, strconv.Itoa(status)).Inc()
	f.metrics.GatewayRequestDuration.WithLabelValues(service).Observe(elapsed.Seconds())
}

// remainingPath 返回服务名之后的路径，保持原始编码
func remainingPath(u *url.URL) string {
	path := strings.TrimPrefix(u.EscapedPath(), "/")
	idx := strings.Index(path, "/")
	if idx < 0 {
		return ""
	}
	return path[idx+1:]
}

// buildTargetURL 拼接转发地址，剩余路径为空时就是服务地址本身
func buildTargetURL(baseURL, rest, rawQuery string) string {
	target := strings.TrimRight(baseURL, "/")
	if rest != "" {
		target += "/" + rest
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}

// copyRequestHeaders 复制请求头，Host和Content-Length除外
func copyRequestHeaders(dst, src http.Header) {
	for key, values := range src {
		if strings.EqualFold(key, "Host") || strings.EqualFold(key, "Content-Length") {
			continue
		}
		dst[key] = append([]string(nil), values...)
	}
}

// classifyError 把转发失败映射为错误分类
func classifyError(service string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperror.NewUpstreamTimeoutError(fmt.Sprintf("Service '%s' timeout", service), err)
	}

	if isConnectError(err) {
		return apperror.NewUpstreamUnreachableError(fmt.Sprintf("Service '%s' is not reachable", service), err)
	}

	return apperror.NewInternalError("Gateway internal error", err)
}

// isConnectError 判断是否为建立连接阶段的失败
func isConnectError(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
