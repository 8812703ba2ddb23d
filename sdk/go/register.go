package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RegisterRequest 服务注册请求
type RegisterRequest struct {
	Name       string `json:"name"`
	Host       string `json:"host,omitempty"`
	Port       int    `json:"port"`
	InstanceID string `json:"instanceId,omitempty"`
}

// RegisterResponse 服务注册响应
type RegisterResponse struct {
	Message    string `json:"message"`
	InstanceID string `json:"instanceId"`
}

// Register 注册实例，失败时按RetryInterval重试，最多尝试RetryCount次
//
// 4xx响应说明请求本身有问题，不再重试。
func (c *Client) Register(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.config.RetryCount; attempt++ {
		err := c.registerOnce(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return fmt.Errorf("服务注册被拒绝: %w", err)
		}

		c.logger.Warn("服务注册失败",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.config.RetryCount),
			zap.Error(err))

		if attempt == c.config.RetryCount {
			break
		}

		timer := time.NewTimer(c.config.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("服务注册已取消: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("服务注册失败，已尝试%d次: %w", c.config.RetryCount, lastErr)
}

// registerOnce 发送一次注册请求并保存注册中心返回的实例ID
func (c *Client) registerOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.RegisterTimeout)
	defer cancel()

	req := RegisterRequest{
		Name:       c.config.ServiceName,
		Host:       c.config.Host,
		Port:       c.config.Port,
		InstanceID: c.InstanceID(),
	}

	var resp RegisterResponse
	if err := c.doRequest(ctx, http.MethodPost, c.config.DiscoveryURL+"/register", req, &resp); err != nil {
		return err
	}

	c.mu.Lock()
	c.instanceID = resp.InstanceID
	c.registered = true
	c.mu.Unlock()

	c.logger.Info("服务注册成功",
		zap.String("instance_id", resp.InstanceID),
		zap.String("message", resp.Message))
	return nil
}

// Deregister 注销实例。注销是尽力而为的，失败只返回错误不做重试。
func (c *Client) Deregister(ctx context.Context) error {
	c.mu.Lock()
	instanceID := c.instanceID
	registered := c.registered
	c.mu.Unlock()

	if !registered {
		return fmt.Errorf("服务尚未注册")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RegisterTimeout)
	defer cancel()

	var resp struct {
		Message string `json:"message"`
	}
	if err := c.doRequest(ctx, http.MethodDelete, c.serviceURL("/services/", instanceID), nil, &resp); err != nil {
		return fmt.Errorf("服务注销失败: %w", err)
	}

	c.mu.Lock()
	c.registered = false
	c.mu.Unlock()

	c.logger.Info("服务已注销", zap.String("instance_id", instanceID), zap.String("message", resp.Message))
	return nil
}
