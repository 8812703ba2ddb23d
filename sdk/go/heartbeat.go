package sdk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SendHeartbeat 发送一次心跳
//
// 注册中心返回404说明实例已被删除(例如注册中心重启)，此时重新注册一次。
func (c *Client) SendHeartbeat(ctx context.Context) error {
	if !c.IsRegistered() {
		return fmt.Errorf("服务尚未注册")
	}

	err := c.heartbeatOnce(ctx)
	if err == nil {
		return nil
	}
	if !IsNotFound(err) {
		return fmt.Errorf("发送心跳失败: %w", err)
	}

	c.logger.Warn("注册中心未找到当前实例，重新注册", zap.String("instance_id", c.InstanceID()))
	if err := c.registerOnce(ctx); err != nil {
		return fmt.Errorf("重新注册失败: %w", err)
	}
	return nil
}

func (c *Client) heartbeatOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.HeartbeatTimeout)
	defer cancel()

	return c.doRequest(ctx, http.MethodPut, c.serviceURL("/heartbeat/", c.InstanceID()), nil, nil)
}

// StartHeartbeat 启动后台心跳任务，重复调用会先停止旧任务
func (c *Client) StartHeartbeat() {
	c.StopHeartbeat()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.hbMu.Lock()
	c.hbCancel = cancel
	c.hbDone = done
	c.hbMu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(c.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := c.SendHeartbeat(ctx); err != nil {
					c.logger.Warn("心跳发送失败，将在下一个周期重试", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StopHeartbeat 停止心跳任务并等待其退出，未启动时直接返回
func (c *Client) StopHeartbeat() {
	c.hbMu.Lock()
	cancel, done := c.hbCancel, c.hbDone
	c.hbCancel, c.hbDone = nil, nil
	c.hbMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close 停止心跳并尽力注销实例
func (c *Client) Close(ctx context.Context) error {
	c.StopHeartbeat()

	if c.IsRegistered() {
		if err := c.Deregister(ctx); err != nil {
			c.logger.Warn("关闭时注销服务失败", zap.Error(err))
			return err
		}
	}
	return nil
}
