package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/internal/metrics"
	"go.uber.org/zap"
)

// LivenessMonitor 定期根据心跳时间刷新实例状态
type LivenessMonitor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   config.Logger
	metrics  *metrics.Metrics

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewLivenessMonitor 创建存活检查任务，metrics可以为nil
func NewLivenessMonitor(registry *Registry, interval, timeout time.Duration, logger config.Logger, m *metrics.Metrics) *LivenessMonitor {
	return &LivenessMonitor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		metrics:  m,
	}
}

// Start 启动后台检查循环
func (m *LivenessMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("存活检查已启动",
			zap.Duration("interval", m.interval),
			zap.Duration("timeout", m.timeout))

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("存活检查已停止")
				return
			case <-ticker.C:
				m.RunOnce(ctx)
			}
		}
	}()
}

// Stop 停止后台检查循环并等待其退出
func (m *LivenessMonitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// RunOnce 执行一次检查，上一次尚未结束时直接跳过。返回是否实际执行。
func (m *LivenessMonitor) RunOnce(ctx context.Context) bool {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Warn("上一次存活检查尚未结束，跳过本次")
		return false
	}
	defer m.running.Store(false)

	// 单次检查失败不能终止循环
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("存活检查异常", zap.Error(fmt.Errorf("panic: %v", r)))
		}
	}()

	result := m.registry.Sweep(ctx, m.timeout)
	m.logger.Debug("存活检查完成", zap.Int("up", result.Up), zap.Int("down", result.Down))

	if m.metrics != nil {
		m.metrics.LivenessSweeps.Inc()
		m.metrics.RegistryInstances.WithLabelValues("UP").Set(float64(result.Up))
		m.metrics.RegistryInstances.WithLabelValues("DOWN").Set(float64(result.Down))
	}
	return true
}
