package registry

import (
	"context"
	"testing"
	"time"

	"github.com/hewenyu/kong-gateway/internal/metrics"
	"github.com/hewenyu/kong-gateway/pkg/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLivenessMonitorRunOnce(t *testing.T) {
	reg, clock := newTestRegistry()
	ctx := context.Background()

	promRegistry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(promRegistry, promRegistry)
	monitor := NewLivenessMonitor(reg, time.Hour, time.Minute, &MockLogger{}, m)

	_, _, err := reg.Register(ctx, RegisterRequest{Name: "svc", Port: 9000, InstanceID: "a"})
	require.NoError(t, err)
	_, _, err = reg.Register(ctx, RegisterRequest{Name: "svc", Port: 9000, InstanceID: "b"})
	require.NoError(t, err)

	clock.Advance(90 * time.Second)
	require.NoError(t, reg.Heartbeat(ctx, "svc", "b"))

	assert.True(t, monitor.RunOnce(ctx))

	instances := reg.ListAll(ctx)["svc"]
	assert.Equal(t, model.StatusDown, instances[0].Status)
	assert.Equal(t, model.StatusUp, instances[1].Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LivenessSweeps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryInstances.WithLabelValues("UP")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RegistryInstances.WithLabelValues("DOWN")))
}

func TestLivenessMonitorSkipsOverlappingRun(t *testing.T) {
	reg, _ := newTestRegistry()
	monitor := NewLivenessMonitor(reg, time.Hour, time.Minute, &MockLogger{}, nil)

	monitor.running.Store(true)
	assert.False(t, monitor.RunOnce(context.Background()), "上一次未结束时应跳过")

	monitor.running.Store(false)
	assert.True(t, monitor.RunOnce(context.Background()))
}

func TestLivenessMonitorStartStop(t *testing.T) {
	clock := newFakeClock()
	reg := New(&MockLogger{}, WithClock(clock.Now))
	ctx := context.Background()

	_, _, err := reg.Register(ctx, RegisterRequest{Name: "svc", Port: 9000, InstanceID: "a"})
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	monitor := NewLivenessMonitor(reg, 10*time.Millisecond, time.Minute, &MockLogger{}, nil)
	monitor.Start(ctx)
	// 重复启动不应产生第二个循环
	monitor.Start(ctx)

	assert.Eventually(t, func() bool {
		return reg.ListAll(ctx)["svc"][0].Status == model.StatusDown
	}, time.Second, 10*time.Millisecond, "后台检查应把超时实例标记为DOWN")

	monitor.Stop()
	// 重复停止不应阻塞或panic
	monitor.Stop()
}

func TestLivenessMonitorStopWithoutStart(t *testing.T) {
	reg, _ := newTestRegistry()
	monitor := NewLivenessMonitor(reg, time.Second, time.Minute, &MockLogger{}, nil)
	assert.NotPanics(t, monitor.Stop)
}
