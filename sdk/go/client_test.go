package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/internal/configstore"
	"github.com/hewenyu/kong-gateway/internal/discovery"
	"github.com/hewenyu/kong-gateway/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDiscoveryServer 启动一个真实的注册中心HTTP服务
func newDiscoveryServer(t *testing.T) (*httptest.Server, *registry.Registry, configstore.Store) {
	t.Helper()

	logger := config.NewNopLogger()
	reg := registry.New(logger)
	configs := configstore.NewMemoryStore()
	handler := discovery.NewHandler(reg, configs, nil, logger)
	server := discovery.NewServer(&config.Config{}, handler, logger)

	ts := httptest.NewServer(server.Echo())
	t.Cleanup(ts.Close)
	return ts, reg, configs
}

func newTestClient(t *testing.T, baseURL string, mutate func(*Config)) *Client {
	t.Helper()

	cfg := Config{
		DiscoveryURL:      baseURL,
		ServiceName:       "orders",
		Host:              "127.0.0.1",
		Port:              9000,
		HeartbeatInterval: 20 * time.Millisecond,
		RetryInterval:     5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := NewClient(cfg)
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "缺少注册中心地址", cfg: Config{ServiceName: "svc", Port: 80}},
		{name: "缺少服务名", cfg: Config{DiscoveryURL: "http://d", Port: 80}},
		{name: "端口非法", cfg: Config{DiscoveryURL: "http://d", ServiceName: "svc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			assert.Error(t, err)
		})
	}

	client, err := NewClient(Config{DiscoveryURL: "http://d/", ServiceName: "svc", Port: 80})
	require.NoError(t, err)
	assert.Equal(t, "http://d", client.config.DiscoveryURL)
	assert.Equal(t, "http://d", client.config.ConfigURL, "配置服务地址默认与注册中心相同")
	assert.Equal(t, DefaultHeartbeatInterval, client.config.HeartbeatInterval)
	assert.Equal(t, DefaultRetryCount, client.config.RetryCount)
}

func TestRegisterHeartbeatDeregister(t *testing.T) {
	ts, reg, _ := newDiscoveryServer(t)
	client := newTestClient(t, ts.URL, nil)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx))
	assert.True(t, client.IsRegistered())
	require.NotEmpty(t, client.InstanceID())

	instances, err := reg.ListActive(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, client.InstanceID(), instances[0].InstanceID)
	assert.Equal(t, "127.0.0.1", instances[0].HostName)
	assert.Equal(t, "http://orders:9000", instances[0].URL)

	require.NoError(t, client.SendHeartbeat(ctx))

	require.NoError(t, client.Deregister(ctx))
	assert.False(t, client.IsRegistered())
	assert.Zero(t, reg.Count())
}

func TestRegisterWithFixedInstanceIDIsIdempotent(t *testing.T) {
	ts, reg, _ := newDiscoveryServer(t)
	client := newTestClient(t, ts.URL, func(cfg *Config) {
		cfg.InstanceID = "orders-a"
	})

	require.NoError(t, client.Register(context.Background()))
	require.NoError(t, client.Register(context.Background()))

	assert.Equal(t, "orders-a", client.InstanceID())
	assert.Equal(t, 1, reg.Count(), "相同实例ID重复注册应原地更新")
}

func TestRegisterRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"Internal server error"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(RegisterResponse{Message: "Service 'orders' registered", InstanceID: "orders-1"})
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, nil)
	require.NoError(t, client.Register(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	assert.Equal(t, "orders-1", client.InstanceID())
}

func TestRegisterGivesUpAfterRetryCount(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, func(cfg *Config) {
		cfg.RetryCount = 4
	})

	err := client.Register(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(&attempts))
	assert.False(t, client.IsRegistered())
}

func TestRegisterDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Missing service name or port"}`))
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, nil)

	err := client.Register(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing service name or port")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestRegisterStopsOnContextCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, func(cfg *Config) {
		cfg.RetryInterval = time.Hour
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := client.Register(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestHeartbeatReRegistersAfterNotFound(t *testing.T) {
	ts, reg, _ := newDiscoveryServer(t)
	client := newTestClient(t, ts.URL, nil)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx))
	oldID := client.InstanceID()

	// 模拟注册中心重启后丢失了全部实例
	_, err := reg.Deregister(ctx, "orders", "")
	require.NoError(t, err)

	require.NoError(t, client.SendHeartbeat(ctx))
	assert.Equal(t, 1, reg.Count(), "收到404后应重新注册")

	instances, err := reg.ListActive(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, oldID, instances[0].InstanceID, "重新注册沿用原实例ID")
}

func TestSendHeartbeatRequiresRegistration(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1", nil)
	assert.Error(t, client.SendHeartbeat(context.Background()))
	assert.Error(t, client.Deregister(context.Background()))
}

func TestStartHeartbeatLoop(t *testing.T) {
	var mu sync.Mutex
	var heartbeats []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewEncoder(w).Encode(RegisterResponse{InstanceID: "orders-1"})
		case http.MethodPut:
			mu.Lock()
			heartbeats = append(heartbeats, r.URL.Path+"?"+r.URL.RawQuery)
			mu.Unlock()
			_, _ = w.Write([]byte(`{"message":"Heartbeat received: orders"}`))
		}
	}))
	defer ts.Close()

	client := newTestClient(t, ts.URL, nil)
	require.NoError(t, client.Register(context.Background()))

	client.StartHeartbeat()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(heartbeats) >= 2
	}, time.Second, 10*time.Millisecond)
	client.StopHeartbeat()

	mu.Lock()
	assert.Equal(t, "/heartbeat/orders?instance_id=orders-1", heartbeats[0])
	count := len(heartbeats)
	mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, count, len(heartbeats), "停止后不应再发送心跳")
	mu.Unlock()

	// 重复停止不应阻塞
	client.StopHeartbeat()
}

func TestFetchConfig(t *testing.T) {
	ts, _, configs := newDiscoveryServer(t)
	client := newTestClient(t, ts.URL, nil)
	ctx := context.Background()

	_, err := client.FetchConfig(ctx)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "Config for orders not found")

	require.NoError(t, configs.Put(ctx, "orders", configstore.Document{"db_pool": float64(10), "feature": true}))

	cfg, err := client.FetchConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"db_pool": float64(10), "feature": true}, cfg)
}

func TestCloseDeregisters(t *testing.T) {
	ts, reg, _ := newDiscoveryServer(t)
	client := newTestClient(t, ts.URL, nil)
	ctx := context.Background()

	require.NoError(t, client.Register(ctx))
	client.StartHeartbeat()

	require.NoError(t, client.Close(ctx))
	assert.Zero(t, reg.Count())
	assert.False(t, client.IsRegistered())

	// 未注册时关闭不报错
	require.NoError(t, client.Close(ctx))
}
