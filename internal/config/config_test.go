package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// 从默认位置加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载默认配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证默认值
	assert.Equal(t, 8761, config.Discovery.Port, "注册中心端口应为8761")
	assert.Equal(t, 60, config.Discovery.HeartbeatTimeout, "心跳超时应为60秒")
	assert.Equal(t, 30, config.Discovery.CheckInterval, "状态检查间隔应为30秒")
	assert.Equal(t, "timestamp", config.Discovery.IDStrategy)
	assert.Equal(t, 8080, config.Gateway.Port, "网关端口应为8080")
	assert.Equal(t, "http://discovery:8761", config.Gateway.DiscoveryURL)
	assert.Equal(t, 30, config.Gateway.UpdateInterval, "路由刷新间隔应为30秒")
	assert.Equal(t, 30, config.Gateway.ForwardTimeout, "转发超时应为30秒")
	assert.Equal(t, "memory", config.ConfigStore.Backend)
	assert.False(t, config.DNS.Enabled, "DNS默认关闭")
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	// 设置环境变量
	t.Setenv("DISCOVERY_URL", "http://localhost:18761")
	t.Setenv("SERVICE_UPDATE_INTERVAL", "10")
	t.Setenv("KONG_GATEWAY_DISCOVERY_HEARTBEAT_TIMEOUT", "15")

	// 加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证环境变量覆盖
	assert.Equal(t, "http://localhost:18761", config.Gateway.DiscoveryURL, "DISCOVERY_URL应覆盖注册中心地址")
	assert.Equal(t, 10, config.Gateway.UpdateInterval, "SERVICE_UPDATE_INTERVAL应覆盖刷新间隔")
	assert.Equal(t, 15, config.Discovery.HeartbeatTimeout, "带前缀的环境变量应覆盖心跳超时")

	// 确认其他值不受影响
	assert.Equal(t, 30, config.Gateway.ForwardTimeout, "转发超时不应被环境变量影响")
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
discovery:
  port: 9761
  id_strategy: uuid
gateway:
  rate_limit:
    rps: 100
    burst: 20
config_store:
  backend: memory
  seed:
    gateway:
      timeout: 60
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9761, config.Discovery.Port)
	assert.Equal(t, "uuid", config.Discovery.IDStrategy)
	assert.Equal(t, 100.0, config.Gateway.RateLimit.RPS)
	assert.Equal(t, 20, config.Gateway.RateLimit.Burst)
	require.Contains(t, config.ConfigStore.Seed, "gateway")
	assert.EqualValues(t, 60, config.ConfigStore.Seed["gateway"]["timeout"])
}

func TestLoadConfigWithMissingFile(t *testing.T) {
	// 尝试从不存在的文件加载配置
	config, err := LoadConfig("non_existent_file.yaml")

	// 应该返回错误
	assert.Error(t, err, "从不存在的文件加载配置应该失败")

	// 不应该返回配置对象
	assert.Nil(t, config, "加载不存在的配置文件应该返回nil配置")
}

func TestSeconds(t *testing.T) {
	assert.Equal(t, 30*time.Second, Seconds(30, time.Minute))
	assert.Equal(t, time.Minute, Seconds(0, time.Minute))
	assert.Equal(t, time.Minute, Seconds(-1, time.Minute))
}
