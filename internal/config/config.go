package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构，注册中心和网关两个进程共用
type Config struct {
	// 注册中心配置
	Discovery struct {
		ListenAddress    string `mapstructure:"listen_address"`
		Port             int    `mapstructure:"port"`
		HeartbeatTimeout int    `mapstructure:"heartbeat_timeout"` // 秒
		CheckInterval    int    `mapstructure:"check_interval"`    // 秒
		IDStrategy       string `mapstructure:"id_strategy"`       // "timestamp" 或 "uuid"
	} `mapstructure:"discovery"`

	// 网关配置
	Gateway struct {
		ListenAddress    string `mapstructure:"listen_address"`
		Port             int    `mapstructure:"port"`
		DiscoveryURL     string `mapstructure:"discovery_url"`
		UpdateInterval   int    `mapstructure:"update_interval"`   // 秒
		ForwardTimeout   int    `mapstructure:"forward_timeout"`   // 秒
		DiscoveryTimeout int    `mapstructure:"discovery_timeout"` // 秒

		// 限流配置，RPS为0表示不限流
		RateLimit struct {
			RPS   float64 `mapstructure:"rps"`
			Burst int     `mapstructure:"burst"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"gateway"`

	// DNS服务配置
	DNS struct {
		Enabled       bool   `mapstructure:"enabled"`
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
		Protocol      string `mapstructure:"protocol"` // "udp", "tcp", 或 "both"
		Domain        string `mapstructure:"domain"`
		TTL           int    `mapstructure:"ttl"`

		// 服务域名之外的查询转发到这些上游，为空时拒绝
		Upstream []string `mapstructure:"upstream"`
	} `mapstructure:"dns"`

	// 业务服务配置存储
	ConfigStore struct {
		Backend string                            `mapstructure:"backend"` // "memory", "etcd" 或 "redis"
		Prefix  string                            `mapstructure:"prefix"`
		Seed    map[string]map[string]interface{} `mapstructure:"seed"`
	} `mapstructure:"config_store"`

	// etcd配置
	Etcd struct {
		Endpoints      []string `mapstructure:"endpoints"`
		Username       string   `mapstructure:"username"`
		Password       string   `mapstructure:"password"`
		DialTimeout    int      `mapstructure:"dial_timeout"`    // 秒
		RequestTimeout int      `mapstructure:"request_timeout"` // 秒
	} `mapstructure:"etcd"`

	// redis配置
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	// 指标配置
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 设置配置文件名和路径
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.kong-gateway")
		v.AddConfigPath("/etc/kong-gateway")
	}

	// 配置文件格式
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 找不到默认配置文件时使用默认值；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("KONG_GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 兼容已有部署使用的环境变量名
	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 注册中心默认配置
	v.SetDefault("discovery.listen_address", "0.0.0.0")
	v.SetDefault("discovery.port", 8761)
	v.SetDefault("discovery.heartbeat_timeout", 60)
	v.SetDefault("discovery.check_interval", 30)
	v.SetDefault("discovery.id_strategy", "timestamp")

	// 网关默认配置
	v.SetDefault("gateway.listen_address", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.discovery_url", "http://discovery:8761")
	v.SetDefault("gateway.update_interval", 30)
	v.SetDefault("gateway.forward_timeout", 30)
	v.SetDefault("gateway.discovery_timeout", 5)
	v.SetDefault("gateway.rate_limit.rps", 0)
	v.SetDefault("gateway.rate_limit.burst", 0)

	// DNS服务默认配置
	v.SetDefault("dns.enabled", false)
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 8053)
	v.SetDefault("dns.protocol", "udp")
	v.SetDefault("dns.domain", "service.local")
	v.SetDefault("dns.ttl", 30)
	v.SetDefault("dns.upstream", []string{})

	// 配置存储默认配置
	v.SetDefault("config_store.backend", "memory")
	v.SetDefault("config_store.prefix", "/kong-gateway/configs")

	// etcd默认配置
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")
	v.SetDefault("etcd.dial_timeout", 5)
	v.SetDefault("etcd.request_timeout", 5)

	// redis默认配置
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("metrics.enabled", true)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("discovery.port", "KONG_GATEWAY_DISCOVERY_PORT", "SERVICE_PORT")
	v.BindEnv("discovery.heartbeat_timeout", "KONG_GATEWAY_DISCOVERY_HEARTBEAT_TIMEOUT", "HEARTBEAT_TIMEOUT")
	v.BindEnv("discovery.check_interval", "KONG_GATEWAY_DISCOVERY_CHECK_INTERVAL", "SERVICE_CHECK_INTERVAL")
	v.BindEnv("gateway.port", "KONG_GATEWAY_GATEWAY_PORT", "SERVICE_PORT")
	v.BindEnv("gateway.discovery_url", "KONG_GATEWAY_GATEWAY_DISCOVERY_URL", "DISCOVERY_URL")
	v.BindEnv("gateway.update_interval", "KONG_GATEWAY_GATEWAY_UPDATE_INTERVAL", "SERVICE_UPDATE_INTERVAL")
	v.BindEnv("gateway.forward_timeout", "KONG_GATEWAY_GATEWAY_FORWARD_TIMEOUT", "FORWARD_TIMEOUT")
	v.BindEnv("etcd.endpoints", "KONG_GATEWAY_ETCD_ENDPOINTS", "ETCD_ENDPOINTS")
	v.BindEnv("redis.addr", "KONG_GATEWAY_REDIS_ADDR", "REDIS_ADDR")
}

// Seconds 把以秒为单位的整数配置转换为time.Duration，非正数时使用默认值
func Seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
