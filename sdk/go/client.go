package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// 默认参数，与注册中心的心跳超时(60秒)配合
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 5 * time.Second
	DefaultRegisterTimeout   = 10 * time.Second
	DefaultConfigTimeout     = 10 * time.Second
	DefaultRetryCount        = 5
	DefaultRetryInterval     = 5 * time.Second
)

// Config SDK客户端配置
type Config struct {
	// 注册中心地址，例如 http://discovery:8761
	DiscoveryURL string
	// 配置服务地址，为空时使用注册中心地址
	ConfigURL string
	// 服务名称
	ServiceName string
	// 服务主机名，为空时由注册中心使用默认值
	Host string
	// 服务端口
	Port int
	// 指定实例ID，为空时由注册中心生成
	InstanceID string

	// 心跳间隔
	HeartbeatInterval time.Duration
	// 单次心跳超时
	HeartbeatTimeout time.Duration
	// 单次注册超时
	RegisterTimeout time.Duration
	// 拉取配置超时
	ConfigTimeout time.Duration
	// 注册最多尝试次数
	RetryCount int
	// 注册重试间隔
	RetryInterval time.Duration

	// 日志记录器，为nil时不输出日志
	Logger *zap.Logger
	// 自定义HTTP客户端
	HTTPClient *http.Client
}

// Client 注册中心客户端，负责一个服务实例的注册、心跳和注销
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger

	mu         sync.Mutex
	instanceID string
	registered bool

	hbMu     sync.Mutex
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

// APIError 注册中心返回的非2xx响应
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API请求失败: %s (状态码: %d)", e.Detail, e.StatusCode)
}

// IsNotFound 判断错误是否为404响应
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient 创建SDK客户端
func NewClient(config Config) (*Client, error) {
	// 验证必填配置
	if config.DiscoveryURL == "" {
		return nil, fmt.Errorf("注册中心地址不能为空")
	}
	if config.ServiceName == "" {
		return nil, fmt.Errorf("服务名称不能为空")
	}
	if config.Port <= 0 {
		return nil, fmt.Errorf("服务端口必须大于0")
	}

	// 设置默认值
	config.DiscoveryURL = strings.TrimRight(config.DiscoveryURL, "/")
	if config.ConfigURL == "" {
		config.ConfigURL = config.DiscoveryURL
	}
	config.ConfigURL = strings.TrimRight(config.ConfigURL, "/")
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if config.RegisterTimeout <= 0 {
		config.RegisterTimeout = DefaultRegisterTimeout
	}
	if config.ConfigTimeout <= 0 {
		config.ConfigTimeout = DefaultConfigTimeout
	}
	if config.RetryCount <= 0 {
		config.RetryCount = DefaultRetryCount
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger.With(zap.String("service", config.ServiceName)),
		instanceID: config.InstanceID,
	}, nil
}

// InstanceID 返回当前实例ID，注册前为配置中指定的值
func (c *Client) InstanceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instanceID
}

// IsRegistered 检查实例是否已注册
func (c *Client) IsRegistered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// serviceURL 拼接注册中心上带服务名的路径，附带实例ID查询参数
func (c *Client) serviceURL(prefix, instanceID string) string {
	u := c.config.DiscoveryURL + prefix + url.PathEscape(c.config.ServiceName)
	if instanceID != "" {
		u += "?" + url.Values{"instance_id": {instanceID}}.Encode()
	}
	return u
}

// doRequest 发送请求，2xx响应解码到out，其他状态码返回APIError
func (c *Client) doRequest(ctx context.Context, method, target string, body, out interface{}) error {
	// 准备请求体
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("解析响应失败: %w, 响应内容: %s", err, string(respBody))
		}
	}
	return nil
}

// errorDetail 取出错误响应中的detail字段，不是JSON时返回原文
func errorDetail(body []byte) string {
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(body))
}
