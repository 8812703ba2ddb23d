package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hewenyu/kong-gateway/pkg/model"
)

// Instance 网关从注册中心读取的实例信息，只关心路由需要的字段
type Instance struct {
	InstanceID string       `json:"instanceId"`
	URL        string       `json:"url"`
	Status     model.Status `json:"status"`
}

// DiscoveryClient 读取注册中心的全部服务
type DiscoveryClient interface {
	ListAll(ctx context.Context) (map[string][]Instance, error)
}

// HTTPDiscoveryClient 通过注册中心的 GET /services 读取服务列表
type HTTPDiscoveryClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPDiscoveryClient 创建注册中心客户端
func NewHTTPDiscoveryClient(baseURL string, timeout time.Duration) *HTTPDiscoveryClient {
	return &HTTPDiscoveryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ListAll 获取全部服务及实例，包括DOWN实例
func (c *HTTPDiscoveryClient) ListAll(ctx context.Context) (map[string][]Instance, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/services", nil)
	if err != nil {
		return nil, fmt.Errorf("创建注册中心请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求注册中心失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("注册中心返回状态码 %d", resp.StatusCode)
	}

	var services map[string][]Instance
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		return nil, fmt.Errorf("解析服务列表失败: %w", err)
	}
	return services, nil
}
