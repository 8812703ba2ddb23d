package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// FetchConfig 从配置服务拉取当前服务的配置
func (c *Client) FetchConfig(ctx context.Context) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConfigTimeout)
	defer cancel()

	target := c.config.ConfigURL + "/configs/" + url.PathEscape(c.config.ServiceName)

	var cfg map[string]interface{}
	if err := c.doRequest(ctx, http.MethodGet, target, nil, &cfg); err != nil {
		return nil, fmt.Errorf("拉取配置失败: %w", err)
	}
	return cfg, nil
}
