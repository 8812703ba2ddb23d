package gateway

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RouteCache 网关本地的路由表：服务名 -> 第一个UP实例的地址
//
// 路由表整体替换，读取方不会看到部分更新的结果。刷新失败时保留旧表。
type RouteCache struct {
	client   DiscoveryClient
	interval time.Duration
	logger   config.Logger
	metrics  *metrics.Metrics

	table atomic.Pointer[map[string]string]
	group singleflight.Group
	// 已发起的刷新次数，用于判断合并到的刷新是否在调用之后才开始
	flights atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRouteCache 创建路由缓存，metrics可以为nil
func NewRouteCache(client DiscoveryClient, interval time.Duration, logger config.Logger, m *metrics.Metrics) *RouteCache {
	c := &RouteCache{
		client:   client,
		interval: interval,
		logger:   logger,
		metrics:  m,
	}
	empty := make(map[string]string)
	c.table.Store(&empty)
	return c
}

// Refresh 从注册中心重建路由表，并发调用会合并为一次请求
//
// 返回时保证有一次在调用之后才开始的刷新已经完成。如果合并到的是调用前就已发出的刷新，
// 它拿到的服务列表可能早于本次调用，此时再刷新一次。
func (c *RouteCache) Refresh(ctx context.Context) error {
	before := c.flights.Load()
	for {
		flight, err := c.refreshShared(ctx)
		if flight > before {
			return err
		}
	}
}

// refreshShared 合并到正在进行的刷新，返回该次刷新的序号，供定时刷新使用
func (c *RouteCache) refreshShared(ctx context.Context) (uint64, error) {
	// 合并后的请求不应因某一个调用方取消而失败
	ctx = context.WithoutCancel(ctx)
	v, err, _ := c.group.Do("refresh", func() (interface{}, error) {
		flight := c.flights.Add(1)
		return flight, c.refresh(ctx)
	})
	return v.(uint64), err
}

func (c *RouteCache) refresh(ctx context.Context) error {
	services, err := c.client.ListAll(ctx)
	if err != nil {
		c.logger.Error("更新服务列表失败，保留现有路由", zap.Error(err))
		c.observe("error")
		return err
	}

	table := make(map[string]string, len(services))
	for name, instances := range services {
		for _, instance := range instances {
			if instance.Status.IsUp() && instance.URL != "" {
				table[name] = instance.URL
				break
			}
		}
	}
	c.table.Store(&table)

	c.observe("ok")
	if c.metrics != nil {
		c.metrics.Routes.Set(float64(len(table)))
	}
	c.logger.Info("服务列表已更新", zap.Strings("services", sortedKeys(table)))
	return nil
}

func (c *RouteCache) observe(result string) {
	if c.metrics != nil {
		c.metrics.RouteRefreshes.WithLabelValues(result).Inc()
	}
}

// Lookup 查找服务的路由地址
func (c *RouteCache) Lookup(name string) (string, bool) {
	url, ok := (*c.table.Load())[name]
	return url, ok
}

// Routes 返回路由表的副本
func (c *RouteCache) Routes() map[string]string {
	table := *c.table.Load()
	routes := make(map[string]string, len(table))
	for name, url := range table {
		routes[name] = url
	}
	return routes
}

// Services 返回排序后的可路由服务名
func (c *RouteCache) Services() []string {
	return sortedKeys(*c.table.Load())
}

// Start 执行一次初始刷新并启动定期刷新，初始刷新失败只记录日志
func (c *RouteCache) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		return
	}

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("初始服务列表更新失败，将在下次定时刷新时重试")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.logger.Info("路由定时刷新已停止")
				return
			case <-ticker.C:
				// 失败已在refresh中记录，下一个周期继续
				_, _ = c.refreshShared(ctx)
			}
		}
	}()
}

// Stop 停止定期刷新
func (c *RouteCache) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
