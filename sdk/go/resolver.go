package sdk

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Endpoint 解析得到的一个服务实例地址
type Endpoint struct {
	Host   string
	Port   int
	Weight uint16
}

// Address 返回 host:port 形式的地址
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Resolver 通过注册中心的DNS服务解析服务实例
//
// 只查询SRV记录，结果按cacheTTL缓存。
type Resolver struct {
	server   string
	domain   string
	cacheTTL time.Duration
	client   *dns.Client
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]srvCacheEntry
}

type srvCacheEntry struct {
	endpoints  []Endpoint
	expiration time.Time
}

// NewResolver 创建DNS解析器，server为DNS服务地址(host:port)，domain为注册中心配置的服务域
func NewResolver(server, domain string, cacheTTL time.Duration) *Resolver {
	// 如果没有指定DNS服务器，默认使用本地注册中心
	if server == "" {
		server = "127.0.0.1:8053"
	}
	if domain == "" {
		domain = "service.local"
	}
	if cacheTTL < 0 {
		cacheTTL = 0
	}

	return &Resolver{
		server:   server,
		domain:   strings.Trim(domain, "."),
		cacheTTL: cacheTTL,
		client:   &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		now:      time.Now,
		cache:    make(map[string]srvCacheEntry),
	}
}

// LookupSRV 查询服务的全部UP实例
func (r *Resolver) LookupSRV(ctx context.Context, service string) ([]Endpoint, error) {
	if endpoints, ok := r.fromCache(service); ok {
		return endpoints, nil
	}

	queryName := dns.Fqdn(service + "." + r.domain)
	m := new(dns.Msg)
	m.SetQuestion(queryName, dns.TypeSRV)

	resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, fmt.Errorf("解析SRV记录[%s]失败: %w", queryName, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("未找到服务[%s]的SRV记录: %s", queryName, dns.RcodeToString[resp.Rcode])
	}

	var endpoints []Endpoint
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			endpoints = append(endpoints, Endpoint{
				Host:   strings.TrimSuffix(srv.Target, "."),
				Port:   int(srv.Port),
				Weight: srv.Weight,
			})
		}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("未找到服务[%s]的SRV记录", queryName)
	}

	r.store(service, endpoints)
	return endpoints, nil
}

// Resolve 按权重挑选一个实例，返回 host:port
func (r *Resolver) Resolve(ctx context.Context, service string) (string, error) {
	endpoints, err := r.LookupSRV(ctx, service)
	if err != nil {
		return "", err
	}
	return selectByWeight(endpoints).Address(), nil
}

func (r *Resolver) fromCache(service string) ([]Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[service]
	if !ok || !r.now().Before(entry.expiration) {
		return nil, false
	}
	return entry.endpoints, true
}

func (r *Resolver) store(service string, endpoints []Endpoint) {
	if r.cacheTTL == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[service] = srvCacheEntry{
		endpoints:  endpoints,
		expiration: r.now().Add(r.cacheTTL),
	}
}

// selectByWeight 按权重随机选择，权重全为0时等概率选择
func selectByWeight(endpoints []Endpoint) Endpoint {
	if len(endpoints) == 1 {
		return endpoints[0]
	}

	total := 0
	for _, e := range endpoints {
		total += int(e.Weight)
	}
	if total == 0 {
		return endpoints[rand.Intn(len(endpoints))]
	}

	n := rand.Intn(total)
	for _, e := range endpoints {
		n -= int(e.Weight)
		if n < 0 {
			return e
		}
	}
	return endpoints[0]
}
