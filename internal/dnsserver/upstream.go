package dnsserver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Upstream 把服务域名之外的查询转发给上游DNS，成功的应答按记录的最小TTL缓存
type Upstream struct {
	servers []string
	client  *dns.Client
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	msg      *dns.Msg
	expireAt time.Time
}

// 没有应答记录时的缓存时间
const defaultUpstreamTTL = 60 * time.Second

// NewUpstream 创建上游解析器，servers为 host:port 列表，按顺序尝试
func NewUpstream(servers []string, timeout time.Duration) *Upstream {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Upstream{
		servers: servers,
		client:  &dns.Client{Net: "udp", Timeout: timeout},
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// Resolve 解析请求，前一个上游失败时尝试下一个
func (u *Upstream) Resolve(ctx context.Context, req *dns.Msg) (*dns.Msg, error) {
	if len(req.Question) == 0 {
		return nil, errors.New("无效的DNS请求：没有问题部分")
	}
	if len(u.servers) == 0 {
		return nil, errors.New("未配置上游DNS服务器")
	}

	key := cacheKey(req.Question[0])
	if cached := u.get(key); cached != nil {
		// 设置ID和问题部分以匹配请求
		cached.Id = req.Id
		cached.Question = req.Question
		return cached, nil
	}

	var lastErr error
	for _, server := range u.servers {
		resp, _, err := u.client.ExchangeContext(ctx, req, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode == dns.RcodeSuccess {
			u.set(key, resp, ttlOf(resp))
		}
		return resp, nil
	}
	return nil, lastErr
}

func (u *Upstream) get(key string) *dns.Msg {
	u.mu.RLock()
	defer u.mu.RUnlock()

	entry, ok := u.cache[key]
	if !ok || u.now().After(entry.expireAt) {
		return nil
	}
	// 返回副本避免并发修改
	return entry.msg.Copy()
}

func (u *Upstream) set(key string, msg *dns.Msg, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	now := u.now()
	// 顺带清理过期记录
	for k, entry := range u.cache {
		if now.After(entry.expireAt) {
			delete(u.cache, k)
		}
	}
	u.cache[key] = cacheEntry{msg: msg.Copy(), expireAt: now.Add(ttl)}
}

// ttlOf 取应答记录中最小的TTL
func ttlOf(msg *dns.Msg) time.Duration {
	if len(msg.Answer) == 0 {
		return defaultUpstreamTTL
	}
	minTTL := msg.Answer[0].Header().Ttl
	for _, rr := range msg.Answer[1:] {
		if rr.Header().Ttl < minTTL {
			minTTL = rr.Header().Ttl
		}
	}
	return time.Duration(minTTL) * time.Second
}

func cacheKey(q dns.Question) string {
	return strings.ToLower(q.Name) + "|" + dns.TypeToString[q.Qtype] + "|" + dns.ClassToString[q.Qclass]
}
