package configstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/internal/etcdclient"
	"go.uber.org/zap"
)

// EtcdStore 把配置以JSON形式保存在etcd的 {prefix}/{name} 下
//
// Watch启动后，读取优先命中本地缓存，缓存由etcd的变更事件维护。
type EtcdStore struct {
	client etcdclient.Client
	prefix string
	logger config.Logger

	mu       sync.RWMutex
	cache    map[string]string
	watching bool
}

// NewEtcdStore 创建etcd配置存储
func NewEtcdStore(client etcdclient.Client, prefix string, logger config.Logger) *EtcdStore {
	return &EtcdStore{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		logger: logger,
		cache:  make(map[string]string),
	}
}

func (s *EtcdStore) key(name string) string {
	return s.prefix + "/" + name
}

// Watch 监听配置前缀下的变化并维护本地缓存，ctx取消后停止
func (s *EtcdStore) Watch(ctx context.Context) error {
	err := s.client.StartWatch(ctx, s.prefix+"/", func(event etcdclient.WatchEvent) {
		name := strings.TrimPrefix(event.Key, s.prefix+"/")

		s.mu.Lock()
		defer s.mu.Unlock()
		switch event.EventType {
		case etcdclient.EventDelete:
			delete(s.cache, name)
		default:
			s.cache[name] = event.Value
		}
		s.logger.Debug("配置已变更", zap.String("service", name), zap.String("type", event.EventType))
	})
	if err != nil {
		return err
	}

	// 监听建立后再加载全量数据，避免遗漏之间的变更
	kvs, err := s.client.GetWithPrefix(ctx, s.prefix+"/")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, value := range kvs {
		name := strings.TrimPrefix(key, s.prefix+"/")
		if _, ok := s.cache[name]; !ok {
			s.cache[name] = value
		}
	}
	s.watching = true
	return nil
}

// Get 获取配置
func (s *EtcdStore) Get(ctx context.Context, name string) (Document, error) {
	s.mu.RLock()
	raw, cached := s.cache[name]
	watching := s.watching
	s.mu.RUnlock()

	if cached {
		return decode(name, raw)
	}
	if watching {
		return nil, notFound(name)
	}

	raw, err := s.client.Get(ctx, s.key(name))
	if err != nil {
		if errors.Is(err, etcdclient.ErrKeyNotFound) {
			return nil, notFound(name)
		}
		return nil, err
	}
	return decode(name, raw)
}

// Put 替换配置
func (s *EtcdStore) Put(ctx context.Context, name string, doc Document) error {
	raw, err := encode(name, doc)
	if err != nil {
		return err
	}
	if err := s.client.Put(ctx, s.key(name), raw); err != nil {
		return err
	}

	// 本进程写入立即可见，不等待监听事件
	s.mu.Lock()
	if s.watching {
		s.cache[name] = raw
	}
	s.mu.Unlock()

	s.logger.Info("配置已写入etcd", zap.String("service", name))
	return nil
}

// List 返回排序后的服务名
func (s *EtcdStore) List(ctx context.Context) ([]string, error) {
	kvs, err := s.client.GetWithPrefix(ctx, s.prefix+"/")
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(kvs))
	for key := range kvs {
		names = append(names, strings.TrimPrefix(key, s.prefix+"/"))
	}
	sort.Strings(names)
	return names, nil
}

// Close 关闭etcd连接
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
