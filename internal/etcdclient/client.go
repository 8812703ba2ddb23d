package etcdclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hewenyu/kong-gateway/internal/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// etcd操作的默认超时时间
const etcdTimeout = 5 * time.Second

// ErrKeyNotFound key不存在
var ErrKeyNotFound = errors.New("key不存在")

// Client 定义etcd客户端接口
type Client interface {
	// Connect 连接到etcd集群
	Connect() error

	// Close 关闭连接
	Close() error

	// Ping 检查etcd集群状态
	Ping(ctx context.Context) error

	// Get 从etcd获取指定key的值，不存在时返回ErrKeyNotFound
	Get(ctx context.Context, key string) (string, error)

	// GetWithPrefix 从etcd获取指定前缀的所有key-value
	GetWithPrefix(ctx context.Context, prefix string) (map[string]string, error)

	// Put 写入key-value
	Put(ctx context.Context, key, value string) error

	// Delete 删除key
	Delete(ctx context.Context, key string) error

	// StartWatch 开始监听指定前缀的key变化
	StartWatch(ctx context.Context, prefix string, callback WatchCallback) error
}

// EtcdClient 实现Client接口
type EtcdClient struct {
	client         *clientv3.Client
	endpoints      []string
	username       string
	password       string
	dialTimeout    time.Duration
	requestTimeout time.Duration
	logger         config.Logger
}

// NewEtcdClient 创建一个新的etcd客户端
func NewEtcdClient(cfg *config.Config, logger config.Logger) Client {
	return &EtcdClient{
		endpoints:      cfg.Etcd.Endpoints,
		username:       cfg.Etcd.Username,
		password:       cfg.Etcd.Password,
		dialTimeout:    config.Seconds(cfg.Etcd.DialTimeout, etcdTimeout),
		requestTimeout: config.Seconds(cfg.Etcd.RequestTimeout, etcdTimeout),
		logger:         logger,
	}
}

// Connect 连接到etcd集群
func (e *EtcdClient) Connect() error {
	if len(e.endpoints) == 0 {
		return fmt.Errorf("未配置etcd地址")
	}

	var err error
	e.logger.Info("连接到etcd集群", zap.Strings("endpoints", e.endpoints))

	e.client, err = clientv3.New(clientv3.Config{
		Endpoints:   e.endpoints,
		DialTimeout: e.dialTimeout,
		Username:    e.username,
		Password:    e.password,
	})

	if err != nil {
		e.logger.Error("连接etcd失败", zap.Error(err))
		return fmt.Errorf("连接etcd失败: %w", err)
	}

	return nil
}

// Close 关闭连接
func (e *EtcdClient) Close() error {
	if e.client != nil {
		e.logger.Info("关闭etcd连接")
		return e.client.Close()
	}
	return nil
}

// Ping 检查etcd集群状态
func (e *EtcdClient) Ping(ctx context.Context) error {
	if e.client == nil {
		return fmt.Errorf("etcd客户端未连接")
	}

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	_, err := e.client.Status(ctx, e.endpoints[0])
	if err != nil {
		e.logger.Error("etcd健康检查失败", zap.Error(err))
		return fmt.Errorf("etcd健康检查失败: %w", err)
	}

	e.logger.Info("etcd健康检查成功")
	return nil
}

// Get 从etcd获取指定key的值
func (e *EtcdClient) Get(ctx context.Context, key string) (string, error) {
	if e.client == nil {
		return "", fmt.Errorf("etcd客户端未连接")
	}

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	resp, err := e.client.Get(ctx, key)
	if err != nil {
		e.logger.Error("从etcd获取数据失败", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("从etcd获取数据失败: %w", err)
	}

	if len(resp.Kvs) == 0 {
		return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	return string(resp.Kvs[0].Value), nil
}

// GetWithPrefix 从etcd获取指定前缀的所有key-value
func (e *EtcdClient) GetWithPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	if e.client == nil {
		return nil, fmt.Errorf("etcd客户端未连接")
	}

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	resp, err := e.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		e.logger.Error("从etcd获取前缀数据失败", zap.String("prefix", prefix), zap.Error(err))
		return nil, fmt.Errorf("从etcd获取前缀数据失败: %w", err)
	}

	result := make(map[string]string)
	for _, kv := range resp.Kvs {
		result[string(kv.Key)] = string(kv.Value)
	}

	return result, nil
}

// Put 写入key-value
func (e *EtcdClient) Put(ctx context.Context, key, value string) error {
	if e.client == nil {
		return fmt.Errorf("etcd客户端未连接")
	}

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	if _, err := e.client.Put(ctx, key, value); err != nil {
		e.logger.Error("写入etcd失败", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("写入etcd失败: %w", err)
	}

	e.logger.Debug("写入etcd成功", zap.String("key", key))
	return nil
}

// Delete 删除key
func (e *EtcdClient) Delete(ctx context.Context, key string) error {
	if e.client == nil {
		return fmt.Errorf("etcd客户端未连接")
	}

	ctx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	defer cancel()

	if _, err := e.client.Delete(ctx, key); err != nil {
		e.logger.Error("从etcd删除数据失败", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("从etcd删除数据失败: %w", err)
	}

	return nil
}
