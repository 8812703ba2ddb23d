package configstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore 把配置以JSON字符串保存在redis的 {prefix}:{name} 下
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	logger config.Logger
}

// NewRedisStore 创建redis配置存储
func NewRedisStore(client redis.UniversalClient, prefix string, logger config.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

// Get 获取配置
func (s *RedisStore) Get(ctx context.Context, name string) (Document, error) {
	raw, err := s.client.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(name)
	}
	if err != nil {
		s.logger.Error("从redis读取配置失败", zap.String("service", name), zap.Error(err))
		return nil, fmt.Errorf("从redis读取配置失败: %w", err)
	}
	return decode(name, raw)
}

// Put 替换配置
func (s *RedisStore) Put(ctx context.Context, name string, doc Document) error {
	raw, err := encode(name, doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(name), raw, 0).Err(); err != nil {
		s.logger.Error("写入redis配置失败", zap.String("service", name), zap.Error(err))
		return fmt.Errorf("写入redis配置失败: %w", err)
	}
	s.logger.Info("配置已写入redis", zap.String("service", name))
	return nil
}

// List 返回排序后的服务名
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), s.prefix+":"))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("扫描redis配置失败: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close 关闭redis连接
func (s *RedisStore) Close() error {
	return s.client.Close()
}
