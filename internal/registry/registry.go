package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/pkg/apperror"
	"github.com/hewenyu/kong-gateway/pkg/model"
	"go.uber.org/zap"
)

// DefaultHost 注册时未指定host使用的主机名
const DefaultHost = "localhost"

// Registry 内存中的服务注册表
//
// 所有读改写操作都在同一把锁内完成，包括按instanceId查找后覆盖或追加、
// 以及存活检查时遍历全部实例。读操作返回副本，调用方可以自由修改。
type Registry struct {
	mu       sync.RWMutex
	services map[string][]model.ServiceInstance

	idGen  IDGenerator
	now    func() time.Time
	logger config.Logger
}

// Option 注册表选项
type Option func(*Registry)

// WithIDGenerator 设置实例ID生成策略
func WithIDGenerator(gen IDGenerator) Option {
	return func(r *Registry) {
		if gen != nil {
			r.idGen = gen
		}
	}
}

// WithClock 设置时钟，测试中使用可控时间
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New 创建注册表
func New(logger config.Logger, opts ...Option) *Registry {
	r := &Registry{
		services: make(map[string][]model.ServiceInstance),
		idGen:    TimestampIDGenerator{},
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// 端口上限
const maxPort = 65535

// RegisterRequest 注册参数
type RegisterRequest struct {
	Name       string
	Host       string
	Port       int
	InstanceID string
}

// Register 注册服务实例，返回实际使用的实例ID以及是否覆盖了已有实例
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (string, bool, error) {
	if req.Name == "" || req.Port <= 0 {
		return "", false, apperror.NewValidationError("Missing service name or port")
	}
	if req.Port > maxPort {
		return "", false, apperror.NewValidationError(fmt.Sprintf("Invalid port: %d", req.Port))
	}

	host := req.Host
	if host == "" {
		host = DefaultHost
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	instanceID := req.InstanceID
	if instanceID == "" {
		instanceID = r.idGen.NewID(req.Name, now)
	}

	url := model.ServiceURL(req.Name, req.Port)
	instance := model.ServiceInstance{
		InstanceID:     instanceID,
		Name:           req.Name,
		HostName:       host,
		URL:            url,
		Port:           req.Port,
		Status:         model.StatusUp,
		RegisteredAt:   now,
		LastHeartbeat:  now,
		HealthCheckURL: model.HealthCheckURL(url),
	}

	instances := r.services[req.Name]
	updated := false
	for i := range instances {
		if instances[i].InstanceID == instanceID {
			instances[i] = instance
			updated = true
			break
		}
	}
	if !updated {
		instances = append(instances, instance)
	}
	r.services[req.Name] = instances

	if updated {
		r.logger.Info("服务实例已更新", zap.String("service", req.Name), zap.String("instanceId", instanceID), zap.String("url", url))
	} else {
		r.logger.Info("服务实例已注册", zap.String("service", req.Name), zap.String("instanceId", instanceID), zap.String("url", url))
	}
	return instanceID, updated, nil
}

// Heartbeat 更新心跳时间
//
// 指定instanceID时只更新该实例，未找到返回NotFoundError且不修改任何实例；
// 未指定时更新该服务名下的所有实例。
func (r *Registry) Heartbeat(ctx context.Context, name, instanceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, ok := r.services[name]
	if !ok {
		return apperror.NewNotFoundError("Service not found")
	}

	now := r.now()
	if instanceID == "" {
		for i := range instances {
			instances[i].LastHeartbeat = now
			instances[i].Status = model.StatusUp
		}
		r.logger.Debug("收到服务心跳", zap.String("service", name), zap.Int("instances", len(instances)))
		return nil
	}

	for i := range instances {
		if instances[i].InstanceID == instanceID {
			instances[i].LastHeartbeat = now
			instances[i].Status = model.StatusUp
			r.logger.Debug("收到实例心跳", zap.String("service", name), zap.String("instanceId", instanceID))
			return nil
		}
	}

	r.logger.Warn("心跳实例不存在", zap.String("service", name), zap.String("instanceId", instanceID))
	return apperror.NewNotFoundError("Instance not found")
}

// ListAll 返回全部服务及其实例，包括DOWN状态的实例
func (r *Registry) ListAll(ctx context.Context) map[string][]model.ServiceInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]model.ServiceInstance, len(r.services))
	for name, instances := range r.services {
		copied := make([]model.ServiceInstance, len(instances))
		copy(copied, instances)
		result[name] = copied
	}
	r.logger.Debug("查询全部服务", zap.Int("services", len(result)))
	return result
}

// ListActive 返回指定服务下处于UP状态的实例
func (r *Registry) ListActive(ctx context.Context, name string) ([]model.ServiceInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances, ok := r.services[name]
	if !ok {
		r.logger.Debug("查询的服务不存在", zap.String("service", name))
		return nil, apperror.NewNotFoundError("Service not found")
	}

	active := make([]model.ServiceInstance, 0, len(instances))
	for _, instance := range instances {
		if instance.IsUp() {
			active = append(active, instance)
		}
	}
	r.logger.Debug("查询可用实例", zap.String("service", name), zap.Int("active", len(active)), zap.Int("total", len(instances)))
	if len(active) == 0 {
		return nil, apperror.NewUnavailableError("No active instances available")
	}
	return active, nil
}

// Deregister 注销服务实例，返回面向调用方的结果描述
//
// 未指定instanceID时注销整个服务；实例列表清空后服务名一并删除。
func (r *Registry) Deregister(ctx context.Context, name, instanceID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, ok := r.services[name]
	if !ok {
		return "", apperror.NewNotFoundError("Service not found")
	}

	if instanceID == "" {
		delete(r.services, name)
		r.logger.Info("服务已注销", zap.String("service", name), zap.Int("instances", len(instances)))
		return fmt.Sprintf("Service '%s' deregistered", name), nil
	}

	idx := -1
	for i := range instances {
		if instances[i].InstanceID == instanceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", apperror.NewNotFoundError("Instance not found")
	}

	remaining := append(instances[:idx:idx], instances[idx+1:]...)
	if len(remaining) == 0 {
		delete(r.services, name)
	} else {
		r.services[name] = remaining
	}

	r.logger.Info("服务实例已注销", zap.String("service", name), zap.String("instanceId", instanceID), zap.Int("remaining", len(remaining)))
	return fmt.Sprintf("Instance '%s' deregistered", instanceID), nil
}

// SweepResult 一次存活检查的统计
type SweepResult struct {
	Up   int
	Down int
}

// Sweep 根据心跳时间重新计算全部实例的状态，从不删除实例
func (r *Registry) Sweep(ctx context.Context, timeout time.Duration) SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var result SweepResult
	for name, instances := range r.services {
		for i := range instances {
			status := model.StatusUp
			if now.Sub(instances[i].LastHeartbeat) > timeout {
				status = model.StatusDown
			}
			if instances[i].Status != status {
				r.logger.Info("实例状态变更",
					zap.String("service", name),
					zap.String("instanceId", instances[i].InstanceID),
					zap.String("from", string(instances[i].Status)),
					zap.String("to", string(status)))
			}
			instances[i].Status = status
			if status == model.StatusUp {
				result.Up++
			} else {
				result.Down++
			}
		}
	}
	return result
}

// Count 返回已注册的服务名数量
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}

// Names 返回排序后的服务名列表
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
