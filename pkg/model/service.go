package model

import (
	"fmt"
	"time"
)

// Status 表示服务实例的存活状态，由心跳时间推导而来
type Status string

const (
	// StatusUp 心跳未超时
	StatusUp Status = "UP"
	// StatusDown 心跳超时
	StatusDown Status = "DOWN"
)

// ServiceInstance 表示一个服务实例
//
// JSON字段名与服务注册协议保持一致，网关和各业务服务都依赖这些字段名。
type ServiceInstance struct {
	InstanceID     string    `json:"instanceId"`     // 实例ID，同一服务名下唯一
	Name           string    `json:"name"`           // 服务名称
	HostName       string    `json:"hostName"`       // 注册时上报的主机
	URL            string    `json:"url"`            // 服务访问地址 http://{name}:{port}
	Port           int       `json:"port"`           // 服务端口
	Status         Status    `json:"status"`         // UP 或 DOWN
	RegisteredAt   time.Time `json:"registered_at"`  // 注册时间
	LastHeartbeat  time.Time `json:"last_heartbeat"` // 最后心跳时间
	HealthCheckURL string    `json:"healthCheckUrl"` // 健康检查地址，仅供参考
}

// IsUp 判断状态是否为UP
func (s Status) IsUp() bool {
	return s == StatusUp
}

// IsUp 判断实例是否处于UP状态
func (s ServiceInstance) IsUp() bool {
	return s.Status.IsUp()
}

// ServiceURL 计算服务访问地址，假设服务名在共享网络中可路由
func ServiceURL(name string, port int) string {
	return fmt.Sprintf("http://%s:%d", name, port)
}

// HealthCheckURL 计算健康检查地址
func HealthCheckURL(serviceURL string) string {
	return serviceURL + "/health"
}
