package registry

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDGenerator 为未指定instanceId的注册请求生成实例ID
type IDGenerator interface {
	NewID(name string, now time.Time) string
}

// TimestampIDGenerator 生成 {name}-{unix秒} 形式的ID
//
// 同一服务在同一秒内多次注册会得到相同ID，后一次会原地覆盖前一次。
type TimestampIDGenerator struct{}

// NewID 实现IDGenerator接口
func (TimestampIDGenerator) NewID(name string, now time.Time) string {
	return fmt.Sprintf("%s-%d", name, now.Unix())
}

// UUIDGenerator 生成 {name}-{uuid} 形式的ID
type UUIDGenerator struct{}

// NewID 实现IDGenerator接口
func (UUIDGenerator) NewID(name string, _ time.Time) string {
	return fmt.Sprintf("%s-%s", name, uuid.NewString())
}

// NewIDGenerator 根据配置的策略名创建ID生成器，未知策略使用时间戳
func NewIDGenerator(strategy string) IDGenerator {
	switch strategy {
	case "uuid":
		return UUIDGenerator{}
	default:
		return TimestampIDGenerator{}
	}
}
