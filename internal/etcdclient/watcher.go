package etcdclient

import (
	"context"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// 事件类型
const (
	EventCreate = "create"
	EventUpdate = "update"
	EventDelete = "delete"
)

// WatchEvent 定义监听事件类型
type WatchEvent struct {
	EventType string // 事件类型: "create", "update", "delete"
	Key       string // 发生变化的key
	Value     string // 变化后的值 (对于delete事件，此字段为空)
	PrevValue string // 变化前的值 (对于create事件，此字段为空)
}

// WatchCallback 定义监听回调函数类型
type WatchCallback func(event WatchEvent)

// StartWatch 开始监听指定前缀的key变化，ctx取消后监听结束
func (e *EtcdClient) StartWatch(ctx context.Context, prefix string, callback WatchCallback) error {
	if e.client == nil {
		return fmt.Errorf("etcd客户端未连接")
	}

	e.logger.Info("开始监听etcd变化", zap.String("prefix", prefix))

	// 获取当前revision，从下一个revision开始监听
	getCtx, cancel := context.WithTimeout(ctx, e.requestTimeout)
	getResp, err := e.client.Get(getCtx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	cancel()
	if err != nil {
		e.logger.Error("获取初始revision失败", zap.String("prefix", prefix), zap.Error(err))
		return fmt.Errorf("获取初始revision失败: %w", err)
	}

	watchChan := e.client.Watch(ctx, prefix,
		clientv3.WithPrefix(),
		clientv3.WithRev(getResp.Header.Revision+1),
		clientv3.WithPrevKV())

	go func() {
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("etcd监听已停止", zap.String("prefix", prefix))
				return
			case watchResp, ok := <-watchChan:
				if !ok || watchResp.Canceled {
					if ctx.Err() != nil {
						return
					}
					e.logger.Warn("etcd监听被取消，稍后重试", zap.String("prefix", prefix), zap.Error(watchResp.Err()))
					time.Sleep(time.Second)
					watchChan = e.client.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithPrevKV())
					continue
				}

				for _, event := range watchResp.Events {
					watchEvent := toWatchEvent(event)
					callback(watchEvent)

					e.logger.Debug("检测到etcd变化",
						zap.String("type", watchEvent.EventType),
						zap.String("key", watchEvent.Key))
				}
			}
		}
	}()

	return nil
}

// toWatchEvent 把etcd事件转换为WatchEvent
func toWatchEvent(event *clientv3.Event) WatchEvent {
	watchEvent := WatchEvent{
		Key: string(event.Kv.Key),
	}

	switch event.Type {
	case clientv3.EventTypePut:
		watchEvent.Value = string(event.Kv.Value)
		if event.IsCreate() {
			watchEvent.EventType = EventCreate
		} else {
			watchEvent.EventType = EventUpdate
		}
	case clientv3.EventTypeDelete:
		watchEvent.EventType = EventDelete
	}

	if event.PrevKv != nil {
		watchEvent.PrevValue = string(event.PrevKv.Value)
	}
	return watchEvent
}
