package configstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore 基于内存的配置存储，进程重启后丢失
type MemoryStore struct {
	docs  map[string]Document
	mutex sync.RWMutex
}

// NewMemoryStore 创建内存配置存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
	}
}

// Get 获取配置
func (m *MemoryStore) Get(ctx context.Context, name string) (Document, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	doc, ok := m.docs[name]
	if !ok {
		return nil, notFound(name)
	}
	return cloneDocument(doc)
}

// Put 替换配置
func (m *MemoryStore) Put(ctx context.Context, name string, doc Document) error {
	copied, err := cloneDocument(doc)
	if err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.docs[name] = copied
	return nil
}

// List 返回排序后的服务名
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.docs))
	for name := range m.docs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close 实现Store接口
func (m *MemoryStore) Close() error {
	return nil
}

// cloneDocument 通过JSON往返做深拷贝，避免调用方修改内部状态
func cloneDocument(doc Document) (Document, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var copied Document
	if err := json.Unmarshal(data, &copied); err != nil {
		return nil, err
	}
	return copied, nil
}
