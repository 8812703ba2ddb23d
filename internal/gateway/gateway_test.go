package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/pkg/model"
	"go.uber.org/zap/zapcore"
)

// MockLogger 模拟日志记录器
type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...zapcore.Field) {}
func (m *MockLogger) Info(msg string, fields ...zapcore.Field)  {}
func (m *MockLogger) Warn(msg string, fields ...zapcore.Field)  {}
func (m *MockLogger) Error(msg string, fields ...zapcore.Field) {}
func (m *MockLogger) Fatal(msg string, fields ...zapcore.Field) {}
func (m *MockLogger) With(fields ...zapcore.Field) config.Logger {
	return m
}
func (m *MockLogger) Sync() error { return nil }

var errDiscoveryDown = errors.New("connection refused")

// fakeDiscovery 可编程的注册中心客户端，记录调用次数
type fakeDiscovery struct {
	mu       sync.Mutex
	services map[string][]Instance
	err      error
	calls    int
}

func newFakeDiscovery(services map[string][]Instance) *fakeDiscovery {
	return &fakeDiscovery{services: services}
}

func (f *fakeDiscovery) ListAll(ctx context.Context) (map[string][]Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.services, nil
}

func (f *fakeDiscovery) set(services map[string][]Instance, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services = services
	f.err = err
}

func (f *fakeDiscovery) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func up(url string) Instance {
	return Instance{URL: url, Status: model.StatusUp}
}

func down(url string) Instance {
	return Instance{URL: url, Status: model.StatusDown}
}

// blockingDiscovery 第一次调用阻塞到release关闭并返回空列表，之后的调用返回services
type blockingDiscovery struct {
	entered  chan struct{}
	release  chan struct{}
	services map[string][]Instance

	mu    sync.Mutex
	calls int
}

func newBlockingDiscovery(services map[string][]Instance) *blockingDiscovery {
	return &blockingDiscovery{
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
		services: services,
	}
}

func (b *blockingDiscovery) ListAll(ctx context.Context) (map[string][]Instance, error) {
	b.mu.Lock()
	b.calls++
	first := b.calls == 1
	b.mu.Unlock()

	if first {
		close(b.entered)
		<-b.release
		return map[string][]Instance{}, nil
	}
	return b.services, nil
}

func (b *blockingDiscovery) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}
