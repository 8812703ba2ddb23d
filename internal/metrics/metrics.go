package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 注册中心与网关使用的Prometheus指标
type Metrics struct {
	// 注册中心指标
	RegistryOperations *prometheus.CounterVec
	RegistryInstances  *prometheus.GaugeVec
	LivenessSweeps     prometheus.Counter

	// 网关指标
	GatewayRequests        *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec
	RouteRefreshes         *prometheus.CounterVec
	Routes                 prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New 使用默认注册表创建指标
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry 使用指定的注册表创建指标，测试中用独立注册表避免重复注册
func NewWithRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		RegistryOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_registry_operations_total",
				Help: "Total number of registry operations",
			},
			[]string{"operation", "result"},
		),
		RegistryInstances: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "discovery_registry_instances",
				Help: "Number of registered instances by status after the last liveness sweep",
			},
			[]string{"status"},
		),
		LivenessSweeps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "discovery_liveness_sweeps_total",
				Help: "Total number of liveness sweeps",
			},
		),
		GatewayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_forward_requests_total",
				Help: "Total number of requests handled by the forwarder",
			},
			[]string{"service", "method", "status"},
		),
		GatewayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_forward_duration_seconds",
				Help:    "Forwarding latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		RouteRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_route_refreshes_total",
				Help: "Total number of route cache refreshes",
			},
			[]string{"result"},
		),
		Routes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateway_routes",
				Help: "Number of routable services in the route cache",
			},
		),
		gatherer: gatherer,
	}
}

// Handler 返回Prometheus指标HTTP处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveOperation 记录一次注册中心操作
func (m *Metrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RegistryOperations.WithLabelValues(operation, result).Inc()
}
