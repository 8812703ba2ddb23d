package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hewenyu/kong-gateway/internal/config"
	"github.com/hewenyu/kong-gateway/internal/gateway"
	"github.com/hewenyu/kong-gateway/internal/metrics"
	"go.uber.org/zap"
)

var (
	logger     config.Logger
	configFile string
	appConfig  *config.Config
)

func init() {
	// 解析命令行参数
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	var err error
	appConfig, err = config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err = config.NewLogger(appConfig.Log.Level, appConfig.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	updateInterval := config.Seconds(appConfig.Gateway.UpdateInterval, 30*time.Second)
	forwardTimeout := config.Seconds(appConfig.Gateway.ForwardTimeout, 30*time.Second)
	discoveryTimeout := config.Seconds(appConfig.Gateway.DiscoveryTimeout, 5*time.Second)

	// 打印启动信息
	logger.Info("API Gateway Starting...",
		zap.String("version", "0.1.0"),
		zap.Int("port", appConfig.Gateway.Port),
		zap.String("discovery_url", appConfig.Gateway.DiscoveryURL),
		zap.Duration("update_interval", updateInterval),
		zap.Duration("forward_timeout", forwardTimeout),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if appConfig.Metrics.Enabled {
		m = metrics.New()
	}

	// 路由缓存：启动时刷新一次，之后定时刷新
	client := gateway.NewHTTPDiscoveryClient(appConfig.Gateway.DiscoveryURL, discoveryTimeout)
	routes := gateway.NewRouteCache(client, updateInterval, logger, m)
	routes.Start(ctx)

	forwarder := gateway.NewForwarder(routes, forwardTimeout, m, logger)
	server := gateway.NewServer(appConfig, routes, forwarder, m, logger)
	if err := server.Start(); err != nil {
		logger.Error("启动网关服务失败", zap.Error(err))
		os.Exit(1)
	}

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("接收到关闭信号，正在优雅关闭...", zap.String("signal", sig.String()))

	routes.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭网关服务失败", zap.Error(err))
	}

	logger.Info("网关已关闭")
}
