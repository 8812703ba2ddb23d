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
	"github.com/hewenyu/kong-gateway/internal/configstore"
	"github.com/hewenyu/kong-gateway/internal/discovery"
	"github.com/hewenyu/kong-gateway/internal/dnsserver"
	"github.com/hewenyu/kong-gateway/internal/metrics"
	"github.com/hewenyu/kong-gateway/internal/registry"
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

	heartbeatTimeout := config.Seconds(appConfig.Discovery.HeartbeatTimeout, 60*time.Second)
	checkInterval := config.Seconds(appConfig.Discovery.CheckInterval, 30*time.Second)

	// 打印启动信息
	logger.Info("Discovery Service Starting...",
		zap.String("version", "0.1.0"),
		zap.Int("port", appConfig.Discovery.Port),
		zap.Duration("heartbeat_timeout", heartbeatTimeout),
		zap.Duration("check_interval", checkInterval),
		zap.String("config_backend", appConfig.ConfigStore.Backend),
		zap.Bool("dns_enabled", appConfig.DNS.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var m *metrics.Metrics
	if appConfig.Metrics.Enabled {
		m = metrics.New()
	}

	// 注册表和存活检查
	reg := registry.New(logger, registry.WithIDGenerator(registry.NewIDGenerator(appConfig.Discovery.IDStrategy)))
	monitor := registry.NewLivenessMonitor(reg, checkInterval, heartbeatTimeout, logger, m)

	// 业务服务配置存储
	configs, err := configstore.New(ctx, appConfig, logger)
	if err != nil {
		logger.Error("初始化配置存储失败", zap.Error(err))
		os.Exit(1)
	}
	defer configs.Close()

	// 可选的DNS服务
	var dnsServer dnsserver.Server
	if appConfig.DNS.Enabled {
		dnsServer = dnsserver.NewDNSServer(appConfig, reg, logger)
		if err := dnsServer.Start(); err != nil {
			logger.Error("启动DNS服务失败", zap.Error(err))
			os.Exit(1)
		}
	}

	// HTTP服务
	handler := discovery.NewHandler(reg, configs, m, logger)
	server := discovery.NewServer(appConfig, handler, logger)
	if err := server.Start(); err != nil {
		logger.Error("启动注册中心HTTP服务失败", zap.Error(err))
		os.Exit(1)
	}

	monitor.Start(ctx)

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("接收到关闭信号，正在优雅关闭...", zap.String("signal", sig.String()))

	monitor.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭HTTP服务失败", zap.Error(err))
	}
	if dnsServer != nil {
		if err := dnsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("关闭DNS服务失败", zap.Error(err))
		}
	}

	logger.Info("注册中心已关闭")
}
