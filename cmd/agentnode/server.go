package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/BaSui01/agentnode/config"
	"github.com/BaSui01/agentnode/internal/metrics"
	"github.com/BaSui01/agentnode/internal/telemetry"
	"github.com/BaSui01/agentnode/node"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ App 结构
// =============================================================================

// App 组装节点进程：Node 本体、指标采集、遥测与配置热重载。
type App struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	otel       *telemetry.Providers

	node *node.Node

	// 指标收集器
	metricsCollector *metrics.Collector

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewApp 创建新的应用实例
func NewApp(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers) *App {
	return &App{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		otel:       otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动节点及全部附属组件
func (a *App) Start() error {
	// 1. 初始化指标收集器
	a.metricsCollector = metrics.NewCollector("agentnode", a.logger)

	// 2. 初始化热更新管理器
	if err := a.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 3. 构建节点（中间件链与配置 API 经选项注入）
	n, err := node.New(a.cfg, a.logger, a.nodeOptions()...)
	if err != nil {
		return fmt.Errorf("failed to build node: %w", err)
	}
	a.node = n

	// 4. 启动节点（HTTP 服务、流水账恢复、协调器注册）
	if err := n.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}

	a.logger.Info("All components started",
		zap.String("node_id", n.ID()),
		zap.String("listen_addr", n.Addr()),
		zap.Bool("hot_reload_enabled", a.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHotReloadManager 初始化热更新管理器
func (a *App) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(a.logger),
	}

	if a.configPath != "" {
		opts = append(opts, config.WithConfigPath(a.configPath))
	}

	a.hotReloadManager = config.NewHotReloadManager(a.cfg, opts...)

	// 注册配置变更回调
	a.hotReloadManager.OnChange(func(change config.ConfigChange) {
		a.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	// 注册配置重载回调
	a.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		a.logger.Info("Configuration reloaded")
		a.cfg = newConfig
	})

	// 启动热更新管理器
	ctx := context.Background()
	if err := a.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	// 创建配置 API 处理器
	a.configAPIHandler = config.NewConfigAPIHandler(a.hotReloadManager, a.logger)

	return nil
}

// nodeOptions 组装传给 node.New 的全部选项：版本、指标收集器、
// 中间件链，以及挂到节点路由上的配置管理 API。
func (a *App) nodeOptions() []node.Option {
	opts := []node.Option{
		node.WithVersion(Version),
		node.WithCollector(a.metricsCollector),
		node.WithMiddleware(a.buildMiddleware()...),
	}

	// 配置管理 API（需要独立认证保护）
	// 配置 API 是敏感的管理端点，经 X-API-Key 认证后才挂载，
	// 不依赖全局中间件链的顺序，而是显式包装认证检查。
	if a.configAPIHandler != nil {
		configMux := http.NewServeMux()
		a.configAPIHandler.RegisterRoutes(configMux)
		auth := config.NewConfigAPIMiddleware(a.cfg.Server.AdminAPIKey, a.logger)
		protected := auth.RequireAuth(auth.LogRequests(configMux))
		opts = append(opts,
			node.WithRoute("/api/v1/config", protected),
			node.WithRoute("/api/v1/config/", protected),
		)
		a.logger.Info("Configuration API registered with authentication")
	}

	return opts
}

// buildMiddleware 构建节点 HTTP 中间件链。探活、状态与指标端点
// 不要求认证，协调器与运维探针需要无凭据访问它们。
func (a *App) buildMiddleware() []func(http.Handler) http.Handler {
	skipAuthPaths := []string{"/healthz", "/readyz", "/status", "/metrics"}

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	a.rateLimiterCancel = rateLimiterCancel

	mws := []func(http.Handler) http.Handler{
		Recovery(a.logger),
		RequestID(),
	}
	if a.cfg.Telemetry.Enabled {
		mws = append(mws, OTelTracing())
	}
	mws = append(mws,
		SecurityHeaders(),
		RequestLogger(a.logger),
	)
	if a.cfg.Server.RateLimitRPS > 0 {
		mws = append(mws, RateLimiter(rateLimiterCtx,
			float64(a.cfg.Server.RateLimitRPS), a.cfg.Server.RateLimitBurst, a.logger))
	}
	if a.cfg.Server.JWTSecret != "" {
		mws = append(mws, JWTAuth(a.cfg.Server.JWTSecret, skipAuthPaths, a.logger))
	}
	return mws
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (a *App) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	sig := <-quit
	a.logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	a.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (a *App) Shutdown() {
	a.logger.Info("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 0. 停止 rate limiter 清理 goroutine
	if a.rateLimiterCancel != nil {
		a.rateLimiterCancel()
	}

	// 1. 停止热更新管理器
	if a.hotReloadManager != nil {
		if err := a.hotReloadManager.Stop(); err != nil {
			a.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭节点（注销循环、异步轮询、HTTP 服务、流水账）
	if a.node != nil {
		if err := a.node.Stop(ctx); err != nil {
			a.logger.Error("Node shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭遥测
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			a.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	a.logger.Info("Graceful shutdown completed")
}
