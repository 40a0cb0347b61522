package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trade-gate/internal/api"
	"trade-gate/internal/audit"
	"trade-gate/internal/breaker"
	"trade-gate/internal/broker"
	"trade-gate/internal/config"
	"trade-gate/internal/execution"
	"trade-gate/internal/risk"
	"trade-gate/internal/store"
)

const shutdownTimeout = 5 * time.Second

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// Pipeline 为装配完成的执行链路。
type Pipeline struct {
	Broker      broker.Adapter
	Breakers    *breaker.Registry
	Audit       *audit.SQLiteSink
	Coordinator *execution.Coordinator
	Dispatcher  *execution.Dispatcher
	Router      *gin.Engine
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Build 按配置装配券商、熔断器、审计、协调器与 HTTP 路由，并完成券商认证。
func (a *App) Build(ctx context.Context) (*Pipeline, error) {
	adapter, err := broker.New(a.cfg.Broker, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化券商失败: %w", err)
	}
	adapter = broker.Throttle(adapter, broker.NewLimiter(a.cfg.Broker.RateLimitPerSecond, a.cfg.Broker.RateBurst))

	if err := adapter.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("app: 券商认证失败: %w", err)
	}

	sqliteSink, err := audit.NewSQLiteSink(a.store, a.logger)
	if err != nil {
		return nil, err
	}
	sink := audit.MultiSink{audit.NewZapSink(a.logger), sqliteSink}

	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: a.cfg.Circuit.FailureThreshold,
		RecoveryTimeout:  a.cfg.Circuit.RecoveryTimeout,
	}, a.logger)

	coordinator := execution.NewCoordinator(a.cfg.Execution, risk.NewGate(a.cfg.Risk, a.logger), breakers, sink, a.logger)
	dispatcher := execution.NewDispatcher(coordinator, adapter, a.cfg.Execution.MaxInFlightOrders, a.logger)

	if a.cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(dispatcher, breakers, sqliteSink, a.logger)

	return &Pipeline{
		Broker:      adapter,
		Breakers:    breakers,
		Audit:       sqliteSink,
		Coordinator: coordinator,
		Dispatcher:  dispatcher,
		Router:      api.NewRouter(handler, a.cfg.Server),
	}, nil
}

// Run 启动 HTTP 接口，阻塞直到 ctx 结束后优雅关闭。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("执行网关初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("broker_kind", a.cfg.Broker.Kind),
		zap.String("broker_name", a.cfg.Broker.Name),
		zap.String("addr", a.cfg.Server.Addr),
	)

	pipeline, err := a.Build(ctx)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           pipeline.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	a.logger.Info("HTTP 接口已启动", zap.String("addr", a.cfg.Server.Addr))

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("app: HTTP 服务异常: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("系统收到退出信号，正在停止")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: 关闭 HTTP 服务失败: %w", err)
	}
	return nil
}
