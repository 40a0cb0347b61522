package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"trade-gate/internal/app"
	"trade-gate/internal/config"
	"trade-gate/internal/log"
	"trade-gate/internal/store"
)

func main() {
	os.Exit(run())
}

// run 返回进程退出码，保证 defer 的清理在退出前执行。
func run() int {
	var (
		configPath string
		addr       string
	)
	flag.StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
	flag.StringVar(&addr, "addr", "", "HTTP 监听地址，覆盖 server.addr")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 2
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger, err := log.NewLogger(cfg.Logging, cfg.App.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("配置加载完成",
		zap.String("config", configPath),
		zap.Bool("addr_override", addr != ""),
		zap.Int64("max_batches", cfg.Execution.MaxBatches),
	)

	sqliteStore, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.String("path", cfg.Database.Path), zap.Error(err))
		return 1
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("收到退出信号，停止接收新订单", zap.String("signal", sig.String()), zap.String("addr", cfg.Server.Addr))
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := app.New(cfg, logger, sqliteStore).Run(ctx); err != nil {
		logger.Error("执行网关异常退出", zap.String("addr", cfg.Server.Addr), zap.Error(err))
		return 1
	}

	logger.Info("执行网关已安全退出", zap.String("addr", cfg.Server.Addr))
	return 0
}
