package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dentiq-goals/internal/config"
	"dentiq-goals/internal/logger"
	"dentiq-goals/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "dentiq-goals")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 获取租户ID（从环境变量）
	tenantID := os.Getenv("TENANT_ID")
	if tenantID == "" {
		log.Fatal("TENANT_ID environment variable is required")
	}

	// 4. 创建引擎
	engine, err := service.NewEngine(cfg, log, tenantID)
	if err != nil {
		log.Fatal("Failed to create goal tracking engine",
			zap.Error(err),
		)
	}
	defer engine.Stop()

	// 5. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. 启动引擎（在 goroutine 中）
	engineErrChan := make(chan error, 1)
	go func() {
		if err := engine.Start(ctx); err != nil {
			engineErrChan <- err
		}
	}()

	// 7. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel() // 取消上下文，停止轮询
	case err := <-engineErrChan:
		log.Fatal("Engine error",
			zap.Error(err),
		)
	}

	log.Info("Goal tracking engine stopped")
}
