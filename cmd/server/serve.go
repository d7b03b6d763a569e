package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creditledger/internal/handler"
	"creditledger/internal/infrastructure/cache"
	"creditledger/internal/infrastructure/metrics"
	"creditledger/internal/infrastructure/mq"
	"creditledger/internal/job"
	"creditledger/internal/service"
	"creditledger/pkg/idgen"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 服务和后台任务",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(*configPath)
		},
	}
}

func serve(configPath string) error {
	cfg, log, db, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	// 初始化 ID 生成器
	if err := idgen.Init(int64(cfg.Server.WorkerID)); err != nil {
		return err
	}

	// 初始化 Redis
	rdb, err := cache.NewRedis(&cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	m := metrics.New()

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	audit := service.NewAuditService(db, cfg, log)
	reconcileJob := job.NewAuditReconcileJob(db, audit, cfg, log, m)
	go reconcileJob.Start(ctx)

	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			return err
		}
		publisher := mq.NewKafkaPublisher(producer)
		defer publisher.Close()

		outboxSender := job.NewOutboxSender(db, publisher, cfg, log, m)
		go outboxSender.Start(ctx)
	} else {
		log.Info("Kafka 未启用，不投递积分事件")
	}

	// 设置路由
	router := handler.SetupRouter(db, rdb, cfg, log, m)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	log.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", zap.Error(err))
	}

	log.Info("服务已关闭")
	return nil
}
