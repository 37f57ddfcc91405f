package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/database"
	"github.com/qs3c/style_go_server/internal/pkg/analysis"
	"github.com/qs3c/style_go_server/internal/pkg/logger"
	"github.com/qs3c/style_go_server/internal/pkg/pubsub"
	"github.com/qs3c/style_go_server/internal/pkg/queue"
	"github.com/qs3c/style_go_server/internal/repository"
	"github.com/qs3c/style_go_server/internal/service"
	"github.com/qs3c/style_go_server/internal/worker"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger.Setup(cfg.Log)

	// 初始化数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to connect database: %v", err)
	}
	logrus.Info("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		logrus.Fatalf("Failed to connect redis: %v", err)
	}
	logrus.Info("Redis connected")

	tiers, err := service.NewTierTable(cfg.Credits.Tiers)
	if err != nil {
		logrus.Fatalf("Invalid credit tiers: %v", err)
	}

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)
	publisher := pubsub.NewPublisher(rdb)

	jobService := service.NewJobService(repository.NewJobRepository(db), jobQueue)
	creditService := service.NewCreditService(repository.NewLedgerRepository(db), tiers)
	analysisService := service.NewAnalysisService(analysis.NewClient(cfg.Analysis), jobService, creditService, cfg)

	processor := worker.NewProcessor(
		jobService,
		analysisService,
		creditService,
		jobQueue,
		publisher,
		cfg.Credits.Costs.BestFitImage,
		worker.DefaultMaxAttempts,
	)

	// 创建 context 用于优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workers := cfg.Queue.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	logrus.Infof("Worker started, max workers: %d", workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log := logrus.WithField("worker", workerID)

			for ctx.Err() == nil {
				// 从队列获取任务
				msg, err := jobQueue.Pop(ctx, 5*time.Second)
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					log.WithError(err).Error("failed to pop job")
					time.Sleep(time.Second)
					continue
				}
				if msg == nil {
					continue // 超时，继续等待
				}

				log.WithField("job_id", msg.JobID).Info("processing job")
				if err := processor.Process(ctx, msg); err != nil {
					log.WithError(err).WithField("job_id", msg.JobID).Warn("job failed")
				}
			}
			log.Info("worker shutting down")
		}(i)
	}

	wg.Wait()
	logrus.Info("Worker shutdown complete")
}
