package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/database"
	"github.com/qs3c/style_go_server/internal/pkg/logger"
	"github.com/qs3c/style_go_server/internal/repository"
	"github.com/qs3c/style_go_server/internal/service"
)

var (
	dryRun    = flag.Bool("dry-run", true, "Dry run mode, only count stale jobs")
	olderThan = flag.Duration("older-than", 0, "Purge pending jobs older than this (default: jobs.pending_ttl_hours)")
)

func main() {
	flag.Parse()

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

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}

	ttl := *olderThan
	if ttl <= 0 {
		ttl = time.Duration(cfg.Jobs.PendingTTLHours) * time.Hour
	}

	jobs := service.NewJobService(repository.NewJobRepository(db), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := jobs.PurgeStalePending(ctx, ttl, *dryRun)
	if err != nil {
		logrus.Fatalf("Cleanup failed: %v", err)
	}

	log := logrus.WithFields(logrus.Fields{
		"older_than": ttl,
		"jobs":       n,
	})
	if *dryRun {
		log.Info("DRY RUN: stale pending jobs found, run with -dry-run=false to delete")
		return
	}
	log.Info("Cleanup completed")
}
