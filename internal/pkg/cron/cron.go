package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PendingJobPurger 清理长期未解析到用户的占位任务
type PendingJobPurger interface {
	PurgeStalePending(ctx context.Context, olderThan time.Duration, dryRun bool) (int64, error)
}

type Service struct {
	cron     *cron.Cron
	purger   PendingJobPurger
	ttl      time.Duration
	schedule string
}

// NewService schedule 支持标准 5 段表达式和 @hourly 之类的描述符
func NewService(purger PendingJobPurger, schedule string, ttl time.Duration) (*Service, error) {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if schedule == "" {
		schedule = "@hourly"
	}

	s := &Service{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		purger:   purger,
		ttl:      ttl,
		schedule: schedule,
	}

	if _, err := s.cron.AddFunc(schedule, s.purgePending); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start 启动定时任务
func (s *Service) Start() {
	s.cron.Start()
	logrus.WithFields(logrus.Fields{
		"schedule": s.schedule,
		"ttl":      s.ttl,
	}).Info("Cron service started (stale pending job purge)")
}

// Stop 停止定时任务，等待正在执行的任务结束
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
	logrus.Info("Cron service stopped")
}

// RunNow 立即执行一次清理
func (s *Service) RunNow(ctx context.Context) (int64, error) {
	return s.purger.PurgeStalePending(ctx, s.ttl, false)
}

func (s *Service) purgePending() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	n, err := s.purger.PurgeStalePending(ctx, s.ttl, false)
	if err != nil {
		logrus.WithError(err).Error("Failed to purge stale pending jobs")
		return
	}
	if n > 0 {
		logrus.WithField("deleted", n).Info("Purged stale pending jobs")
	}
}
