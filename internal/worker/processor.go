package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/pkg/pubsub"
	"github.com/qs3c/style_go_server/internal/pkg/queue"
	"github.com/qs3c/style_go_server/internal/service"
)

const DefaultMaxAttempts = 3

// RetryQueue 失败任务的重试与死信
type RetryQueue interface {
	Push(ctx context.Context, msg *queue.JobMessage) error
	Requeue(ctx context.Context, msg *queue.JobMessage) error
	DeadLetter(ctx context.Context, msg *queue.JobMessage) error
}

type ProgressPublisher interface {
	PublishProgress(ctx context.Context, msg *pubsub.ProgressMessage) error
}

// Processor 预生成最佳搭配图片
type Processor struct {
	jobs        *service.JobService
	analysis    *service.AnalysisService
	credits     *service.CreditService
	queue       RetryQueue
	publisher   ProgressPublisher
	cost        int
	maxAttempts int
}

func NewProcessor(
	jobs *service.JobService,
	analysis *service.AnalysisService,
	credits *service.CreditService,
	q RetryQueue,
	publisher ProgressPublisher,
	cost int,
	maxAttempts int,
) *Processor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Processor{
		jobs:        jobs,
		analysis:    analysis,
		credits:     credits,
		queue:       q,
		publisher:   publisher,
		cost:        cost,
		maxAttempts: maxAttempts,
	}
}

// Process 处理一条队列消息。未扣费的消息先扣费，最终失败进入死信并退款。
// ctx 被取消时任务原样放回队列，不计入重试次数
func (p *Processor) Process(ctx context.Context, msg *queue.JobMessage) error {
	log := logrus.WithFields(logrus.Fields{
		"job_id":  msg.JobID,
		"attempt": msg.Attempt,
	})

	job, err := p.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			// 占位任务可能已被清理
			log.Warn("job no longer exists, dropping message")
			return nil
		}
		if ctx.Err() != nil {
			return p.putBack(ctx, msg, "")
		}
		return fmt.Errorf("failed to get job: %w", err)
	}

	if len(job.BestFit) > 0 {
		log.Debug("best-fit already stored, skipping")
		return nil
	}

	userID, ok := job.Owner().UserID()
	if !ok {
		log.Debug("job owner not resolved, skipping")
		return nil
	}

	publish := func(step, status, errMsg string) {
		if err := p.publisher.PublishProgress(context.WithoutCancel(ctx), &pubsub.ProgressMessage{
			UserID: userID,
			JobID:  job.ID,
			Status: status,
			Step:   step,
			Error:  errMsg,
		}); err != nil {
			log.WithError(err).Warn("failed to publish progress")
		}
	}

	// 与按需生成互斥，抢不到说明已有人在生成
	claimed, err := p.jobs.Claim(ctx, job.ID, model.JobStatusCreated, model.JobStatusQueued)
	if err != nil {
		if ctx.Err() != nil {
			return p.putBack(ctx, msg, "")
		}
		return err
	}
	if !claimed {
		log.WithField("status", job.Status).Info("job already being generated, skipping")
		return nil
	}

	if !msg.Charged && p.cost > 0 {
		if _, err := p.credits.Debit(ctx, userID, p.cost, model.ReasonBestFit); err != nil {
			if errors.Is(err, service.ErrInsufficientCredits) {
				// 留给用户稍后手动获取
				log.Info("insufficient credits, leaving job for on-demand best-fit")
				if err := p.jobs.MarkStatus(context.WithoutCancel(ctx), job.ID, model.JobStatusCreated, ""); err != nil {
					log.WithError(err).Warn("failed to reset job status")
				}
				publish(pubsub.StepFailed, model.JobStatusCreated, err.Error())
				return nil
			}
			if ctx.Err() != nil {
				return p.putBack(ctx, msg, "")
			}
			if err := p.jobs.MarkStatus(context.WithoutCancel(ctx), job.ID, model.JobStatusCreated, ""); err != nil {
				log.WithError(err).Warn("failed to reset job status")
			}
			return err
		}
		msg.Charged = true
	}

	publish(pubsub.StepFetching, model.JobStatusProcessing, "")

	if _, err := p.analysis.FetchAndStoreBestFit(ctx, job.ID); err != nil {
		if ctx.Err() != nil {
			return p.putBack(ctx, msg, err.Error())
		}
		return p.fail(ctx, msg, userID, err, publish)
	}

	publish(pubsub.StepDone, model.JobStatusCompleted, "")
	log.Info("best-fit generated")
	return nil
}

// putBack 停机打断的任务放回队列，attempt 不变
func (p *Processor) putBack(ctx context.Context, msg *queue.JobMessage, errMsg string) error {
	bg := context.WithoutCancel(ctx)
	log := logrus.WithFields(logrus.Fields{
		"job_id":  msg.JobID,
		"attempt": msg.Attempt,
	})

	if err := p.queue.Push(bg, msg); err != nil {
		log.WithError(err).Error("failed to put interrupted job back")
		return err
	}
	if err := p.jobs.MarkStatus(bg, msg.JobID, model.JobStatusQueued, errMsg); err != nil {
		log.WithError(err).Warn("failed to mark job queued")
	}
	log.Info("job interrupted, put back to queue")
	return ctx.Err()
}

// fail 远程失败且未超过次数时重新入队，否则死信
func (p *Processor) fail(ctx context.Context, msg *queue.JobMessage, userID int64, cause error, publish func(step, status, errMsg string)) error {
	log := logrus.WithFields(logrus.Fields{
		"job_id":  msg.JobID,
		"attempt": msg.Attempt,
	}).WithError(cause)

	// 请求可能已取消，收尾不跟随
	bg := context.WithoutCancel(ctx)

	if service.IsExternalFailure(cause) && msg.Attempt+1 < p.maxAttempts {
		err := p.queue.Requeue(bg, msg)
		if err == nil {
			if err := p.jobs.MarkStatus(bg, msg.JobID, model.JobStatusQueued, cause.Error()); err != nil {
				log.WithError(err).Warn("failed to mark job queued")
			}
			publish(pubsub.StepQueued, model.JobStatusQueued, cause.Error())
			log.Warn("best-fit generation failed, requeued")
			return cause
		}
		log.WithError(err).Error("requeue failed, dead-lettering")
	}

	if err := p.queue.DeadLetter(bg, msg); err != nil {
		log.WithError(err).Error("failed to dead-letter job")
	}
	if msg.Charged && p.cost > 0 {
		if _, err := p.credits.Refund(bg, userID, p.cost); err != nil {
			log.WithError(err).Error("failed to refund credits")
		}
	}
	if err := p.jobs.MarkStatus(bg, msg.JobID, model.JobStatusFailed, cause.Error()); err != nil {
		log.WithError(err).Error("failed to mark job failed")
	}
	publish(pubsub.StepFailed, model.JobStatusFailed, cause.Error())

	log.Error("best-fit generation failed")
	return cause
}
