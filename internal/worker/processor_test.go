package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/style_go_server/config"
	"github.com/qs3c/style_go_server/internal/model"
	"github.com/qs3c/style_go_server/internal/pkg/analysis"
	"github.com/qs3c/style_go_server/internal/pkg/pubsub"
	"github.com/qs3c/style_go_server/internal/pkg/queue"
	"github.com/qs3c/style_go_server/internal/repository"
	"github.com/qs3c/style_go_server/internal/service"
	"github.com/qs3c/style_go_server/internal/testutil"
)

type fakeClient struct {
	image   string
	err     error
	calls   int
	onFetch func()
}

func (f *fakeClient) FetchWearSuitPictures(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (f *fakeClient) FetchBestFitImage(_ context.Context, jobID string) (*analysis.Envelope, error) {
	f.calls++
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &analysis.Envelope{Status: "success", JobID: jobID, ImageData: f.image}, nil
}

func (f *fakeClient) CheckAvailability(context.Context) bool { return true }

type recordingQueue struct {
	pushed       []*queue.JobMessage
	requeued     []*queue.JobMessage
	deadLettered []*queue.JobMessage
}

func (q *recordingQueue) Push(ctx context.Context, msg *queue.JobMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	copied := *msg
	q.pushed = append(q.pushed, &copied)
	return nil
}

func (q *recordingQueue) Requeue(ctx context.Context, msg *queue.JobMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := *msg
	next.Attempt++
	q.requeued = append(q.requeued, &next)
	return nil
}

func (q *recordingQueue) DeadLetter(ctx context.Context, msg *queue.JobMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.deadLettered = append(q.deadLettered, msg)
	return nil
}

type recordingPublisher struct {
	steps []string
}

func (p *recordingPublisher) PublishProgress(_ context.Context, msg *pubsub.ProgressMessage) error {
	p.steps = append(p.steps, msg.Step)
	return nil
}

type processorContext struct {
	DB        *gorm.DB
	Processor *Processor
	Analysis  *service.AnalysisService
	Queue     *recordingQueue
	Publisher *recordingPublisher
}

func setupProcessor(t *testing.T, client service.AnalysisClient) *processorContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	tiers, err := service.NewTierTable(nil)
	require.NoError(t, err)

	cfg := &config.Config{
		Credits: config.CreditsConfig{
			Costs: config.CostConfig{WearSuitPictures: 10, BestFitImage: 5},
		},
	}

	jobs := service.NewJobService(repository.NewJobRepository(db), nil)
	credits := service.NewCreditService(repository.NewLedgerRepository(db), tiers)
	analysisService := service.NewAnalysisService(client, jobs, credits, cfg)

	q := &recordingQueue{}
	pub := &recordingPublisher{}
	return &processorContext{
		DB:        db,
		Processor: NewProcessor(jobs, analysisService, credits, q, pub, cfg.Credits.Costs.BestFitImage, 2),
		Analysis:  analysisService,
		Queue:     q,
		Publisher: pub,
	}
}

func (pc *processorContext) credits(t *testing.T, userID int64) int {
	t.Helper()
	var user model.User
	require.NoError(t, pc.DB.First(&user, userID).Error)
	return user.Credits
}

func (pc *processorContext) job(t *testing.T, id string) *model.Job {
	t.Helper()
	var job model.Job
	require.NoError(t, pc.DB.First(&job, "id = ?", id).Error)
	return &job
}

func messageFor(job *model.Job, attempt int) *queue.JobMessage {
	return &queue.JobMessage{
		JobID:     job.ID,
		OwnerKind: job.OwnerKind,
		OwnerRef:  job.OwnerRef,
		Attempt:   attempt,
	}
}

func TestProcessor_Success(t *testing.T) {
	image := []byte("best-fit-image")
	client := &fakeClient{image: base64.StdEncoding.EncodeToString(image)}
	pc := setupProcessor(t, client)
	ctx := context.Background()

	user := testutil.TestUser(t, pc.DB, testutil.WithCredits(12))
	job := testutil.TestJob(t, pc.DB, model.ResolvedOwner(user.ID))

	require.NoError(t, pc.Processor.Process(ctx, messageFor(job, 0)))

	stored := pc.job(t, job.ID)
	assert.Equal(t, model.JobStatusCompleted, stored.Status)
	assert.Equal(t, image, stored.BestFit)
	assert.Equal(t, 7, pc.credits(t, user.ID))
	assert.Equal(t, []string{pubsub.StepFetching, pubsub.StepDone}, pc.Publisher.steps)
}

func TestProcessor_RetryDoesNotChargeAgain(t *testing.T) {
	client := &fakeClient{image: base64.StdEncoding.EncodeToString([]byte("img"))}
	pc := setupProcessor(t, client)

	user := testutil.TestUser(t, pc.DB, testutil.WithCredits(5))
	job := testutil.TestJob(t, pc.DB, model.ResolvedOwner(user.ID))

	msg := messageFor(job, 1)
	msg.Charged = true
	require.NoError(t, pc.Processor.Process(context.Background(), msg))
	assert.Equal(t, 5, pc.credits(t, user.ID))
	assert.Equal(t, model.JobStatusCompleted, pc.job(t, job.ID).Status)
}

func TestProcessor_RequeueThenDeadLetter(t *testing.T) {
	client := &fakeClient{err: &analysis.ExternalServiceError{Message: "model offline"}}
	pc := setupProcessor(t, client)
	ctx := context.Background()

	user := testutil.TestUser(t, pc.DB, testutil.WithCredits(10))
	job := testutil.TestJob(t, pc.DB, model.ResolvedOwner(user.ID))

	err := pc.Processor.Process(ctx, messageFor(job, 0))
	require.Error(t, err)
	assert.Len(t, pc.Queue.requeued, 1)
	assert.Empty(t, pc.Queue.deadLettered)
	assert.Equal(t, model.JobStatusQueued, pc.job(t, job.ID).Status)
	assert.Equal(t, 5, pc.credits(t, user.ID))

	retry := pc.Queue.requeued[0]
	assert.Equal(t, 1, retry.Attempt)
	assert.True(t, retry.Charged)

	// 第二次达到上限
	err = pc.Processor.Process(ctx, retry)
	require.Error(t, err)
	assert.Len(t, pc.Queue.deadLettered, 1)

	stored := pc.job(t, job.ID)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
	assert.Equal(t, "model offline", stored.ErrorMessage)
	assert.Equal(t, 10, pc.credits(t, user.ID))
	assert.Equal(t, pubsub.StepFailed, pc.Publisher.steps[len(pc.Publisher.steps)-1])
}

func TestProcessor_InsufficientCredits(t *testing.T) {
	client := &fakeClient{image: base64.StdEncoding.EncodeToString([]byte("img"))}
	pc := setupProcessor(t, client)

	user := testutil.TestUser(t, pc.DB, testutil.WithCredits(2))
	job := testutil.TestJob(t, pc.DB, model.ResolvedOwner(user.ID), testutil.WithJobStatus(model.JobStatusQueued))

	require.NoError(t, pc.Processor.Process(context.Background(), messageFor(job, 0)))
	assert.Equal(t, 0, client.calls)
	assert.Equal(t, 2, pc.credits(t, user.ID))
	assert.Equal(t, model.JobStatusCreated, pc.job(t, job.ID).Status)
}

func TestProcessor_Skips(t *testing.T) {
	client := &fakeClient{image: base64.StdEncoding.EncodeToString([]byte("img"))}
	pc := setupProcessor(t, client)
	ctx := context.Background()

	pending := testutil.TestJob(t, pc.DB, model.PendingOwner("temp-1"))
	require.NoError(t, pc.Processor.Process(ctx, messageFor(pending, 0)))

	user := testutil.TestUser(t, pc.DB, testutil.WithCredits(10))
	done := testutil.TestJob(t, pc.DB, model.ResolvedOwner(user.ID), testutil.WithBestFit([]byte("cached")))
	require.NoError(t, pc.Processor.Process(ctx, messageFor(done, 0)))

	require.NoError(t, pc.Processor.Process(ctx, &queue.JobMessage{JobID: "purged"}))

	assert.Equal(t, 0, client.calls)
	assert.Equal(t, 10, pc.credits(t, user.ID))
	assert.Empty(t, pc.Publisher.steps)
}

func TestProcessor_OnDemandRequestWhileGenerating(t *testing.T) {
	client := &fakeClient{image: base64.StdEncoding.EncodeToString([]byte("img"))}
	pc := setupProcessor(t, client)
	ctx := context.Background()

	user := testutil.TestUser(t, pc.DB, testutil.WithCredits(20))
	job := testutil.TestJob(t, pc.DB, model.ResolvedOwner(user.ID), testutil.WithJobStatus(model.JobStatusQueued))

	var onDemand *service.BestFitResult
	client.onFetch = func() {
		client.onFetch = nil
		result, err := pc.Analysis.BestFit(ctx, job.ID, user.ID)
		require.NoError(t, err)
		onDemand = result
	}

	require.NoError(t, pc.Processor.Process(ctx, messageFor(job, 0)))

	require.NotNil(t, onDemand)
	assert.True(t, onDemand.InProgress)
	assert.Equal(t, model.JobStatusProcessing, onDemand.Status)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, 15, pc.credits(t, user.ID))
	assert.Equal(t, model.JobStatusCompleted, pc.job(t, job.ID).Status)
}

func TestProcessor_ShutdownPutsJobBack(t *testing.T) {
	client := &fakeClient{}
	pc := setupProcessor(t, client)

	user := testutil.TestUser(t, pc.DB, testutil.WithCredits(20))
	job := testutil.TestJob(t, pc.DB, model.ResolvedOwner(user.ID), testutil.WithJobStatus(model.JobStatusQueued))

	ctx, cancel := context.WithCancel(context.Background())
	client.onFetch = cancel
	client.err = &analysis.ExternalServiceError{Message: "request canceled", Err: context.Canceled}

	err := pc.Processor.Process(ctx, messageFor(job, 0))
	assert.ErrorIs(t, err, context.Canceled)

	require.Len(t, pc.Queue.pushed, 1)
	assert.Equal(t, 0, pc.Queue.pushed[0].Attempt)
	assert.True(t, pc.Queue.pushed[0].Charged)
	assert.Empty(t, pc.Queue.requeued)
	assert.Empty(t, pc.Queue.deadLettered)
	assert.Equal(t, model.JobStatusQueued, pc.job(t, job.ID).Status)
	assert.Equal(t, 15, pc.credits(t, user.ID))

	// 重启后继续处理，不再扣费
	client.onFetch = nil
	client.err = nil
	client.image = base64.StdEncoding.EncodeToString([]byte("img"))
	require.NoError(t, pc.Processor.Process(context.Background(), pc.Queue.pushed[0]))
	assert.Equal(t, model.JobStatusCompleted, pc.job(t, job.ID).Status)
	assert.Equal(t, 15, pc.credits(t, user.ID))
}
