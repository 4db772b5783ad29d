package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/models"
)

// stubStageHandler runs fn for its stage.
type stubStageHandler struct {
	stage models.Stage
	fn    func(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error)
}

func (h *stubStageHandler) Stage() models.Stage {
	return h.stage
}

func (h *stubStageHandler) Process(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error) {
	if h.fn != nil {
		return h.fn(ctx, job, progress)
	}
	return &Result{Output: "ok"}, nil
}

func okHandler(stage models.Stage) Handler {
	return &stubStageHandler{stage: stage}
}

func newTestWorkerPool(t *testing.T, o *Orchestrator, queue *memQueue, handlers ...Handler) *WorkerPool {
	t.Helper()
	wp, err := NewWorkerPool(queue, o, 1, 5*time.Millisecond, time.Second, arbor.NewLogger())
	require.NoError(t, err)
	for _, h := range handlers {
		wp.RegisterHandler(h)
	}
	t.Cleanup(wp.Stop)
	return wp
}

func TestWorkerPool_StartRequiresAllHandlers(t *testing.T) {
	o, _, queue, _ := newTestOrchestrator(t)
	wp, err := NewWorkerPool(queue, o, 1, 5*time.Millisecond, time.Second, arbor.NewLogger())
	require.NoError(t, err)
	defer wp.Stop()

	wp.RegisterHandler(okHandler(models.StageConvert))
	err = wp.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
}

func TestWorkerPool_RunsJobToCompletion(t *testing.T) {
	o, jobs, queue, _ := newTestOrchestrator(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []models.Stage
	record := func(stage models.Stage) Handler {
		return &stubStageHandler{stage: stage, fn: func(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error) {
			mu.Lock()
			seen = append(seen, stage)
			mu.Unlock()
			return &Result{Output: "ok"}, nil
		}}
	}

	wp := newTestWorkerPool(t, o, queue,
		record(models.StageConvert),
		record(models.StageExtractMetadata),
		record(models.StageIndexSearch),
		record(models.StageIndexVector),
	)
	require.NoError(t, wp.Start())

	job, err := o.Submit(ctx, "notes.md", []byte("# hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := jobs.Get(ctx, job.ID)
		return err == nil && current.Status == models.JobStatusCompleted
	}, 3*time.Second, 10*time.Millisecond, "job should run through all stages")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.PipelineStages, seen, "stages must run in pipeline order")
}

func TestWorkerPool_FailedStageDeadLetters(t *testing.T) {
	// One retry, then the second failure dead-letters.
	jobs := newMemJobStorage()
	queue := newMemQueue()
	o := NewOrchestrator(jobs, queue, newMemObjects(), 1, arbor.NewLogger())
	ctx := context.Background()

	failing := &stubStageHandler{stage: models.StageConvert, fn: func(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error) {
		return nil, errors.New("conversion broke")
	}}
	wp := newTestWorkerPool(t, o, queue,
		failing,
		okHandler(models.StageExtractMetadata),
		okHandler(models.StageIndexSearch),
		okHandler(models.StageIndexVector),
	)
	require.NoError(t, wp.Start())

	job, err := o.Submit(ctx, "notes.md", []byte("# hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := jobs.Get(ctx, job.ID)
		return err == nil && current.Status == models.JobStatusFailed
	}, 3*time.Second, 10*time.Millisecond)

	current, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageConvert, current.Stage)
	assert.Contains(t, current.Error, "conversion broke")
}

func TestWorkerPool_StaleDeliveryIsDropped(t *testing.T) {
	o, jobs, queue, _ := newTestOrchestrator(t)
	ctx := context.Background()

	wp := newTestWorkerPool(t, o, queue,
		okHandler(models.StageConvert),
		okHandler(models.StageExtractMetadata),
		okHandler(models.StageIndexSearch),
		okHandler(models.StageIndexVector),
	)

	job, err := o.Submit(ctx, "notes.md", []byte("# hello"))
	require.NoError(t, err)

	// Duplicate the convert delivery before starting the pool. The second
	// delivery loses the claim and must be dropped, not re-run.
	_, err = queue.Enqueue(ctx, QueueName(models.StageConvert), &models.StageMessage{JobID: job.ID, Stage: models.StageConvert})
	require.NoError(t, err)

	require.NoError(t, wp.Start())

	require.Eventually(t, func() bool {
		current, err := jobs.Get(ctx, job.ID)
		return err == nil && current.Status == models.JobStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return queue.depth(QueueName(models.StageConvert)) == 0
	}, time.Second, 10*time.Millisecond, "duplicate delivery should be consumed without effect")
}

// contendedJobStorage simulates a backend whose compare-and-set keeps losing
// write races.
type contendedJobStorage struct {
	*memJobStorage
}

func (s *contendedJobStorage) Transition(ctx context.Context, id string, expectStage models.Stage, expectStatus models.JobStatus, mutate func(*models.Job) error) (*models.Job, error) {
	return nil, models.ErrTransitionContended
}

func TestWorkerPool_ContendedClaimKeepsDelivery(t *testing.T) {
	jobs := &contendedJobStorage{newMemJobStorage()}
	queue := newMemQueue()
	o := NewOrchestrator(jobs, queue, newMemObjects(), 2, arbor.NewLogger())
	ctx := context.Background()

	wp := newTestWorkerPool(t, o, queue,
		okHandler(models.StageConvert),
		okHandler(models.StageExtractMetadata),
		okHandler(models.StageIndexSearch),
		okHandler(models.StageIndexVector),
	)
	require.NoError(t, wp.Start())

	job, err := o.Submit(ctx, "notes.md", []byte("# hello"))
	require.NoError(t, err)

	// Let the poller receive the delivery and lose the claim race.
	time.Sleep(100 * time.Millisecond)

	// Contention is not staleness: the delivery stays leased for redelivery
	// instead of being consumed, and the job is still claimable.
	assert.Equal(t, 0, queue.deleteCount())
	current, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, current.Status)
}

func TestWorkerPool_ProgressVisibleMidStage(t *testing.T) {
	o, jobs, queue, _ := newTestOrchestrator(t)
	ctx := context.Background()

	reported := make(chan struct{})
	proceed := make(chan struct{})
	convert := &stubStageHandler{stage: models.StageConvert, fn: func(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error) {
		progress(80)
		close(reported)
		<-proceed
		return &Result{Output: "ok"}, nil
	}}

	wp := newTestWorkerPool(t, o, queue,
		convert,
		okHandler(models.StageExtractMetadata),
		okHandler(models.StageIndexSearch),
		okHandler(models.StageIndexVector),
	)
	require.NoError(t, wp.Start())

	job, err := o.Submit(ctx, "notes.md", []byte("# hello"))
	require.NoError(t, err)

	select {
	case <-reported:
	case <-time.After(3 * time.Second):
		t.Fatal("convert handler never ran")
	}

	// The stage is still running; the record must already show movement.
	current, err := jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, current.Status)
	assert.Equal(t, 20, current.Progress, "80% of convert's 25-point slice")

	close(proceed)
	require.Eventually(t, func() bool {
		current, err := jobs.Get(ctx, job.ID)
		return err == nil && current.Status == models.JobStatusCompleted && current.Progress == 100
	}, 3*time.Second, 10*time.Millisecond)
}

func TestWorkerPool_ExtendsLeaseWhileProcessing(t *testing.T) {
	o, jobs, queue, _ := newTestOrchestrator(t)
	ctx := context.Background()

	// Stage timeout is 1s in the test pool, so the heartbeat ticks every
	// 250ms; a 600ms handler sees at least one lease extension.
	slow := &stubStageHandler{stage: models.StageConvert, fn: func(ctx context.Context, job *models.Job, progress ProgressFunc) (*Result, error) {
		time.Sleep(600 * time.Millisecond)
		return &Result{Output: "ok"}, nil
	}}

	wp := newTestWorkerPool(t, o, queue,
		slow,
		okHandler(models.StageExtractMetadata),
		okHandler(models.StageIndexSearch),
		okHandler(models.StageIndexVector),
	)
	require.NoError(t, wp.Start())

	job, err := o.Submit(ctx, "notes.md", []byte("# hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := jobs.Get(ctx, job.ID)
		return err == nil && current.Status == models.JobStatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, queue.extendCount(), 1, "the lease must be kept alive during a slow stage")
}
