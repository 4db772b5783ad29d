package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// WorkerPool polls the per-stage queues and runs the registered stage
// handlers through a shared goroutine pool. Each stage gets its own set of
// pollers so a slow stage cannot starve the others.
type WorkerPool struct {
	queue        interfaces.QueueManager
	orchestrator *Orchestrator
	handlers     map[models.Stage]Handler
	pool         *ants.Pool
	concurrency  int
	pollInterval time.Duration
	stageTimeout time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewWorkerPool creates the stage worker pool. concurrency is pollers per
// stage; the execution pool is sized to match so pollers never block on
// submission longer than one handler run.
func NewWorkerPool(queue interfaces.QueueManager, orchestrator *Orchestrator, concurrency int, pollInterval, stageTimeout time.Duration, logger arbor.ILogger) (*WorkerPool, error) {
	if concurrency <= 0 {
		concurrency = 4
	}
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	if stageTimeout <= 0 {
		stageTimeout = 2 * time.Minute
	}

	pool, err := ants.NewPool(concurrency * len(models.PipelineStages))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		queue:        queue,
		orchestrator: orchestrator,
		handlers:     make(map[models.Stage]Handler),
		pool:         pool,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		stageTimeout: stageTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// RegisterHandler registers the handler for its stage.
func (wp *WorkerPool) RegisterHandler(h Handler) {
	wp.handlers[h.Stage()] = h
	wp.logger.Debug().Str("stage", string(h.Stage())).Msg("Stage handler registered")
}

// Start launches the pollers. Every registered stage must have a handler.
func (wp *WorkerPool) Start() error {
	for _, stage := range models.PipelineStages {
		if _, ok := wp.handlers[stage]; !ok {
			return fmt.Errorf("no handler registered for stage %s", stage)
		}
	}

	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Dur("poll_interval", wp.pollInterval).
		Msg("Starting pipeline workers")

	for _, stage := range models.PipelineStages {
		for i := 0; i < wp.concurrency; i++ {
			go wp.poll(stage, i)
		}
	}
	return nil
}

// Stop cancels the pollers and releases the execution pool.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("Stopping pipeline workers")
	wp.cancel()
	wp.pool.Release()
}

func (wp *WorkerPool) poll(stage models.Stage, workerID int) {
	// Stagger starts across the poll interval to spread lock contention.
	stagger := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if stagger > 0 {
		time.Sleep(stagger)
	}

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			msg, err := wp.queue.Receive(wp.ctx, QueueName(stage))
			if err != nil {
				if !errors.Is(err, models.ErrNoMessage) {
					wp.logger.Warn().Str("stage", string(stage)).Err(err).Msg("Failed to receive message")
				}
				continue
			}
			if err := wp.pool.Submit(func() { wp.handle(stage, msg) }); err != nil {
				wp.logger.Warn().Str("stage", string(stage)).Err(err).Msg("Failed to submit message to pool")
			}
		}
	}
}

func (wp *WorkerPool) handle(stage models.Stage, msg *interfaces.QueueMessage) {
	if msg.Body == nil || msg.Body.JobID == "" {
		wp.deleteMessage(stage, msg.ID)
		return
	}

	job, err := wp.orchestrator.Claim(wp.ctx, msg.Body)
	if err != nil {
		// A stale claim means this delivery is a duplicate or the stage is
		// already done; the message is spent either way.
		if errors.Is(err, models.ErrStaleTransition) || errors.Is(err, models.ErrNotFound) {
			wp.logger.Debug().
				Str("job_id", msg.Body.JobID).
				Str("stage", string(stage)).
				Int("receive_count", msg.ReceiveCount).
				Msg("Dropping stale delivery")
			wp.deleteMessage(stage, msg.ID)
			return
		}
		wp.logger.Warn().Str("job_id", msg.Body.JobID).Err(err).Msg("Failed to claim job")
		return
	}

	handler := wp.handlers[stage]
	ctx, cancel := context.WithTimeout(wp.ctx, wp.stageTimeout)
	go wp.heartbeat(ctx, stage, msg.ID)

	progress := ProgressFunc(func(percent int) {
		wp.orchestrator.ReportProgress(ctx, job.ID, stage, percent)
	})

	start := time.Now()
	result, procErr := handler.Process(ctx, job, progress)
	cancel()
	duration := time.Since(start)

	if procErr != nil {
		wp.logger.Warn().
			Str("job_id", job.ID).
			Str("stage", string(stage)).
			Dur("duration", duration).
			Err(procErr).
			Msg("Stage handler failed")
		if _, err := wp.orchestrator.Fail(wp.ctx, job.ID, stage, procErr); err != nil {
			wp.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to record stage failure")
		}
		wp.deleteMessage(stage, msg.ID)
		return
	}

	if _, err := wp.orchestrator.Advance(wp.ctx, job.ID, stage, result); err != nil {
		wp.logger.Error().Str("job_id", job.ID).Str("stage", string(stage)).Err(err).Msg("Failed to advance job")
		// Leave the message leased; redelivery retries the claim path.
		return
	}

	wp.logger.Info().
		Str("job_id", job.ID).
		Str("stage", string(stage)).
		Dur("duration", duration).
		Msg("Stage completed")
	wp.deleteMessage(stage, msg.ID)
}

// heartbeat extends the message lease while a handler runs, so the queue's
// visibility timeout cannot lapse under a slow stage and hand the message to
// a second worker mid-flight. It stops when the handler's context ends or an
// extension fails.
func (wp *WorkerPool) heartbeat(ctx context.Context, stage models.Stage, msgID string) {
	interval := wp.stageTimeout / 4
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wp.queue.Extend(ctx, QueueName(stage), msgID, wp.stageTimeout); err != nil {
				wp.logger.Warn().
					Str("stage", string(stage)).
					Str("message_id", msgID).
					Err(err).
					Msg("Failed to extend message lease")
				return
			}
		}
	}
}

func (wp *WorkerPool) deleteMessage(stage models.Stage, id string) {
	if err := wp.queue.Delete(wp.ctx, QueueName(stage), id); err != nil {
		wp.logger.Warn().Str("stage", string(stage)).Str("message_id", id).Err(err).Msg("Failed to delete message")
	}
}
