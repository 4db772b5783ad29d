package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/common"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// Orchestrator owns job lifecycle: submission, claim, advance, fail, and the
// stalled-job sweep. Every state change goes through the storage
// compare-and-set, then the queue write. Ordering matters: a crash between
// the two leaves a job queued with no message, which the sweeper heals, and
// never the reverse, where a stray message could double-process a stage.
type Orchestrator struct {
	jobs       interfaces.JobStorage
	queue      interfaces.QueueManager
	objects    interfaces.ObjectStore
	maxRetries int
	logger     arbor.ILogger
}

// NewOrchestrator creates the pipeline orchestrator.
func NewOrchestrator(jobs interfaces.JobStorage, queue interfaces.QueueManager, objects interfaces.ObjectStore, maxRetries int, logger arbor.ILogger) *Orchestrator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Orchestrator{
		jobs:       jobs,
		queue:      queue,
		objects:    objects,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// QueueName returns the queue serving a stage.
func QueueName(stage models.Stage) string {
	return string(stage)
}

// Submit stores the source payload, creates the job record, and enqueues the
// first stage.
func (o *Orchestrator) Submit(ctx context.Context, filename string, payload []byte) (*models.Job, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("source payload is empty")
	}

	jobID := common.NewJobID()
	sourceKey := fmt.Sprintf("sources/%s/%s", jobID, filepath.Base(filename))
	if err := o.objects.Put(ctx, sourceKey, payload); err != nil {
		return nil, fmt.Errorf("failed to store source payload: %w", err)
	}

	job := models.NewJob(jobID, sourceKey)
	if err := o.jobs.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if _, err := o.queue.Enqueue(ctx, QueueName(models.StageConvert), &models.StageMessage{JobID: jobID, Stage: models.StageConvert}); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	o.logger.Info().
		Str("job_id", jobID).
		Str("source_ref", sourceKey).
		Int("payload_bytes", len(payload)).
		Msg("Job submitted")
	return job, nil
}

// GetJob returns the job record.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return o.jobs.Get(ctx, id)
}

// ListJobs returns jobs, optionally filtered by status.
func (o *Orchestrator) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	return o.jobs.List(ctx, status, limit)
}

// Claim moves a job from queued to processing for the message's stage.
// models.ErrStaleTransition means another worker already owns this delivery,
// or the stage already completed; the caller drops the message either way.
func (o *Orchestrator) Claim(ctx context.Context, msg *models.StageMessage) (*models.Job, error) {
	return o.jobs.Transition(ctx, msg.JobID, msg.Stage, models.JobStatusQueued, func(job *models.Job) error {
		job.Status = models.JobStatusProcessing
		job.Error = ""
		return nil
	})
}

// Advance records a stage's result and moves the job to the next stage, or
// completes it after the final stage. The follow-up message is enqueued only
// after the record transition commits.
func (o *Orchestrator) Advance(ctx context.Context, jobID string, stage models.Stage, result *Result) (*models.Job, error) {
	next := stage.Next()

	job, err := o.jobs.Transition(ctx, jobID, stage, models.JobStatusProcessing, func(job *models.Job) error {
		if result != nil {
			if result.Output != "" {
				job.StageOutputs[stage] = result.Output
			}
			if result.DocumentID != "" {
				job.DocumentID = result.DocumentID
			}
		}
		job.RetryCount = 0
		job.Error = ""
		job.Stage = next
		if next == models.StageDone {
			job.Status = models.JobStatusCompleted
			job.Progress = 100
		} else {
			job.Status = models.JobStatusQueued
			job.Progress = stageProgress(next)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if next != models.StageDone {
		if _, err := o.queue.Enqueue(ctx, QueueName(next), &models.StageMessage{JobID: jobID, Stage: next}); err != nil {
			// Job record is already at (next, queued); the sweeper re-enqueues it.
			o.logger.Error().Str("job_id", jobID).Str("stage", string(next)).Err(err).Msg("Failed to enqueue next stage")
		}
	} else {
		o.logger.Info().Str("job_id", jobID).Str("document_id", job.DocumentID).Msg("Job completed")
	}
	return job, nil
}

// Fail handles a stage error: permanent errors and exhausted retries
// dead-letter the job; anything else requeues the same stage with an
// incremented retry count.
func (o *Orchestrator) Fail(ctx context.Context, jobID string, stage models.Stage, procErr error) (*models.Job, error) {
	current, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	permanent := IsPermanent(procErr)
	exhausted := current.RetryCount >= o.maxRetries

	if permanent || exhausted {
		job, err := o.jobs.Transition(ctx, jobID, stage, models.JobStatusProcessing, func(job *models.Job) error {
			job.Status = models.JobStatusFailed
			job.Error = procErr.Error()
			return nil
		})
		if err != nil {
			return nil, err
		}
		o.logger.Warn().
			Str("job_id", jobID).
			Str("stage", string(stage)).
			Bool("permanent", permanent).
			Int("retry_count", job.RetryCount).
			Err(procErr).
			Msg("Job failed")
		return job, nil
	}

	job, err := o.jobs.Transition(ctx, jobID, stage, models.JobStatusProcessing, func(job *models.Job) error {
		job.Status = models.JobStatusQueued
		job.RetryCount++
		job.Error = procErr.Error()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if _, err := o.queue.Enqueue(ctx, QueueName(stage), &models.StageMessage{JobID: jobID, Stage: stage}); err != nil {
		o.logger.Error().Str("job_id", jobID).Str("stage", string(stage)).Err(err).Msg("Failed to requeue stage")
	}

	o.logger.Warn().
		Str("job_id", jobID).
		Str("stage", string(stage)).
		Int("retry_count", job.RetryCount).
		Err(procErr).
		Msg("Stage failed, retrying")
	return job, nil
}

// RequeueStalled finds jobs stuck in queued or processing past maxAgeSeconds
// and puts them back on their stage queue. Processing jobs are first reset to
// queued; the claim compare-and-set keeps a surviving worker from being
// double-run.
func (o *Orchestrator) RequeueStalled(ctx context.Context, maxAgeSeconds int) (int, error) {
	stalled, err := o.jobs.ListStalled(ctx, maxAgeSeconds)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, job := range stalled {
		if job.Status == models.JobStatusProcessing {
			if _, err := o.jobs.Transition(ctx, job.ID, job.Stage, models.JobStatusProcessing, func(j *models.Job) error {
				j.Status = models.JobStatusQueued
				return nil
			}); err != nil {
				if !errors.Is(err, models.ErrStaleTransition) {
					o.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to reset stalled job")
				}
				continue
			}
		}

		if _, err := o.queue.Enqueue(ctx, QueueName(job.Stage), &models.StageMessage{JobID: job.ID, Stage: job.Stage}); err != nil {
			o.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to requeue stalled job")
			continue
		}
		requeued++
		o.logger.Info().
			Str("job_id", job.ID).
			Str("stage", string(job.Stage)).
			Msg("Stalled job requeued")
	}
	return requeued, nil
}

// ReportProgress records intra-stage progress for a job the caller holds in
// (stage, processing). percent is 0-100 within the stage and maps into the
// stage's slice of the overall 0-100 range. Progress never moves backwards,
// so late or reordered reports cannot make the status API jump around. A
// stale transition means the job moved on; the report is simply dropped.
func (o *Orchestrator) ReportProgress(ctx context.Context, jobID string, stage models.Stage, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	overall := stageProgress(stage) + percent*stageSpan(stage)/100

	_, err := o.jobs.Transition(ctx, jobID, stage, models.JobStatusProcessing, func(job *models.Job) error {
		if overall > job.Progress {
			job.Progress = overall
		}
		return nil
	})
	if err != nil && !errors.Is(err, models.ErrStaleTransition) {
		o.logger.Debug().Str("job_id", jobID).Str("stage", string(stage)).Err(err).Msg("Failed to record progress")
	}
}

func stageProgress(stage models.Stage) int {
	for i, s := range models.PipelineStages {
		if s == stage {
			return i * 100 / len(models.PipelineStages)
		}
	}
	return 0
}

// stageSpan is the width of a stage's slice of the overall progress range.
func stageSpan(stage models.Stage) int {
	next := stage.Next()
	if next == models.StageDone {
		return 100 - stageProgress(stage)
	}
	return stageProgress(next) - stageProgress(stage)
}
