package interfaces

import (
	"context"

	"github.com/ternarybob/corpus/internal/models"
)

// JobStorage persists pipeline job records. Implementations must make
// Transition an atomic compare-and-set so that concurrent workers racing on
// the same message cannot both claim a job.
type JobStorage interface {
	// Save upserts a job record.
	Save(ctx context.Context, job *models.Job) error

	// Get returns the job or models.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Job, error)

	// Transition atomically verifies the job is at (expectStage, expectStatus),
	// applies mutate to a copy, and persists the result. Returns
	// models.ErrStaleTransition when the precondition does not hold.
	Transition(ctx context.Context, id string, expectStage models.Stage, expectStatus models.JobStatus, mutate func(*models.Job) error) (*models.Job, error)

	// List returns jobs filtered by status; empty status means all.
	List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)

	// ListStalled returns jobs that have sat in queued or processing longer
	// than maxAgeSeconds, for the requeue sweeper.
	ListStalled(ctx context.Context, maxAgeSeconds int) ([]*models.Job, error)

	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// DocumentStorage persists converted documents and their extracted metadata.
type DocumentStorage interface {
	Save(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	GetByJobID(ctx context.Context, jobID string) (*models.Document, error)
	List(ctx context.Context, limit, offset int) ([]*models.Document, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*models.DocumentStats, error)
}

// SessionStorage persists chat sessions and their turn history.
type SessionStorage interface {
	Save(ctx context.Context, session *models.ChatSession) error
	Get(ctx context.Context, id string) (*models.ChatSession, error)
	List(ctx context.Context, userID string, limit int) ([]*models.ChatSession, error)
	Delete(ctx context.Context, id string) error
}

// StorageManager owns the backing stores and their lifecycle.
type StorageManager interface {
	JobStorage() JobStorage
	DocumentStorage() DocumentStorage
	SessionStorage() SessionStorage
	Close() error
}
