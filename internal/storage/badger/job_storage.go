package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

const jobKeyPrefix = "job:"

// jobStorage stores job records as JSON under job:{id} on the raw badger
// handle. Transitions run inside a single badger transaction, which gives the
// compare-and-set guard its atomicity: two workers racing on the same message
// cannot both observe (stage, queued) and claim the job.
type jobStorage struct {
	db     *badgerdb.DB
	logger arbor.ILogger
}

// NewJobStorage creates a badger-backed job store.
func NewJobStorage(conn *Connection, logger arbor.ILogger) interfaces.JobStorage {
	return &jobStorage{db: conn.DB(), logger: logger}
}

func jobKey(id string) []byte {
	return []byte(jobKeyPrefix + id)
}

func (s *jobStorage) Save(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(jobKey(job.ID), data)
	})
}

func (s *jobStorage) Get(ctx context.Context, id string) (*models.Job, error) {
	var job *models.Job
	err := s.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return models.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			job = &models.Job{}
			return json.Unmarshal(val, job)
		})
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *jobStorage) Transition(ctx context.Context, id string, expectStage models.Stage, expectStatus models.JobStatus, mutate func(*models.Job) error) (*models.Job, error) {
	var updated *models.Job
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				return models.ErrNotFound
			}
			return err
		}

		var job models.Job
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		}); err != nil {
			return err
		}

		if job.Stage != expectStage || job.Status != expectStatus {
			s.logger.Debug().
				Str("job_id", id).
				Str("expect_stage", string(expectStage)).
				Str("expect_status", string(expectStatus)).
				Str("actual_stage", string(job.Stage)).
				Str("actual_status", string(job.Status)).
				Msg("Job transition precondition failed")
			return models.ErrStaleTransition
		}

		if err := mutate(&job); err != nil {
			return err
		}
		job.UpdatedAt = time.Now()

		data, err := json.Marshal(&job)
		if err != nil {
			return fmt.Errorf("failed to marshal job %s: %w", id, err)
		}
		if err := txn.Set(jobKey(id), data); err != nil {
			return err
		}
		updated = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *jobStorage) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	jobs := make([]*models.Job, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(jobs) >= limit {
				break
			}
			var job models.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			if status != "" && job.Status != status {
				continue
			}
			j := job
			jobs = append(jobs, &j)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *jobStorage) ListStalled(ctx context.Context, maxAgeSeconds int) ([]*models.Job, error) {
	cutoff := time.Now().Add(-time.Duration(maxAgeSeconds) * time.Second)
	jobs := make([]*models.Job, 0)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var job models.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			if job.Status.Terminal() {
				continue
			}
			if job.UpdatedAt.Before(cutoff) {
				j := job
				jobs = append(jobs, &j)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *jobStorage) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(jobKey(id))
	})
}

func (s *jobStorage) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(jobKeyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
