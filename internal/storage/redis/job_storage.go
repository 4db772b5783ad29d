package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

const jobKeyPrefix = "corpus:job:"

// jobStorage keeps job records as JSON strings in redis. Transition uses
// WATCH on the job key so the compare-and-set holds under concurrent
// workers: if another client writes the key between read and EXEC, the
// transaction aborts and the caller retries.
type jobStorage struct {
	client *goredis.Client
	logger arbor.ILogger
}

// NewJobStorage connects to redis and verifies the connection.
func NewJobStorage(addr, password string, db int, logger arbor.ILogger) (interfaces.JobStorage, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	logger.Info().Str("addr", addr).Int("db", db).Msg("Redis job storage connected")
	return &jobStorage{client: client, logger: logger}, nil
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *jobStorage) Save(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}
	return s.client.Set(ctx, jobKey(job.ID), data, 0).Err()
}

func (s *jobStorage) Get(ctx context.Context, id string) (*models.Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

const transitionRetries = 5

func (s *jobStorage) Transition(ctx context.Context, id string, expectStage models.Stage, expectStatus models.JobStatus, mutate func(*models.Job) error) (*models.Job, error) {
	key := jobKey(id)

	for attempt := 0; attempt < transitionRetries; attempt++ {
		var updated *models.Job

		err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, goredis.Nil) {
					return models.ErrNotFound
				}
				return err
			}

			var job models.Job
			if err := json.Unmarshal(data, &job); err != nil {
				return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
			}

			if job.Stage != expectStage || job.Status != expectStatus {
				return models.ErrStaleTransition
			}

			if err := mutate(&job); err != nil {
				return err
			}
			job.UpdatedAt = time.Now()

			out, err := json.Marshal(&job)
			if err != nil {
				return fmt.Errorf("failed to marshal job %s: %w", id, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				return nil
			})
			if err == nil {
				updated = &job
			}
			return err
		}, key)

		if err == nil {
			return updated, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	// Every attempt lost the WATCH race. The expectation was never observed
	// to be stale, so report contention and let the caller retry.
	return nil, fmt.Errorf("%w after %d attempts", models.ErrTransitionContended, transitionRetries)
}

func (s *jobStorage) List(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	jobs := make([]*models.Job, 0)
	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if limit > 0 && len(jobs) >= limit {
			break
		}
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				continue
			}
			return nil, err
		}
		var job models.Job
		if err := json.Unmarshal(data, &job); err != nil {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		j := job
		jobs = append(jobs, &j)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (s *jobStorage) ListStalled(ctx context.Context, maxAgeSeconds int) ([]*models.Job, error) {
	cutoff := time.Now().Add(-time.Duration(maxAgeSeconds) * time.Second)
	all, err := s.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}
	stalled := make([]*models.Job, 0)
	for _, job := range all {
		if job.Status.Terminal() {
			continue
		}
		if job.UpdatedAt.Before(cutoff) {
			stalled = append(stalled, job)
		}
	}
	return stalled, nil
}

func (s *jobStorage) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, jobKey(id)).Err()
}

func (s *jobStorage) Count(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	return count, iter.Err()
}
