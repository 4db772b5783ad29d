package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/corpus/internal/interfaces"
	"github.com/ternarybob/corpus/internal/models"
)

// newTestJobStorage connects to a local redis, or the address in
// CORPUS_TEST_REDIS_ADDR. The test is skipped when no server answers.
func newTestJobStorage(t *testing.T) interfaces.JobStorage {
	t.Helper()

	addr := os.Getenv("CORPUS_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	store, err := NewJobStorage(addr, "", 15, arbor.NewLogger())
	if err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	return store
}

func newRedisTestJob(t *testing.T) *models.Job {
	t.Helper()
	id := fmt.Sprintf("test_%s", uuid.New().String())
	return models.NewJob(id, "docs/guide.md")
}

func TestRedisJobStorage_SaveAndGet(t *testing.T) {
	store := newTestJobStorage(t)
	ctx := context.Background()

	job := newRedisTestJob(t)
	t.Cleanup(func() { _ = store.Delete(ctx, job.ID) })

	require.NoError(t, store.Save(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "docs/guide.md", got.SourceRef)
	assert.Equal(t, models.StageConvert, got.Stage)
	assert.Equal(t, models.JobStatusQueued, got.Status)
}

func TestRedisJobStorage_GetMissing(t *testing.T) {
	store := newTestJobStorage(t)

	_, err := store.Get(context.Background(), "test_does_not_exist")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRedisJobStorage_TransitionClaimsOnce(t *testing.T) {
	store := newTestJobStorage(t)
	ctx := context.Background()

	job := newRedisTestJob(t)
	t.Cleanup(func() { _ = store.Delete(ctx, job.ID) })
	require.NoError(t, store.Save(ctx, job))

	claimed, err := store.Transition(ctx, job.ID, models.StageConvert, models.JobStatusQueued, func(j *models.Job) error {
		j.Status = models.JobStatusProcessing
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, claimed.Status)

	// Second claim against the same expectation must lose.
	_, err = store.Transition(ctx, job.ID, models.StageConvert, models.JobStatusQueued, func(j *models.Job) error {
		j.Status = models.JobStatusProcessing
		return nil
	})
	assert.ErrorIs(t, err, models.ErrStaleTransition)
}

func TestRedisJobStorage_TransitionMissingJob(t *testing.T) {
	store := newTestJobStorage(t)

	_, err := store.Transition(context.Background(), "test_absent", models.StageConvert, models.JobStatusQueued, func(j *models.Job) error {
		return nil
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRedisJobStorage_ListStalled(t *testing.T) {
	store := newTestJobStorage(t)
	ctx := context.Background()

	done := newRedisTestJob(t)
	stale := newRedisTestJob(t)
	t.Cleanup(func() {
		_ = store.Delete(ctx, done.ID)
		_ = store.Delete(ctx, stale.ID)
	})

	done.Status = models.JobStatusCompleted
	require.NoError(t, store.Save(ctx, done))

	stale.Status = models.JobStatusProcessing
	require.NoError(t, store.Save(ctx, stale))
	time.Sleep(1100 * time.Millisecond)

	stalled, err := store.ListStalled(ctx, 1)
	require.NoError(t, err)

	ids := make(map[string]bool, len(stalled))
	for _, j := range stalled {
		ids[j.ID] = true
	}
	assert.True(t, ids[stale.ID], "processing job past the cutoff should be reported")
	assert.False(t, ids[done.ID], "terminal jobs never count as stalled")
}
