package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverdeck/coverdeck/internal/domain/model"
)

func makeTask(repoID int64, sha string) model.Task {
	return model.Task{
		Kind:        model.TaskKindProcessCommit,
		RepoID:      repoID,
		CommitSHA:   sha,
		CommitYAML:  "flags:\n  unit:\n    carryforward: true\n",
		MaxAttempts: 5,
	}
}

func TestTaskRepo_EnqueueDequeue(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)
	ctx := context.Background()

	require.NoError(t, tasks.Enqueue(ctx, makeTask(1, "abc123")))

	got, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, model.TaskKindProcessCommit, got.Kind)
	assert.Equal(t, int64(1), got.RepoID)
	assert.Equal(t, "abc123", got.CommitSHA)
	assert.Equal(t, model.TaskStateRunning, got.State)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.CommitYAML, "carryforward")
}

func TestTaskRepo_Enqueue_DedupesPending(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)
	ctx := context.Background()

	require.NoError(t, tasks.Enqueue(ctx, makeTask(1, "abc123")))
	require.NoError(t, tasks.Enqueue(ctx, makeTask(1, "abc123")))

	first, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, second, "duplicate pending task should be absorbed")
}

func TestTaskRepo_Enqueue_NewTaskAfterDequeue(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)
	ctx := context.Background()

	require.NoError(t, tasks.Enqueue(ctx, makeTask(1, "abc123")))
	running, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, running)

	// Once the first task is running, a fresh upload may enqueue another.
	require.NoError(t, tasks.Enqueue(ctx, makeTask(1, "abc123")))

	next, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, running.ID, next.ID)
}

func TestTaskRepo_DequeueDue_NothingDue(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)
	ctx := context.Background()

	future := makeTask(1, "abc123")
	future.RunAt = time.Now().Add(time.Hour)
	require.NoError(t, tasks.Enqueue(ctx, future))

	got, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = tasks.DequeueDue(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestTaskRepo_DequeueDue_OldestFirst(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)
	ctx := context.Background()

	older := makeTask(1, "older")
	older.RunAt = time.Now().Add(-2 * time.Minute)
	newer := makeTask(1, "newer")
	newer.RunAt = time.Now().Add(-time.Minute)

	require.NoError(t, tasks.Enqueue(ctx, newer))
	require.NoError(t, tasks.Enqueue(ctx, older))

	got, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "older", got.CommitSHA)
}

func TestTaskRepo_Ack(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)
	ctx := context.Background()

	require.NoError(t, tasks.Enqueue(ctx, makeTask(1, "abc123")))
	got, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, tasks.Ack(ctx, got.ID))

	next, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestTaskRepo_Ack_NotRunning(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)

	err := tasks.Ack(context.Background(), 999)
	assert.Error(t, err)
}

func TestTaskRepo_Retry_Reschedules(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)
	ctx := context.Background()

	require.NoError(t, tasks.Enqueue(ctx, makeTask(1, "abc123")))
	got, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, tasks.Retry(ctx, got.ID, 20*time.Second))

	// Not due yet.
	next, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Nil(t, next)

	// Due after the delay, with the attempt counter carried over.
	next, err = tasks.DequeueDue(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, got.ID, next.ID)
	assert.Equal(t, 2, next.Attempts)
}

func TestTaskRepo_Retry_DeadLettersAtBudget(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)
	ctx := context.Background()

	task := makeTask(1, "abc123")
	task.MaxAttempts = 2
	require.NoError(t, tasks.Enqueue(ctx, task))

	for i := 0; i < 2; i++ {
		got, err := tasks.DequeueDue(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.NotNil(t, got, "attempt %d should dequeue", i+1)
		require.NoError(t, tasks.Retry(ctx, got.ID, 0))
	}

	// Attempts exhausted; the task is dead, not pending.
	got, err := tasks.DequeueDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTaskRepo_Dead(t *testing.T) {
	db := setupTestDB(t)
	tasks := NewTaskRepo(db)
	ctx := context.Background()

	require.NoError(t, tasks.Enqueue(ctx, makeTask(1, "abc123")))
	got, err := tasks.DequeueDue(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, tasks.Dead(ctx, got.ID))

	next, err := tasks.DequeueDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, next)
}
