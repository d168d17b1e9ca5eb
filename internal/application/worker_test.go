package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverdeck/coverdeck/internal/application"
	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// runWorker drains the queue with a single worker goroutine for a bounded
// wall-clock window.
func runWorker(t *testing.T, f *pipelineFixture, queue *fakeQueue, window time.Duration) {
	t.Helper()
	worker := application.NewWorker(queue, f.processor, newBundleProcessor(f), 1, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()
	worker.Start(ctx)
}

func TestWorker_ProcessesCommitTask(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	commitID := f.addCommit(t, "abc123", "")
	row := f.coverageReport(t, commitID)
	f.addUpload(t, "abc123", row.ID, `{"coverage":{"a.rs":{"1":1}}}`, "unit")

	queue := &fakeQueue{}
	require.NoError(t, queue.Enqueue(ctx, model.Task{
		Kind: model.TaskKindProcessCommit, RepoID: f.repoID, CommitSHA: "abc123",
	}))

	runWorker(t, f, queue, 300*time.Millisecond)

	assert.Equal(t, []int64{1}, queue.acked)
	commit, err := f.commits.GetBySHA(ctx, f.repoID, "abc123")
	require.NoError(t, err)
	assert.Equal(t, model.CommitStateComplete, commit.State)
}

func TestWorker_AcksNotifyTask(t *testing.T) {
	f := newPipelineFixture(t)

	queue := &fakeQueue{}
	require.NoError(t, queue.Enqueue(context.Background(), model.Task{
		Kind: model.TaskKindNotify, RepoID: f.repoID, CommitSHA: "abc123",
	}))

	runWorker(t, f, queue, 100*time.Millisecond)

	assert.Equal(t, []int64{1}, queue.acked)
	assert.Empty(t, queue.dead)
}

func TestWorker_RequeuesOnBusyLock(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	commitID := f.addCommit(t, "abc123", "")
	row := f.coverageReport(t, commitID)
	f.addUpload(t, "abc123", row.ID, `{"coverage":{"a.rs":{"1":1}}}`)

	held, err := f.locks.Acquire(ctx, "upload_processing_1_abc123", time.Minute, time.Second)
	require.NoError(t, err)
	defer held.Release(ctx)

	queue := &fakeQueue{}
	require.NoError(t, queue.Enqueue(ctx, model.Task{
		Kind: model.TaskKindProcessCommit, RepoID: f.repoID, CommitSHA: "abc123",
	}))

	runWorker(t, f, queue, 100*time.Millisecond)

	assert.Contains(t, queue.retried, int64(1), "a busy lock requeues the whole unit")
	assert.Empty(t, queue.acked)
	assert.Empty(t, queue.dead)
}

// cancelingLocks simulates a shutdown landing mid-unit: the first Acquire
// cancels the worker context and fails with its error.
type cancelingLocks struct {
	cancel context.CancelFunc
}

func (c *cancelingLocks) Acquire(ctx context.Context, _ string, _, _ time.Duration) (driven.Lease, error) {
	c.cancel()
	return nil, ctx.Err()
}

func TestWorker_RequeuesUnitInterruptedByShutdown(t *testing.T) {
	f := newPipelineFixture(t)

	commitID := f.addCommit(t, "abc123", "")
	row := f.coverageReport(t, commitID)
	f.addUpload(t, "abc123", row.ID, `{"coverage":{"a.rs":{"1":1}}}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := application.NewLoader(f.store, 4)
	processor := application.NewCommitProcessor(
		f.repos, f.commits, f.reports, f.uploads, &cancelingLocks{cancel: cancel},
		f.store, loader, f.notifier, testSecret, time.Minute, time.Second,
	)

	queue := &fakeQueue{}
	require.NoError(t, queue.Enqueue(ctx, model.Task{
		Kind: model.TaskKindProcessCommit, RepoID: f.repoID, CommitSHA: "abc123",
	}))

	worker := application.NewWorker(queue, processor, newBundleProcessor(f), 1, 5*time.Millisecond)
	worker.Start(ctx)

	assert.Equal(t, []int64{1}, queue.retried, "an interrupted unit is requeued for the next start")
	assert.Empty(t, queue.dead)
	assert.Empty(t, queue.acked)

	// The interruption is not a unit failure; the commit stays pending for
	// the rerun.
	commit, err := f.commits.GetBySHA(context.Background(), f.repoID, "abc123")
	require.NoError(t, err)
	assert.Equal(t, model.CommitStatePending, commit.State)
}

func TestWorker_DeadLettersFatalTask(t *testing.T) {
	f := newPipelineFixture(t)

	queue := &fakeQueue{}
	require.NoError(t, queue.Enqueue(context.Background(), model.Task{
		Kind: model.TaskKindProcessCommit, RepoID: 999, CommitSHA: "missing",
	}))

	runWorker(t, f, queue, 100*time.Millisecond)

	assert.Equal(t, []int64{1}, queue.dead)
	assert.Empty(t, queue.acked)
}

func TestWorker_UnknownKindDeadLetters(t *testing.T) {
	f := newPipelineFixture(t)

	queue := &fakeQueue{}
	require.NoError(t, queue.Enqueue(context.Background(), model.Task{
		Kind: model.TaskKind("bogus"), RepoID: f.repoID, CommitSHA: "abc123",
	}))

	runWorker(t, f, queue, 100*time.Millisecond)

	assert.Equal(t, []int64{1}, queue.dead)
}

func TestQueueNotifier_EnqueuesNotifyTask(t *testing.T) {
	queue := &fakeQueue{}
	notifier := application.NewQueueNotifier(queue)

	require.NoError(t, notifier.ScheduleNotify(context.Background(), 42, "abc123"))

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, model.TaskKindNotify, queue.enqueued[0].Kind)
	assert.Equal(t, int64(42), queue.enqueued[0].RepoID)
	assert.Equal(t, "abc123", queue.enqueued[0].CommitSHA)
}
