package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// retryDelay is the countdown before a requeued unit runs again, whether it
// bounced off a busy lock or was interrupted by shutdown. Combined with the
// queue's attempt budget it bounds how long a unit can chase a contended
// commit.
const retryDelay = 20 * time.Second

// Worker drains the task queue with a pool of goroutines and dispatches each
// task to its processor. Start blocks until the context is canceled.
type Worker struct {
	queue        driven.TaskQueue
	processor    *CommitProcessor
	bundles      *BundleProcessor
	count        int
	pollInterval time.Duration
}

// NewWorker creates a Worker with count goroutines polling every pollInterval.
func NewWorker(
	queue driven.TaskQueue,
	processor *CommitProcessor,
	bundles *BundleProcessor,
	count int,
	pollInterval time.Duration,
) *Worker {
	if count <= 0 {
		count = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		queue:        queue,
		processor:    processor,
		bundles:      bundles,
		count:        count,
		pollInterval: pollInterval,
	}
}

// Start runs the worker pool until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.count; i++ {
		g.Go(func() error {
			w.run(gctx)
			return nil
		})
	}
	_ = g.Wait()
	slog.Info("worker pool stopped")
}

func (w *Worker) run(ctx context.Context) {
	for {
		task, err := w.queue.DequeueDue(ctx, time.Now())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("dequeue failed", "error", err)
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
			continue
		}

		w.dispatch(ctx, *task)
	}
}

// dispatch runs one claimed task and settles it with the queue: ack on
// success, requeue on lock contention, dead-letter on anything else.
func (w *Worker) dispatch(ctx context.Context, task model.Task) {
	var err error
	switch task.Kind {
	case model.TaskKindProcessCommit:
		_, err = w.processor.Process(ctx, task)
	case model.TaskKindProcessBundle:
		_, err = w.bundles.Process(ctx, task)
	case model.TaskKindNotify:
		// Handoff only. The notification consumer reads the commit's state
		// and totals from the datastore; nothing to compute here.
		slog.Info("notification handoff",
			"repo_id", task.RepoID, "commit", task.CommitSHA)
	default:
		err = errors.New("unknown task kind " + string(task.Kind))
	}

	// Settlement must survive a canceled worker context.
	sctx := context.WithoutCancel(ctx)

	switch {
	case err == nil:
		if ackErr := w.queue.Ack(sctx, task.ID); ackErr != nil {
			slog.Error("ack failed", "task_id", task.ID, "error", ackErr)
		}
	case errors.Is(err, driven.ErrLockBusy):
		slog.Info("unit requeued on busy lock",
			"task_id", task.ID, "commit", task.CommitSHA, "attempt", task.Attempts)
		if retryErr := w.queue.Retry(sctx, task.ID, retryDelay); retryErr != nil {
			slog.Error("retry failed", "task_id", task.ID, "error", retryErr)
		}
	case ctx.Err() != nil:
		// Interrupted by shutdown, not a unit failure. Requeue so the next
		// start picks it up.
		slog.Info("unit requeued on shutdown",
			"task_id", task.ID, "commit", task.CommitSHA, "attempt", task.Attempts)
		if retryErr := w.queue.Retry(sctx, task.ID, retryDelay); retryErr != nil {
			slog.Error("retry failed", "task_id", task.ID, "error", retryErr)
		}
	default:
		slog.Error("unit failed",
			"task_id", task.ID, "kind", task.Kind, "commit", task.CommitSHA, "error", err)
		if deadErr := w.queue.Dead(sctx, task.ID); deadErr != nil {
			slog.Error("dead-letter failed", "task_id", task.ID, "error", deadErr)
		}
	}
}
