package driven

import (
	"context"
	"time"

	"github.com/coverdeck/coverdeck/internal/domain/model"
)

// TaskQueue defines the driven port for the work queue. The transport is
// swappable; the pipeline only relies on claim/ack/retry semantics.
type TaskQueue interface {
	// Enqueue inserts a task. Process tasks are deduplicated while a pending
	// task for the same (kind, repo, commit, code) exists.
	Enqueue(ctx context.Context, task model.Task) error
	// DequeueDue claims the next due pending task, marking it running and
	// incrementing its attempt counter. Returns nil, nil when nothing is due.
	DequeueDue(ctx context.Context, now time.Time) (*model.Task, error)
	Ack(ctx context.Context, id int64) error
	// Retry reschedules the task after delay, or dead-letters it when the
	// attempt budget is exhausted.
	Retry(ctx context.Context, id int64, delay time.Duration) error
	Dead(ctx context.Context, id int64) error
}
