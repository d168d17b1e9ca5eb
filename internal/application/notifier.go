package application

import (
	"context"

	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Notifier = (*QueueNotifier)(nil)

// QueueNotifier schedules the notification stage by enqueuing a notify task.
// The pipeline's responsibility ends at the handoff; composing and delivering
// the notification happens in a downstream consumer.
type QueueNotifier struct {
	queue driven.TaskQueue
}

// NewQueueNotifier creates a QueueNotifier on the given queue.
func NewQueueNotifier(queue driven.TaskQueue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// ScheduleNotify enqueues the notify task for the commit. Pending notify
// tasks for the same commit are deduplicated by the queue.
func (n *QueueNotifier) ScheduleNotify(ctx context.Context, repoID int64, commitSHA string) error {
	return n.queue.Enqueue(ctx, model.Task{
		Kind:      model.TaskKindNotify,
		RepoID:    repoID,
		CommitSHA: commitSHA,
	})
}
