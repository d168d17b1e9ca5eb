package driven

import "context"

// Notifier schedules the downstream notification stage once a unit reaches
// DONE. Formatting and delivery live outside this pipeline.
type Notifier interface {
	ScheduleNotify(ctx context.Context, repoID int64, commitSHA string) error
}
