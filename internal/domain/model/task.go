package model

import "time"

// TaskKind selects the worker routine a task is dispatched to.
type TaskKind string

const (
	TaskKindProcessCommit TaskKind = "process_commit"
	TaskKindProcessBundle TaskKind = "process_bundle"
	TaskKindNotify        TaskKind = "notify"
)

// TaskState is the queue lifecycle state of a task.
type TaskState string

const (
	TaskStatePending TaskState = "pending"
	TaskStateRunning TaskState = "running"
	TaskStateDone    TaskState = "done"
	TaskStateDead    TaskState = "dead"
)

// Task is one unit of queued work: process all pending uploads for one
// commit (or hand off to the notification stage). The pending upload list is
// not embedded here; workers read it from the upload store keyed by
// repo/commit.
type Task struct {
	ID          int64
	Kind        TaskKind
	RepoID      int64
	CommitSHA   string
	ReportCode  string
	CommitYAML  string // YAML snapshot of the commit's effective config
	State       TaskState
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	CreatedAt   time.Time
}
