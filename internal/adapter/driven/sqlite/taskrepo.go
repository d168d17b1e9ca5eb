package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TaskQueue = (*TaskRepo)(nil)

// TaskRepo is the SQLite implementation of the TaskQueue port.
type TaskRepo struct {
	db *DB
}

// NewTaskRepo creates a new TaskRepo backed by the given DB.
func NewTaskRepo(db *DB) *TaskRepo {
	return &TaskRepo{db: db}
}

// Enqueue inserts a task. A pending task for the same (kind, repo, commit,
// code) already in the queue absorbs the insert via the partial unique index.
func (r *TaskRepo) Enqueue(ctx context.Context, task model.Task) error {
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	runAt := task.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}

	const query = `
		INSERT INTO tasks (kind, repo_id, commit_sha, report_code, commit_yaml, state, attempts, max_attempts, run_at_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db.Writer.ExecContext(ctx, query,
		string(task.Kind), task.RepoID, task.CommitSHA, task.ReportCode, task.CommitYAML,
		string(model.TaskStatePending), maxAttempts, runAt.UnixMilli(), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("enqueue %s task for commit %s: %w", task.Kind, task.CommitSHA, err)
	}
	return nil
}

// DequeueDue claims the next due pending task in a single statement, marking
// it running and incrementing its attempt counter. Returns nil, nil when
// nothing is due.
func (r *TaskRepo) DequeueDue(ctx context.Context, now time.Time) (*model.Task, error) {
	const query = `
		UPDATE tasks
		SET state = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE state = ? AND run_at_ms <= ?
			ORDER BY run_at_ms, id
			LIMIT 1
		)
		RETURNING id, kind, repo_id, commit_sha, report_code, commit_yaml, state, attempts, max_attempts, run_at_ms, created_at
	`

	task, err := scanTask(r.db.Writer.QueryRowContext(ctx, query,
		string(model.TaskStateRunning), string(model.TaskStatePending), now.UnixMilli(),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue task: %w", err)
	}
	return task, nil
}

// Ack marks a running task done.
func (r *TaskRepo) Ack(ctx context.Context, id int64) error {
	const query = `UPDATE tasks SET state = ? WHERE id = ? AND state = ?`
	return r.transition(ctx, query, id, string(model.TaskStateDone), id, string(model.TaskStateRunning))
}

// Retry reschedules a running task after delay, or dead-letters it once its
// attempt budget is spent.
func (r *TaskRepo) Retry(ctx context.Context, id int64, delay time.Duration) error {
	const query = `
		UPDATE tasks
		SET state = CASE WHEN attempts >= max_attempts THEN ? ELSE ? END,
			run_at_ms = CASE WHEN attempts >= max_attempts THEN run_at_ms ELSE ? END
		WHERE id = ? AND state = ?
	`
	return r.transition(ctx, query, id,
		string(model.TaskStateDead), string(model.TaskStatePending),
		time.Now().Add(delay).UnixMilli(), id, string(model.TaskStateRunning),
	)
}

// Dead dead-letters a running task immediately.
func (r *TaskRepo) Dead(ctx context.Context, id int64) error {
	const query = `UPDATE tasks SET state = ? WHERE id = ? AND state = ?`
	return r.transition(ctx, query, id, string(model.TaskStateDead), id, string(model.TaskStateRunning))
}

func (r *TaskRepo) transition(ctx context.Context, query string, id int64, args ...any) error {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition task %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %d not running", id)
	}
	return nil
}

func scanTask(s scanner) (*model.Task, error) {
	var task model.Task
	var kind, state, createdAt string
	var runAtMs int64

	err := s.Scan(
		&task.ID, &kind, &task.RepoID, &task.CommitSHA, &task.ReportCode,
		&task.CommitYAML, &state, &task.Attempts, &task.MaxAttempts,
		&runAtMs, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	task.Kind = model.TaskKind(kind)
	task.State = model.TaskState(state)
	task.RunAt = time.UnixMilli(runAtMs)

	task.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &task, nil
}
