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
var _ driven.CommitStore = (*CommitRepo)(nil)

// CommitRepo is the SQLite implementation of the CommitStore port interface.
type CommitRepo struct {
	db *DB
}

// NewCommitRepo creates a new CommitRepo backed by the given DB.
func NewCommitRepo(db *DB) *CommitRepo {
	return &CommitRepo{db: db}
}

// Upsert creates the commit if absent and returns its ID. An existing commit
// keeps its state; branch and parent SHA are refreshed only when the incoming
// values are non-empty, so a later upload cannot blank out known ancestry.
func (r *CommitRepo) Upsert(ctx context.Context, commit model.Commit) (int64, error) {
	now := time.Now().UTC()

	const query = `
		INSERT INTO commits (repo_id, sha, branch, parent_sha, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_id, sha) DO UPDATE SET
			branch = CASE WHEN excluded.branch != '' THEN excluded.branch ELSE commits.branch END,
			parent_sha = CASE WHEN excluded.parent_sha != '' THEN excluded.parent_sha ELSE commits.parent_sha END,
			updated_at = excluded.updated_at
		RETURNING id
	`

	state := commit.State
	if state == "" {
		state = model.CommitStatePending
	}

	var id int64
	err := r.db.Writer.QueryRowContext(ctx, query,
		commit.RepoID, commit.SHA, commit.Branch, commit.ParentSHA, string(state), now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert commit %s: %w", commit.SHA, err)
	}
	return id, nil
}

// GetBySHA retrieves a commit by repository and SHA. Returns nil, nil if it
// does not exist.
func (r *CommitRepo) GetBySHA(ctx context.Context, repoID int64, sha string) (*model.Commit, error) {
	const query = `
		SELECT id, repo_id, sha, branch, parent_sha, state, created_at, updated_at
		FROM commits
		WHERE repo_id = ? AND sha = ?
	`

	commit, err := scanCommit(r.db.Reader.QueryRowContext(ctx, query, repoID, sha))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", sha, err)
	}
	return commit, nil
}

// SetState transitions the commit's processing state.
func (r *CommitRepo) SetState(ctx context.Context, id int64, state model.CommitState) error {
	const query = `UPDATE commits SET state = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, string(state), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set commit %d state %s: %w", id, state, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("commit %d not found", id)
	}
	return nil
}

func scanCommit(s scanner) (*model.Commit, error) {
	var commit model.Commit
	var state string
	var createdAt, updatedAt string

	err := s.Scan(
		&commit.ID, &commit.RepoID, &commit.SHA, &commit.Branch,
		&commit.ParentSHA, &state, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	commit.State = model.CommitState(state)

	commit.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	commit.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &commit, nil
}
