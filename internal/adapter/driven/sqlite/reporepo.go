package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoStore = (*RepoRepo)(nil)

// RepoRepo is the SQLite implementation of the RepoStore port interface.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

// Add inserts a repository and returns its ID. BundleCaching is serialized
// as a JSON array in the TEXT column.
func (r *RepoRepo) Add(ctx context.Context, repo model.Repository) (int64, error) {
	caching := repo.BundleCaching
	if caching == nil {
		caching = []string{}
	}
	cachingJSON, err := json.Marshal(caching)
	if err != nil {
		return 0, fmt.Errorf("marshal bundle caching: %w", err)
	}

	createdAt := repo.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const query = `
		INSERT INTO repositories (provider, service_id, name, bundle_caching, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.Writer.ExecContext(ctx, query,
		repo.Provider, repo.ServiceID, repo.Name, string(cachingJSON), createdAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("add repository %s/%s: %w", repo.Provider, repo.ServiceID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("repository insert id: %w", err)
	}
	return id, nil
}

// GetByID retrieves a repository by ID. Returns nil, nil if it does not exist.
func (r *RepoRepo) GetByID(ctx context.Context, id int64) (*model.Repository, error) {
	const query = `
		SELECT id, provider, service_id, name, bundle_caching, created_at
		FROM repositories
		WHERE id = ?
	`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %d: %w", id, err)
	}
	return repo, nil
}

func scanRepository(s scanner) (*model.Repository, error) {
	var repo model.Repository
	var cachingJSON string
	var createdAt string

	err := s.Scan(&repo.ID, &repo.Provider, &repo.ServiceID, &repo.Name, &cachingJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(cachingJSON), &repo.BundleCaching); err != nil {
		return nil, fmt.Errorf("unmarshal bundle caching: %w", err)
	}

	repo.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &repo, nil
}
