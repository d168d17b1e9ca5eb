package driven

import (
	"context"

	"github.com/coverdeck/coverdeck/internal/domain/model"
)

// RepoStore defines the driven port for repository persistence.
type RepoStore interface {
	Add(ctx context.Context, repo model.Repository) (int64, error)
	// GetByID returns nil, nil when the repository does not exist.
	GetByID(ctx context.Context, id int64) (*model.Repository, error)
}
