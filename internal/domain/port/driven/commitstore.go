package driven

import (
	"context"

	"github.com/coverdeck/coverdeck/internal/domain/model"
)

// CommitStore defines the driven port for commit persistence.
type CommitStore interface {
	// Upsert creates the commit if absent and returns its ID. An existing
	// commit keeps its state; branch and parent SHA are refreshed when the
	// incoming values are non-empty.
	Upsert(ctx context.Context, commit model.Commit) (int64, error)
	// GetBySHA returns nil, nil when the commit does not exist.
	GetBySHA(ctx context.Context, repoID int64, sha string) (*model.Commit, error)
	SetState(ctx context.Context, id int64, state model.CommitState) error
}
