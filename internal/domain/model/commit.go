package model

import "time"

// CommitState is the processing state of a commit's report batch.
type CommitState string

const (
	CommitStatePending  CommitState = "pending"
	CommitStateComplete CommitState = "complete"
	CommitStateError    CommitState = "error"
)

// Commit is a single VCS commit under a repository. ParentSHA points at the
// nearest ancestor and drives the carry-forward walk.
type Commit struct {
	ID        int64
	RepoID    int64
	SHA       string
	Branch    string
	ParentSHA string
	State     CommitState
	CreatedAt time.Time
	UpdatedAt time.Time
}
