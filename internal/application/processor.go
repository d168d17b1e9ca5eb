package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coverdeck/coverdeck/internal/adapter/driven/archive"
	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
	"github.com/coverdeck/coverdeck/internal/report"
)

// Lock key purposes. One commit can be merged for coverage and bundles
// concurrently; the two pipelines never touch the same artifacts.
const (
	lockPurposeUpload = "upload_processing"
	lockPurposeBundle = "bundle_upload"
)

// CommitProcessor merges the pending coverage uploads of one commit into its
// base report under the commit lock. It owns the full unit of work: load,
// classify, merge, carry forward, persist, clean up, schedule notification.
type CommitProcessor struct {
	repos    driven.RepoStore
	commits  driven.CommitStore
	reports  driven.ReportStore
	uploads  driven.UploadStore
	locks    driven.LockManager
	archive  driven.ArchiveStore
	loader   *Loader
	notifier driven.Notifier

	archiveSecret string
	leaseTimeout  time.Duration
	lockWait      time.Duration
}

// NewCommitProcessor creates a CommitProcessor with all required dependencies.
func NewCommitProcessor(
	repos driven.RepoStore,
	commits driven.CommitStore,
	reports driven.ReportStore,
	uploads driven.UploadStore,
	locks driven.LockManager,
	archiveStore driven.ArchiveStore,
	loader *Loader,
	notifier driven.Notifier,
	archiveSecret string,
	leaseTimeout, lockWait time.Duration,
) *CommitProcessor {
	return &CommitProcessor{
		repos:         repos,
		commits:       commits,
		reports:       reports,
		uploads:       uploads,
		locks:         locks,
		archive:       archiveStore,
		loader:        loader,
		notifier:      notifier,
		archiveSecret: archiveSecret,
		leaseTimeout:  leaseTimeout,
		lockWait:      lockWait,
	}
}

func lockKey(purpose string, repoID int64, sha string) string {
	return fmt.Sprintf("%s_%d_%s", purpose, repoID, sha)
}

// Process runs one merge unit described by the task. ErrLockBusy surfaces
// unwrapped so the worker can requeue the whole unit; every other error is
// fatal for the unit and leaves the commit in the error state.
func (p *CommitProcessor) Process(ctx context.Context, task model.Task) (*model.UnitOutcome, error) {
	repo, err := p.repos.GetByID(ctx, task.RepoID)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, fmt.Errorf("repository %d not found", task.RepoID)
	}

	commit, err := p.commits.GetBySHA(ctx, task.RepoID, task.CommitSHA)
	if err != nil {
		return nil, err
	}
	if commit == nil {
		return nil, fmt.Errorf("commit %s not found in repository %d", task.CommitSHA, task.RepoID)
	}

	lease, err := p.locks.Acquire(ctx, lockKey(lockPurposeUpload, repo.ID, commit.SHA), p.leaseTimeout, p.lockWait)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("lease release failed", "key", lease.Key(), "error", err)
		}
	}()

	outcome, err := p.processLocked(ctx, repo, commit, task)
	if err != nil {
		// A unit interrupted by shutdown gets requeued, not failed; leave
		// the commit state alone so the rerun starts clean.
		if ctx.Err() == nil {
			if stateErr := p.commits.SetState(context.WithoutCancel(ctx), commit.ID, model.CommitStateError); stateErr != nil {
				slog.Error("set commit error state failed", "commit", commit.SHA, "error", stateErr)
			}
		}
		return nil, err
	}
	return outcome, nil
}

func (p *CommitProcessor) processLocked(ctx context.Context, repo *model.Repository, commit *model.Commit, task model.Task) (*model.UnitOutcome, error) {
	reportRow, err := p.reports.GetOrCreate(ctx, commit.ID, model.ReportTypeCoverage, task.ReportCode)
	if err != nil {
		return nil, err
	}

	pending, err := p.uploads.ListPending(ctx, reportRow.ID)
	if err != nil {
		return nil, err
	}

	paths := archive.NewPaths(archive.RepoHash(*repo, p.archiveSecret))

	base, err := p.loadBase(ctx, paths, commit.SHA)
	if err != nil {
		return nil, err
	}

	loaded, err := p.loader.Load(ctx, paths, commit.SHA, pending)
	if err != nil {
		return nil, err
	}

	outcome := &model.UnitOutcome{CommitState: model.CommitStateComplete}

	// Merge in ascending order number. Per-session line hits make the fold
	// order-invariant, but a stable order keeps re-runs byte-identical.
	var merged []model.Upload
	for _, upload := range pending {
		if failure, failed := loaded.Failures[upload.ID]; failed {
			if err := p.recordFailure(ctx, upload, failure); err != nil {
				return nil, err
			}
			outcome.ProcessedUploads = append(outcome.ProcessedUploads, model.UploadOutcome{
				UploadID: upload.ID, ErrorCode: failure.Code,
			})
			continue
		}
		base.Merge(loaded.Reports[upload.ID])
		merged = append(merged, upload)
		outcome.ProcessedUploads = append(outcome.ProcessedUploads, model.UploadOutcome{
			UploadID: upload.ID, Success: true,
		})
	}

	if err := p.carryForward(ctx, repo, commit, reportRow.ID, base, task, paths); err != nil {
		return nil, err
	}

	if err := p.persist(ctx, paths, commit.SHA, reportRow.ID, base); err != nil {
		return nil, err
	}

	if err := p.commits.SetState(ctx, commit.ID, model.CommitStateComplete); err != nil {
		return nil, err
	}

	// Rows flip to processed only once the merged artifact is durable. A
	// failed persist leaves them pending, so the rerun merges them again
	// instead of losing their coverage to a stale artifact.
	for _, upload := range merged {
		if err := p.uploads.SetProcessed(ctx, upload.ID, base.SessionTotals(upload.OrderNumber)); err != nil {
			return nil, err
		}
	}

	p.loader.Cleanup(ctx, paths, commit.SHA, pending)

	if err := p.notifier.ScheduleNotify(ctx, repo.ID, commit.SHA); err != nil {
		return nil, err
	}

	slog.Info("commit processed",
		"repo_id", repo.ID,
		"commit", commit.SHA,
		"uploads", len(pending),
		"failed", len(outcome.FailedUploads()),
	)
	return outcome, nil
}

// loadBase reads the commit's existing merged report, or starts empty when
// this is the commit's first merge.
func (p *CommitProcessor) loadBase(ctx context.Context, paths archive.Paths, sha string) (*report.Report, error) {
	data, err := p.archive.Read(ctx, paths.MergedChunks(sha))
	if errors.Is(err, driven.ErrNotFound) {
		return report.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read merged report for %s: %w", sha, err)
	}
	base, err := report.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode merged report for %s: %w", sha, err)
	}
	return base, nil
}

func (p *CommitProcessor) recordFailure(ctx context.Context, upload model.Upload, failure UploadFailure) error {
	if err := p.uploads.SetError(ctx, upload.ID); err != nil {
		return err
	}
	if err := p.uploads.AddError(ctx, model.UploadError{
		UploadID: upload.ID,
		Code:     failure.Code,
		Params:   map[string]string{"location": upload.StoragePath, "detail": failure.Detail},
	}); err != nil {
		return err
	}
	slog.Warn("upload failed",
		"upload_id", upload.ID,
		"code", failure.Code,
		"retryable", failure.Code.Retryable(),
	)
	return nil
}

// persist writes the merged artifact and the recomputed totals. The artifact
// write lands before the totals so a crash between the two leaves the totals
// stale, never the artifact.
func (p *CommitProcessor) persist(ctx context.Context, paths archive.Paths, sha string, reportID int64, base *report.Report) error {
	data, err := report.Marshal(base)
	if err != nil {
		return err
	}
	if err := p.archive.Write(ctx, paths.MergedChunks(sha), data); err != nil {
		return fmt.Errorf("write merged report for %s: %w", sha, err)
	}
	if err := p.reports.SetTotals(ctx, reportID, base.Totals()); err != nil {
		return err
	}
	return nil
}
