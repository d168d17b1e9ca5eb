package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coverdeck/coverdeck/internal/adapter/driven/archive"
	"github.com/coverdeck/coverdeck/internal/bundle"
	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// BundleProcessor merges the pending bundle-size uploads of one commit under
// the bundle lock. Bundles carry forward wholesale from the parent commit;
// only names with caching enabled survive the copy, and a freshly uploaded
// bundle always replaces its cached counterpart.
type BundleProcessor struct {
	repos    driven.RepoStore
	commits  driven.CommitStore
	reports  driven.ReportStore
	uploads  driven.UploadStore
	locks    driven.LockManager
	archive  driven.ArchiveStore
	notifier driven.Notifier

	archiveSecret string
	leaseTimeout  time.Duration
	lockWait      time.Duration
}

// NewBundleProcessor creates a BundleProcessor with all required dependencies.
func NewBundleProcessor(
	repos driven.RepoStore,
	commits driven.CommitStore,
	reports driven.ReportStore,
	uploads driven.UploadStore,
	locks driven.LockManager,
	archiveStore driven.ArchiveStore,
	notifier driven.Notifier,
	archiveSecret string,
	leaseTimeout, lockWait time.Duration,
) *BundleProcessor {
	return &BundleProcessor{
		repos:         repos,
		commits:       commits,
		reports:       reports,
		uploads:       uploads,
		locks:         locks,
		archive:       archiveStore,
		notifier:      notifier,
		archiveSecret: archiveSecret,
		leaseTimeout:  leaseTimeout,
		lockWait:      lockWait,
	}
}

// Process runs one bundle merge unit. ErrLockBusy surfaces unwrapped so the
// worker can requeue; any other error is fatal for the unit.
func (p *BundleProcessor) Process(ctx context.Context, task model.Task) (*model.UnitOutcome, error) {
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

	lease, err := p.locks.Acquire(ctx, lockKey(lockPurposeBundle, repo.ID, commit.SHA), p.leaseTimeout, p.lockWait)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("lease release failed", "key", lease.Key(), "error", err)
		}
	}()

	return p.processLocked(ctx, repo, commit, task)
}

func (p *BundleProcessor) processLocked(ctx context.Context, repo *model.Repository, commit *model.Commit, task model.Task) (*model.UnitOutcome, error) {
	reportRow, err := p.reports.GetOrCreate(ctx, commit.ID, model.ReportTypeBundle, task.ReportCode)
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

	// First merge for this commit: seed from the parent's report, keeping
	// only names the repository caches.
	if base.Empty() && commit.ParentSHA != "" {
		parent, err := p.loadBase(ctx, paths, commit.ParentSHA)
		if err != nil {
			return nil, err
		}
		base.CarryForwardFrom(parent, repo.CachingEnabled)
	}

	outcome := &model.UnitOutcome{CommitState: model.CommitStateComplete}

	for _, upload := range pending {
		incoming, failure, err := p.loadOne(ctx, upload)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			if err := p.recordFailure(ctx, upload, *failure); err != nil {
				return nil, err
			}
			outcome.ProcessedUploads = append(outcome.ProcessedUploads, model.UploadOutcome{
				UploadID: upload.ID, ErrorCode: failure.Code,
			})
			continue
		}

		incoming.AssociateAssets(base.Get(incoming.Name))
		base.Put(incoming)

		if err := p.uploads.SetProcessed(ctx, upload.ID, model.Totals{Bytes: incoming.TotalBytes()}); err != nil {
			return nil, err
		}
		outcome.ProcessedUploads = append(outcome.ProcessedUploads, model.UploadOutcome{
			UploadID: upload.ID, Success: true,
		})
	}

	if err := p.persist(ctx, paths, commit.SHA, reportRow.ID, base); err != nil {
		return nil, err
	}

	if err := p.notifier.ScheduleNotify(ctx, repo.ID, commit.SHA); err != nil {
		return nil, err
	}

	slog.Info("bundle report processed",
		"repo_id", repo.ID,
		"commit", commit.SHA,
		"uploads", len(pending),
		"bundles", len(base.Bundles),
		"failed", len(outcome.FailedUploads()),
	)
	return outcome, nil
}

// loadBase reads a commit's bundle report from the archive, or an empty
// report when none exists yet.
func (p *BundleProcessor) loadBase(ctx context.Context, paths archive.Paths, sha string) (*bundle.Report, error) {
	data, err := p.archive.Read(ctx, paths.BundleReport(sha))
	if errors.Is(err, driven.ErrNotFound) {
		return bundle.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bundle report for %s: %w", sha, err)
	}
	base, err := bundle.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode bundle report for %s: %w", sha, err)
	}
	return base, nil
}

func (p *BundleProcessor) loadOne(ctx context.Context, upload model.Upload) (*bundle.Bundle, *UploadFailure, error) {
	raw, err := p.archive.Read(ctx, upload.StoragePath)
	if err != nil {
		if failure := classifyFetch(err, upload.StoragePath); failure != nil {
			return nil, failure, nil
		}
		return nil, nil, fmt.Errorf("fetch bundle upload %d: %w", upload.ID, err)
	}

	b, err := bundle.Parse(raw)
	if err != nil {
		if errors.Is(err, bundle.ErrMalformed) {
			return nil, &UploadFailure{Code: model.UploadErrorParser, Detail: err.Error()}, nil
		}
		return nil, nil, fmt.Errorf("parse bundle upload %d: %w", upload.ID, err)
	}
	return b, nil, nil
}

func (p *BundleProcessor) recordFailure(ctx context.Context, upload model.Upload, failure UploadFailure) error {
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
	slog.Warn("bundle upload failed", "upload_id", upload.ID, "code", failure.Code)
	return nil
}

func (p *BundleProcessor) persist(ctx context.Context, paths archive.Paths, sha string, reportID int64, base *bundle.Report) error {
	data, err := bundle.Marshal(base)
	if err != nil {
		return err
	}
	if err := p.archive.Write(ctx, paths.BundleReport(sha), data); err != nil {
		return fmt.Errorf("write bundle report for %s: %w", sha, err)
	}
	if err := p.reports.SetTotals(ctx, reportID, model.Totals{Bytes: base.TotalBytes()}); err != nil {
		return err
	}
	return nil
}
