package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/coverdeck/coverdeck/internal/adapter/driven/archive"
	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
	"github.com/coverdeck/coverdeck/internal/report"
)

// maxAncestorDepth bounds the parent walk. A flag with no coverage within
// this many ancestors is treated as genuinely new.
const maxAncestorDepth = 10

// carryForward fills coverage gaps from ancestor commits. For every flag
// marked carryforward in the commit config that no session in base covers,
// the nearest ancestor with a merged report covering the flag contributes its
// flag subset as carried-forward sessions under fresh order numbers.
func (p *CommitProcessor) carryForward(ctx context.Context, repo *model.Repository, commit *model.Commit, reportID int64, base *report.Report, task model.Task, paths archive.Paths) error {
	cy, err := model.ParseCommitYAML(task.CommitYAML)
	if err != nil {
		return err
	}

	for _, flag := range cy.CarryforwardFlags() {
		// A carried session can cover several flags at once; re-check so one
		// ancestor contribution is not duplicated per flag.
		if base.HasFlag(flag) {
			continue
		}
		if err := p.carryForwardFlag(ctx, repo, commit, reportID, base, flag, paths); err != nil {
			return err
		}
	}
	return nil
}

func (p *CommitProcessor) carryForwardFlag(ctx context.Context, repo *model.Repository, commit *model.Commit, reportID int64, base *report.Report, flag string, paths archive.Paths) error {
	parentSHA := commit.ParentSHA

	for depth := 0; depth < maxAncestorDepth && parentSHA != ""; depth++ {
		ancestor, err := p.commits.GetBySHA(ctx, repo.ID, parentSHA)
		if err != nil {
			return err
		}
		if ancestor == nil {
			return nil
		}

		ancestorReport, err := p.loadAncestorReport(ctx, paths, ancestor.SHA)
		if err != nil {
			return err
		}
		if ancestorReport != nil && ancestorReport.HasFlag(flag) {
			return p.adoptSubset(ctx, reportID, base, ancestorReport.FlagSubset(flag), ancestor.SHA, paths)
		}

		parentSHA = ancestor.ParentSHA
	}
	return nil
}

// loadAncestorReport reads an ancestor's merged report, or nil when the
// ancestor was never merged.
func (p *CommitProcessor) loadAncestorReport(ctx context.Context, paths archive.Paths, sha string) (*report.Report, error) {
	data, err := p.archive.Read(ctx, paths.MergedChunks(sha))
	if errors.Is(err, driven.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ancestor report %s: %w", sha, err)
	}
	rep, err := report.Unmarshal(data)
	if err != nil {
		// A corrupt ancestor artifact should not fail the current commit;
		// the walk simply skips it.
		return nil, nil
	}
	return rep, nil
}

// adoptSubset registers one carried-forward upload row per donor session,
// remaps the subset onto the fresh order numbers, and merges it into base.
func (p *CommitProcessor) adoptSubset(ctx context.Context, reportID int64, base *report.Report, subset *report.Report, sourceSHA string, paths archive.Paths) error {
	ids := make(map[int]int, len(subset.Sessions))
	created := make([]model.Upload, 0, len(subset.Sessions))

	for _, oldID := range subset.SessionIDs() {
		session := subset.Sessions[oldID]
		row, err := p.uploads.Create(ctx, model.Upload{
			ReportID:    reportID,
			ExternalID:  uuid.New().String(),
			StoragePath: paths.MergedChunks(sourceSHA),
			Flags:       session.Flags,
			Type:        model.UploadTypeCarriedForward,
		})
		if err != nil {
			return fmt.Errorf("create carried-forward upload from %s: %w", sourceSHA, err)
		}
		ids[oldID] = row.OrderNumber
		created = append(created, *row)
	}

	base.Merge(subset.Remapped(ids, report.SessionCarriedForward, sourceSHA))

	for _, row := range created {
		if err := p.uploads.SetProcessed(ctx, row.ID, base.SessionTotals(row.OrderNumber)); err != nil {
			return err
		}
	}
	return nil
}
