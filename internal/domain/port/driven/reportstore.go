package driven

import (
	"context"

	"github.com/coverdeck/coverdeck/internal/domain/model"
)

// ReportStore defines the driven port for report-row persistence.
type ReportStore interface {
	// GetOrCreate returns the report keyed by (commit, type, code), creating
	// it lazily on first use.
	GetOrCreate(ctx context.Context, commitID int64, typ model.ReportType, code string) (*model.Report, error)
	// Get returns nil, nil when no report exists for the key.
	Get(ctx context.Context, commitID int64, typ model.ReportType, code string) (*model.Report, error)
	SetTotals(ctx context.Context, id int64, totals model.Totals) error
}
