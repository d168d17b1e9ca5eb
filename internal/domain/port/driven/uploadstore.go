package driven

import (
	"context"

	"github.com/coverdeck/coverdeck/internal/domain/model"
)

// UploadStore defines the driven port for upload persistence. Order numbers
// are assigned atomically by Create and never reassigned.
type UploadStore interface {
	// Create inserts the upload, assigning the next order number within its
	// report, and returns the stored row.
	Create(ctx context.Context, upload model.Upload) (*model.Upload, error)
	ListPending(ctx context.Context, reportID int64) ([]model.Upload, error)
	ListByReport(ctx context.Context, reportID int64) ([]model.Upload, error)
	SetProcessed(ctx context.Context, id int64, totals model.Totals) error
	SetError(ctx context.Context, id int64) error
	// AddError appends a structured failure record to an upload.
	AddError(ctx context.Context, uploadErr model.UploadError) error
	ListErrors(ctx context.Context, uploadID int64) ([]model.UploadError, error)
}
