package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coverdeck/coverdeck/internal/domain/model"
	"github.com/coverdeck/coverdeck/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UploadStore = (*UploadRepo)(nil)

// UploadRepo is the SQLite implementation of the UploadStore port interface.
type UploadRepo struct {
	db *DB
}

// NewUploadRepo creates a new UploadRepo backed by the given DB.
func NewUploadRepo(db *DB) *UploadRepo {
	return &UploadRepo{db: db}
}

// Create inserts the upload and assigns the next order number within its
// report in the same statement. The single writer connection makes the
// MAX(order_number)+1 subquery race-free.
func (r *UploadRepo) Create(ctx context.Context, upload model.Upload) (*model.Upload, error) {
	flags := upload.Flags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return nil, fmt.Errorf("marshal flags: %w", err)
	}

	state := upload.State
	if state == "" {
		state = model.UploadStatePending
	}
	typ := upload.Type
	if typ == "" {
		typ = model.UploadTypeUploaded
	}
	now := time.Now().UTC()

	const query = `
		INSERT INTO uploads (report_id, external_id, storage_path, flags, state, upload_type, order_number, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(order_number) + 1, 0) FROM uploads WHERE report_id = ?),
			?, ?)
		RETURNING id, order_number
	`

	stored := upload
	stored.Flags = flags
	stored.State = state
	stored.Type = typ
	stored.CreatedAt = now
	stored.UpdatedAt = now

	err = r.db.Writer.QueryRowContext(ctx, query,
		upload.ReportID, upload.ExternalID, upload.StoragePath, string(flagsJSON),
		string(state), string(typ), upload.ReportID, now, now,
	).Scan(&stored.ID, &stored.OrderNumber)
	if err != nil {
		return nil, fmt.Errorf("create upload %s: %w", upload.ExternalID, err)
	}

	return &stored, nil
}

// ListPending returns the report's pending uploads in ascending order number.
func (r *UploadRepo) ListPending(ctx context.Context, reportID int64) ([]model.Upload, error) {
	const query = `
		SELECT id, report_id, external_id, storage_path, flags, state, upload_type, order_number, totals, created_at, updated_at
		FROM uploads
		WHERE report_id = ? AND state = ?
		ORDER BY order_number
	`
	return r.queryUploads(ctx, query, reportID, string(model.UploadStatePending))
}

// ListByReport returns all of the report's uploads in ascending order number.
func (r *UploadRepo) ListByReport(ctx context.Context, reportID int64) ([]model.Upload, error) {
	const query = `
		SELECT id, report_id, external_id, storage_path, flags, state, upload_type, order_number, totals, created_at, updated_at
		FROM uploads
		WHERE report_id = ?
		ORDER BY order_number
	`
	return r.queryUploads(ctx, query, reportID)
}

// SetProcessed marks the upload processed and stores its session totals.
func (r *UploadRepo) SetProcessed(ctx context.Context, id int64, totals model.Totals) error {
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("marshal totals: %w", err)
	}

	const query = `UPDATE uploads SET state = ?, totals = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, query, id, string(model.UploadStateProcessed), string(totalsJSON), time.Now().UTC(), id)
}

// SetError marks the upload failed. The structured failure detail lives in
// upload_errors via AddError.
func (r *UploadRepo) SetError(ctx context.Context, id int64) error {
	const query = `UPDATE uploads SET state = ?, updated_at = ? WHERE id = ?`
	return r.exec(ctx, query, id, string(model.UploadStateError), time.Now().UTC(), id)
}

// AddError appends a structured failure record. Records are append-only.
func (r *UploadRepo) AddError(ctx context.Context, uploadErr model.UploadError) error {
	params := uploadErr.Params
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal error params: %w", err)
	}

	const query = `
		INSERT INTO upload_errors (upload_id, error_code, error_params, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := r.db.Writer.ExecContext(ctx, query,
		uploadErr.UploadID, string(uploadErr.Code), string(paramsJSON), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("add upload %d error: %w", uploadErr.UploadID, err)
	}
	return nil
}

// ListErrors returns the upload's failure records, oldest first.
func (r *UploadRepo) ListErrors(ctx context.Context, uploadID int64) ([]model.UploadError, error) {
	const query = `
		SELECT id, upload_id, error_code, error_params, created_at
		FROM upload_errors
		WHERE upload_id = ?
		ORDER BY id
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, uploadID)
	if err != nil {
		return nil, fmt.Errorf("query upload errors: %w", err)
	}
	defer rows.Close()

	var errs []model.UploadError
	for rows.Next() {
		var ue model.UploadError
		var code, paramsJSON, createdAt string
		if err := rows.Scan(&ue.ID, &ue.UploadID, &code, &paramsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan upload error: %w", err)
		}
		ue.Code = model.UploadErrorCode(code)
		if err := json.Unmarshal([]byte(paramsJSON), &ue.Params); err != nil {
			return nil, fmt.Errorf("unmarshal error params: %w", err)
		}
		ue.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		errs = append(errs, ue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate upload errors: %w", err)
	}
	return errs, nil
}

func (r *UploadRepo) exec(ctx context.Context, query string, id int64, args ...any) error {
	result, err := r.db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update upload %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("upload %d not found", id)
	}
	return nil
}

func (r *UploadRepo) queryUploads(ctx context.Context, query string, args ...any) ([]model.Upload, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []model.Upload
	for rows.Next() {
		upload, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		uploads = append(uploads, *upload)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate uploads: %w", err)
	}
	return uploads, nil
}

func scanUpload(s scanner) (*model.Upload, error) {
	var upload model.Upload
	var flagsJSON, state, typ string
	var totalsJSON *string
	var createdAt, updatedAt string

	err := s.Scan(
		&upload.ID, &upload.ReportID, &upload.ExternalID, &upload.StoragePath,
		&flagsJSON, &state, &typ, &upload.OrderNumber, &totalsJSON,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	upload.State = model.UploadState(state)
	upload.Type = model.UploadType(typ)

	if err := json.Unmarshal([]byte(flagsJSON), &upload.Flags); err != nil {
		return nil, fmt.Errorf("unmarshal flags: %w", err)
	}

	if totalsJSON != nil && *totalsJSON != "" {
		var totals model.Totals
		if err := json.Unmarshal([]byte(*totalsJSON), &totals); err != nil {
			return nil, fmt.Errorf("unmarshal totals: %w", err)
		}
		upload.Totals = &totals
	}

	upload.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	upload.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	return &upload, nil
}
