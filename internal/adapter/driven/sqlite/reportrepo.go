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
var _ driven.ReportStore = (*ReportRepo)(nil)

// ReportRepo is the SQLite implementation of the ReportStore port interface.
type ReportRepo struct {
	db *DB
}

// NewReportRepo creates a new ReportRepo backed by the given DB.
func NewReportRepo(db *DB) *ReportRepo {
	return &ReportRepo{db: db}
}

// GetOrCreate returns the report keyed by (commit, type, code), creating it
// lazily on first use.
func (r *ReportRepo) GetOrCreate(ctx context.Context, commitID int64, typ model.ReportType, code string) (*model.Report, error) {
	const insert = `
		INSERT INTO reports (commit_id, report_type, report_code, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(commit_id, report_type, report_code) DO NOTHING
	`
	if _, err := r.db.Writer.ExecContext(ctx, insert, commitID, string(typ), code, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("create report for commit %d: %w", commitID, err)
	}

	report, err := r.get(ctx, r.db.Writer, commitID, typ, code)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("report for commit %d missing after create", commitID)
	}
	return report, nil
}

// Get returns the report for the key, or nil, nil when none exists.
func (r *ReportRepo) Get(ctx context.Context, commitID int64, typ model.ReportType, code string) (*model.Report, error) {
	return r.get(ctx, r.db.Reader, commitID, typ, code)
}

func (r *ReportRepo) get(ctx context.Context, conn *sql.DB, commitID int64, typ model.ReportType, code string) (*model.Report, error) {
	const query = `
		SELECT id, commit_id, report_type, report_code, totals, created_at
		FROM reports
		WHERE commit_id = ? AND report_type = ? AND report_code = ?
	`

	report, err := scanReport(conn.QueryRowContext(ctx, query, commitID, string(typ), code))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report for commit %d: %w", commitID, err)
	}
	return report, nil
}

// SetTotals stores the recomputed aggregate totals on the report row.
func (r *ReportRepo) SetTotals(ctx context.Context, id int64, totals model.Totals) error {
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("marshal totals: %w", err)
	}

	const query = `UPDATE reports SET totals = ? WHERE id = ?`
	result, err := r.db.Writer.ExecContext(ctx, query, string(totalsJSON), id)
	if err != nil {
		return fmt.Errorf("set report %d totals: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("report %d not found", id)
	}
	return nil
}

func scanReport(s scanner) (*model.Report, error) {
	var report model.Report
	var typ string
	var totalsJSON sql.NullString
	var createdAt string

	err := s.Scan(&report.ID, &report.CommitID, &typ, &report.Code, &totalsJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	report.Type = model.ReportType(typ)

	if totalsJSON.Valid && totalsJSON.String != "" {
		var totals model.Totals
		if err := json.Unmarshal([]byte(totalsJSON.String), &totals); err != nil {
			return nil, fmt.Errorf("unmarshal totals: %w", err)
		}
		report.Totals = &totals
	}

	report.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &report, nil
}
