package model

import "time"

// ReportType selects the artifact family a report aggregates.
type ReportType string

const (
	ReportTypeCoverage ReportType = "coverage"
	ReportTypeBundle   ReportType = "bundle"
)

// Report is the per-commit container row keyed by (commit, type, code).
// The merged artifact itself lives in the archive store; the row carries the
// aggregate totals and owns the upload collection.
type Report struct {
	ID        int64
	CommitID  int64
	Type      ReportType
	Code      string // optional secondary key, empty for the default report
	Totals    *Totals
	CreatedAt time.Time
}
