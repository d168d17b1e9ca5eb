package model

import "time"

// UploadErrorCode classifies a per-upload processing failure.
type UploadErrorCode string

const (
	// UploadErrorFileNotInStorage means the raw artifact was absent from the
	// archive; the upload may simply not have finished transferring yet.
	UploadErrorFileNotInStorage UploadErrorCode = "file_not_in_storage"
	// UploadErrorRateLimit means the archive store throttled the fetch.
	UploadErrorRateLimit UploadErrorCode = "rate_limit_error"
	// UploadErrorParser means the artifact is malformed; re-fetching will not help.
	UploadErrorParser UploadErrorCode = "parser_error"
)

// Retryable reports whether re-processing the upload could succeed.
func (c UploadErrorCode) Retryable() bool {
	switch c {
	case UploadErrorFileNotInStorage, UploadErrorRateLimit:
		return true
	default:
		return false
	}
}

// UploadError is an append-only structured failure record attached to an
// upload. Rows are only ever inserted, never mutated.
type UploadError struct {
	ID        int64
	UploadID  int64
	Code      UploadErrorCode
	Params    map[string]string
	CreatedAt time.Time
}
