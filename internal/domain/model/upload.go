package model

import "time"

// UploadState is the lifecycle state of one upload. An upload moves from
// pending to processed or error exactly once, under the commit lock.
type UploadState string

const (
	UploadStatePending   UploadState = "pending"
	UploadStateProcessed UploadState = "processed"
	UploadStateError     UploadState = "error"
)

// UploadType distinguishes artifacts submitted by CI from sessions reused
// from an ancestor commit.
type UploadType string

const (
	UploadTypeUploaded       UploadType = "uploaded"
	UploadTypeCarriedForward UploadType = "carried-forward"
)

// Upload is one artifact submission (a session). OrderNumber is assigned once
// at intake and is the stable join key between the relational row and the
// session index inside the merged report.
type Upload struct {
	ID          int64
	ReportID    int64
	ExternalID  string // UUID handed back to the uploader
	StoragePath string // archive path of the raw payload
	Flags       []string
	State       UploadState
	Type        UploadType
	OrderNumber int
	Totals      *Totals
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasFlag reports whether the upload declared the given flag.
func (u Upload) HasFlag(flag string) bool {
	for _, f := range u.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
