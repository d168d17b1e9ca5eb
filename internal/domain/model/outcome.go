package model

// UploadOutcome records the fate of a single upload within one processing unit.
type UploadOutcome struct {
	UploadID  int64           `json:"upload_id"`
	Success   bool            `json:"success"`
	ErrorCode UploadErrorCode `json:"error_code,omitempty"`
}

// UnitOutcome is the structured result of one unit of work. The queue uses it
// to decide whether to acknowledge, retry, or dead-letter the unit.
type UnitOutcome struct {
	ProcessedUploads []UploadOutcome `json:"processed_uploads"`
	CommitState      CommitState     `json:"commit_state"`
}

// Succeeded reports whether the base merge reached a terminal complete state.
// Individual upload failures do not make a unit unsuccessful.
func (o UnitOutcome) Succeeded() bool {
	return o.CommitState == CommitStateComplete
}

// FailedUploads returns the outcomes of uploads that did not merge.
func (o UnitOutcome) FailedUploads() []UploadOutcome {
	var failed []UploadOutcome
	for _, u := range o.ProcessedUploads {
		if !u.Success {
			failed = append(failed, u)
		}
	}
	return failed
}
