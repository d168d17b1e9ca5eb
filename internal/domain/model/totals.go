package model

// Totals is the derived aggregate summary of a report or a single upload.
// Always recomputed from the merged report, never hand-edited.
type Totals struct {
	Files    int     `json:"files"`
	Lines    int     `json:"lines"`
	Hits     int     `json:"hits"`
	Misses   int     `json:"misses"`
	Coverage float64 `json:"coverage"`
	// Bytes is the total asset size; only set on bundle reports.
	Bytes int64 `json:"bytes,omitempty"`
}
