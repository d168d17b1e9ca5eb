package report

import (
	"encoding/json"
	"fmt"
	"sort"
)

// The archive stores a report as two blobs: the chunks blob (per-file line
// data) and the files/sessions blob (file index plus session metadata). The
// merged artifact concatenates both into a single document.

type chunksDoc struct {
	Files map[string]*FileCoverage `json:"files"`
}

type filesSessionsDoc struct {
	Files    []string         `json:"files"`
	Sessions map[int]*Session `json:"sessions"`
}

type mergedDoc struct {
	Files    map[string]*FileCoverage `json:"files"`
	Sessions map[int]*Session         `json:"sessions"`
}

// MarshalChunks serializes the per-file line data.
func (r *Report) MarshalChunks() ([]byte, error) {
	data, err := json.Marshal(chunksDoc{Files: r.Files})
	if err != nil {
		return nil, fmt.Errorf("marshal chunks: %w", err)
	}
	return data, nil
}

// MarshalFilesSessions serializes the file index and session metadata.
func (r *Report) MarshalFilesSessions() ([]byte, error) {
	files := make([]string, 0, len(r.Files))
	for path := range r.Files {
		files = append(files, path)
	}
	sort.Strings(files)

	data, err := json.Marshal(filesSessionsDoc{Files: files, Sessions: r.Sessions})
	if err != nil {
		return nil, fmt.Errorf("marshal files/sessions: %w", err)
	}
	return data, nil
}

// UnmarshalIntermediate reconstructs a report from its chunk blob and
// files/sessions blob.
func UnmarshalIntermediate(chunks, filesSessions []byte) (*Report, error) {
	var cd chunksDoc
	if err := json.Unmarshal(chunks, &cd); err != nil {
		return nil, fmt.Errorf("%w: chunks blob: %v", ErrMalformed, err)
	}
	var fd filesSessionsDoc
	if err := json.Unmarshal(filesSessions, &fd); err != nil {
		return nil, fmt.Errorf("%w: files/sessions blob: %v", ErrMalformed, err)
	}

	r := New()
	if cd.Files != nil {
		r.Files = cd.Files
	}
	if fd.Sessions != nil {
		r.Sessions = fd.Sessions
	}
	for path, fc := range r.Files {
		if fc == nil || fc.Lines == nil {
			return nil, fmt.Errorf("%w: file %s has no line data", ErrMalformed, path)
		}
	}
	return r, nil
}

// Marshal serializes the full merged report artifact.
func Marshal(r *Report) ([]byte, error) {
	data, err := json.Marshal(mergedDoc{Files: r.Files, Sessions: r.Sessions})
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes a merged report artifact.
func Unmarshal(data []byte) (*Report, error) {
	var md mergedDoc
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("%w: merged artifact: %v", ErrMalformed, err)
	}
	r := New()
	if md.Files != nil {
		r.Files = md.Files
	}
	if md.Sessions != nil {
		r.Sessions = md.Sessions
	}
	return r, nil
}
