package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformed marks a payload that cannot be parsed. Re-fetching the
// artifact will not help; callers classify this as a permanent error.
var ErrMalformed = errors.New("report: malformed payload")

// uploadPayload is the raw coverage artifact wire format: file path to
// line-number (string keyed) to hit count.
type uploadPayload struct {
	Coverage map[string]map[string]int `json:"coverage"`
}

// ParseUpload parses one raw upload payload into a single-session report.
// The session is keyed by the upload's order number and carries its flags.
func ParseUpload(raw []byte, sessionID int, flags []string) (*Report, error) {
	var payload uploadPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if payload.Coverage == nil {
		return nil, fmt.Errorf("%w: missing coverage section", ErrMalformed)
	}

	r := New()
	r.Sessions[sessionID] = &Session{
		ID:    sessionID,
		Flags: append([]string(nil), flags...),
		Type:  SessionUploaded,
	}

	for path, lines := range payload.Coverage {
		if path == "" {
			return nil, fmt.Errorf("%w: empty file path", ErrMalformed)
		}
		fc := &FileCoverage{Lines: make(map[int]LineHits, len(lines))}
		for lineStr, hits := range lines {
			line, err := strconv.Atoi(lineStr)
			if err != nil || line < 1 {
				return nil, fmt.Errorf("%w: bad line number %q in %s", ErrMalformed, lineStr, path)
			}
			if hits < 0 {
				return nil, fmt.Errorf("%w: negative hit count on %s:%d", ErrMalformed, path, line)
			}
			fc.Lines[line] = LineHits{sessionID: hits}
		}
		r.Files[path] = fc
	}

	return r, nil
}
