// Package report implements the in-memory coverage report consumed by the
// merge pipeline: parsing single-upload payloads, merging per-session line
// coverage, computing totals, and diffing two reports.
package report

import (
	"math"
	"sort"

	"github.com/coverdeck/coverdeck/internal/domain/model"
)

// SessionType mirrors the upload type of the session's originating artifact.
type SessionType string

const (
	SessionUploaded       SessionType = "uploaded"
	SessionCarriedForward SessionType = "carried-forward"
)

// Session describes one merged artifact inside a report. ID is the upload's
// order number. SourceSHA is set on carried-forward sessions and references
// the ancestor commit the data was reused from.
type Session struct {
	ID        int         `json:"id"`
	Flags     []string    `json:"flags"`
	Type      SessionType `json:"type"`
	SourceSHA string      `json:"source_sha,omitempty"`
}

// LineHits maps session ID to hit count for one line.
type LineHits map[int]int

// FileCoverage is the per-file line coverage, keyed by 1-based line number.
type FileCoverage struct {
	Lines map[int]LineHits `json:"lines"`
}

// Report is a merged coverage report: per-file, per-line, per-session hits
// plus the session index.
type Report struct {
	Files    map[string]*FileCoverage `json:"files"`
	Sessions map[int]*Session         `json:"sessions"`
}

// New returns an empty report.
func New() *Report {
	return &Report{
		Files:    make(map[string]*FileCoverage),
		Sessions: make(map[int]*Session),
	}
}

// Empty reports whether the report holds no sessions.
func (r *Report) Empty() bool {
	return len(r.Sessions) == 0
}

// Merge folds incoming into r. Incoming sessions replace same-ID sessions;
// line hits are recorded per session, so merging is commutative across
// distinct session IDs.
func (r *Report) Merge(incoming *Report) {
	for id, s := range incoming.Sessions {
		r.Sessions[id] = s
	}
	for path, fc := range incoming.Files {
		dst, ok := r.Files[path]
		if !ok {
			dst = &FileCoverage{Lines: make(map[int]LineHits)}
			r.Files[path] = dst
		}
		for line, hits := range fc.Lines {
			lh, ok := dst.Lines[line]
			if !ok {
				lh = make(LineHits)
				dst.Lines[line] = lh
			}
			for sid, n := range hits {
				lh[sid] += n
			}
		}
	}
}

// Totals computes the aggregate summary across all sessions. A line counts
// as hit when any session recorded a positive hit count for it.
func (r *Report) Totals() model.Totals {
	t := model.Totals{Files: len(r.Files)}
	for _, fc := range r.Files {
		for _, lh := range fc.Lines {
			t.Lines++
			if totalHits(lh) > 0 {
				t.Hits++
			}
		}
	}
	t.Misses = t.Lines - t.Hits
	t.Coverage = coveragePct(t.Hits, t.Lines)
	return t
}

// SessionTotals computes the summary restricted to one session's recorded lines.
func (r *Report) SessionTotals(sessionID int) model.Totals {
	var t model.Totals
	for _, fc := range r.Files {
		tracked := false
		for _, lh := range fc.Lines {
			hits, ok := lh[sessionID]
			if !ok {
				continue
			}
			tracked = true
			t.Lines++
			if hits > 0 {
				t.Hits++
			}
		}
		if tracked {
			t.Files++
		}
	}
	t.Misses = t.Lines - t.Hits
	t.Coverage = coveragePct(t.Hits, t.Lines)
	return t
}

// HasFlag reports whether any session in the report declared the flag.
func (r *Report) HasFlag(flag string) bool {
	for _, s := range r.Sessions {
		for _, f := range s.Flags {
			if f == flag {
				return true
			}
		}
	}
	return false
}

// FlagSubset extracts the sessions carrying the flag together with only their
// line contributions. Files with no remaining lines are omitted.
func (r *Report) FlagSubset(flag string) *Report {
	sub := New()
	for id, s := range r.Sessions {
		for _, f := range s.Flags {
			if f == flag {
				sub.Sessions[id] = s
				break
			}
		}
	}
	if len(sub.Sessions) == 0 {
		return sub
	}
	for path, fc := range r.Files {
		var dst *FileCoverage
		for line, lh := range fc.Lines {
			for sid, n := range lh {
				if _, ok := sub.Sessions[sid]; !ok {
					continue
				}
				if dst == nil {
					dst = &FileCoverage{Lines: make(map[int]LineHits)}
					sub.Files[path] = dst
				}
				if _, ok := dst.Lines[line]; !ok {
					dst.Lines[line] = make(LineHits)
				}
				dst.Lines[line][sid] = n
			}
		}
	}
	return sub
}

// Remapped returns a copy of r with sessions renumbered per ids (old ID to
// new ID), marked with the given type and source SHA. Sessions absent from
// ids are dropped along with their line contributions.
func (r *Report) Remapped(ids map[int]int, typ SessionType, sourceSHA string) *Report {
	out := New()
	for oldID, s := range r.Sessions {
		newID, ok := ids[oldID]
		if !ok {
			continue
		}
		out.Sessions[newID] = &Session{
			ID:        newID,
			Flags:     append([]string(nil), s.Flags...),
			Type:      typ,
			SourceSHA: sourceSHA,
		}
	}
	for path, fc := range r.Files {
		var dst *FileCoverage
		for line, lh := range fc.Lines {
			for oldID, n := range lh {
				newID, ok := ids[oldID]
				if !ok {
					continue
				}
				if dst == nil {
					dst = &FileCoverage{Lines: make(map[int]LineHits)}
					out.Files[path] = dst
				}
				if _, ok := dst.Lines[line]; !ok {
					dst.Lines[line] = make(LineHits)
				}
				dst.Lines[line][newID] = n
			}
		}
	}
	return out
}

// SessionIDs returns the session IDs in ascending order.
func (r *Report) SessionIDs() []int {
	ids := make([]int, 0, len(r.Sessions))
	for id := range r.Sessions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func totalHits(lh LineHits) int {
	var n int
	for _, hits := range lh {
		n += hits
	}
	return n
}

func coveragePct(hits, lines int) float64 {
	if lines == 0 {
		return 0
	}
	return math.Round(float64(hits)/float64(lines)*100*100) / 100
}
