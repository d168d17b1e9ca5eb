package report

import "github.com/coverdeck/coverdeck/internal/domain/model"

// FileDelta summarizes the coverage change for one file between two reports.
type FileDelta struct {
	BaseTotals model.Totals `json:"base_totals"`
	HeadTotals model.Totals `json:"head_totals"`
	// NewlyCovered and NoLongerCovered count lines whose hit state flipped.
	NewlyCovered    int `json:"newly_covered"`
	NoLongerCovered int `json:"no_longer_covered"`
}

// Comparison is the diff between a base and a head report, consumed by the
// downstream notification and diffing stages.
type Comparison struct {
	BaseTotals model.Totals         `json:"base_totals"`
	HeadTotals model.Totals         `json:"head_totals"`
	Files      map[string]FileDelta `json:"files"`
}

// Diff compares two reports file by file. Files present in only one report
// still appear, with zero totals on the missing side.
func Diff(base, head *Report) Comparison {
	cmp := Comparison{
		BaseTotals: base.Totals(),
		HeadTotals: head.Totals(),
		Files:      make(map[string]FileDelta),
	}

	paths := make(map[string]bool)
	for path := range base.Files {
		paths[path] = true
	}
	for path := range head.Files {
		paths[path] = true
	}

	for path := range paths {
		delta := FileDelta{
			BaseTotals: fileTotals(base.Files[path]),
			HeadTotals: fileTotals(head.Files[path]),
		}
		baseCovered := coveredLines(base.Files[path])
		headCovered := coveredLines(head.Files[path])
		for line := range headCovered {
			if !baseCovered[line] {
				delta.NewlyCovered++
			}
		}
		for line := range baseCovered {
			if !headCovered[line] {
				delta.NoLongerCovered++
			}
		}
		cmp.Files[path] = delta
	}

	return cmp
}

func fileTotals(fc *FileCoverage) model.Totals {
	var t model.Totals
	if fc == nil {
		return t
	}
	t.Files = 1
	for _, lh := range fc.Lines {
		t.Lines++
		if totalHits(lh) > 0 {
			t.Hits++
		}
	}
	t.Misses = t.Lines - t.Hits
	t.Coverage = coveragePct(t.Hits, t.Lines)
	return t
}

func coveredLines(fc *FileCoverage) map[int]bool {
	covered := make(map[int]bool)
	if fc == nil {
		return covered
	}
	for line, lh := range fc.Lines {
		if totalHits(lh) > 0 {
			covered[line] = true
		}
	}
	return covered
}
