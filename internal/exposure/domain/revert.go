package domain

import (
	"math"
	"strings"
)

// RevertResult is the outcome of reversing one import on one group window.
type RevertResult struct {
	Results  []SampleRecord
	Removed  int
	Restored int
}

// RevertImport drops every row tagged with jobID and puts back the rows that
// import overwrote. A replaced row is not restored when a row with its compound
// key, its replaced-map key or (for bare sample-number entries) its sample number
// is already present, so later imports and double entries win.
func RevertImport(results []SampleRecord, jobID string, replaced map[string]SampleRecord) RevertResult {
	var out RevertResult
	kept := make([]SampleRecord, 0, len(results)+len(replaced))
	present := map[string]struct{}{}
	presentNumbers := map[string]struct{}{}

	mark := func(r SampleRecord) {
		if key, ok := r.CompoundKey(); ok {
			present[key] = struct{}{}
			presentNumbers[*r.SampleNumber] = struct{}{}
		}
	}

	for _, r := range results {
		r = NormalizeStored(r)
		if jobID != "" && r.JobID() == jobID {
			out.Removed++
			continue
		}
		kept = append(kept, r)
		mark(r)
	}

	// Compound-key entries first so a bare sample-number duplicate of the same
	// row is recognised as already restored.
	keys := sortedKeys(replaced)
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.Contains(k, "::") {
			ordered = append(ordered, k)
		}
	}
	for _, k := range keys {
		if !strings.Contains(k, "::") {
			ordered = append(ordered, k)
		}
	}

	for _, mapKey := range ordered {
		row := NormalizeStored(replaced[mapKey])
		if _, ok := present[mapKey]; ok {
			continue
		}
		if ck, ok := row.CompoundKey(); ok {
			if _, dup := present[ck]; dup {
				continue
			}
		}
		if !strings.Contains(mapKey, "::") {
			if _, dup := presentNumbers[mapKey]; dup {
				continue
			}
		}
		kept = append(kept, row)
		present[mapKey] = struct{}{}
		mark(row)
		out.Restored++
	}

	out.Results = Finalize(kept)
	return out
}

// RemoveAgentRows drops every row of agentKey from the window.
func RemoveAgentRows(results []SampleRecord, agentKey string) ([]SampleRecord, int) {
	kept := make([]SampleRecord, 0, len(results))
	removed := 0
	for _, r := range results {
		r = NormalizeStored(r)
		if r.AgentKey == agentKey {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	return Finalize(kept), removed
}

// DeletionCriterion selects rows to delete. Every populated field must match.
type DeletionCriterion struct {
	SampleNumber *string  `json:"sampleNumber,omitempty"`
	SampleDate   *string  `json:"sampleDate,omitempty"`
	AgentKey     *string  `json:"agentKey,omitempty"`
	TWA          *float64 `json:"twa,omitempty"`
}

// Empty reports whether the criterion constrains nothing.
func (c DeletionCriterion) Empty() bool {
	return c.SampleNumber == nil && c.SampleDate == nil && c.AgentKey == nil && c.TWA == nil
}

// Matches reports whether r satisfies every populated field of c.
func (c DeletionCriterion) Matches(r SampleRecord) bool {
	if c.Empty() {
		return false
	}
	if c.SampleNumber != nil {
		if r.SampleNumber == nil || strings.TrimSpace(*c.SampleNumber) != *r.SampleNumber {
			return false
		}
	}
	if c.SampleDate != nil && strings.TrimSpace(*c.SampleDate) != r.SampleDate {
		return false
	}
	if c.AgentKey != nil && Slugify(*c.AgentKey) != r.AgentKey {
		return false
	}
	if c.TWA != nil && math.Abs(*c.TWA-r.TWAValue()) > tolerance {
		return false
	}
	return true
}

// DeletionResult is the outcome of applying deletion criteria to a window.
type DeletionResult struct {
	Results []SampleRecord
	Removed int
	// NotFound holds the indexes of criteria that matched no row.
	NotFound []int
}

// DeleteMatching removes every row matched by at least one criterion.
func DeleteMatching(results []SampleRecord, criteria []DeletionCriterion) DeletionResult {
	matched := make([]bool, len(criteria))
	kept := make([]SampleRecord, 0, len(results))
	var out DeletionResult
	for _, r := range results {
		r = NormalizeStored(r)
		hit := false
		for i, c := range criteria {
			if c.Matches(r) {
				matched[i] = true
				hit = true
			}
		}
		if hit {
			out.Removed++
			continue
		}
		kept = append(kept, r)
	}
	for i, ok := range matched {
		if !ok {
			out.NotFound = append(out.NotFound, i)
		}
	}
	out.Results = Finalize(kept)
	return out
}
