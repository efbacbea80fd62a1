package domain

import (
	"math"
	"sort"
)

// MergeResult is the outcome of reconciling a group's window with an incoming batch.
type MergeResult struct {
	// Results is the merged window, sorted and truncated.
	Results []SampleRecord
	// Replaced holds the prior version of every row this batch overwrote, keyed by
	// compound key and, when not already present, by bare sample number.
	Replaced map[string]SampleRecord
	// Written counts incoming rows (new or changed) that made it into Results.
	// Rows truncated out of the window are not counted.
	Written int
	// SignatureChanged reports whether any keyed (TWA, agent) pair differs.
	SignatureChanged bool
	// HasKeyless reports whether the batch carried rows without a sample number.
	HasKeyless bool
	// ChangedAgents lists the agent keys touched by the merge, sorted.
	ChangedAgents []string
}

// Unchanged reports whether the merge left every statistical input as it was.
func (m MergeResult) Unchanged() bool {
	return !m.SignatureChanged && !m.HasKeyless
}

// arena keeps rows in insertion order with a compound-key index. Keyless rows
// live in the arena only.
type arena struct {
	rows    []SampleRecord
	live    []bool
	written []bool
	index   map[string]int
}

func newArena(capacity int) *arena {
	return &arena{
		rows:    make([]SampleRecord, 0, capacity),
		live:    make([]bool, 0, capacity),
		written: make([]bool, 0, capacity),
		index:   make(map[string]int, capacity),
	}
}

func (a *arena) push(r SampleRecord, written bool) {
	if key, ok := r.CompoundKey(); ok {
		if pos, exists := a.index[key]; exists {
			a.live[pos] = false
		}
		a.index[key] = len(a.rows)
	}
	a.rows = append(a.rows, r)
	a.live = append(a.live, true)
	a.written = append(a.written, written)
}

func (a *arena) overwrite(pos int, r SampleRecord) {
	a.rows[pos] = r
	a.written[pos] = true
}

func (a *arena) lookup(key string) (SampleRecord, int, bool) {
	pos, ok := a.index[key]
	if !ok {
		return SampleRecord{}, 0, false
	}
	return a.rows[pos], pos, true
}

// window returns the live rows sorted and truncated like Finalize, plus how
// many of them were written by the current merge.
func (a *arena) window() ([]SampleRecord, int) {
	rows := make([]SampleRecord, 0, len(a.rows))
	written := make([]bool, 0, len(a.rows))
	for i, r := range a.rows {
		if a.live[i] {
			rows = append(rows, r)
			written = append(written, a.written[i])
		}
	}
	order := windowOrder(rows)
	out := make([]SampleRecord, len(order))
	count := 0
	for i, j := range order {
		out[i] = rows[j]
		if written[j] {
			count++
		}
	}
	return out, count
}

// Merge reconciles existing rows with an incoming normalized batch for one group.
// Incoming rows win on compound-key collisions. A collision whose content is
// identical keeps the stored row and its original job tag.
func Merge(existing, incoming []SampleRecord, jobID string) MergeResult {
	a := newArena(len(existing) + len(incoming))
	for _, r := range existing {
		a.push(NormalizeStored(r), false)
	}

	result := MergeResult{Replaced: map[string]SampleRecord{}}
	changed := map[string]struct{}{}

	for _, r := range incoming {
		r = NormalizeStored(r)
		key, ok := r.CompoundKey()
		if !ok {
			result.HasKeyless = true
			changed[r.AgentKey] = struct{}{}
			a.push(r, true)
			continue
		}
		prev, pos, exists := a.lookup(key)
		if exists {
			if prev.sameContent(r) {
				continue
			}
			if prev.JobID() != jobID {
				recordReplaced(result.Replaced, key, prev)
			}
			a.overwrite(pos, r)
			continue
		}
		a.push(r, true)
	}

	result.Results, result.Written = a.window()

	before := signature(existing)
	after := signature(result.Results)
	for key, old := range before {
		cur, ok := after[key]
		if !ok || !old.equal(cur) {
			result.SignatureChanged = true
			changed[old.agentKey] = struct{}{}
			if ok {
				changed[cur.agentKey] = struct{}{}
			}
		}
	}
	for key, cur := range after {
		if _, ok := before[key]; !ok {
			result.SignatureChanged = true
			changed[cur.agentKey] = struct{}{}
		}
	}

	result.ChangedAgents = sortedKeys(changed)
	return result
}

func recordReplaced(replaced map[string]SampleRecord, key string, prev SampleRecord) {
	if _, ok := replaced[key]; !ok {
		replaced[key] = prev
	}
	if prev.SampleNumber != nil {
		if _, ok := replaced[*prev.SampleNumber]; !ok {
			replaced[*prev.SampleNumber] = prev
		}
	}
}

type signatureEntry struct {
	twa      float64
	agentKey string
}

func (e signatureEntry) equal(o signatureEntry) bool {
	return e.agentKey == o.agentKey && math.Abs(e.twa-o.twa) <= tolerance
}

func signature(rows []SampleRecord) map[string]signatureEntry {
	out := make(map[string]signatureEntry, len(rows))
	for _, r := range rows {
		r = NormalizeStored(r)
		if key, ok := r.CompoundKey(); ok {
			out[key] = signatureEntry{twa: r.TWAValue(), agentKey: r.AgentKey}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
