package domain

import "time"

// DefaultOEL applies to agents missing from the directory.
const DefaultOEL = 0.05

// OELSource resolves an agent's occupational exposure limit.
type OELSource interface {
	OEL(agentKey string) (float64, bool)
}

// OELMap is a fixed OELSource keyed by agent key.
type OELMap map[string]float64

func (m OELMap) OEL(agentKey string) (float64, bool) {
	v, ok := m[agentKey]
	return v, ok
}

func resolveOEL(src OELSource, agentKey string, fallback float64) float64 {
	if src != nil {
		if v, ok := src.OEL(agentKey); ok && v > 0 {
			return v
		}
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultOEL
}

// Baseline is the per-agent state of a group before an import touched it. Undo
// adopts a baseline snapshot when the recomputed one is equivalent, so a
// reverted group carries the same snapshots it had before.
type Baseline struct {
	Latest  map[string]Snapshot   `json:"latest,omitempty"`
	History map[string][]Snapshot `json:"history,omitempty"`
}

// AggregateInput carries everything the aggregator reads.
type AggregateInput struct {
	Results         []SampleRecord
	PreviousLatest  map[string]Snapshot
	PreviousHistory map[string][]Snapshot
	Baseline        *Baseline
	Directory       OELSource
	DefaultOEL      float64
	Now             time.Time
}

// AggregateResult is the recomputed per-agent state of a group.
type AggregateResult struct {
	Latest  map[string]Snapshot
	History map[string][]Snapshot
	Top     *Snapshot
	// Updated lists agents whose latest snapshot or history must be written.
	Updated []string
	// Removed lists agents whose entries must be deleted.
	Removed []string
	Reused  int
}

// Aggregate recomputes per-agent snapshots for a sorted result window and picks
// the top snapshot.
func Aggregate(in AggregateInput) AggregateResult {
	valid := map[string][]SampleRecord{}
	names := map[string]string{}
	keys := map[string]struct{}{}
	for _, r := range in.Results {
		keys[r.AgentKey] = struct{}{}
		if _, ok := names[r.AgentKey]; !ok && r.Agent != "" {
			names[r.AgentKey] = r.Agent
		}
		if r.Valid() && len(valid[r.AgentKey]) < MaxResultsUsed {
			valid[r.AgentKey] = append(valid[r.AgentKey], r)
		}
	}
	for key := range in.PreviousLatest {
		keys[key] = struct{}{}
	}

	out := AggregateResult{
		Latest:  make(map[string]Snapshot, len(keys)),
		History: make(map[string][]Snapshot, len(keys)),
	}

	for _, key := range sortedKeys(keys) {
		used := valid[key]
		prev, hadPrev := in.PreviousLatest[key]
		if len(used) == 0 {
			if hadPrev {
				out.Removed = append(out.Removed, key)
			}
			continue
		}

		name := names[key]
		if name == "" {
			name = prev.AgentName
		}
		if name == "" {
			name = key
		}
		next := BuildSnapshot(key, name, used, resolveOEL(in.Directory, key, in.DefaultOEL), in.Now)

		snap := next
		switch {
		case hadPrev && prev.Equivalent(next):
			snap = prev
			out.History[key] = in.PreviousHistory[key]
			out.Reused++
		case in.Baseline != nil && baselineEquivalent(in.Baseline, key, next):
			snap = in.Baseline.Latest[key]
			out.History[key] = in.Baseline.History[key]
			out.Updated = append(out.Updated, key)
		default:
			out.History[key] = appendHistory(in.PreviousHistory[key], next)
			out.Updated = append(out.Updated, key)
		}
		out.Latest[key] = snap

		if out.Top == nil || outranks(snap, *out.Top) {
			top := snap
			out.Top = &top
		}
	}

	if out.Top == nil && len(in.Results) > 0 {
		fallback := fallbackSnapshot(in.Results, in.DefaultOEL, in.Now)
		out.Top = &fallback
	}
	return out
}

func baselineEquivalent(b *Baseline, key string, next Snapshot) bool {
	base, ok := b.Latest[key]
	return ok && base.Equivalent(next)
}

// fallbackSnapshot summarizes the whole window under the unknown agent when no
// agent produced a snapshot.
func fallbackSnapshot(results []SampleRecord, defaultOEL float64, now time.Time) Snapshot {
	used := Preview(results)
	return BuildSnapshot(UnknownAgentKey, "Unknown", used, resolveOEL(nil, UnknownAgentKey, defaultOEL), now)
}

// RecomputeOptions configures Recompute.
type RecomputeOptions struct {
	Directory  OELSource
	DefaultOEL float64
	Now        time.Time
	Baseline   *Baseline
	// InputsUnchanged is set by callers whose merge left every keyed TWA and
	// agent assignment as it was. It enables the skip gate.
	InputsUnchanged bool
}

// Recomputation is the set of document changes produced for one group.
type Recomputation struct {
	Results []SampleRecord
	Preview []SampleRecord
	// Empty means the window has no rows and the document should be deleted.
	Empty   bool
	Skipped bool

	Latest     map[string]Snapshot
	History    map[string][]Snapshot
	Updated    []string
	Removed    []string
	Top        *Snapshot
	TopChanged bool
	Reused     int
}

// Recompute derives the new state of doc for a finalized result window.
func Recompute(doc *GroupDocument, results []SampleRecord, opts RecomputeOptions) Recomputation {
	rc := Recomputation{
		Results: results,
		Preview: Preview(results),
		Empty:   len(results) == 0,
	}
	if rc.Empty {
		rc.Removed = sortedKeys(doc.LatestExceedanceFractionByAgent)
		return rc
	}

	if opts.InputsUnchanged && canSkip(doc, results, opts) {
		rc.Skipped = true
		rc.Latest = doc.LatestExceedanceFractionByAgent
		rc.History = doc.ExceedanceFractionHistoryByAgent
		rc.Top = doc.LatestExceedanceFraction
		rc.Reused = len(doc.LatestExceedanceFractionByAgent)
		return rc
	}

	agg := Aggregate(AggregateInput{
		Results:         results,
		PreviousLatest:  doc.LatestExceedanceFractionByAgent,
		PreviousHistory: doc.ExceedanceFractionHistoryByAgent,
		Baseline:        opts.Baseline,
		Directory:       opts.Directory,
		DefaultOEL:      opts.DefaultOEL,
		Now:             opts.Now,
	})
	rc.Latest = agg.Latest
	rc.History = agg.History
	rc.Updated = agg.Updated
	rc.Removed = agg.Removed
	rc.Reused = agg.Reused

	prevTop := doc.LatestExceedanceFraction
	switch {
	case agg.Top == nil:
	case prevTop == nil || !prevTop.Equivalent(*agg.Top):
		rc.Top = agg.Top
		rc.TopChanged = true
	default:
		rc.Top = prevTop
	}
	return rc
}

// canSkip reports whether the document's snapshots still describe results:
// every agent with usable rows already has a current-schema snapshot under an
// unchanged OEL, and no stored snapshot lost its rows.
func canSkip(doc *GroupDocument, results []SampleRecord, opts RecomputeOptions) bool {
	if doc.LatestExceedanceFraction == nil {
		return false
	}
	withRows := map[string]struct{}{}
	for _, r := range results {
		if !r.Valid() {
			continue
		}
		withRows[r.AgentKey] = struct{}{}
		prev, ok := doc.LatestExceedanceFractionByAgent[r.AgentKey]
		if !ok || !prev.Current() {
			return false
		}
		if !oelEqual(prev.OELNumber, resolveOEL(opts.Directory, r.AgentKey, opts.DefaultOEL)) {
			return false
		}
	}
	for key := range doc.LatestExceedanceFractionByAgent {
		if _, ok := withRows[key]; !ok {
			return false
		}
	}
	return true
}

// ChangedAgents merges agent key lists into one sorted, deduplicated list.
func ChangedAgents(lists ...[]string) []string {
	set := map[string]struct{}{}
	for _, l := range lists {
		for _, k := range l {
			set[k] = struct{}{}
		}
	}
	return sortedKeys(set)
}
