package domain

import (
	"math"
	"time"
)

// CurrentSnapshotSchema is the version stamped on snapshots built by this engine.
// Snapshots below it are recomputed once before they can be reused.
//
//	0: legacy snapshots without AIHA fields
//	1: AIHA rating, ratio and 95th percentile populated
const CurrentSnapshotSchema = 1

// Snapshot is a computed exceedance result plus the inputs used to compute it.
type Snapshot struct {
	ExceedanceFraction    float64        `json:"exceedanceFraction"`
	DateCalculated        time.Time      `json:"dateCalculated"`
	OELNumber             float64        `json:"OELNumber"`
	MostRecentNumber      int            `json:"mostRecentNumber"`
	ResultsUsed           []SampleRecord `json:"resultsUsed"`
	AgentKey              string         `json:"agentKey"`
	AgentName             string         `json:"agentName"`
	AIHARating            int            `json:"aihaRating"`
	NinetyFifthPercentile float64        `json:"ninetyFifthPercentile"`
	AIHARatio             float64        `json:"aihaRatio"`
	SchemaVersion         int            `json:"schemaVersion"`
}

// BuildSnapshot computes a snapshot from the rows an agent contributes.
func BuildSnapshot(agentKey, agentName string, used []SampleRecord, oel float64, now time.Time) Snapshot {
	twas := make([]float64, 0, len(used))
	for _, r := range used {
		twas = append(twas, r.TWAValue())
	}
	fraction := 0.0
	if len(twas) >= 2 {
		fraction = ExceedanceProbability(twas, oel)
	}
	p95 := Percentile95(twas)
	ratio := 0.0
	if oel > 0 {
		ratio = p95 / oel
	}
	resultsUsed := make([]SampleRecord, len(used))
	copy(resultsUsed, used)
	return Snapshot{
		ExceedanceFraction:    fraction,
		DateCalculated:        now.UTC(),
		OELNumber:             oel,
		MostRecentNumber:      len(used),
		ResultsUsed:           resultsUsed,
		AgentKey:              agentKey,
		AgentName:             agentName,
		AIHARating:            AIHARating(p95, oel),
		NinetyFifthPercentile: p95,
		AIHARatio:             ratio,
		SchemaVersion:         CurrentSnapshotSchema,
	}
}

// compactSample is the part of a used sample that determines a snapshot.
type compactSample struct {
	sampleNumber string
	sampleDate   string
	agentKey     string
	twa          float64
}

func compact(rows []SampleRecord) []compactSample {
	out := make([]compactSample, 0, len(rows))
	for _, r := range rows {
		c := compactSample{sampleDate: r.SampleDate, agentKey: r.AgentKey, twa: r.TWAValue()}
		if r.SampleNumber != nil {
			c.sampleNumber = *r.SampleNumber
		}
		out = append(out, c)
	}
	return out
}

func compactEqual(a, b []SampleRecord) bool {
	ca, cb := compact(a), compact(b)
	if len(ca) != len(cb) {
		return false
	}
	for i := range ca {
		if ca[i].sampleNumber != cb[i].sampleNumber ||
			ca[i].sampleDate != cb[i].sampleDate ||
			ca[i].agentKey != cb[i].agentKey ||
			math.Abs(ca[i].twa-cb[i].twa) > tolerance {
			return false
		}
	}
	return true
}

// Current reports whether the snapshot was built under the current schema.
func (s Snapshot) Current() bool {
	return s.SchemaVersion >= CurrentSnapshotSchema
}

// Equivalent reports whether prev can stand in for next: same fraction, sample
// count, inputs and OEL, and prev was built under the current schema.
func (s Snapshot) Equivalent(next Snapshot) bool {
	return s.Current() &&
		s.AgentKey == next.AgentKey &&
		math.Abs(s.ExceedanceFraction-next.ExceedanceFraction) <= tolerance &&
		s.MostRecentNumber == next.MostRecentNumber &&
		oelEqual(s.OELNumber, next.OELNumber) &&
		compactEqual(s.ResultsUsed, next.ResultsUsed)
}

// outranks reports whether candidate should replace top: a strictly greater
// fraction, or an equal one backed by more samples.
func outranks(candidate, top Snapshot) bool {
	diff := candidate.ExceedanceFraction - top.ExceedanceFraction
	if diff > tolerance {
		return true
	}
	return math.Abs(diff) <= tolerance && candidate.MostRecentNumber > top.MostRecentNumber
}

func oelEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12
}

func appendHistory(history []Snapshot, snap Snapshot) []Snapshot {
	out := make([]Snapshot, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, snap)
	if len(out) > MaxAgentHistory {
		out = out[len(out)-MaxAgentHistory:]
	}
	return out
}
