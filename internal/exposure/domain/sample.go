// Package domain holds the pure exposure engine: sample normalization, the
// lognormal statistics, the merge/dedup engine and the per-agent aggregator.
// Nothing in this package performs I/O.
package domain

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxResults bounds the rolling result window of a group document.
	MaxResults = 30
	// MaxResultsUsed bounds the samples feeding one snapshot and the preview.
	MaxResultsUsed = 6
	// MaxAgentHistory bounds each per-agent snapshot history.
	MaxAgentHistory = 50
	// MaxAgentKeyLength bounds derived agent keys.
	MaxAgentKeyLength = 120
	// UnknownAgentKey is used when no agent name can be slugified.
	UnknownAgentKey = "unknown"

	tolerance = 1e-6
)

// SampleRecord is a canonical sample row as stored in a group document.
type SampleRecord struct {
	SampleNumber  *string  `json:"sampleNumber"`
	SampleDate    string   `json:"sampleDate"`
	ExposureGroup string   `json:"exposureGroup"`
	Agent         string   `json:"agent"`
	AgentKey      string   `json:"agentKey"`
	TWA           *float64 `json:"twa"`
	Notes         string   `json:"notes,omitempty"`
	ImportJobID   *string  `json:"importJobId"`
}

// RawSample is an incoming row before normalization. TWA may arrive as a
// number, a numeric string or null.
type RawSample struct {
	SampleNumber  string `json:"sampleNumber"`
	SampleDate    string `json:"sampleDate"`
	ExposureGroup string `json:"exposureGroup"`
	Agent         string `json:"agent"`
	AgentKey      string `json:"agentKey,omitempty"`
	TWA           any    `json:"twa"`
	Notes         string `json:"notes,omitempty"`
}

// CompoundKey returns "sampleNumber::agentKey", or false for keyless rows.
func (s SampleRecord) CompoundKey() (string, bool) {
	if s.SampleNumber == nil || *s.SampleNumber == "" {
		return "", false
	}
	return *s.SampleNumber + "::" + s.AgentKey, true
}

// TWAValue returns the measurement, treating null as zero.
func (s SampleRecord) TWAValue() float64 {
	if s.TWA == nil {
		return 0
	}
	return *s.TWA
}

// Valid reports whether the row carries a usable exposure value.
func (s SampleRecord) Valid() bool {
	return s.TWAValue() > 0
}

// JobID returns the provenance job, or "" when untagged.
func (s SampleRecord) JobID() string {
	if s.ImportJobID == nil {
		return ""
	}
	return *s.ImportJobID
}

// sameContent compares everything except provenance.
func (s SampleRecord) sameContent(o SampleRecord) bool {
	return strPtrEqual(s.SampleNumber, o.SampleNumber) &&
		s.SampleDate == o.SampleDate &&
		s.ExposureGroup == o.ExposureGroup &&
		s.Agent == o.Agent &&
		s.AgentKey == o.AgentKey &&
		math.Abs(s.TWAValue()-o.TWAValue()) <= tolerance &&
		s.Notes == o.Notes
}

// NormalizeIncoming canonicalizes a raw row from an import and tags it with jobID.
func NormalizeIncoming(raw RawSample, jobID string) SampleRecord {
	rec := SampleRecord{
		SampleNumber:  trimmedOrNil(raw.SampleNumber),
		SampleDate:    strings.TrimSpace(raw.SampleDate),
		ExposureGroup: strings.TrimSpace(raw.ExposureGroup),
		Agent:         strings.TrimSpace(raw.Agent),
		TWA:           coerceTWA(raw.TWA),
		Notes:         strings.TrimSpace(raw.Notes),
	}
	rec.AgentKey = resolveAgentKey(raw.AgentKey, rec.Agent)
	if jobID != "" {
		rec.ImportJobID = &jobID
	}
	return rec
}

// NormalizeStored canonicalizes a row already held by a document. Its job tag is kept
// and a missing TWA becomes zero.
func NormalizeStored(rec SampleRecord) SampleRecord {
	if rec.SampleNumber != nil {
		rec.SampleNumber = trimmedOrNil(*rec.SampleNumber)
	}
	rec.Agent = strings.TrimSpace(rec.Agent)
	rec.AgentKey = resolveAgentKey(rec.AgentKey, rec.Agent)
	if rec.TWA == nil || math.IsNaN(*rec.TWA) {
		zero := 0.0
		rec.TWA = &zero
	}
	return rec
}

// AgentKeyFor derives the slug used as an agent key.
func AgentKeyFor(agent string) string {
	return resolveAgentKey("", agent)
}

func resolveAgentKey(explicit, agent string) string {
	if key := Slugify(explicit); key != UnknownAgentKey {
		return key
	}
	return Slugify(agent)
}

// Slugify lowercases s, replaces runs of non-alphanumerics with one hyphen and
// caps the result at MaxAgentKeyLength.
func Slugify(s string) string {
	var b strings.Builder
	pendingHyphen := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingHyphen && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingHyphen = false
			b.WriteRune(r)
			continue
		}
		pendingHyphen = true
	}
	out := b.String()
	if len(out) > MaxAgentKeyLength {
		out = strings.TrimRight(out[:MaxAgentKeyLength], "-")
	}
	if out == "" {
		return UnknownAgentKey
	}
	return out
}

func coerceTWA(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	return &f
}

func trimmedOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var sampleDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ParseSampleDate parses the supported date layouts. Unparseable dates yield the zero epoch.
func ParseSampleDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range sampleDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Unix(0, 0).UTC()
}

// SortByDateDesc orders rows most-recent first; ties keep their relative order.
func SortByDateDesc(rows []SampleRecord) {
	idx := dateOrder(rows)
	sorted := make([]SampleRecord, len(rows))
	for i, j := range idx {
		sorted[i] = rows[j]
	}
	copy(rows, sorted)
}

func dateOrder(rows []SampleRecord) []int {
	stamps := make([]int64, len(rows))
	for i := range rows {
		stamps[i] = ParseSampleDate(rows[i].SampleDate).UnixNano()
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return stamps[idx[a]] > stamps[idx[b]] })
	return idx
}

// windowOrder returns the indexes of the rows Finalize keeps, in window order.
func windowOrder(rows []SampleRecord) []int {
	idx := dateOrder(rows)
	if len(idx) > MaxResults {
		idx = idx[:MaxResults]
	}
	return idx
}

// Preview returns the first MaxResultsUsed valid rows of an already sorted window.
func Preview(results []SampleRecord) []SampleRecord {
	out := make([]SampleRecord, 0, MaxResultsUsed)
	for _, r := range results {
		if len(out) == MaxResultsUsed {
			break
		}
		if r.Valid() {
			out = append(out, r)
		}
	}
	return out
}

// Finalize sorts rows by date and truncates them to the result window.
func Finalize(rows []SampleRecord) []SampleRecord {
	order := windowOrder(rows)
	out := make([]SampleRecord, len(order))
	for i, j := range order {
		out[i] = rows[j]
	}
	return out
}
