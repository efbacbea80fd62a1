package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// groupNamespace seeds deterministic exposure group IDs.
var groupNamespace = uuid.MustParse("6c4d2b71-5f0e-4a8e-9f4b-3f1c2a7d9e10")

// GroupID derives the stable ID of an exposure group from its organization and
// name. Names differing only in case or whitespace runs share an ID.
func GroupID(organizationID uuid.UUID, groupName string) string {
	return uuid.NewSHA1(groupNamespace, []byte(organizationID.String()+"/"+canonicalGroupName(groupName))).String()
}

func canonicalGroupName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// PlantJob is the plant/job split of a group name as reported by the extractor.
type PlantJob struct {
	PlantName   string `json:"plantName"`
	JobName     string `json:"jobName"`
	PlantKey    string `json:"plantKey"`
	JobKey      string `json:"jobKey"`
	NeedsReview bool   `json:"needsReview"`
}

// GroupDocument is the persisted state of one exposure group.
type GroupDocument struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	Name           string    `json:"name"`
	PlantJob       *PlantJob `json:"plantJob,omitempty"`

	Results                          []SampleRecord        `json:"results"`
	ResultsPreview                   []SampleRecord        `json:"resultsPreview"`
	LatestExceedanceFractionByAgent  map[string]Snapshot   `json:"latestExceedanceFractionByAgent"`
	ExceedanceFractionHistoryByAgent map[string][]Snapshot `json:"exceedanceFractionHistoryByAgent"`
	LatestExceedanceFraction         *Snapshot             `json:"latestExceedanceFraction,omitempty"`
	ExceedanceFractionHistory        []Snapshot            `json:"exceedanceFractionHistory"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewGroupDocument returns an empty document for a group seen for the first time.
func NewGroupDocument(id, organizationID, name string, now time.Time) *GroupDocument {
	return &GroupDocument{
		ID:                               id,
		OrganizationID:                   organizationID,
		Name:                             name,
		Results:                          []SampleRecord{},
		ResultsPreview:                   []SampleRecord{},
		LatestExceedanceFractionByAgent:  map[string]Snapshot{},
		ExceedanceFractionHistoryByAgent: map[string][]Snapshot{},
		ExceedanceFractionHistory:        []Snapshot{},
		CreatedAt:                        now.UTC(),
		UpdatedAt:                        now.UTC(),
	}
}

// Apply folds a recomputation into the in-memory document.
func (d *GroupDocument) Apply(rc Recomputation, now time.Time) {
	d.Results = rc.Results
	d.ResultsPreview = rc.Preview
	d.UpdatedAt = now.UTC()
	if rc.Skipped {
		return
	}
	if d.LatestExceedanceFractionByAgent == nil {
		d.LatestExceedanceFractionByAgent = map[string]Snapshot{}
	}
	if d.ExceedanceFractionHistoryByAgent == nil {
		d.ExceedanceFractionHistoryByAgent = map[string][]Snapshot{}
	}
	for _, key := range rc.Updated {
		d.LatestExceedanceFractionByAgent[key] = rc.Latest[key]
		d.ExceedanceFractionHistoryByAgent[key] = rc.History[key]
	}
	for _, key := range rc.Removed {
		delete(d.LatestExceedanceFractionByAgent, key)
		delete(d.ExceedanceFractionHistoryByAgent, key)
	}
	if rc.TopChanged && rc.Top != nil {
		top := *rc.Top
		d.LatestExceedanceFraction = &top
		d.ExceedanceFractionHistory = append(d.ExceedanceFractionHistory, top)
	}
}

// BaselineFor captures the document's state for the given agents.
func (d *GroupDocument) BaselineFor(agentKeys []string) Baseline {
	b := Baseline{Latest: map[string]Snapshot{}, History: map[string][]Snapshot{}}
	for _, key := range agentKeys {
		if snap, ok := d.LatestExceedanceFractionByAgent[key]; ok {
			b.Latest[key] = snap
			b.History[key] = d.ExceedanceFractionHistoryByAgent[key]
		}
	}
	return b
}

// CompactSnapshot is the audit view of a snapshot.
type CompactSnapshot struct {
	AgentKey           string  `json:"agentKey"`
	ExceedanceFraction float64 `json:"exceedanceFraction"`
	MostRecentNumber   int     `json:"mostRecentNumber"`
	AIHARating         int     `json:"aihaRating"`
	OELNumber          float64 `json:"OELNumber"`
}

// Summary is the compact before/after view recorded in audit entries.
type Summary struct {
	ResultCount int                        `json:"resultCount"`
	Agents      map[string]CompactSnapshot `json:"agents"`
	Top         *CompactSnapshot           `json:"top,omitempty"`
}

func compactSnapshot(s Snapshot) CompactSnapshot {
	return CompactSnapshot{
		AgentKey:           s.AgentKey,
		ExceedanceFraction: s.ExceedanceFraction,
		MostRecentNumber:   s.MostRecentNumber,
		AIHARating:         s.AIHARating,
		OELNumber:          s.OELNumber,
	}
}

// Summarize returns the compact view of a document; nil yields an empty summary.
func Summarize(d *GroupDocument) Summary {
	s := Summary{Agents: map[string]CompactSnapshot{}}
	if d == nil {
		return s
	}
	s.ResultCount = len(d.Results)
	for key, snap := range d.LatestExceedanceFractionByAgent {
		s.Agents[key] = compactSnapshot(snap)
	}
	if d.LatestExceedanceFraction != nil {
		top := compactSnapshot(*d.LatestExceedanceFraction)
		s.Top = &top
	}
	return s
}
