package offline

import "example.com/carevisits/internal/domain"

// Outcome is the fate of one record in a sync pass.
type Outcome string

const (
	OutcomeSynced       Outcome = "synced"
	OutcomeFailed       Outcome = "failed"
	OutcomeManualReview Outcome = "manual-review"
)

// RecordResult reports how a single record was replayed.
type RecordResult struct {
	RecordID   string            `json:"record_id"`
	Type       domain.RecordType `json:"type"`
	Outcome    Outcome           `json:"outcome"`
	EntityType string            `json:"entity_type,omitempty"`
	EntityID   string            `json:"entity_id,omitempty"`
	ErrorKind  string            `json:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// ConflictReport describes a record parked for review.
type ConflictReport struct {
	RecordID string              `json:"record_id"`
	VisitID  string              `json:"visit_id,omitempty"`
	Kind     domain.ConflictKind `json:"kind"`
	Notes    string              `json:"notes"`
}

// SyncResult summarises a sync pass for one staff member. Callers can retry only the
// failed subset by resubmitting or resyncing those records.
type SyncResult struct {
	StaffID     string           `json:"staff_id"`
	SyncedCount int              `json:"synced_count"`
	FailedCount int              `json:"failed_count"`
	ReviewCount int              `json:"review_count"`
	Results     []RecordResult   `json:"results"`
	Conflicts   []ConflictReport `json:"conflicts"`
	// Cancelled is set when the pass stopped early; unvisited records stay pending.
	Cancelled bool `json:"cancelled,omitempty"`
}

// Failed returns the ids of records that failed in this pass.
func (r SyncResult) Failed() []string {
	out := make([]string, 0, r.FailedCount)
	for _, res := range r.Results {
		if res.Outcome == OutcomeFailed {
			out = append(out, res.RecordID)
		}
	}
	return out
}

func (r SyncResult) clone() SyncResult {
	r.Results = append([]RecordResult(nil), r.Results...)
	r.Conflicts = append([]ConflictReport(nil), r.Conflicts...)
	return r
}
