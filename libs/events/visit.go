// Package events defines the event payloads published to Kafka by the visit sync service.
package events

import "time"

// Event type names. Each maps to a topic in the outbox catalog.
const (
	TypeVisitStarted           = "visit.started"
	TypeVisitCompleted         = "visit.completed"
	TypeVisitCancelled         = "visit.cancelled"
	TypeVisitAnomaliesDetected = "visit.anomalies_detected"
	TypeConflictFlagged        = "offline.conflict_flagged"
	TypeWellbeingRecorded      = "wellbeing.recorded"
	TypeSafeguardingConcern    = "wellbeing.safeguarding_concern"
	TypeIncidentReported       = "incident.reported"
)

// VisitStarted is emitted when a staff member clocks in.
type VisitStarted struct {
	VisitID         string    `json:"visit_id"`
	ClientID        string    `json:"client_id"`
	StaffID         string    `json:"staff_id"`
	StartedAt       time.Time `json:"started_at"`
	Latitude        *float64  `json:"lat,omitempty"`
	Longitude       *float64  `json:"lng,omitempty"`
	OfflineRecordID string    `json:"offline_record_id,omitempty"`
}

// VisitCompleted is emitted when a staff member clocks out. The summarizer consumes it.
type VisitCompleted struct {
	VisitID         string    `json:"visit_id"`
	ClientID        string    `json:"client_id"`
	StaffID         string    `json:"staff_id"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Anomalies       []string  `json:"anomalies"`
	TasksCompleted  int       `json:"tasks_completed"`
	TasksTotal      int       `json:"tasks_total"`
	Notes           []string  `json:"notes,omitempty"`
	OfflineRecordID string    `json:"offline_record_id,omitempty"`
}

// VisitCancelled is emitted when a visit is cancelled.
type VisitCancelled struct {
	VisitID     string    `json:"visit_id"`
	StaffID     string    `json:"staff_id"`
	Reason      string    `json:"reason,omitempty"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// VisitAnomaliesDetected notifies supervisors of advisory anomalies on a completed visit.
type VisitAnomaliesDetected struct {
	VisitID    string    `json:"visit_id"`
	ClientID   string    `json:"client_id"`
	StaffID    string    `json:"staff_id"`
	Anomalies  []string  `json:"anomalies"`
	DetectedAt time.Time `json:"detected_at"`
}

// ConflictFlagged is emitted when a replayed offline record is parked for manual review.
type ConflictFlagged struct {
	RecordID   string    `json:"record_id"`
	StaffID    string    `json:"staff_id"`
	RecordType string    `json:"record_type"`
	VisitID    string    `json:"visit_id,omitempty"`
	Kind       string    `json:"kind"`
	Notes      string    `json:"notes"`
	FlaggedAt  time.Time `json:"flagged_at"`
}

// WellbeingRecorded is emitted for every stored wellbeing check.
type WellbeingRecorded struct {
	CheckID   string    `json:"check_id"`
	ClientID  string    `json:"client_id"`
	StaffID   string    `json:"staff_id"`
	VisitID   string    `json:"visit_id,omitempty"`
	Mood      string    `json:"mood"`
	Hydration string    `json:"hydration"`
	Nutrition string    `json:"nutrition"`
	Pain      string    `json:"pain"`
	Sleep     string    `json:"sleep"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SafeguardingConcern is emitted when a wellbeing check raises a safeguarding concern.
type SafeguardingConcern struct {
	CheckID     string    `json:"check_id"`
	ClientID    string    `json:"client_id"`
	StaffID     string    `json:"staff_id"`
	Severity    string    `json:"severity,omitempty"`
	Description string    `json:"description,omitempty"`
	RaisedAt    time.Time `json:"raised_at"`
}

// IncidentReported is emitted when a care incident is recorded.
type IncidentReported struct {
	IncidentID   string    `json:"incident_id"`
	ClientID     string    `json:"client_id"`
	StaffID      string    `json:"staff_id"`
	VisitID      string    `json:"visit_id,omitempty"`
	IncidentType string    `json:"incident_type"`
	Description  string    `json:"description"`
	OccurredAt   time.Time `json:"occurred_at"`
}
