package domain

import "time"

// EntityKind names a canonical entity type that an offline record can produce.
type EntityKind string

const (
	EntityVisit     EntityKind = "visit"
	EntityMAREntry  EntityKind = "mar_entry"
	EntityNote      EntityKind = "note"
	EntityWellbeing EntityKind = "wellbeing_check"
	EntityLocation  EntityKind = "location_ping"
	EntityIncident  EntityKind = "incident"
)

// PRN captures as-needed medication details.
type PRN struct {
	Used          bool   `json:"used"`
	Reason        string `json:"reason,omitempty"`
	Effectiveness string `json:"effectiveness,omitempty"`
}

// MAREntry is a single medication administration record.
type MAREntry struct {
	ID              string     `json:"id"`
	MedicationID    string     `json:"medication_id"`
	ClientID        string     `json:"client_id"`
	StaffID         string     `json:"staff_id"`
	VisitID         string     `json:"visit_id,omitempty"`
	ScheduledTime   string     `json:"scheduled_time,omitempty"`
	ActualTime      *time.Time `json:"actual_time,omitempty"`
	Status          string     `json:"status"`
	PRN             PRN        `json:"prn"`
	Notes           string     `json:"notes,omitempty"`
	CreatedOffline  bool       `json:"created_offline"`
	OfflineRecordID string     `json:"offline_record_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Safeguarding records a safeguarding concern raised during a wellbeing check.
type Safeguarding struct {
	IsConcern   bool   `json:"is_concern"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity,omitempty"`
}

// WellbeingCheck is a structured client wellbeing observation.
type WellbeingCheck struct {
	ID              string       `json:"id"`
	ClientID        string       `json:"client_id"`
	StaffID         string       `json:"staff_id"`
	VisitID         string       `json:"visit_id,omitempty"`
	Mood            string       `json:"mood"`
	Hydration       string       `json:"hydration"`
	Nutrition       string       `json:"nutrition"`
	Pain            string       `json:"pain"`
	Sleep           string       `json:"sleep"`
	BehaviourNotes  string       `json:"behaviour_notes,omitempty"`
	BehaviourFlags  []string     `json:"behaviour_flags,omitempty"`
	Safeguarding    Safeguarding `json:"safeguarding"`
	Notes           string       `json:"notes,omitempty"`
	CreatedOffline  bool         `json:"created_offline"`
	OfflineRecordID string       `json:"offline_record_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Note is a free-text care note about a client.
type Note struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"client_id"`
	StaffID         string    `json:"staff_id"`
	VisitID         string    `json:"visit_id,omitempty"`
	Text            string    `json:"text"`
	CreatedOffline  bool      `json:"created_offline"`
	OfflineRecordID string    `json:"offline_record_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// LocationPing is a GPS sample reported by a staff device.
type LocationPing struct {
	ID              string    `json:"id"`
	StaffID         string    `json:"staff_id"`
	VisitID         string    `json:"visit_id,omitempty"`
	Latitude        float64   `json:"lat"`
	Longitude       float64   `json:"lng"`
	Accuracy        *float64  `json:"accuracy,omitempty"`
	Speed           *float64  `json:"speed,omitempty"`
	Status          string    `json:"status,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	CreatedOffline  bool      `json:"created_offline"`
	OfflineRecordID string    `json:"offline_record_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Incident is a reported care incident.
type Incident struct {
	ID              string    `json:"id"`
	ClientID        string    `json:"client_id"`
	StaffID         string    `json:"staff_id"`
	VisitID         string    `json:"visit_id,omitempty"`
	IncidentType    string    `json:"incident_type"`
	Description     string    `json:"description"`
	OccurredAt      time.Time `json:"occurred_at"`
	CreatedOffline  bool      `json:"created_offline"`
	OfflineRecordID string    `json:"offline_record_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
