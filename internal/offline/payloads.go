package offline

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"example.com/carevisits/internal/domain"
)

// VisitTransitionPayload is carried by check-in and check-out records.
type VisitTransitionPayload struct {
	VisitID  string           `json:"visit_id"`
	Location *domain.Location `json:"location,omitempty"`
	// Timestamp overrides the record's device timestamp as the transition time.
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (p VisitTransitionPayload) validate() error {
	return requireField("visit_id", p.VisitID)
}

// VisitUpdatePayload is carried by visit-update records. Notes are additive; the other
// fields are field-level changes subject to conflict detection.
type VisitUpdatePayload struct {
	VisitID               string   `json:"visit_id"`
	Status                string   `json:"status,omitempty"`
	CancelReason          string   `json:"cancel_reason,omitempty"`
	TravelDistanceKm      *float64 `json:"travel_distance_km,omitempty"`
	TravelDurationMinutes *int     `json:"travel_duration_minutes,omitempty"`
	Notes                 []string `json:"notes,omitempty"`
	BaseRevision          *int64   `json:"base_revision,omitempty"`
}

func (p VisitUpdatePayload) validate() error {
	if err := requireField("visit_id", p.VisitID); err != nil {
		return err
	}
	if p.Status != "" && domain.VisitStatus(p.Status) != domain.VisitCancelled {
		return fmt.Errorf("%w: visit-update may only set status %q", domain.ErrValidation, domain.VisitCancelled)
	}
	if p.Status == "" && p.TravelDistanceKm == nil && p.TravelDurationMinutes == nil && len(p.Notes) == 0 {
		return fmt.Errorf("%w: visit-update carries no changes", domain.ErrValidation)
	}
	return nil
}

// MAREntryStatuses lists the accepted medication administration outcomes.
var MAREntryStatuses = []string{"given", "missed", "refused", "not-required", "pending"}

// MAREntryPayload is carried by mar-entry records.
type MAREntryPayload struct {
	MedicationID  string     `json:"medication_id"`
	ClientID      string     `json:"client_id"`
	VisitID       string     `json:"visit_id,omitempty"`
	ScheduledTime string     `json:"scheduled_time,omitempty"`
	ActualTime    *time.Time `json:"actual_time,omitempty"`
	Status        string     `json:"status"`
	PRN           domain.PRN `json:"prn"`
	Notes         string     `json:"notes,omitempty"`
}

func (p MAREntryPayload) validate() error {
	if err := requireField("medication_id", p.MedicationID); err != nil {
		return err
	}
	if err := requireField("client_id", p.ClientID); err != nil {
		return err
	}
	return oneOf("status", p.Status, MAREntryStatuses)
}

// NotePayload is carried by note records.
type NotePayload struct {
	ClientID string `json:"client_id"`
	VisitID  string `json:"visit_id,omitempty"`
	Text     string `json:"text"`
}

func (p NotePayload) validate() error {
	if err := requireField("client_id", p.ClientID); err != nil {
		return err
	}
	return requireField("text", p.Text)
}

// WellbeingPayload is carried by wellbeing records.
type WellbeingPayload struct {
	ClientID       string              `json:"client_id"`
	VisitID        string              `json:"visit_id,omitempty"`
	Mood           string              `json:"mood"`
	Hydration      string              `json:"hydration"`
	Nutrition      string              `json:"nutrition"`
	Pain           string              `json:"pain"`
	Sleep          string              `json:"sleep"`
	BehaviourNotes string              `json:"behaviour_notes,omitempty"`
	BehaviourFlags []string            `json:"behaviour_flags,omitempty"`
	Safeguarding   domain.Safeguarding `json:"safeguarding"`
	Notes          string              `json:"notes,omitempty"`
}

func (p WellbeingPayload) validate() error {
	if err := requireField("client_id", p.ClientID); err != nil {
		return err
	}
	if p.Safeguarding.IsConcern {
		return requireField("safeguarding.description", p.Safeguarding.Description)
	}
	return nil
}

// GPSLogPayload is carried by gps-log records.
type GPSLogPayload struct {
	VisitID   string     `json:"visit_id,omitempty"`
	Latitude  *float64   `json:"lat"`
	Longitude *float64   `json:"lng"`
	Accuracy  *float64   `json:"accuracy,omitempty"`
	Speed     *float64   `json:"speed,omitempty"`
	Status    string     `json:"status,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (p GPSLogPayload) validate() error {
	if p.Latitude == nil || p.Longitude == nil {
		return fmt.Errorf("%w: lat and lng are required", domain.ErrValidation)
	}
	if *p.Latitude < -90 || *p.Latitude > 90 || *p.Longitude < -180 || *p.Longitude > 180 {
		return fmt.Errorf("%w: coordinates out of range", domain.ErrValidation)
	}
	return nil
}

// IncidentTypes lists the accepted incident categories.
var IncidentTypes = []string{"fall", "refused_care", "medication_issue", "safeguarding", "environmental", "other"}

// IncidentPayload is carried by incident records.
type IncidentPayload struct {
	ClientID     string     `json:"client_id"`
	VisitID      string     `json:"visit_id,omitempty"`
	IncidentType string     `json:"incident_type"`
	Description  string     `json:"description"`
	OccurredAt   *time.Time `json:"occurred_at,omitempty"`
}

func (p IncidentPayload) validate() error {
	if err := requireField("client_id", p.ClientID); err != nil {
		return err
	}
	if err := oneOf("incident_type", p.IncidentType, IncidentTypes); err != nil {
		return err
	}
	return requireField("description", p.Description)
}

// TaskPayload is carried by task records.
type TaskPayload struct {
	VisitID     string     `json:"visit_id"`
	TaskID      string     `json:"task_id"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (p TaskPayload) validate() error {
	if err := requireField("visit_id", p.VisitID); err != nil {
		return err
	}
	return requireField("task_id", p.TaskID)
}

type validatable interface {
	validate() error
}

// decode unmarshals raw into a payload of type T and validates it.
func decode[T validatable](raw json.RawMessage) (T, error) {
	var payload T
	if len(raw) == 0 || string(raw) == "null" {
		return payload, fmt.Errorf("%w: payload is required", domain.ErrValidation)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, fmt.Errorf("%w: payload: %v", domain.ErrValidation, err)
	}
	if err := payload.validate(); err != nil {
		return payload, err
	}
	return payload, nil
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrValidation, field)
	}
	return nil
}

func oneOf(field, value string, allowed []string) error {
	if !slices.Contains(allowed, value) {
		return fmt.Errorf("%w: %s must be one of %s", domain.ErrValidation, field, strings.Join(allowed, ", "))
	}
	return nil
}
