package domain

import (
	"fmt"
	"math"
	"slices"
	"time"
)

// VisitStatus is the lifecycle state of a visit.
type VisitStatus string

const (
	VisitScheduled  VisitStatus = "scheduled"
	VisitInProgress VisitStatus = "in-progress"
	VisitCompleted  VisitStatus = "completed"
	VisitMissed     VisitStatus = "missed"
	VisitCancelled  VisitStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s VisitStatus) Terminal() bool {
	return s == VisitCompleted || s == VisitMissed || s == VisitCancelled
}

// AISummaryPending is stored in Visit.AISummary until the summarizer fills it.
const AISummaryPending = "AI summary pending generation"

// Location is a device-reported coordinate pair. Either coordinate may be absent.
type Location struct {
	Latitude  *float64 `json:"lat,omitempty"`
	Longitude *float64 `json:"lng,omitempty"`
}

// NewLocation builds a Location with both coordinates present.
func NewLocation(lat, lng float64) *Location {
	return &Location{Latitude: &lat, Longitude: &lng}
}

// HasCoordinates reports whether both latitude and longitude are present.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// GPSPoint records where and when a visit boundary was crossed.
type GPSPoint struct {
	Latitude  *float64  `json:"lat,omitempty"`
	Longitude *float64  `json:"lng,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newGPSPoint(loc *Location, at time.Time) *GPSPoint {
	point := &GPSPoint{Timestamp: at}
	if loc != nil {
		point.Latitude = loc.Latitude
		point.Longitude = loc.Longitude
	}
	return point
}

func (p *GPSPoint) hasCoordinates() bool {
	return p != nil && p.Latitude != nil && p.Longitude != nil
}

// GPSVerification holds the clock-in and clock-out coordinates of a visit.
type GPSVerification struct {
	Start    *GPSPoint `json:"start,omitempty"`
	End      *GPSPoint `json:"end,omitempty"`
	Verified bool      `json:"verified"`
}

// Task is a checklist item on a visit. Completion is one-way.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// VisitNote is a free-text note appended to a visit.
type VisitNote struct {
	StaffID   string    `json:"staff_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Visit is the canonical record of a scheduled home-care visit.
type Visit struct {
	ID                    string          `json:"id"`
	ClientID              string          `json:"client_id"`
	StaffID               string          `json:"staff_id"`
	VisitType             string          `json:"visit_type"`
	ScheduledStart        time.Time       `json:"scheduled_start"`
	ScheduledEnd          time.Time       `json:"scheduled_end"`
	ActualStart           *time.Time      `json:"actual_start,omitempty"`
	ActualEnd             *time.Time      `json:"actual_end,omitempty"`
	Status                VisitStatus     `json:"status"`
	GPSVerification       GPSVerification `json:"gps_verification"`
	Tasks                 []Task          `json:"tasks"`
	Notes                 []VisitNote     `json:"notes"`
	Anomalies             []Anomaly       `json:"anomalies"`
	AISummary             string          `json:"ai_summary,omitempty"`
	MAREntryIDs           []string        `json:"mar_entry_ids"`
	TravelDistanceKm      *float64        `json:"travel_distance_km,omitempty"`
	TravelDurationMinutes *int            `json:"travel_duration_minutes,omitempty"`
	CancelReason          string          `json:"cancel_reason,omitempty"`
	CompletedOffline      bool            `json:"completed_offline"`
	AppliedRecordIDs      []string        `json:"applied_record_ids"`
	Revision              int64           `json:"revision"`
	LastModifiedAt        time.Time       `json:"last_modified_at"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// ScheduledDurationMinutes is the planned visit length in minutes.
func (v *Visit) ScheduledDurationMinutes() float64 {
	return v.ScheduledEnd.Sub(v.ScheduledStart).Minutes()
}

// HasApplied reports whether the offline record has already been applied to this visit.
func (v *Visit) HasApplied(recordID string) bool {
	return recordID != "" && slices.Contains(v.AppliedRecordIDs, recordID)
}

// MarkApplied stores a back-reference to an offline record applied to this visit.
func (v *Visit) MarkApplied(recordID string) {
	if recordID == "" || v.HasApplied(recordID) {
		return
	}
	v.AppliedRecordIDs = append(v.AppliedRecordIDs, recordID)
}

func (v *Visit) checkAssigned(staffID string) error {
	if v.StaffID != staffID {
		return fmt.Errorf("%w: visit %s is not assigned to staff %s", ErrForbidden, v.ID, staffID)
	}
	return nil
}

// Start clocks the assigned staff member in. Legal only from scheduled.
func (v *Visit) Start(staffID string, loc *Location, at time.Time) error {
	if err := v.checkAssigned(staffID); err != nil {
		return err
	}
	if v.ActualStart != nil || v.Status == VisitInProgress {
		return fmt.Errorf("%w: visit %s already started", ErrConflict, v.ID)
	}
	if v.Status != VisitScheduled {
		return fmt.Errorf("%w: cannot start visit %s from %s", ErrInvalidState, v.ID, v.Status)
	}

	at = at.UTC()
	v.ActualStart = &at
	v.Status = VisitInProgress
	v.GPSVerification.Start = newGPSPoint(loc, at)
	v.LastModifiedAt = at
	return nil
}

// Completion summarises a successful End transition.
type Completion struct {
	DurationMinutes int
	Anomalies       []Anomaly
}

// End clocks the assigned staff member out. Legal only from in-progress. Anomalies are
// advisory and never block completion.
func (v *Visit) End(staffID string, loc *Location, at time.Time) (Completion, error) {
	if err := v.checkAssigned(staffID); err != nil {
		return Completion{}, err
	}
	if v.Status != VisitInProgress || v.ActualStart == nil {
		return Completion{}, fmt.Errorf("%w: cannot end visit %s from %s", ErrInvalidState, v.ID, v.Status)
	}

	at = at.UTC()
	v.ActualEnd = &at
	v.Status = VisitCompleted
	v.GPSVerification.End = newGPSPoint(loc, at)
	v.GPSVerification.Verified = v.GPSVerification.Start.hasCoordinates() && v.GPSVerification.End.hasCoordinates()

	duration := DurationMinutes(*v.ActualStart, at)
	anomalies := EvaluateAnomalies(v.ScheduledDurationMinutes(), duration, loc)
	for _, a := range anomalies {
		if !slices.Contains(v.Anomalies, a) {
			v.Anomalies = append(v.Anomalies, a)
		}
	}
	if v.AISummary == "" {
		v.AISummary = AISummaryPending
	}
	v.LastModifiedAt = at
	return Completion{DurationMinutes: duration, Anomalies: anomalies}, nil
}

// Cancel moves a scheduled or in-progress visit to cancelled.
func (v *Visit) Cancel(staffID, reason string, at time.Time) error {
	if err := v.checkAssigned(staffID); err != nil {
		return err
	}
	if v.Status != VisitScheduled && v.Status != VisitInProgress {
		return fmt.Errorf("%w: cannot cancel visit %s from %s", ErrInvalidState, v.ID, v.Status)
	}
	v.Status = VisitCancelled
	v.CancelReason = reason
	v.LastModifiedAt = at.UTC()
	return nil
}

// CompleteTask marks a task done. A task cannot be un-completed.
func (v *Visit) CompleteTask(staffID, taskID string, at time.Time) (Task, error) {
	if err := v.checkAssigned(staffID); err != nil {
		return Task{}, err
	}
	if v.Status == VisitCancelled || v.Status == VisitMissed {
		return Task{}, fmt.Errorf("%w: visit %s is %s", ErrInvalidState, v.ID, v.Status)
	}
	for i := range v.Tasks {
		task := &v.Tasks[i]
		if task.ID != taskID {
			continue
		}
		if task.Completed {
			return *task, fmt.Errorf("%w: task %s already completed", ErrConflict, taskID)
		}
		at = at.UTC()
		task.Completed = true
		task.CompletedAt = &at
		v.LastModifiedAt = at
		return *task, nil
	}
	return Task{}, fmt.Errorf("%w: task %s on visit %s", ErrNotFound, taskID, v.ID)
}

// AddNote appends a visit-level note. Notes are additive and never conflict.
func (v *Visit) AddNote(staffID, text string, at time.Time) {
	v.Notes = append(v.Notes, VisitNote{StaffID: staffID, Text: text, CreatedAt: at.UTC()})
}

// DurationMinutes rounds the elapsed time between start and end to the nearest minute.
func DurationMinutes(start, end time.Time) int {
	ms := end.Sub(start).Milliseconds()
	return int(math.Round(float64(ms) / 60000))
}

// Clone returns a deep copy of v.
func (v Visit) Clone() Visit {
	out := v
	out.ActualStart = clonePtr(v.ActualStart)
	out.ActualEnd = clonePtr(v.ActualEnd)
	out.GPSVerification.Start = cloneGPSPoint(v.GPSVerification.Start)
	out.GPSVerification.End = cloneGPSPoint(v.GPSVerification.End)
	out.Tasks = make([]Task, len(v.Tasks))
	for i, task := range v.Tasks {
		task.CompletedAt = clonePtr(task.CompletedAt)
		out.Tasks[i] = task
	}
	out.Notes = slices.Clone(v.Notes)
	out.Anomalies = slices.Clone(v.Anomalies)
	out.MAREntryIDs = slices.Clone(v.MAREntryIDs)
	out.AppliedRecordIDs = slices.Clone(v.AppliedRecordIDs)
	out.TravelDistanceKm = clonePtr(v.TravelDistanceKm)
	out.TravelDurationMinutes = clonePtr(v.TravelDurationMinutes)
	return out
}

func cloneGPSPoint(p *GPSPoint) *GPSPoint {
	if p == nil {
		return nil
	}
	out := *p
	out.Latitude = clonePtr(p.Latitude)
	out.Longitude = clonePtr(p.Longitude)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
