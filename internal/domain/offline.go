package domain

import (
	"encoding/json"
	"time"
)

// RecordType identifies the kind of action captured while a device was offline.
type RecordType string

const (
	RecordVisitUpdate RecordType = "visit-update"
	RecordMAREntry    RecordType = "mar-entry"
	RecordNote        RecordType = "note"
	RecordWellbeing   RecordType = "wellbeing"
	RecordGPSLog      RecordType = "gps-log"
	RecordCheckIn     RecordType = "check-in"
	RecordCheckOut    RecordType = "check-out"
	RecordIncident    RecordType = "incident"
	RecordTask        RecordType = "task"
)

// RecordTypes lists every recognised offline record type.
var RecordTypes = []RecordType{
	RecordVisitUpdate, RecordMAREntry, RecordNote, RecordWellbeing, RecordGPSLog,
	RecordCheckIn, RecordCheckOut, RecordIncident, RecordTask,
}

// ConflictStatus tracks whether a replayed record needs human adjudication.
type ConflictStatus string

const (
	ConflictNone         ConflictStatus = "none"
	ConflictResolved     ConflictStatus = "resolved"
	ConflictManualReview ConflictStatus = "manual-review"
)

// DeviceInfo describes the device that captured an offline record.
type DeviceInfo struct {
	Model      string `json:"model,omitempty"`
	OS         string `json:"os,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// OfflineRecord is a staged action awaiting replay into the canonical store.
type OfflineRecord struct {
	ID               string          `json:"id"`
	StaffID          string          `json:"staff_id"`
	Sequence         int64           `json:"sequence"`
	Type             RecordType      `json:"type"`
	Payload          json.RawMessage `json:"payload"`
	DeviceTimestamp  time.Time       `json:"device_timestamp"`
	ServerReceivedAt time.Time       `json:"server_received_at"`
	Synced           bool            `json:"synced"`
	SyncedAt         *time.Time      `json:"synced_at,omitempty"`
	ConflictStatus   ConflictStatus  `json:"conflict_status"`
	ConflictNotes    string          `json:"conflict_notes,omitempty"`
	DeviceInfo       *DeviceInfo     `json:"device_info,omitempty"`
	Location         *Location       `json:"location,omitempty"`
	EntityType       string          `json:"entity_type,omitempty"`
	EntityID         string          `json:"entity_id,omitempty"`
	Attempts         int             `json:"attempts"`
	LastError        string          `json:"last_error,omitempty"`
}

// SyncOutcome is the canonical entity reference stored when a record is marked synced.
type SyncOutcome struct {
	EntityType string
	EntityID   string
	SyncedAt   time.Time
}

// ConflictFlag parks a record for manual review.
type ConflictFlag struct {
	RecordID string
	VisitID  string
	Kind     ConflictKind
	Notes    string
	At       time.Time
}

// Cursor models the pagination token for review listings.
type Cursor struct {
	At time.Time
	ID string
}
