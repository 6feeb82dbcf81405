package domain

import (
	"context"
	"time"
)

// OfflineRecordRepository persists staged offline records.
type OfflineRecordRepository interface {
	// CreateRecord stores rec and assigns its per-staff Sequence.
	CreateRecord(ctx context.Context, rec OfflineRecord) (OfflineRecord, error)
	GetRecord(ctx context.Context, recordID string) (*OfflineRecord, error)
	// ListPending returns unsynced records that are not parked for review, ordered by
	// (DeviceTimestamp, Sequence).
	ListPending(ctx context.Context, staffID string) ([]OfflineRecord, error)
	// MarkSynced flips synced to true. It reports false when the record was already synced.
	MarkSynced(ctx context.Context, recordID string, outcome SyncOutcome) (bool, error)
	RecordFailure(ctx context.Context, recordID, reason string) error
	FlagConflict(ctx context.Context, flag ConflictFlag, events ...Event) error
	ListForReview(ctx context.Context, cursor *Cursor, limit int) ([]OfflineRecord, *Cursor, error)
	// ResolveConflict closes a manual-review record. It reports false when the record is not
	// awaiting review.
	ResolveConflict(ctx context.Context, recordID, notes string, at time.Time) (bool, error)
	ListStaffWithPending(ctx context.Context) ([]string, error)
}

// VisitRepository persists visits. UpdateVisit is a compare-and-set on Revision and
// returns ErrStaleRevision when another writer got there first.
type VisitRepository interface {
	GetVisit(ctx context.Context, visitID string) (*Visit, error)
	// ListVisitsForStaff returns staffID's visits with from <= ScheduledStart < to, ordered by
	// ScheduledStart. A zero to leaves the range open-ended.
	ListVisitsForStaff(ctx context.Context, staffID string, from, to time.Time) ([]Visit, error)
	UpdateVisit(ctx context.Context, visit Visit, expectedRevision int64, events ...Event) (Visit, error)
	SetVisitSummary(ctx context.Context, visitID, summary string) error
}

// EntityRepository persists leaf entities produced live or by replay.
type EntityRepository interface {
	// FindByOfflineRecord returns the id of the entity of kind produced by recordID, or ""
	// when none exists.
	FindByOfflineRecord(ctx context.Context, kind EntityKind, recordID string) (string, error)
	// CreateMAREntry stores the entry and attaches it to its visit when VisitID is set.
	CreateMAREntry(ctx context.Context, entry MAREntry, events ...Event) error
	CreateNote(ctx context.Context, note Note, events ...Event) error
	CreateWellbeingCheck(ctx context.Context, check WellbeingCheck, events ...Event) error
	CreateLocationPing(ctx context.Context, ping LocationPing, events ...Event) error
	CreateIncident(ctx context.Context, incident Incident, events ...Event) error
}

// Repository is the full canonical store.
type Repository interface {
	OfflineRecordRepository
	VisitRepository
	EntityRepository
}
