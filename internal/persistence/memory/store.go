// Package memory provides an in-process canonical store for local development and tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/carevisits/internal/domain"
)

// Store implements domain.Repository in memory. Events that would go to the outbox are
// kept in order and exposed through Events.
type Store struct {
	mu        sync.RWMutex
	now       func() time.Time
	records   map[string]domain.OfflineRecord
	sequences map[string]int64
	visits    map[string]domain.Visit
	entities  map[domain.EntityKind]map[string]any
	byRecord  map[domain.EntityKind]map[string]string
	events    []domain.Event
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		now:       time.Now,
		records:   make(map[string]domain.OfflineRecord),
		sequences: make(map[string]int64),
		visits:    make(map[string]domain.Visit),
		entities:  make(map[domain.EntityKind]map[string]any),
		byRecord:  make(map[domain.EntityKind]map[string]string),
	}
}

// SeedVisit inserts or replaces a visit, standing in for the scheduling system.
func (s *Store) SeedVisit(v domain.Visit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now().UTC()
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = v.CreatedAt
	}
	s.visits[v.ID] = v.Clone()
}

// Events returns a copy of every event recorded so far.
func (s *Store) Events() []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}

// Count reports how many entities of kind are stored.
func (s *Store) Count(kind domain.EntityKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[kind])
}

// Entity returns a stored leaf entity by kind and id.
func (s *Store) Entity(kind domain.EntityKind, id string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[kind][id]
	return e, ok
}

// CreateRecord implements domain.OfflineRecordRepository.
func (s *Store) CreateRecord(ctx context.Context, rec domain.OfflineRecord) (domain.OfflineRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := s.records[rec.ID]; exists {
		return domain.OfflineRecord{}, fmt.Errorf("%w: offline record %s already exists", domain.ErrConflict, rec.ID)
	}
	if rec.ServerReceivedAt.IsZero() {
		rec.ServerReceivedAt = s.now().UTC()
	}
	if rec.ConflictStatus == "" {
		rec.ConflictStatus = domain.ConflictNone
	}
	s.sequences[rec.StaffID]++
	rec.Sequence = s.sequences[rec.StaffID]
	rec.Synced = false
	rec.SyncedAt = nil
	s.records[rec.ID] = cloneRecord(rec)
	return cloneRecord(rec), nil
}

// GetRecord implements domain.OfflineRecordRepository.
func (s *Store) GetRecord(ctx context.Context, recordID string) (*domain.OfflineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordID]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(rec)
	return &out, nil
}

// ListPending implements domain.OfflineRecordRepository.
func (s *Store) ListPending(ctx context.Context, staffID string) ([]domain.OfflineRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.OfflineRecord, 0)
	for _, rec := range s.records {
		if rec.StaffID == staffID && pending(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	slices.SortFunc(out, func(a, b domain.OfflineRecord) int {
		if c := a.DeviceTimestamp.Compare(b.DeviceTimestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return out, nil
}

// MarkSynced implements domain.OfflineRecordRepository.
func (s *Store) MarkSynced(ctx context.Context, recordID string, outcome domain.SyncOutcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return false, fmt.Errorf("%w: offline record %s", domain.ErrNotFound, recordID)
	}
	if rec.Synced {
		return false, nil
	}
	at := outcome.SyncedAt.UTC()
	rec.Synced = true
	rec.SyncedAt = &at
	rec.EntityType = outcome.EntityType
	rec.EntityID = outcome.EntityID
	rec.LastError = ""
	s.records[recordID] = rec
	return true, nil
}

// RecordFailure implements domain.OfflineRecordRepository.
func (s *Store) RecordFailure(ctx context.Context, recordID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return fmt.Errorf("%w: offline record %s", domain.ErrNotFound, recordID)
	}
	rec.Attempts++
	rec.LastError = reason
	s.records[recordID] = rec
	return nil
}

// FlagConflict implements domain.OfflineRecordRepository.
func (s *Store) FlagConflict(ctx context.Context, flag domain.ConflictFlag, events ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[flag.RecordID]
	if !ok {
		return fmt.Errorf("%w: offline record %s", domain.ErrNotFound, flag.RecordID)
	}
	if rec.Synced {
		return fmt.Errorf("%w: offline record %s already synced", domain.ErrInvalidState, flag.RecordID)
	}
	rec.ConflictStatus = domain.ConflictManualReview
	rec.ConflictNotes = flag.Notes
	rec.Attempts++
	s.records[flag.RecordID] = rec
	s.events = append(s.events, events...)
	return nil
}

// ListForReview implements domain.OfflineRecordRepository. Records are ordered by
// server receipt time and id.
func (s *Store) ListForReview(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.OfflineRecord, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.OfflineRecord, 0)
	for _, rec := range s.records {
		if rec.ConflictStatus == domain.ConflictManualReview {
			matches = append(matches, rec)
		}
	}
	slices.SortFunc(matches, compareReview)

	out := make([]domain.OfflineRecord, 0, limit)
	for _, rec := range matches {
		if cursor != nil && compareReview(rec, domain.OfflineRecord{ServerReceivedAt: cursor.At, ID: cursor.ID}) <= 0 {
			continue
		}
		if len(out) == limit {
			last := out[len(out)-1]
			return out, &domain.Cursor{At: last.ServerReceivedAt, ID: last.ID}, nil
		}
		out = append(out, cloneRecord(rec))
	}
	return out, nil, nil
}

// ResolveConflict implements domain.OfflineRecordRepository.
func (s *Store) ResolveConflict(ctx context.Context, recordID, notes string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[recordID]
	if !ok {
		return false, fmt.Errorf("%w: offline record %s", domain.ErrNotFound, recordID)
	}
	if rec.ConflictStatus != domain.ConflictManualReview {
		return false, nil
	}
	at = at.UTC()
	rec.ConflictStatus = domain.ConflictResolved
	rec.ConflictNotes = appendNotes(rec.ConflictNotes, notes)
	rec.Synced = true
	rec.SyncedAt = &at
	s.records[recordID] = rec
	return true, nil
}

// ListStaffWithPending implements domain.OfflineRecordRepository.
func (s *Store) ListStaffWithPending(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range s.records {
		if pending(rec) {
			seen[rec.StaffID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for staffID := range seen {
		out = append(out, staffID)
	}
	slices.Sort(out)
	return out, nil
}

// GetVisit implements domain.VisitRepository.
func (s *Store) GetVisit(ctx context.Context, visitID string) (*domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visits[visitID]
	if !ok {
		return nil, nil
	}
	out := v.Clone()
	return &out, nil
}

// ListVisitsForStaff implements domain.VisitRepository.
func (s *Store) ListVisitsForStaff(ctx context.Context, staffID string, from, to time.Time) ([]domain.Visit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Visit, 0)
	for _, v := range s.visits {
		if v.StaffID != staffID || v.ScheduledStart.Before(from) {
			continue
		}
		if !to.IsZero() && !v.ScheduledStart.Before(to) {
			continue
		}
		out = append(out, v.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Visit) int {
		return cmp.Or(a.ScheduledStart.Compare(b.ScheduledStart), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// UpdateVisit implements domain.VisitRepository.
func (s *Store) UpdateVisit(ctx context.Context, visit domain.Visit, expectedRevision int64, events ...domain.Event) (domain.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.visits[visit.ID]
	if !ok {
		return domain.Visit{}, fmt.Errorf("%w: visit %s", domain.ErrNotFound, visit.ID)
	}
	if current.Revision != expectedRevision {
		return domain.Visit{}, domain.ErrStaleRevision
	}
	// MAR attachments and summaries land without a revision bump; keep the stored ones.
	visit.MAREntryIDs = slices.Clone(current.MAREntryIDs)
	if current.AISummary != "" {
		visit.AISummary = current.AISummary
	}
	visit.Revision = expectedRevision + 1
	visit.UpdatedAt = s.now().UTC()
	s.visits[visit.ID] = visit.Clone()
	s.events = append(s.events, events...)
	return visit.Clone(), nil
}

// SetVisitSummary implements domain.VisitRepository.
func (s *Store) SetVisitSummary(ctx context.Context, visitID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.visits[visitID]
	if !ok {
		return fmt.Errorf("%w: visit %s", domain.ErrNotFound, visitID)
	}
	v.AISummary = summary
	v.UpdatedAt = s.now().UTC()
	s.visits[visitID] = v
	return nil
}

// FindByOfflineRecord implements domain.EntityRepository.
func (s *Store) FindByOfflineRecord(ctx context.Context, kind domain.EntityKind, recordID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byRecord[kind][recordID], nil
}

// CreateMAREntry implements domain.EntityRepository. The visit's MAR list is extended
// without bumping its revision, since the attachment is additive.
func (s *Store) CreateMAREntry(ctx context.Context, entry domain.MAREntry, events ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var visit domain.Visit
	if entry.VisitID != "" {
		v, ok := s.visits[entry.VisitID]
		if !ok {
			return fmt.Errorf("%w: visit %s", domain.ErrNotFound, entry.VisitID)
		}
		visit = v
	}
	if err := s.insertLocked(domain.EntityMAREntry, entry.ID, entry.OfflineRecordID, entry, events); err != nil {
		return err
	}
	if entry.VisitID != "" {
		visit.MAREntryIDs = append(slices.Clone(visit.MAREntryIDs), entry.ID)
		visit.UpdatedAt = s.now().UTC()
		s.visits[visit.ID] = visit
	}
	return nil
}

// CreateNote implements domain.EntityRepository.
func (s *Store) CreateNote(ctx context.Context, note domain.Note, events ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(domain.EntityNote, note.ID, note.OfflineRecordID, note, events)
}

// CreateWellbeingCheck implements domain.EntityRepository.
func (s *Store) CreateWellbeingCheck(ctx context.Context, check domain.WellbeingCheck, events ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	check.BehaviourFlags = slices.Clone(check.BehaviourFlags)
	return s.insertLocked(domain.EntityWellbeing, check.ID, check.OfflineRecordID, check, events)
}

// CreateLocationPing implements domain.EntityRepository.
func (s *Store) CreateLocationPing(ctx context.Context, ping domain.LocationPing, events ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(domain.EntityLocation, ping.ID, ping.OfflineRecordID, ping, events)
}

// CreateIncident implements domain.EntityRepository.
func (s *Store) CreateIncident(ctx context.Context, incident domain.Incident, events ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(domain.EntityIncident, incident.ID, incident.OfflineRecordID, incident, events)
}

func (s *Store) insertLocked(kind domain.EntityKind, id, recordID string, entity any, events []domain.Event) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", domain.ErrValidation, kind)
	}
	if s.entities[kind] == nil {
		s.entities[kind] = make(map[string]any)
		s.byRecord[kind] = make(map[string]string)
	}
	if _, exists := s.entities[kind][id]; exists {
		return fmt.Errorf("%w: %s %s already exists", domain.ErrConflict, kind, id)
	}
	if recordID != "" {
		if _, exists := s.byRecord[kind][recordID]; exists {
			return fmt.Errorf("%w: offline record %s already produced a %s", domain.ErrConflict, recordID, kind)
		}
		s.byRecord[kind][recordID] = id
	}
	s.entities[kind][id] = entity
	s.events = append(s.events, events...)
	return nil
}

func pending(rec domain.OfflineRecord) bool {
	return !rec.Synced && rec.ConflictStatus != domain.ConflictManualReview
}

func compareReview(a, b domain.OfflineRecord) int {
	if c := a.ServerReceivedAt.Compare(b.ServerReceivedAt); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func appendNotes(existing, notes string) string {
	notes = strings.TrimSpace(notes)
	switch {
	case notes == "":
		return existing
	case existing == "":
		return notes
	default:
		return existing + "\n" + notes
	}
}

func cloneRecord(rec domain.OfflineRecord) domain.OfflineRecord {
	rec.Payload = slices.Clone(rec.Payload)
	if rec.SyncedAt != nil {
		at := *rec.SyncedAt
		rec.SyncedAt = &at
	}
	if rec.DeviceInfo != nil {
		info := *rec.DeviceInfo
		rec.DeviceInfo = &info
	}
	if rec.Location != nil {
		loc := *rec.Location
		rec.Location = &loc
	}
	return rec
}

var _ domain.Repository = (*Store)(nil)
