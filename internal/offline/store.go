// Package offline stages actions captured on disconnected devices and replays them into
// the canonical store.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/carevisits/internal/domain"
	"example.com/carevisits/internal/observability"
)

// AcceptInput carries a device submission.
type AcceptInput struct {
	StaffID         string
	Type            domain.RecordType
	Payload         json.RawMessage
	DeviceTimestamp time.Time
	DeviceInfo      *domain.DeviceInfo
	Location        *domain.Location
}

// Store is the staging area for offline records.
type Store struct {
	repo     domain.OfflineRecordRepository
	handlers Handlers
	now      func() time.Time
}

// NewStore constructs a Store. handlers supplies per-type payload validation.
func NewStore(repo domain.OfflineRecordRepository, handlers Handlers) *Store {
	return &Store{repo: repo, handlers: handlers, now: time.Now}
}

// Accept validates and stages a record with synced=false.
func (s *Store) Accept(ctx context.Context, in AcceptInput) (domain.OfflineRecord, error) {
	if strings.TrimSpace(in.StaffID) == "" {
		return domain.OfflineRecord{}, fmt.Errorf("%w: staff id is required", domain.ErrValidation)
	}
	if in.DeviceTimestamp.IsZero() {
		return domain.OfflineRecord{}, fmt.Errorf("%w: device timestamp is required", domain.ErrValidation)
	}
	if err := s.handlers.Validate(in.Type, in.Payload); err != nil {
		return domain.OfflineRecord{}, err
	}

	rec, err := s.repo.CreateRecord(ctx, domain.OfflineRecord{
		ID:               uuid.NewString(),
		StaffID:          in.StaffID,
		Type:             in.Type,
		Payload:          in.Payload,
		DeviceTimestamp:  in.DeviceTimestamp.UTC(),
		ServerReceivedAt: s.now().UTC(),
		ConflictStatus:   domain.ConflictNone,
		DeviceInfo:       in.DeviceInfo,
		Location:         in.Location,
	})
	if err != nil {
		return domain.OfflineRecord{}, err
	}
	observability.RecordAccepted(string(rec.Type))
	return rec, nil
}

// ListPending returns unsynced records for staffID in replay order.
func (s *Store) ListPending(ctx context.Context, staffID string) ([]domain.OfflineRecord, error) {
	return s.repo.ListPending(ctx, staffID)
}

// MarkSynced flips a record to synced. A repeated call is a no-op and reports false.
func (s *Store) MarkSynced(ctx context.Context, recordID string, outcome domain.SyncOutcome) (bool, error) {
	return s.repo.MarkSynced(ctx, recordID, outcome)
}

const (
	defaultReviewLimit = 50
	maxReviewLimit     = 200
)

// ListForReview pages through records awaiting manual review. A non-positive limit means
// the default page size; larger limits are capped.
func (s *Store) ListForReview(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.OfflineRecord, *domain.Cursor, error) {
	switch {
	case limit <= 0:
		limit = defaultReviewLimit
	case limit > maxReviewLimit:
		limit = maxReviewLimit
	}
	return s.repo.ListForReview(ctx, cursor, limit)
}

// Resolve closes a manual-review record, keeping canonical state as it is.
func (s *Store) Resolve(ctx context.Context, recordID, reviewerID, notes string) (*domain.OfflineRecord, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, fmt.Errorf("%w: reviewer id is required", domain.ErrValidation)
	}
	now := s.now().UTC()
	entry := fmt.Sprintf("resolved by %s at %s", reviewerID, now.Format(time.RFC3339))
	if notes = strings.TrimSpace(notes); notes != "" {
		entry += ": " + notes
	}

	ok, err := s.repo.ResolveConflict(ctx, recordID, entry, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: offline record %s is not awaiting review", domain.ErrInvalidState, recordID)
	}
	rec, err := s.repo.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: offline record %s", domain.ErrNotFound, recordID)
	}
	return rec, nil
}
