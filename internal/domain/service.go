// Package domain defines the visit lifecycle, conflict detection and anomaly rules for the
// visit sync service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"example.com/carevisits/internal/observability"
)

// errNoChange aborts a mutation without writing.
var errNoChange = errors.New("no change")

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for live transitions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSkewTolerance sets how far a replayed device timestamp may precede the canonical
// last-modified time before the write is flagged as stale. Non-positive values keep the
// default.
func WithSkewTolerance(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.skew = d
		}
	}
}

// Service orchestrates visit transitions. Live calls and offline replay share the same
// transition code; replay additionally runs the conflict detector.
type Service struct {
	repo VisitRepository
	now  func() time.Time
	skew time.Duration
}

// NewService constructs a Service.
func NewService(repo VisitRepository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now, skew: 2 * time.Minute}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock reading in UTC.
func (s *Service) Now() time.Time {
	return s.now().UTC()
}

// TransitionInput describes a visit transition. Record is set only when the transition is
// replayed from an offline record.
type TransitionInput struct {
	VisitID  string
	StaffID  string
	Location *Location
	At       time.Time
	Record   *OfflineRecord
}

// TransitionResult reports what a transition did.
type TransitionResult struct {
	Visit      Visit
	Completion Completion
	Conflict   Conflict
	// AlreadyApplied is set when canonical state already reflected the replayed record.
	AlreadyApplied bool
}

// EndVisitResult is returned by the live end-visit call.
type EndVisitResult struct {
	Visit           Visit
	DurationMinutes int
	Anomalies       []Anomaly
}

// GetVisit fetches by ID.
func (s *Service) GetVisit(ctx context.Context, visitID string) (*Visit, error) {
	visit, err := s.repo.GetVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if visit == nil {
		return nil, fmt.Errorf("%w: visit %s", ErrNotFound, visitID)
	}
	return visit, nil
}

// VisitsForDay lists staffID's visits scheduled on the calendar day containing day, in
// day's location.
func (s *Service) VisitsForDay(ctx context.Context, staffID string, day time.Time) ([]Visit, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, fmt.Errorf("%w: staff id is required", ErrValidation)
	}
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return s.repo.ListVisitsForStaff(ctx, staffID, start, start.AddDate(0, 0, 1))
}

// UpcomingVisits lists staffID's visits scheduled from now on.
func (s *Service) UpcomingVisits(ctx context.Context, staffID string) ([]Visit, error) {
	if strings.TrimSpace(staffID) == "" {
		return nil, fmt.Errorf("%w: staff id is required", ErrValidation)
	}
	return s.repo.ListVisitsForStaff(ctx, staffID, s.Now(), time.Time{})
}

// StartVisit clocks a staff member in at the current time.
func (s *Service) StartVisit(ctx context.Context, visitID, staffID string, loc *Location) (*Visit, error) {
	res, err := s.Start(ctx, TransitionInput{VisitID: visitID, StaffID: staffID, Location: loc, At: s.Now()})
	if err != nil {
		return nil, err
	}
	return &res.Visit, nil
}

// EndVisit clocks a staff member out at the current time.
func (s *Service) EndVisit(ctx context.Context, visitID, staffID string, loc *Location) (*EndVisitResult, error) {
	res, err := s.End(ctx, TransitionInput{VisitID: visitID, StaffID: staffID, Location: loc, At: s.Now()})
	if err != nil {
		return nil, err
	}
	return &EndVisitResult{
		Visit:           res.Visit,
		DurationMinutes: res.Completion.DurationMinutes,
		Anomalies:       res.Completion.Anomalies,
	}, nil
}

// Start applies the scheduled→in-progress transition.
func (s *Service) Start(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	var res TransitionResult
	visit, err := s.mutate(ctx, in.VisitID, func(v *Visit) ([]Event, error) {
		if err := v.checkAssigned(in.StaffID); err != nil {
			return nil, err
		}
		if done, err := s.screen(v, in, MutationStart, &res); done {
			return nil, err
		}
		if err := v.Start(in.StaffID, in.Location, in.At); err != nil {
			return nil, err
		}
		recordID := markReplayed(v, in.Record)
		return []Event{visitStartedEvent(*v, recordID)}, nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	res.Visit = visit
	return res, nil
}

// End applies the in-progress→completed transition and evaluates anomalies.
func (s *Service) End(ctx context.Context, in TransitionInput) (TransitionResult, error) {
	var res TransitionResult
	visit, err := s.mutate(ctx, in.VisitID, func(v *Visit) ([]Event, error) {
		if err := v.checkAssigned(in.StaffID); err != nil {
			return nil, err
		}
		if done, err := s.screen(v, in, MutationEnd, &res); done {
			return nil, err
		}
		completion, err := v.End(in.StaffID, in.Location, in.At)
		if err != nil {
			return nil, err
		}
		res.Completion = completion
		recordID := markReplayed(v, in.Record)
		if recordID != "" {
			v.CompletedOffline = true
		}
		return visitCompletedEvents(*v, completion, recordID), nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	for _, a := range res.Completion.Anomalies {
		observability.RecordAnomaly(string(a))
	}
	res.Visit = visit
	return res, nil
}

// CancelVisit cancels a scheduled or in-progress visit.
func (s *Service) CancelVisit(ctx context.Context, visitID, staffID, reason string) (*Visit, error) {
	visit, err := s.mutate(ctx, visitID, func(v *Visit) ([]Event, error) {
		if err := v.Cancel(staffID, reason, s.Now()); err != nil {
			return nil, err
		}
		return []Event{visitCancelledEvent(*v)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &visit, nil
}

// CompleteTask marks a task on the visit as done.
func (s *Service) CompleteTask(ctx context.Context, visitID, staffID, taskID string) (*Task, error) {
	var task Task
	_, err := s.mutate(ctx, visitID, func(v *Visit) ([]Event, error) {
		var err error
		task, err = v.CompleteTask(staffID, taskID, s.Now())
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateInput is a replayed visit-update: optional field changes plus additive notes.
type UpdateInput struct {
	VisitID               string
	StaffID               string
	Status                VisitStatus
	CancelReason          string
	TravelDistanceKm      *float64
	TravelDurationMinutes *int
	Notes                 []string
	BaseRevision          *int64
	At                    time.Time
	Record                *OfflineRecord
}

// HasFieldChanges reports whether the update touches non-additive fields.
func (in UpdateInput) HasFieldChanges() bool {
	return in.Status != "" || in.TravelDistanceKm != nil || in.TravelDurationMinutes != nil
}

// ApplyUpdate applies a visit-update. Only cancellation is reachable through a status
// change; clock-in and clock-out have their own record types.
func (s *Service) ApplyUpdate(ctx context.Context, in UpdateInput) (TransitionResult, error) {
	var res TransitionResult
	kind := MutationAdditive
	if in.HasFieldChanges() {
		kind = MutationFields
	}

	visit, err := s.mutate(ctx, in.VisitID, func(v *Visit) ([]Event, error) {
		if err := v.checkAssigned(in.StaffID); err != nil {
			return nil, err
		}
		if in.Record != nil {
			if v.HasApplied(in.Record.ID) {
				res.AlreadyApplied = true
				return nil, errNoChange
			}
			conflict := DetectConflict(*v, Mutation{
				Kind:            kind,
				At:              in.At,
				DeviceTimestamp: in.Record.DeviceTimestamp,
				BaseRevision:    in.BaseRevision,
				Status:          in.Status,
			}, s.skew)
			if conflict.Detected() {
				res.Conflict = conflict
				return nil, errNoChange
			}
		}

		var out []Event
		switch in.Status {
		case "":
		case VisitCancelled:
			if v.Status != VisitCancelled {
				if err := v.Cancel(in.StaffID, in.CancelReason, in.At); err != nil {
					return nil, err
				}
				out = append(out, visitCancelledEvent(*v))
			}
		default:
			return nil, fmt.Errorf("%w: status %q cannot be set by a visit update", ErrValidation, in.Status)
		}
		if in.TravelDistanceKm != nil {
			v.TravelDistanceKm = in.TravelDistanceKm
		}
		if in.TravelDurationMinutes != nil {
			v.TravelDurationMinutes = in.TravelDurationMinutes
		}
		if in.HasFieldChanges() {
			v.LastModifiedAt = in.At.UTC()
		}
		for _, text := range in.Notes {
			v.AddNote(in.StaffID, text, in.At)
		}
		markReplayed(v, in.Record)
		return out, nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	res.Visit = visit
	return res, nil
}

// ApplyTaskCompletion replays a task completion. A task that is already complete counts as
// applied, since completion is one-way.
func (s *Service) ApplyTaskCompletion(ctx context.Context, visitID, staffID, taskID string, at time.Time, rec *OfflineRecord) (TransitionResult, error) {
	var res TransitionResult
	visit, err := s.mutate(ctx, visitID, func(v *Visit) ([]Event, error) {
		if rec != nil && v.HasApplied(rec.ID) {
			res.AlreadyApplied = true
			return nil, errNoChange
		}
		if _, err := v.CompleteTask(staffID, taskID, at); err != nil {
			if !errors.Is(err, ErrConflict) {
				return nil, err
			}
			res.AlreadyApplied = true
		}
		markReplayed(v, rec)
		return nil, nil
	})
	if err != nil {
		return TransitionResult{}, err
	}
	res.Visit = visit
	return res, nil
}

// screen runs the replay-only checks for clock-in and clock-out. It reports done when the
// transition must not proceed; a nil error with done means "no write".
func (s *Service) screen(v *Visit, in TransitionInput, kind MutationKind, res *TransitionResult) (bool, error) {
	if in.Record == nil {
		return false, nil
	}
	if v.HasApplied(in.Record.ID) {
		res.AlreadyApplied = true
		return true, errNoChange
	}
	conflict := DetectConflict(*v, Mutation{Kind: kind, At: in.At, DeviceTimestamp: in.Record.DeviceTimestamp}, s.skew)
	if conflict.Satisfied {
		res.AlreadyApplied = true
		v.MarkApplied(in.Record.ID)
		return true, nil
	}
	if conflict.Detected() {
		res.Conflict = conflict
		return true, errNoChange
	}
	return false, nil
}

func markReplayed(v *Visit, rec *OfflineRecord) string {
	if rec == nil {
		return ""
	}
	v.MarkApplied(rec.ID)
	return rec.ID
}

func (s *Service) mutate(ctx context.Context, visitID string, fn func(*Visit) ([]Event, error)) (Visit, error) {
	current, err := s.repo.GetVisit(ctx, visitID)
	if err != nil {
		return Visit{}, err
	}
	if current == nil {
		return Visit{}, fmt.Errorf("%w: visit %s", ErrNotFound, visitID)
	}

	visit := current.Clone()
	expected := visit.Revision
	events, err := fn(&visit)
	if errors.Is(err, errNoChange) {
		return *current, nil
	}
	if err != nil {
		return Visit{}, err
	}

	updated, err := s.repo.UpdateVisit(ctx, visit, expected, events...)
	if errors.Is(err, ErrStaleRevision) {
		return Visit{}, fmt.Errorf("%w: visit %s was modified concurrently", ErrConflict, visitID)
	}
	if err != nil {
		return Visit{}, err
	}
	return updated, nil
}
