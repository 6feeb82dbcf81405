package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"example.com/carevisits/internal/domain"
)

// Applied is what a handler reports after replaying a record.
type Applied struct {
	EntityType domain.EntityKind
	EntityID   string
	VisitID    string
	// Conflict is set when the record was not applied because it disagrees with canonical
	// state. The engine parks such records for review.
	Conflict domain.Conflict
}

// Handler validates and replays one offline record type. Apply must be idempotent: a record
// whose canonical effect already exists reports that entity instead of writing again.
type Handler interface {
	Validate(payload json.RawMessage) error
	Apply(ctx context.Context, rec domain.OfflineRecord) (Applied, error)
}

// Handlers is the replay strategy table keyed by record type.
type Handlers map[domain.RecordType]Handler

// NewHandlers builds the table covering every record type.
func NewHandlers(visits *domain.Service, entities domain.EntityRepository) Handlers {
	r := &replayer{visits: visits, entities: entities}
	return Handlers{
		domain.RecordCheckIn:     typed[VisitTransitionPayload]{apply: r.checkIn},
		domain.RecordCheckOut:    typed[VisitTransitionPayload]{apply: r.checkOut},
		domain.RecordVisitUpdate: typed[VisitUpdatePayload]{apply: r.visitUpdate},
		domain.RecordTask:        typed[TaskPayload]{apply: r.task},
		domain.RecordMAREntry:    typed[MAREntryPayload]{apply: r.marEntry},
		domain.RecordNote:        typed[NotePayload]{apply: r.note},
		domain.RecordWellbeing:   typed[WellbeingPayload]{apply: r.wellbeing},
		domain.RecordGPSLog:      typed[GPSLogPayload]{apply: r.gpsLog},
		domain.RecordIncident:    typed[IncidentPayload]{apply: r.incident},
	}
}

// Lookup returns the handler for t or a validation error for unknown types.
func (h Handlers) Lookup(t domain.RecordType) (Handler, error) {
	handler, ok := h[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown offline record type %q", domain.ErrValidation, t)
	}
	return handler, nil
}

// Validate checks payload against the rules for t.
func (h Handlers) Validate(t domain.RecordType, payload json.RawMessage) error {
	handler, err := h.Lookup(t)
	if err != nil {
		return err
	}
	return handler.Validate(payload)
}

type typed[T validatable] struct {
	apply func(ctx context.Context, rec domain.OfflineRecord, payload T) (Applied, error)
}

func (h typed[T]) Validate(payload json.RawMessage) error {
	_, err := decode[T](payload)
	return err
}

func (h typed[T]) Apply(ctx context.Context, rec domain.OfflineRecord) (Applied, error) {
	payload, err := decode[T](rec.Payload)
	if err != nil {
		return Applied{}, err
	}
	return h.apply(ctx, rec, payload)
}

type replayer struct {
	visits   *domain.Service
	entities domain.EntityRepository
}

func (r *replayer) checkIn(ctx context.Context, rec domain.OfflineRecord, p VisitTransitionPayload) (Applied, error) {
	res, err := r.visits.Start(ctx, transitionInput(rec, p))
	if err != nil {
		return Applied{}, err
	}
	return visitApplied(p.VisitID, res.Conflict), nil
}

func (r *replayer) checkOut(ctx context.Context, rec domain.OfflineRecord, p VisitTransitionPayload) (Applied, error) {
	res, err := r.visits.End(ctx, transitionInput(rec, p))
	if err != nil {
		return Applied{}, err
	}
	return visitApplied(p.VisitID, res.Conflict), nil
}

func (r *replayer) visitUpdate(ctx context.Context, rec domain.OfflineRecord, p VisitUpdatePayload) (Applied, error) {
	res, err := r.visits.ApplyUpdate(ctx, domain.UpdateInput{
		VisitID:               p.VisitID,
		StaffID:               rec.StaffID,
		Status:                domain.VisitStatus(p.Status),
		CancelReason:          p.CancelReason,
		TravelDistanceKm:      p.TravelDistanceKm,
		TravelDurationMinutes: p.TravelDurationMinutes,
		Notes:                 p.Notes,
		BaseRevision:          p.BaseRevision,
		At:                    rec.DeviceTimestamp,
		Record:                &rec,
	})
	if err != nil {
		return Applied{}, err
	}
	return visitApplied(p.VisitID, res.Conflict), nil
}

func (r *replayer) task(ctx context.Context, rec domain.OfflineRecord, p TaskPayload) (Applied, error) {
	at := rec.DeviceTimestamp
	if p.CompletedAt != nil {
		at = *p.CompletedAt
	}
	if _, err := r.visits.ApplyTaskCompletion(ctx, p.VisitID, rec.StaffID, p.TaskID, at, &rec); err != nil {
		return Applied{}, err
	}
	return visitApplied(p.VisitID, domain.Conflict{}), nil
}

func (r *replayer) marEntry(ctx context.Context, rec domain.OfflineRecord, p MAREntryPayload) (Applied, error) {
	if applied, ok, err := r.existing(ctx, domain.EntityMAREntry, rec); ok || err != nil {
		return applied, err
	}
	if err := r.checkVisit(ctx, p.VisitID); err != nil {
		return Applied{}, err
	}
	entry := domain.MAREntry{
		ID:              uuid.NewString(),
		MedicationID:    p.MedicationID,
		ClientID:        p.ClientID,
		StaffID:         rec.StaffID,
		VisitID:         p.VisitID,
		ScheduledTime:   p.ScheduledTime,
		ActualTime:      p.ActualTime,
		Status:          p.Status,
		PRN:             p.PRN,
		Notes:           p.Notes,
		CreatedOffline:  true,
		OfflineRecordID: rec.ID,
		CreatedAt:       r.visits.Now(),
	}
	if entry.ActualTime == nil && entry.Status == "given" {
		at := rec.DeviceTimestamp.UTC()
		entry.ActualTime = &at
	}
	return r.insert(ctx, rec, Applied{EntityType: domain.EntityMAREntry, EntityID: entry.ID, VisitID: p.VisitID}, func() error {
		return r.entities.CreateMAREntry(ctx, entry)
	})
}

func (r *replayer) note(ctx context.Context, rec domain.OfflineRecord, p NotePayload) (Applied, error) {
	if applied, ok, err := r.existing(ctx, domain.EntityNote, rec); ok || err != nil {
		return applied, err
	}
	note := domain.Note{
		ID:              uuid.NewString(),
		ClientID:        p.ClientID,
		StaffID:         rec.StaffID,
		VisitID:         p.VisitID,
		Text:            p.Text,
		CreatedOffline:  true,
		OfflineRecordID: rec.ID,
		CreatedAt:       r.visits.Now(),
	}
	return r.insert(ctx, rec, Applied{EntityType: domain.EntityNote, EntityID: note.ID, VisitID: p.VisitID}, func() error {
		return r.entities.CreateNote(ctx, note)
	})
}

func (r *replayer) wellbeing(ctx context.Context, rec domain.OfflineRecord, p WellbeingPayload) (Applied, error) {
	if applied, ok, err := r.existing(ctx, domain.EntityWellbeing, rec); ok || err != nil {
		return applied, err
	}
	check := domain.WellbeingCheck{
		ID:              uuid.NewString(),
		ClientID:        p.ClientID,
		StaffID:         rec.StaffID,
		VisitID:         p.VisitID,
		Mood:            p.Mood,
		Hydration:       p.Hydration,
		Nutrition:       p.Nutrition,
		Pain:            p.Pain,
		Sleep:           p.Sleep,
		BehaviourNotes:  p.BehaviourNotes,
		BehaviourFlags:  p.BehaviourFlags,
		Safeguarding:    p.Safeguarding,
		Notes:           p.Notes,
		CreatedOffline:  true,
		OfflineRecordID: rec.ID,
		CreatedAt:       r.visits.Now(),
	}
	return r.insert(ctx, rec, Applied{EntityType: domain.EntityWellbeing, EntityID: check.ID, VisitID: p.VisitID}, func() error {
		return r.entities.CreateWellbeingCheck(ctx, check, domain.WellbeingEvents(check)...)
	})
}

func (r *replayer) gpsLog(ctx context.Context, rec domain.OfflineRecord, p GPSLogPayload) (Applied, error) {
	if applied, ok, err := r.existing(ctx, domain.EntityLocation, rec); ok || err != nil {
		return applied, err
	}
	ts := rec.DeviceTimestamp
	if p.Timestamp != nil {
		ts = *p.Timestamp
	}
	ping := domain.LocationPing{
		ID:              uuid.NewString(),
		StaffID:         rec.StaffID,
		VisitID:         p.VisitID,
		Latitude:        *p.Latitude,
		Longitude:       *p.Longitude,
		Accuracy:        p.Accuracy,
		Speed:           p.Speed,
		Status:          p.Status,
		Timestamp:       ts.UTC(),
		CreatedOffline:  true,
		OfflineRecordID: rec.ID,
		CreatedAt:       r.visits.Now(),
	}
	return r.insert(ctx, rec, Applied{EntityType: domain.EntityLocation, EntityID: ping.ID, VisitID: p.VisitID}, func() error {
		return r.entities.CreateLocationPing(ctx, ping)
	})
}

func (r *replayer) incident(ctx context.Context, rec domain.OfflineRecord, p IncidentPayload) (Applied, error) {
	if applied, ok, err := r.existing(ctx, domain.EntityIncident, rec); ok || err != nil {
		return applied, err
	}
	occurred := rec.DeviceTimestamp
	if p.OccurredAt != nil {
		occurred = *p.OccurredAt
	}
	incident := domain.Incident{
		ID:              uuid.NewString(),
		ClientID:        p.ClientID,
		StaffID:         rec.StaffID,
		VisitID:         p.VisitID,
		IncidentType:    p.IncidentType,
		Description:     p.Description,
		OccurredAt:      occurred.UTC(),
		CreatedOffline:  true,
		OfflineRecordID: rec.ID,
		CreatedAt:       r.visits.Now(),
	}
	return r.insert(ctx, rec, Applied{EntityType: domain.EntityIncident, EntityID: incident.ID, VisitID: p.VisitID}, func() error {
		return r.entities.CreateIncident(ctx, incident, domain.IncidentReportedEvent(incident))
	})
}

// insert runs create and reports applied. When the store rejects the write because another
// replay of rec stored its entity first, that entity is reported instead.
func (r *replayer) insert(ctx context.Context, rec domain.OfflineRecord, applied Applied, create func() error) (Applied, error) {
	err := create()
	if errors.Is(err, domain.ErrConflict) {
		prior, ok, findErr := r.existing(ctx, applied.EntityType, rec)
		if findErr != nil {
			return Applied{}, errors.Join(err, findErr)
		}
		if ok {
			prior.VisitID = applied.VisitID
			return prior, nil
		}
	}
	if err != nil {
		return Applied{}, err
	}
	return applied, nil
}

// existing reports the entity a previous replay of rec already produced.
func (r *replayer) existing(ctx context.Context, kind domain.EntityKind, rec domain.OfflineRecord) (Applied, bool, error) {
	id, err := r.entities.FindByOfflineRecord(ctx, kind, rec.ID)
	if err != nil {
		return Applied{}, false, err
	}
	if id == "" {
		return Applied{}, false, nil
	}
	return Applied{EntityType: kind, EntityID: id}, true, nil
}

func (r *replayer) checkVisit(ctx context.Context, visitID string) error {
	if visitID == "" {
		return nil
	}
	_, err := r.visits.GetVisit(ctx, visitID)
	return err
}

func transitionInput(rec domain.OfflineRecord, p VisitTransitionPayload) domain.TransitionInput {
	at := rec.DeviceTimestamp
	if p.Timestamp != nil {
		at = *p.Timestamp
	}
	loc := p.Location
	if loc == nil {
		loc = rec.Location
	}
	return domain.TransitionInput{
		VisitID:  p.VisitID,
		StaffID:  rec.StaffID,
		Location: loc,
		At:       at,
		Record:   &rec,
	}
}

func visitApplied(visitID string, conflict domain.Conflict) Applied {
	return Applied{EntityType: domain.EntityVisit, EntityID: visitID, VisitID: visitID, Conflict: conflict}
}
