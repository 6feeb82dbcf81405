package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/carevisits/internal/domain"
)

var entityTables = map[domain.EntityKind]struct{ table, idColumn string }{
	domain.EntityMAREntry:  {"mar_entries", "mar_entry_id"},
	domain.EntityNote:      {"notes", "note_id"},
	domain.EntityWellbeing: {"wellbeing_checks", "check_id"},
	domain.EntityLocation:  {"location_pings", "ping_id"},
	domain.EntityIncident:  {"incidents", "incident_id"},
}

// FindByOfflineRecord implements domain.EntityRepository.
func (r *Repository) FindByOfflineRecord(ctx context.Context, kind domain.EntityKind, recordID string) (string, error) {
	meta, ok := entityTables[kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown entity kind %q", domain.ErrValidation, kind)
	}
	var id string
	err := r.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE offline_record_id=$1`, meta.idColumn, meta.table),
		recordID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return id, err
}

// CreateMAREntry implements domain.EntityRepository.
func (r *Repository) CreateMAREntry(ctx context.Context, entry domain.MAREntry, events ...domain.Event) error {
	prn, err := json.Marshal(entry.PRN)
	if err != nil {
		return err
	}
	return r.insertEntity(ctx, domain.EntityMAREntry, entry.OfflineRecordID, events, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO mar_entries (mar_entry_id, medication_id, client_id, staff_id, visit_id, scheduled_time, actual_time, status, prn, notes, created_offline, offline_record_id, created_at)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			entry.ID, entry.MedicationID, entry.ClientID, entry.StaffID, nullIfEmpty(entry.VisitID), entry.ScheduledTime,
			entry.ActualTime, entry.Status, prn, entry.Notes, entry.CreatedOffline, nullIfEmpty(entry.OfflineRecordID), entry.CreatedAt,
		); err != nil {
			return err
		}
		if entry.VisitID == "" {
			return nil
		}
		tag, err := tx.Exec(ctx,
			`UPDATE visits SET mar_entry_ids = array_append(mar_entry_ids, $2), updated_at = NOW() WHERE visit_id=$1`,
			entry.VisitID, entry.ID,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: visit %s", domain.ErrNotFound, entry.VisitID)
		}
		return nil
	})
}

// CreateNote implements domain.EntityRepository.
func (r *Repository) CreateNote(ctx context.Context, note domain.Note, events ...domain.Event) error {
	return r.insertEntity(ctx, domain.EntityNote, note.OfflineRecordID, events, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO notes (note_id, client_id, staff_id, visit_id, body, created_offline, offline_record_id, created_at)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			note.ID, note.ClientID, note.StaffID, nullIfEmpty(note.VisitID), note.Text, note.CreatedOffline,
			nullIfEmpty(note.OfflineRecordID), note.CreatedAt,
		)
		return err
	})
}

// CreateWellbeingCheck implements domain.EntityRepository.
func (r *Repository) CreateWellbeingCheck(ctx context.Context, check domain.WellbeingCheck, events ...domain.Event) error {
	safeguarding, err := json.Marshal(check.Safeguarding)
	if err != nil {
		return err
	}
	return r.insertEntity(ctx, domain.EntityWellbeing, check.OfflineRecordID, events, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO wellbeing_checks (check_id, client_id, staff_id, visit_id, mood, hydration, nutrition, pain, sleep,
                behaviour_notes, behaviour_flags, safeguarding, notes, created_offline, offline_record_id, created_at)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			check.ID, check.ClientID, check.StaffID, nullIfEmpty(check.VisitID), check.Mood, check.Hydration, check.Nutrition,
			check.Pain, check.Sleep, check.BehaviourNotes, nonNil(check.BehaviourFlags), safeguarding, check.Notes,
			check.CreatedOffline, nullIfEmpty(check.OfflineRecordID), check.CreatedAt,
		)
		return err
	})
}

// CreateLocationPing implements domain.EntityRepository.
func (r *Repository) CreateLocationPing(ctx context.Context, ping domain.LocationPing, events ...domain.Event) error {
	return r.insertEntity(ctx, domain.EntityLocation, ping.OfflineRecordID, events, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO location_pings (ping_id, staff_id, visit_id, lat, lng, accuracy, speed, status, recorded_at, created_offline, offline_record_id, created_at)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			ping.ID, ping.StaffID, nullIfEmpty(ping.VisitID), ping.Latitude, ping.Longitude, ping.Accuracy, ping.Speed,
			ping.Status, ping.Timestamp, ping.CreatedOffline, nullIfEmpty(ping.OfflineRecordID), ping.CreatedAt,
		)
		return err
	})
}

// CreateIncident implements domain.EntityRepository.
func (r *Repository) CreateIncident(ctx context.Context, incident domain.Incident, events ...domain.Event) error {
	return r.insertEntity(ctx, domain.EntityIncident, incident.OfflineRecordID, events, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO incidents (incident_id, client_id, staff_id, visit_id, incident_type, description, occurred_at, created_offline, offline_record_id, created_at)
             VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			incident.ID, incident.ClientID, incident.StaffID, nullIfEmpty(incident.VisitID), incident.IncidentType,
			incident.Description, incident.OccurredAt, incident.CreatedOffline, nullIfEmpty(incident.OfflineRecordID), incident.CreatedAt,
		)
		return err
	})
}

func (r *Repository) insertEntity(ctx context.Context, kind domain.EntityKind, recordID string, events []domain.Event, insert func(pgx.Tx) error) error {
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := insert(tx); err != nil {
			return err
		}
		return r.insertOutbox(ctx, tx, events...)
	})
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: offline record %s already produced a %s", domain.ErrConflict, recordID, kind)
	case hasCode(err, foreignKeyViolation):
		return fmt.Errorf("%w: %s references a missing visit", domain.ErrNotFound, kind)
	}
	return err
}
