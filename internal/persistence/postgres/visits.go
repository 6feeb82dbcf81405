package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/carevisits/internal/domain"
)

const visitColumns = `visit_id, client_id, staff_id, visit_type, scheduled_start, scheduled_end, actual_start, actual_end, status,
        gps_verification, tasks, notes, anomalies, ai_summary, mar_entry_ids, travel_distance_km, travel_duration_minutes,
        cancel_reason, completed_offline, applied_record_ids, revision, last_modified_at, created_at, updated_at`

// CreateVisit inserts a scheduled visit. Scheduling owns visit creation; this exists for
// seeding and tests.
func (r *Repository) CreateVisit(ctx context.Context, v domain.Visit) error {
	doc, err := encodeVisitDocs(v)
	if err != nil {
		return err
	}
	if v.Status == "" {
		v.Status = domain.VisitScheduled
	}
	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = v.CreatedAt
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO visits (`+visitColumns+`)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		v.ID, v.ClientID, v.StaffID, v.VisitType, v.ScheduledStart, v.ScheduledEnd, v.ActualStart, v.ActualEnd, v.Status,
		doc.gps, doc.tasks, doc.notes, anomalyStrings(v.Anomalies), v.AISummary, nonNil(v.MAREntryIDs),
		v.TravelDistanceKm, v.TravelDurationMinutes, v.CancelReason, v.CompletedOffline, nonNil(v.AppliedRecordIDs),
		v.Revision, nullTime(v.LastModifiedAt), v.CreatedAt, v.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: visit %s already exists", domain.ErrConflict, v.ID)
	}
	return err
}

// GetVisit implements domain.VisitRepository.
func (r *Repository) GetVisit(ctx context.Context, visitID string) (*domain.Visit, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+visitColumns+` FROM visits WHERE visit_id=$1`, visitID)
	v, err := scanVisit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVisitsForStaff implements domain.VisitRepository.
func (r *Repository) ListVisitsForStaff(ctx context.Context, staffID string, from, to time.Time) ([]domain.Visit, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+visitColumns+` FROM visits
          WHERE staff_id=$1 AND scheduled_start >= $2 AND ($3::timestamptz IS NULL OR scheduled_start < $3)
          ORDER BY scheduled_start, visit_id`,
		staffID, from, nullTime(to),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	visits := make([]domain.Visit, 0)
	for rows.Next() {
		v, err := scanVisit(rows)
		if err != nil {
			return nil, err
		}
		visits = append(visits, v)
	}
	return visits, rows.Err()
}

// UpdateVisit implements domain.VisitRepository as a compare-and-set on revision. MAR
// attachments and the AI summary are written by other paths without a revision bump, so
// they are never taken from v: the stored MAR list is kept and the summary is only set when
// none is stored yet.
func (r *Repository) UpdateVisit(ctx context.Context, v domain.Visit, expectedRevision int64, events ...domain.Event) (domain.Visit, error) {
	doc, err := encodeVisitDocs(v)
	if err != nil {
		return domain.Visit{}, err
	}

	err = r.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE visits
                SET actual_start=$3, actual_end=$4, status=$5, gps_verification=$6, tasks=$7, notes=$8, anomalies=$9,
                    ai_summary = CASE WHEN ai_summary = '' THEN $10 ELSE ai_summary END,
                    travel_distance_km=$11, travel_duration_minutes=$12,
                    cancel_reason=$13, completed_offline=$14, applied_record_ids=$15, last_modified_at=$16,
                    revision = revision + 1, updated_at = NOW()
              WHERE visit_id=$1 AND revision=$2
              RETURNING revision, updated_at, ai_summary, mar_entry_ids`,
			v.ID, expectedRevision, v.ActualStart, v.ActualEnd, v.Status, doc.gps, doc.tasks, doc.notes,
			anomalyStrings(v.Anomalies), v.AISummary, v.TravelDistanceKm, v.TravelDurationMinutes,
			v.CancelReason, v.CompletedOffline, nonNil(v.AppliedRecordIDs), nullTime(v.LastModifiedAt),
		)
		if err := row.Scan(&v.Revision, &v.UpdatedAt, &v.AISummary, &v.MAREntryIDs); err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			found, existsErr := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM visits WHERE visit_id=$1)`, v.ID)
			if existsErr != nil {
				return existsErr
			}
			if !found {
				return fmt.Errorf("%w: visit %s", domain.ErrNotFound, v.ID)
			}
			return domain.ErrStaleRevision
		}
		return r.insertOutbox(ctx, tx, events...)
	})
	if err != nil {
		return domain.Visit{}, err
	}
	return v, nil
}

// SetVisitSummary implements domain.VisitRepository.
func (r *Repository) SetVisitSummary(ctx context.Context, visitID, summary string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE visits SET ai_summary=$2, updated_at=NOW() WHERE visit_id=$1`, visitID, summary)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: visit %s", domain.ErrNotFound, visitID)
	}
	return nil
}

type visitDocs struct {
	gps   []byte
	tasks []byte
	notes []byte
}

func encodeVisitDocs(v domain.Visit) (visitDocs, error) {
	var (
		doc visitDocs
		err error
	)
	if doc.gps, err = json.Marshal(v.GPSVerification); err != nil {
		return visitDocs{}, err
	}
	if doc.tasks, err = json.Marshal(nonNil(v.Tasks)); err != nil {
		return visitDocs{}, err
	}
	if doc.notes, err = json.Marshal(nonNil(v.Notes)); err != nil {
		return visitDocs{}, err
	}
	return doc, nil
}

func scanVisit(row pgx.Row) (domain.Visit, error) {
	var (
		v              domain.Visit
		gps            []byte
		tasks          []byte
		notes          []byte
		anomalies      []string
		lastModifiedAt *time.Time
	)
	if err := row.Scan(
		&v.ID, &v.ClientID, &v.StaffID, &v.VisitType, &v.ScheduledStart, &v.ScheduledEnd, &v.ActualStart, &v.ActualEnd, &v.Status,
		&gps, &tasks, &notes, &anomalies, &v.AISummary, &v.MAREntryIDs, &v.TravelDistanceKm, &v.TravelDurationMinutes,
		&v.CancelReason, &v.CompletedOffline, &v.AppliedRecordIDs, &v.Revision, &lastModifiedAt, &v.CreatedAt, &v.UpdatedAt,
	); err != nil {
		return domain.Visit{}, err
	}
	if err := json.Unmarshal(gps, &v.GPSVerification); err != nil {
		return domain.Visit{}, fmt.Errorf("decode gps_verification: %w", err)
	}
	if err := json.Unmarshal(tasks, &v.Tasks); err != nil {
		return domain.Visit{}, fmt.Errorf("decode tasks: %w", err)
	}
	if err := json.Unmarshal(notes, &v.Notes); err != nil {
		return domain.Visit{}, fmt.Errorf("decode notes: %w", err)
	}
	for _, a := range anomalies {
		v.Anomalies = append(v.Anomalies, domain.Anomaly(a))
	}
	if lastModifiedAt != nil {
		v.LastModifiedAt = lastModifiedAt.UTC()
	}
	return v, nil
}

func anomalyStrings(in []domain.Anomaly) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, string(a))
	}
	return out
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
