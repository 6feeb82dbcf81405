package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/carevisits/internal/domain"
)

const recordColumns = `record_id, staff_id, sequence, record_type, payload, device_timestamp, server_received_at, synced, synced_at,
        conflict_status, conflict_notes, device_info, location, entity_type, entity_id, attempts, last_error`

// CreateRecord implements domain.OfflineRecordRepository. The sequence comes from a
// database sequence, so it increases monotonically per staff member.
func (r *Repository) CreateRecord(ctx context.Context, rec domain.OfflineRecord) (domain.OfflineRecord, error) {
	var deviceInfo, location []byte
	var err error
	if rec.DeviceInfo != nil {
		if deviceInfo, err = marshalNullable(rec.DeviceInfo); err != nil {
			return domain.OfflineRecord{}, err
		}
	}
	if rec.Location != nil {
		if location, err = marshalNullable(rec.Location); err != nil {
			return domain.OfflineRecord{}, err
		}
	}
	if rec.ConflictStatus == "" {
		rec.ConflictStatus = domain.ConflictNone
	}

	const stmt = `INSERT INTO offline_records (record_id, staff_id, record_type, payload, device_timestamp, server_received_at, conflict_status, device_info, location)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING sequence`

	err = r.pool.QueryRow(ctx, stmt,
		rec.ID,
		rec.StaffID,
		rec.Type,
		[]byte(rec.Payload),
		rec.DeviceTimestamp,
		rec.ServerReceivedAt,
		rec.ConflictStatus,
		deviceInfo,
		location,
	).Scan(&rec.Sequence)
	if isUniqueViolation(err) {
		return domain.OfflineRecord{}, fmt.Errorf("%w: offline record %s already exists", domain.ErrConflict, rec.ID)
	}
	if err != nil {
		return domain.OfflineRecord{}, err
	}
	rec.Synced = false
	rec.SyncedAt = nil
	return rec, nil
}

// GetRecord implements domain.OfflineRecordRepository.
func (r *Repository) GetRecord(ctx context.Context, recordID string) (*domain.OfflineRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM offline_records WHERE record_id=$1`, recordID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListPending implements domain.OfflineRecordRepository.
func (r *Repository) ListPending(ctx context.Context, staffID string) ([]domain.OfflineRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM offline_records
        WHERE staff_id=$1 AND synced=FALSE AND conflict_status <> 'manual-review'
        ORDER BY device_timestamp, sequence`, staffID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows, 0)
}

// MarkSynced implements domain.OfflineRecordRepository.
func (r *Repository) MarkSynced(ctx context.Context, recordID string, outcome domain.SyncOutcome) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE offline_records
            SET synced=TRUE, synced_at=$2, entity_type=$3, entity_id=$4, last_error=''
          WHERE record_id=$1 AND synced=FALSE`,
		recordID, outcome.SyncedAt, outcome.EntityType, outcome.EntityID,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.requireRecord(ctx, recordID)
}

// RecordFailure implements domain.OfflineRecordRepository.
func (r *Repository) RecordFailure(ctx context.Context, recordID, reason string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE offline_records SET attempts = attempts + 1, last_error=$2 WHERE record_id=$1`,
		recordID, reason,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: offline record %s", domain.ErrNotFound, recordID)
	}
	return nil
}

// FlagConflict implements domain.OfflineRecordRepository.
func (r *Repository) FlagConflict(ctx context.Context, flag domain.ConflictFlag, events ...domain.Event) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE offline_records
                SET conflict_status='manual-review', conflict_notes=$2, attempts = attempts + 1
              WHERE record_id=$1 AND synced=FALSE`,
			flag.RecordID, flag.Notes,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			if err := r.requireRecord(ctx, flag.RecordID); err != nil {
				return err
			}
			return fmt.Errorf("%w: offline record %s already synced", domain.ErrInvalidState, flag.RecordID)
		}
		return r.insertOutbox(ctx, tx, events...)
	})
}

// ListForReview implements domain.OfflineRecordRepository.
func (r *Repository) ListForReview(ctx context.Context, cursor *domain.Cursor, limit int) ([]domain.OfflineRecord, *domain.Cursor, error) {
	args := []any{limit + 1}
	query := `SELECT ` + recordColumns + ` FROM offline_records WHERE conflict_status='manual-review'`
	if cursor != nil {
		query += ` AND (server_received_at, record_id) > ($2, $3)`
		args = append(args, cursor.At, cursor.ID)
	}
	query += ` ORDER BY server_received_at, record_id LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	results, err := collectRecords(rows, limit+1)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) > limit {
		results = results[:limit]
		last := results[len(results)-1]
		next = &domain.Cursor{At: last.ServerReceivedAt, ID: last.ID}
	}
	return results, next, nil
}

// ResolveConflict implements domain.OfflineRecordRepository.
func (r *Repository) ResolveConflict(ctx context.Context, recordID, notes string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE offline_records
            SET conflict_status='resolved',
                conflict_notes = CASE
                    WHEN $2::text = '' THEN conflict_notes
                    WHEN conflict_notes = '' THEN $2::text
                    ELSE conflict_notes || E'\n' || $2::text
                END,
                synced=TRUE,
                synced_at=$3
          WHERE record_id=$1 AND conflict_status='manual-review'`,
		recordID, notes, at,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.requireRecord(ctx, recordID)
}

// ListStaffWithPending implements domain.OfflineRecordRepository.
func (r *Repository) ListStaffWithPending(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT staff_id FROM offline_records
        WHERE synced=FALSE AND conflict_status <> 'manual-review'
        ORDER BY staff_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repository) requireRecord(ctx context.Context, recordID string) error {
	found, err := r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM offline_records WHERE record_id=$1)`, recordID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: offline record %s", domain.ErrNotFound, recordID)
	}
	return nil
}

func collectRecords(rows pgx.Rows, capacity int) ([]domain.OfflineRecord, error) {
	defer rows.Close()
	results := make([]domain.OfflineRecord, 0, capacity)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

func scanRecord(row pgx.Row) (domain.OfflineRecord, error) {
	var (
		rec        domain.OfflineRecord
		payload    []byte
		deviceInfo []byte
		location   []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.StaffID, &rec.Sequence, &rec.Type, &payload, &rec.DeviceTimestamp, &rec.ServerReceivedAt,
		&rec.Synced, &rec.SyncedAt, &rec.ConflictStatus, &rec.ConflictNotes, &deviceInfo, &location,
		&rec.EntityType, &rec.EntityID, &rec.Attempts, &rec.LastError,
	); err != nil {
		return domain.OfflineRecord{}, err
	}
	rec.Payload = payload

	var err error
	if rec.DeviceInfo, err = unmarshalNullable[domain.DeviceInfo](deviceInfo); err != nil {
		return domain.OfflineRecord{}, fmt.Errorf("decode device_info: %w", err)
	}
	if rec.Location, err = unmarshalNullable[domain.Location](location); err != nil {
		return domain.OfflineRecord{}, fmt.Errorf("decode location: %w", err)
	}
	return rec, nil
}
