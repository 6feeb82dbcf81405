// Package postgres implements the canonical store on PostgreSQL. Every write that produces
// domain events records them in the outbox table inside the same transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/carevisits/internal/domain"
	platformevents "example.com/carevisits/libs/events"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Repository provides Postgres-backed persistence for offline records, visits, leaf
// entities and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, events ...domain.Event) error {
	for _, event := range events {
		route, ok := platformevents.Catalog[event.Type]
		if !ok {
			return fmt.Errorf("unknown event type: %s", event.Type)
		}
		body, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		partitionKey := event.PartitionKey
		if partitionKey == "" {
			partitionKey = event.AggregateID
		}
		dedupeKey := fmt.Sprintf("%s:%s:%s", event.AggregateType, event.AggregateID, event.Type)

		const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

		if _, err := tx.Exec(ctx, stmt,
			event.AggregateType,
			event.AggregateID,
			event.Type,
			route.Topic,
			route.SchemaSubject,
			partitionKey,
			body,
			dedupeKey,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var found bool
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

func isUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable[T any](data []byte) (*T, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

var _ domain.Repository = (*Repository)(nil)
