//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/carevisits/internal/testsupport"
	"example.com/carevisits/libs/events"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	visitID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, visitID, events.TypeVisitStarted))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 42}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, events.TopicVisitEvents, producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)
	require.Equal(t, visitID, string(producer.writes[0].messages[0].Key))

	afterDelivered := testutil.ToFloat64(deliveredCounter)
	require.InDelta(t, beforeDelivered+1, afterDelivered, 0.0001)
	afterHistogram := histogramSampleCount(t)
	require.Greater(t, afterHistogram, beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)
}

func TestDispatcherRoutesMessagesToDLQOnFailure(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	visitID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, visitID, events.TypeVisitCancelled))

	producer := &stubProducer{err: errors.New("kafka write failed")}
	registry := &stubRegistry{id: 7}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues(events.TopicVisitEvents))

	require.NoError(t, dispatcher.processBatch(ctx))

	afterFailed := testutil.ToFloat64(failedCounter)
	require.InDelta(t, beforeFailed+1, afterFailed, 0.0001)
	afterDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues(events.TopicVisitEvents))
	require.InDelta(t, beforeDLQ+1, afterDLQ, 0.0001)

	var dlqCount int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE aggregate_id = $1`, visitID).Scan(&dlqCount)
	require.NoError(t, err)
	require.Equal(t, 1, dlqCount)

	var published int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published)
	require.NoError(t, err)
	require.Equal(t, 1, published)
}

func TestDispatcherCachesSchemaIDsAcrossBatch(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeVisitStarted))
	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeVisitStarted))

	producer := &stubProducer{}
	registry := &stubRegistry{id: 21}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Len(t, producer.writes[0].messages, 2)
	require.Len(t, registry.calls, 1, "schema registry should be invoked once due to cache")

	afterDelivered := testutil.ToFloat64(deliveredCounter)
	require.InDelta(t, beforeDelivered+2, afterDelivered, 0.0001)
}

func TestDispatcherUnknownSchemaMovesEventsToDLQ(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	eventID := seedOutbox(t, ctx, pool, uuid.NewString(), "visit.unknown")
	require.NotZero(t, eventID)

	producer := &stubProducer{}
	registry := &stubRegistry{id: 99}
	dispatcher := NewDispatcher(pool, producer, registry, 10*time.Millisecond, 5)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Empty(t, producer.writes, "unknown schema should skip kafka writes")
	require.Empty(t, registry.calls, "schema registry should not be invoked when metadata missing")

	var dlqCount int
	var reason string
	err := pool.QueryRow(ctx, `SELECT COUNT(*), MAX(reason) FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&dlqCount, &reason)
	require.NoError(t, err)
	require.Equal(t, 1, dlqCount)
	require.Contains(t, reason, "no schema metadata for event_type=visit.unknown")

	var publishedAt time.Time
	err = pool.QueryRow(ctx, `SELECT published_at FROM outbox WHERE event_id = $1`, eventID).Scan(&publishedAt)
	require.NoError(t, err)
	require.False(t, publishedAt.IsZero(), "event should still be marked as published")
}

func TestDLQManagerQuarantinesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	require.NotZero(t, seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeIncidentReported))
	dispatcher := NewDispatcher(pool, &stubProducer{err: errors.New("down")}, &stubRegistry{}, time.Millisecond, 5)
	require.NoError(t, dispatcher.processBatch(ctx))

	_, err := pool.Exec(ctx, `UPDATE outbox_dlq SET retry_count = 3`)
	require.NoError(t, err)

	before := testutil.ToFloat64(dlqOutcomes.WithLabelValues(events.TopicCareEvents, events.TypeIncidentReported, dlqOutcomeQuarantined))
	replayed, err := NewDLQManager(pool, 3, time.Second).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, replayed)
	require.InDelta(t, before+1, testutil.ToFloat64(dlqOutcomes.WithLabelValues(events.TopicCareEvents, events.TypeIncidentReported, dlqOutcomeQuarantined)), 0.0001)
	require.Zero(t, testutil.ToFloat64(dlqBacklogGauge))

	var quarantined int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&quarantined))
	require.Equal(t, 1, quarantined)
}

func TestDLQRetriesAccumulateAcrossRequeues(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	eventID := seedOutbox(t, ctx, pool, uuid.NewString(), events.TypeConflictFlagged)
	failing := NewDispatcher(pool, &stubProducer{err: errors.New("down")}, &stubRegistry{}, time.Millisecond, 5)
	manager := NewDLQManager(pool, 2, time.Millisecond)

	require.NoError(t, failing.processBatch(ctx))
	for attempt := 1; attempt <= 2; attempt++ {
		_, err := pool.Exec(ctx, `UPDATE outbox_dlq SET next_retry_at = NOW()`)
		require.NoError(t, err)
		requeued, err := manager.RunOnce(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, 1, requeued)
		require.NoError(t, failing.processBatch(ctx))

		var rows, retries int
		var origin int64
		require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*), MAX(retry_count), MAX(event_id) FROM outbox_dlq`).Scan(&rows, &retries, &origin))
		require.Equal(t, 1, rows)
		require.Equal(t, attempt, retries)
		require.Equal(t, eventID, origin)
	}

	_, err := pool.Exec(ctx, `UPDATE outbox_dlq SET next_retry_at = NOW()`)
	require.NoError(t, err)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, requeued)

	var quarantineReason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT quarantine_reason FROM outbox_dlq WHERE event_id = $1`, eventID).Scan(&quarantineReason))
	require.Contains(t, quarantineReason, "retry limit of 2 reached")
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()

	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, aggregateID, eventType string) int64 {
	t.Helper()

	route, ok := events.Catalog[eventType]
	if !ok {
		route = events.Route{Topic: events.TopicVisitEvents, SchemaSubject: events.TopicVisitEvents + "-" + eventType}
	}
	payloadBytes, err := json.Marshal(map[string]any{"visit_id": aggregateID})
	require.NoError(t, err)

	var eventID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,$2,$3,$4,$5,$6,$7)
         RETURNING event_id`,
		"visit",
		aggregateID,
		eventType,
		route.Topic,
		route.SchemaSubject,
		aggregateID,
		payloadBytes,
	).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}
