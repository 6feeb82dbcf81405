//go:build integration

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/carevisits/internal/testsupport"
	"example.com/carevisits/libs/events"
)

func TestDLQReplayReachesKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	pool := testsupport.StartPostgres(ctx, t)

	visitID := uuid.NewString()
	require.NotZero(t, seedOutbox(t, ctx, pool, visitID, events.TypeVisitCompleted))

	registry := &stubRegistry{id: 100}

	// 1. Initial dispatch fails and moves the message to DLQ.
	failing := NewDispatcher(pool, &stubProducer{err: errors.New("upstream kafka unavailable")}, registry, 5*time.Millisecond, 10)
	require.NoError(t, failing.processBatch(ctx))

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount, "expected message routed to DLQ on failure")

	// 2. Requeue the DLQ entry.
	replayed, err := NewDLQManager(pool, 5, time.Second).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, replayed)

	var requeued bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT requeued_at IS NOT NULL FROM outbox_dlq`).Scan(&requeued))
	require.True(t, requeued, "entry stays until the requeued copy is delivered")

	again, err := NewDLQManager(pool, 5, time.Second).RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, again, "a requeued entry is not requeued twice")

	// 3. Deliver the requeued row to a real broker.
	brokers := testsupport.StartKafka(ctx, t, events.TopicVisitEvents)

	producer := NewKafkaProducer(brokers)
	defer producer.Close()
	require.NoError(t, NewDispatcher(pool, producer, registry, 5*time.Millisecond, 10).processBatch(ctx))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     events.TopicVisitEvents,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, visitID, string(msg.Key))
	require.Equal(t, byte(0), msg.Value[0])

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, events.TypeVisitCompleted, headers[events.HeaderEventType])
	require.Equal(t, visitID, headers[events.HeaderAggregateID])

	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Zero(t, dlqCount, "delivery of the requeued copy clears the entry")
}
