package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"example.com/carevisits/libs/events"
)

func TestSchemaCatalogCoversEveryRoutedEvent(t *testing.T) {
	for eventType := range events.Catalog {
		entry, ok := schemaCatalog[eventType]
		require.Truef(t, ok, "missing schema for %s", eventType)

		var doc map[string]any
		require.NoErrorf(t, json.Unmarshal([]byte(entry.Schema), &doc), "schema for %s", eventType)
		require.Equal(t, "object", doc["type"])
	}
	require.Len(t, schemaCatalog, len(events.Catalog))
}

func TestEncodeWireFormat(t *testing.T) {
	frame := encodeWireFormat(513, []byte(`{"a":1}`))

	require.Equal(t, byte(0), frame[0])
	require.Equal(t, uint32(513), binary.BigEndian.Uint32(frame[1:5]))
	require.Equal(t, `{"a":1}`, string(frame[5:]))
}

func TestDeliverGroupsByTopicAndSetsHeaders(t *testing.T) {
	producer := &stubProducer{}
	registry := &stubRegistry{id: 11}
	d := NewDispatcher(nil, producer, registry, time.Second, 10)

	started := routedMessage(1, events.TypeVisitStarted, "visit-1")
	completed := routedMessage(2, events.TypeVisitCompleted, "visit-1")
	flagged := routedMessage(3, events.TypeConflictFlagged, "rec-1")

	report := d.deliver(context.Background(), []Message{started, completed, flagged})
	require.Empty(t, report.failed)
	require.Len(t, report.delivered, 3)

	byTopic := map[string][]kafka.Message{}
	for _, w := range producer.writes {
		byTopic[w.topic] = append(byTopic[w.topic], w.messages...)
	}
	require.Len(t, byTopic[events.TopicVisitEvents], 2)
	require.Len(t, byTopic[events.TopicOfflineEvents], 1)

	msg := byTopic[events.TopicOfflineEvents][0]
	require.Equal(t, "rec-1", string(msg.Key))
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, events.TypeConflictFlagged, headers[events.HeaderEventType])
	require.Equal(t, events.Catalog[events.TypeConflictFlagged].SchemaSubject, headers[events.HeaderSchemaSubject])
	require.Equal(t, "rec-1", headers[events.HeaderAggregateID])

	// one registry call per subject; the second delivery is served from the cache
	require.Len(t, registry.calls, 3)
	require.Len(t, d.deliver(context.Background(), []Message{started}).delivered, 1)
	require.Len(t, registry.calls, 3)
}

func TestDeliverFailsOnlyUnknownEventTypes(t *testing.T) {
	producer := &stubProducer{}
	d := NewDispatcher(nil, producer, &stubRegistry{}, time.Second, 10)

	unknown := Message{EventID: 1, EventType: "visit.unknown", Topic: events.TopicVisitEvents}
	report := d.deliver(context.Background(), []Message{unknown, routedMessage(2, events.TypeVisitStarted, "visit-1")})

	require.Len(t, report.failed, 1)
	require.Equal(t, int64(1), report.failed[0].msg.EventID)
	require.Contains(t, report.failed[0].reason, "no schema metadata for event_type=visit.unknown")
	require.Len(t, report.delivered, 1)
	require.Len(t, producer.writes, 1)
}

func TestDeliverFailsEventsWhoseSchemaCannotBeResolved(t *testing.T) {
	producer := &stubProducer{}
	d := NewDispatcher(nil, producer, &stubRegistry{err: errors.New("registry down")}, time.Second, 10)

	report := d.deliver(context.Background(), []Message{routedMessage(1, events.TypeIncidentReported, "inc-1")})
	require.Len(t, report.failed, 1)
	require.Contains(t, report.failed[0].reason, "registry down")
	require.Empty(t, report.delivered)
	require.Empty(t, producer.writes)
}

func TestDeliverFailsWholeTopicOnWriteError(t *testing.T) {
	producer := &stubProducer{err: errors.New("broker unavailable")}
	d := NewDispatcher(nil, producer, &stubRegistry{id: 4}, time.Second, 10)

	report := d.deliver(context.Background(), []Message{
		routedMessage(1, events.TypeVisitStarted, "visit-1"),
		routedMessage(2, events.TypeVisitCompleted, "visit-1"),
	})
	require.Len(t, report.failed, 2)
	for _, f := range report.failed {
		require.Equal(t, "broker unavailable", f.reason)
	}
}

func TestBackoffDelayIsCapped(t *testing.T) {
	m := NewDLQManager(nil, 0, 0)
	require.Equal(t, 5, m.maxRetries)
	require.Equal(t, time.Minute, m.backoffDelay(1))
	require.Equal(t, 4*time.Minute, m.backoffDelay(3))
	require.Equal(t, time.Hour, m.backoffDelay(10))
}

func routedMessage(id int64, eventType, aggregateID string) Message {
	route := events.Catalog[eventType]
	return Message{
		EventID:       id,
		AggregateType: "visit",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         route.Topic,
		SchemaSubject: route.SchemaSubject,
		PartitionKey:  aggregateID,
		Payload:       json.RawMessage(`{}`),
	}
}

type stubProducer struct {
	mu     sync.Mutex
	err    error
	writes []writtenBatch
}

type writtenBatch struct {
	topic    string
	messages []kafka.Message
}

func (s *stubProducer) WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}

	copied := make([]kafka.Message, len(msgs))
	copy(copied, msgs)

	s.writes = append(s.writes, writtenBatch{
		topic:    topic,
		messages: copied,
	})
	return nil
}

type stubRegistry struct {
	mu    sync.Mutex
	id    int
	err   error
	calls []schemaCall
}

type schemaCall struct {
	subject string
	schema  string
}

func (s *stubRegistry) EnsureSchema(ctx context.Context, subject string, schema string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, schemaCall{subject: subject, schema: schema})
	if s.err != nil {
		return 0, s.err
	}
	if s.id == 0 {
		s.id = 1
	}
	return s.id, nil
}

func TestTimeBatchRecordsElapsedTime(t *testing.T) {
	sum := func() float64 {
		metric := &dto.Metric{}
		require.NoError(t, batchDuration.Write(metric))
		return metric.GetHistogram().GetSampleSum()
	}
	before := sum()

	observe := timeBatch()
	time.Sleep(20 * time.Millisecond)
	observe()

	require.GreaterOrEqual(t, sum()-before, 0.02)
}
