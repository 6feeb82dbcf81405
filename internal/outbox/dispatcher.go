// Package outbox delivers the events written alongside visit and offline-record changes to
// Kafka, and retries the ones that could not be delivered.
package outbox

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/carevisits/libs/events"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Dispatcher claims unpublished outbox rows and delivers them to Kafka, framed with their
// schema registry id. Rows that cannot be delivered go to outbox_dlq.
type Dispatcher struct {
	pool             *pgxpool.Pool
	producer         messageWriter
	registry         schemaRegistrar
	dlq              *DLQWriter
	pollInterval     time.Duration
	batchSize        int
	schemaIDCache    sync.Map
	shutdownComplete chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:             pool,
		producer:         producer,
		registry:         registry,
		dlq:              NewDLQWriter(pool),
		pollInterval:     pollInterval,
		batchSize:        batchSize,
		shutdownComplete: make(chan struct{}),
	}
}

// Start polls the outbox every pollInterval until ctx is cancelled. Run it in its own
// goroutine and call Wait after cancelling.
func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer func() {
		ticker.Stop()
		close(d.shutdownComplete)
	}()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox dispatcher error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.shutdownComplete
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	observe := timeBatch()

	messages, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}
	defer observe()

	report := d.deliver(ctx, messages)
	deliveredCounter.Add(float64(len(report.delivered)))
	if len(report.failed) > 0 {
		log.Printf("outbox: %d of %d events dead-lettered", len(report.failed), len(messages))
		failedCounter.Add(float64(len(report.failed)))
		if err := d.moveToDLQ(ctx, report.failed); err != nil {
			return err
		}
	}

	// Dead-lettered rows are published from the outbox's point of view; the DLQ manager
	// owns their retries.
	if err := d.markPublished(ctx, messages); err != nil {
		return err
	}
	return d.clearRecovered(ctx, report.delivered)
}

// claimTimeout is how long a claimed but unpublished row stays invisible to other
// dispatchers before it is offered again.
const claimTimeout = time.Minute

// fetchAndClaim stamps claimed_at on up to batchSize unpublished rows and returns them in
// event_id order, which is the order they were written.
func (d *Dispatcher) fetchAndClaim(ctx context.Context) ([]Message, error) {
	const query = `WITH next AS (
            SELECT event_id FROM outbox
             WHERE published_at IS NULL
               AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
             ORDER BY event_id
             LIMIT $1
             FOR UPDATE SKIP LOCKED)
        UPDATE outbox o SET claimed_at = NOW()
          FROM next
         WHERE o.event_id = next.event_id
     RETURNING o.event_id, o.aggregate_type, o.aggregate_id, o.event_type, o.topic, o.schema_subject, o.partition_key, o.payload, o.origin_event_id`

	rows, err := d.pool.Query(ctx, query, d.batchSize, claimTimeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim outbox rows: %w", err)
	}
	messages, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Message])
	if err != nil {
		return nil, fmt.Errorf("claim outbox rows: %w", err)
	}
	slices.SortFunc(messages, func(a, b Message) int { return cmp.Compare(a.EventID, b.EventID) })
	return messages, nil
}

// failure is an event that could not be delivered, with the reason recorded in the DLQ.
type failure struct {
	msg    Message
	reason string
}

type deliveryReport struct {
	delivered []Message
	failed    []failure
}

// deliver frames each event with its schema id and writes one batch per topic. A bad event
// or a failed topic write only fails the events it covers.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) deliveryReport {
	var report deliveryReport
	pending := make(map[string][]Message)
	records := make(map[string][]kafka.Message)
	var topics []string

	for _, msg := range messages {
		schemaID, err := d.schemaID(ctx, msg)
		if err != nil {
			report.failed = append(report.failed, failure{msg: msg, reason: err.Error()})
			continue
		}
		if _, seen := pending[msg.Topic]; !seen {
			topics = append(topics, msg.Topic)
		}
		pending[msg.Topic] = append(pending[msg.Topic], msg)
		records[msg.Topic] = append(records[msg.Topic], kafka.Message{
			Key:     []byte(msg.PartitionKey),
			Value:   encodeWireFormat(schemaID, msg.Payload),
			Headers: msg.headers(),
			Time:    time.Now().UTC(),
		})
	}

	for _, topic := range topics {
		if err := d.producer.WriteMessages(ctx, topic, records[topic]...); err != nil {
			for _, msg := range pending[topic] {
				report.failed = append(report.failed, failure{msg: msg, reason: err.Error()})
			}
			continue
		}
		report.delivered = append(report.delivered, pending[topic]...)
	}
	return report
}

// schemaID resolves the registry id for msg's subject, caching it per subject and schema.
func (d *Dispatcher) schemaID(ctx context.Context, msg Message) (int, error) {
	meta, ok := schemaCatalog[msg.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)
	}
	cacheKey := msg.SchemaSubject + "::" + meta.Schema
	if cached, ok := d.schemaIDCache.Load(cacheKey); ok {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		return 0, fmt.Errorf("ensure schema %s: %w", msg.SchemaSubject, err)
	}
	d.schemaIDCache.Store(cacheKey, id)
	return id, nil
}

func (d *Dispatcher) markPublished(ctx context.Context, messages []Message) error {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	_, err := d.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

// clearRecovered drops the DLQ entries of requeued events that have now been delivered.
func (d *Dispatcher) clearRecovered(ctx context.Context, delivered []Message) error {
	var origins []int64
	for _, msg := range delivered {
		if msg.OriginEventID != nil {
			origins = append(origins, *msg.OriginEventID)
		}
	}
	if len(origins) == 0 {
		return nil
	}
	_, err := d.pool.Exec(ctx, `DELETE FROM outbox_dlq WHERE event_id = ANY($1)`, origins)
	return err
}

func (d *Dispatcher) moveToDLQ(ctx context.Context, failed []failure) error {
	for _, f := range failed {
		if err := d.dlq.Write(ctx, f.msg, fmt.Sprintf("%s (topic=%s)", f.reason, f.msg.Topic)); err != nil {
			return err
		}
		dlqCounter.WithLabelValues(f.msg.Topic).Inc()
	}
	return nil
}

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
	// OriginEventID is set when the row was requeued from the DLQ.
	OriginEventID *int64
}

func (m Message) originID() int64 {
	if m.OriginEventID != nil {
		return *m.OriginEventID
	}
	return m.EventID
}

func (m Message) headers() []kafka.Header {
	return []kafka.Header{
		{Key: events.HeaderEventType, Value: []byte(m.EventType)},
		{Key: events.HeaderSchemaSubject, Value: []byte(m.SchemaSubject)},
		{Key: events.HeaderAggregateID, Value: []byte(m.AggregateID)},
	}
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
