// Package outbox delivers events written to the outbox table to Kafka and
// replays failed deliveries from the dead-letter queue.
package outbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/healthsync/internal/events"
	"example.com/healthsync/internal/logging"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(ctx context.Context, subject, schema string) (int, error)
}

// Store is the persistence the dispatcher drains.
type Store interface {
	Claim(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []int64) error
	WriteDLQ(ctx context.Context, msg Message, reason string) error
}

// Message is one claimed outbox row.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	// Payload is the JSON document stored in the outbox.
	Payload []byte
}

// Dispatcher polls the outbox and publishes claimed rows grouped by topic.
type Dispatcher struct {
	store        Store
	producer     messageWriter
	registry     schemaRegistrar
	pollInterval time.Duration
	batchSize    int
	schemaIDs    sync.Map
	now          func() time.Time
}

func NewDispatcher(store Store, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 25
	}
	return &Dispatcher{
		store:        store,
		producer:     producer,
		registry:     registry,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

func (d *Dispatcher) String() string { return "outbox-dispatcher" }

// Serve polls until ctx is cancelled. It implements suture.Service.
func (d *Dispatcher) Serve(ctx context.Context) error {
	log := logging.Component("outbox")
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("outbox batch failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()
	msgs, err := d.store.Claim(ctx, d.batchSize)
	if err != nil {
		return fmt.Errorf("claim outbox rows: %w", err)
	}
	if len(msgs) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	failed := d.deliver(ctx, msgs)

	var errs []error
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		if cause, ok := failed[m.EventID]; ok {
			failedCounter.Inc()
			reason := fmt.Sprintf("%v (topic=%s)", cause, m.Topic)
			if err := d.store.WriteDLQ(ctx, m, reason); err != nil {
				// Left claimed; the row becomes visible again after the claim expires.
				errs = append(errs, fmt.Errorf("dead-letter event %d: %w", m.EventID, err))
				continue
			}
			dlqCounter.WithLabelValues(m.Topic).Inc()
			logging.Warn().Int64("event_id", m.EventID).Str("event_type", m.EventType).Str("reason", reason).Msg("outbox event dead-lettered")
		}
		ids = append(ids, m.EventID)
	}
	if err := d.store.MarkPublished(ctx, ids); err != nil {
		errs = append(errs, fmt.Errorf("mark published: %w", err))
	}
	return errors.Join(errs...)
}

// deliver writes each topic's batch and returns the cause of failure for
// every event that was not published.
func (d *Dispatcher) deliver(ctx context.Context, msgs []Message) map[int64]error {
	failed := make(map[int64]error)
	batches := make(map[string][]kafka.Message)
	members := make(map[string][]int64)

	for _, m := range msgs {
		frame, err := d.encode(ctx, m)
		if err != nil {
			failed[m.EventID] = err
			continue
		}
		batches[m.Topic] = append(batches[m.Topic], kafka.Message{
			Key:   []byte(m.PartitionKey),
			Value: frame,
			Time:  d.now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(m.EventType)},
				{Key: "schema_subject", Value: []byte(m.SchemaSubject)},
			},
		})
		members[m.Topic] = append(members[m.Topic], m.EventID)
	}

	topics := make([]string, 0, len(batches))
	for t := range batches {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		if err := d.producer.WriteMessages(ctx, topic, batches[topic]...); err != nil {
			for _, id := range members[topic] {
				failed[id] = err
			}
			continue
		}
		deliveredCounter.WithLabelValues(topic).Add(float64(len(batches[topic])))
	}
	return failed
}

func (d *Dispatcher) encode(ctx context.Context, m Message) ([]byte, error) {
	meta, ok := events.Lookup(m.EventType)
	if !ok {
		return nil, fmt.Errorf("no schema metadata for event_type=%s", m.EventType)
	}
	subject := m.SchemaSubject
	if subject == "" {
		subject = meta.SchemaSubject
	}
	id, err := d.schemaID(ctx, subject, meta.Schema)
	if err != nil {
		return nil, err
	}
	return encodeWireFormat(id, m.Payload), nil
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	key := subject + "::" + schema
	if v, ok := d.schemaIDs.Load(key); ok {
		return v.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("ensure schema %s: %w", subject, err)
	}
	d.schemaIDs.Store(key, id)
	return id, nil
}

// encodeWireFormat applies Confluent framing: magic byte, big-endian schema id, payload.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
