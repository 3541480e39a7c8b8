// Package consumer reads sync requests from Kafka and runs them.
package consumer

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"example.com/healthsync/internal/logging"
)

// ErrRejected marks a message that can never be processed. The processor
// commits it so it does not block the partition.
var ErrRejected = errors.New("message rejected")

// Reader is the subset of *kafka.Reader the processor uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// Message is a decoded Kafka record.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	SchemaSubject string
	// SchemaID is zero for unframed JSON payloads.
	SchemaID int
	Payload  []byte
}

type Option func(*Processor)

// WithLogger overrides the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// WithFetchBackoff sets the pause after a failed fetch.
func WithFetchBackoff(d time.Duration) Option {
	return func(p *Processor) { p.fetchBackoff = d }
}

// Processor fetches, decodes and dispatches messages, committing each one
// after its handler succeeds.
type Processor struct {
	reader       Reader
	handler      Handler
	log          zerolog.Logger
	fetchBackoff time.Duration
}

func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:       reader,
		handler:      handler,
		log:          logging.Component("consumer"),
		fetchBackoff: time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) String() string { return "sync-request-consumer" }

// Serve runs until ctx is cancelled. It implements suture.Service.
func (p *Processor) Serve(ctx context.Context) error {
	err := p.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Run processes messages until ctx is cancelled and returns ctx.Err().
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.log.Error().Err(err).Msg("fetch failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.fetchBackoff):
			}
			continue
		}

		msg, err := decodeMessage(raw)
		if err == nil {
			err = p.handler.Handle(ctx, msg)
		}
		switch {
		case err == nil:
			p.commit(ctx, raw)
			recordProcessed(msg)
		case errors.Is(err, ErrRejected):
			p.log.Warn().Err(err).
				Str("topic", raw.Topic).Int("partition", raw.Partition).Int64("offset", raw.Offset).
				Msg("message rejected")
			rejectedCounter.WithLabelValues(raw.Topic).Inc()
			p.commit(ctx, raw)
		default:
			// Left uncommitted so a restart redelivers it.
			p.log.Error().Err(err).Str("event_type", msg.EventType).Int64("offset", raw.Offset).Msg("handler failed")
			handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
		}
	}
}

func (p *Processor) commit(ctx context.Context, raw kafka.Message) {
	if err := p.reader.CommitMessages(ctx, raw); err != nil {
		p.log.Error().Err(err).Int64("offset", raw.Offset).Msg("commit failed")
	}
}

// decodeMessage accepts Confluent framed payloads and plain JSON.
func decodeMessage(raw kafka.Message) (Message, error) {
	eventType, ok := headerValue(raw, "event_type")
	if !ok || len(eventType) == 0 {
		return Message{}, fmt.Errorf("%w: missing event_type header", ErrRejected)
	}
	msg := Message{
		Topic:     raw.Topic,
		Partition: raw.Partition,
		Offset:    raw.Offset,
		Timestamp: raw.Time,
	}
	subject, _ := headerValue(raw, "schema_subject")

	value := raw.Value
	switch {
	case len(value) >= 5 && value[0] == 0:
		msg.SchemaID = int(binary.BigEndian.Uint32(value[1:5]))
		value = value[5:]
	case len(bytes.TrimSpace(value)) > 0 && bytes.TrimSpace(value)[0] == '{':
	default:
		return Message{}, fmt.Errorf("%w: unrecognised payload framing (%d bytes)", ErrRejected, len(value))
	}
	msg.EventType = string(eventType)
	msg.SchemaSubject = string(subject)
	msg.Payload = append([]byte(nil), value...)
	return msg, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, h := range msg.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}
