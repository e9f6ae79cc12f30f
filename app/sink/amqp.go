package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"

	"github.com/lysyi3m/tender-comb/app/feed"
)

const recordMessageType = "tender.record"

// publisher is the part of *amqp.Channel the sink needs.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes records as persistent JSON messages to a durable queue.
// Category assignment is left to the queue consumer.
type AMQPSink struct {
	conn    *amqp.Connection
	channel publisher
	queue   string
	now     func() time.Time
}

func NewAMQPSink(url, queue string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	s := newAMQPSink(ch, queue)
	s.conn = conn
	return s, nil
}

func newAMQPSink(channel publisher, queue string) *AMQPSink {
	return &AMQPSink{
		channel: channel,
		queue:   queue,
		now:     time.Now,
	}
}

func (s *AMQPSink) UpsertRecord(ctx context.Context, record feed.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, err := json.Marshal(NewDocument(record, s.now()))
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	key := RecordKey(record)
	err = s.channel.Publish("", s.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    key,
		Type:         recordMessageType,
		Timestamp:    s.now().UTC(),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish message: %w", err)
	}

	slog.Debug("Published record", "queue", s.queue, "key", key)
	return key, nil
}

func (s *AMQPSink) UpsertRecords(ctx context.Context, records []feed.Record) ([]string, error) {
	ids := make([]string, len(records))
	var errs []error
	for i, record := range records {
		id, err := s.UpsertRecord(ctx, record)
		if err != nil {
			errs = append(errs, &DispatchFailure{SourceCode: record.SourceCode, ExternalID: record.ExternalID, Err: err})
			continue
		}
		ids[i] = id
	}
	return ids, errors.Join(errs...)
}

func (s *AMQPSink) AssignCategories(ctx context.Context, recordID string) error {
	return nil
}

func (s *AMQPSink) Close() {
	if ch, ok := s.channel.(*amqp.Channel); ok && ch != nil {
		ch.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
}
