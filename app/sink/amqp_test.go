package sink

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"

	"github.com/lysyi3m/tender-comb/app/feed"
)

type fakePublisher struct {
	messages []amqp.Publishing
	keys     []string
	failOn   string
}

func (p *fakePublisher) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if p.failOn != "" && msg.MessageId == p.failOn {
		return errors.New("channel closed")
	}
	p.keys = append(p.keys, key)
	p.messages = append(p.messages, msg)
	return nil
}

func TestAMQPSink_UpsertRecord(t *testing.T) {
	publisher := &fakePublisher{}
	s := newAMQPSink(publisher, "tenders")
	s.now = func() time.Time { return time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC) }

	id, err := s.UpsertRecord(context.Background(), testRecord("BOE-B-2025-1"))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if id != "ES-BOE:BOE-B-2025-1" {
		t.Errorf("Expected record key as id, got %s", id)
	}

	if len(publisher.messages) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(publisher.messages))
	}
	msg := publisher.messages[0]
	if publisher.keys[0] != "tenders" {
		t.Errorf("Expected routing key 'tenders', got %s", publisher.keys[0])
	}
	if msg.DeliveryMode != amqp.Persistent {
		t.Errorf("Expected persistent delivery")
	}
	if msg.MessageId != id || msg.ContentType != "application/json" {
		t.Errorf("Unexpected message properties %+v", msg)
	}

	var doc Document
	if err := json.Unmarshal(msg.Body, &doc); err != nil {
		t.Fatalf("Expected JSON body, got %v", err)
	}
	if doc.Key != id || doc.Title != "Contrato de ciberseguridad" || doc.Status != "open" {
		t.Errorf("Unexpected document %+v", doc)
	}
	if !doc.IngestedAt.Equal(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Unexpected ingestion time %v", doc.IngestedAt)
	}
}

func TestAMQPSink_UpsertRecords(t *testing.T) {
	publisher := &fakePublisher{failOn: "ES-BOE:2"}
	s := newAMQPSink(publisher, "tenders")

	records := []feed.Record{testRecord("1"), testRecord("2"), testRecord("3")}
	ids, err := s.UpsertRecords(context.Background(), records)
	if err == nil {
		t.Fatal("Expected error for rejected record")
	}

	var failure *DispatchFailure
	if !errors.As(err, &failure) || failure.ExternalID != "2" {
		t.Errorf("Expected DispatchFailure for record 2, got %v", err)
	}

	if len(ids) != 3 || ids[0] != "ES-BOE:1" || ids[1] != "" || ids[2] != "ES-BOE:3" {
		t.Errorf("Expected aligned ids, got %v", ids)
	}
}

func TestAMQPSink_CancelledContext(t *testing.T) {
	publisher := &fakePublisher{}
	s := newAMQPSink(publisher, "tenders")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.UpsertRecord(ctx, testRecord("1")); err == nil {
		t.Error("Expected error for cancelled context")
	}
	if len(publisher.messages) != 0 {
		t.Error("Expected nothing to be published")
	}
	if err := s.AssignCategories(context.Background(), "x"); err != nil {
		t.Errorf("Expected no-op category assignment, got %v", err)
	}
}
