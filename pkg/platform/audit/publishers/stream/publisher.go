// Package stream mirrors audit events to a Kafka topic for downstream SIEM
// and compliance consumers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	audit "agentgate/pkg/platform/audit"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the subset of *kgo.Client used by Publisher.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher writes events as JSON records keyed by event id.
type Publisher struct {
	producer Producer
	topic    string
}

func New(producer Producer, topic string) (*Publisher, error) {
	if producer == nil {
		return nil, errors.New("kafka producer is required")
	}
	if topic == "" {
		return nil, errors.New("audit topic is required")
	}
	return &Publisher{producer: producer, topic: topic}, nil
}

// NewClient builds a franz-go client that waits for all in-sync replicas.
func NewClient(brokers []string, clientID string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates the audit topic when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	admin := kadm.NewClient(client)
	resp, err := admin.CreateTopics(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

type record struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Category      string         `json:"category"`
	ActorID       string         `json:"actor_id,omitempty"`
	SourceAddress string         `json:"source_address,omitempty"`
	ClientAgent   string         `json:"client_agent,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Digest        string         `json:"digest,omitempty"`
}

// Publish implements audit.Mirror.
func (p *Publisher) Publish(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(record{
		ID:            event.ID.String(),
		Type:          string(event.Type),
		Category:      string(event.Category),
		ActorID:       event.ActorID,
		SourceAddress: event.SourceAddress,
		ClientAgent:   event.ClientAgent,
		RequestID:     event.RequestID,
		Payload:       event.Payload,
		OccurredAt:    event.OccurredAt,
		Digest:        event.Digest,
	})
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.ID.String()),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(event.Category)},
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}
