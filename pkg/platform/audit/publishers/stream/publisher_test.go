package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	audit "agentgate/pkg/platform/audit"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.records = append(f.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

type PublisherSuite struct {
	suite.Suite
	producer  *fakeProducer
	publisher *Publisher
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.producer = &fakeProducer{}
	var err error
	s.publisher, err = New(s.producer, "agentgate.audit")
	s.Require().NoError(err)
}

func (s *PublisherSuite) TestPublishKeysRecordByEventID() {
	event := audit.Event{
		ID:         uuid.New(),
		Type:       audit.EventInvitationAccepted,
		Category:   audit.CategoryCompliance,
		ActorID:    "user-1",
		Payload:    map[string]any{"invitation_id": "inv-1"},
		OccurredAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}

	s.Require().NoError(s.publisher.Publish(context.Background(), event))
	s.Require().Len(s.producer.records, 1)

	rec := s.producer.records[0]
	s.Equal("agentgate.audit", rec.Topic)
	s.Equal(event.ID.String(), string(rec.Key))

	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Value, &body))
	s.Equal("invitation_accepted", body["type"])
	s.Equal("compliance", body["category"])
	s.Equal("user-1", body["actor_id"])
}

func (s *PublisherSuite) TestPublishReturnsProduceError() {
	s.producer.err = errors.New("broker not available")
	err := s.publisher.Publish(context.Background(), audit.Event{ID: uuid.New(), Type: audit.EventNotificationFailed})
	s.Require().Error(err)
	s.Contains(err.Error(), "produce audit record")
}

func (s *PublisherSuite) TestNewValidatesArguments() {
	_, err := New(nil, "topic")
	s.Error(err)
	_, err = New(s.producer, "")
	s.Error(err)
}
